package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/LdDl/mot-lifecycle/lifecycle"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// Store upserts finalized identity records into PostgreSQL.
// Embeddings are kept in a pgvector column so lost identities can be searched across streams.
type Store struct {
	// pgx.Conn is not safe for concurrent use
	mu   sync.Mutex
	conn *pgx.Conn
}

// New connects to the database and makes sure schema exists
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, errors.Wrap(err, "Can't connect to postgres")
	}
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, errors.Wrap(err, "Can't initialize postgres schema")
	}
	return &Store{conn: conn}, nil
}

func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS identity_records (
			uuid TEXT PRIMARY KEY,
			stream_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			valid_track BOOLEAN NOT NULL,
			false_positive_reason TEXT NOT NULL DEFAULT '',
			origin_id INT NOT NULL,
			last_track_id INT NOT NULL,
			first_seen TIMESTAMPTZ NOT NULL,
			last_seen TIMESTAMPTZ NOT NULL,
			finalized_at TIMESTAMPTZ NOT NULL,
			frames_seen INT NOT NULL,
			duration_tracked DOUBLE PRECISION NOT NULL,
			total_movement DOUBLE PRECISION NOT NULL,
			entry_zone TEXT NOT NULL DEFAULT '',
			exit_zone TEXT NOT NULL DEFAULT '',
			direction TEXT NOT NULL DEFAULT '',
			age DOUBLE PRECISION,
			gender TEXT NOT NULL,
			gender_score DOUBLE PRECISION,
			inference_failures INT NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			features JSONB,
			event_log JSONB,
			embedding VECTOR,
			updated_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS identity_records_stream_idx ON identity_records (stream_id, finalized_at);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

func (s *Store) Close(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.Close(ctx)
}

// Persist upserts record keyed by uuid
func (s *Store) Persist(ctx context.Context, record *lifecycle.Record) error {
	features, err := json.Marshal(record.FeatureSamples)
	if err != nil {
		return errors.Wrap(err, "Can't marshal features")
	}
	events, err := json.Marshal(record.EventLog)
	if err != nil {
		return errors.Wrap(err, "Can't marshal event log")
	}
	var embedding *string
	if len(record.Embedding) > 0 {
		vec := vecToString(record.Embedding)
		embedding = &vec
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.conn.Exec(ctx, `
		INSERT INTO identity_records (
			uuid, stream_id, status, valid_track, false_positive_reason, origin_id, last_track_id,
			first_seen, last_seen, finalized_at, frames_seen, duration_tracked, total_movement,
			entry_zone, exit_zone, direction, age, gender, gender_score, inference_failures, error,
			features, event_log, embedding, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21,
			$22, $23, $24::vector, NOW()
		)
		ON CONFLICT (uuid) DO UPDATE SET
			status = EXCLUDED.status,
			valid_track = EXCLUDED.valid_track,
			false_positive_reason = EXCLUDED.false_positive_reason,
			last_track_id = EXCLUDED.last_track_id,
			last_seen = EXCLUDED.last_seen,
			finalized_at = EXCLUDED.finalized_at,
			frames_seen = EXCLUDED.frames_seen,
			duration_tracked = EXCLUDED.duration_tracked,
			total_movement = EXCLUDED.total_movement,
			exit_zone = EXCLUDED.exit_zone,
			direction = EXCLUDED.direction,
			age = EXCLUDED.age,
			gender = EXCLUDED.gender,
			gender_score = EXCLUDED.gender_score,
			inference_failures = EXCLUDED.inference_failures,
			error = EXCLUDED.error,
			features = EXCLUDED.features,
			event_log = EXCLUDED.event_log,
			embedding = EXCLUDED.embedding,
			updated_at = NOW()`,
		record.UUID, record.StreamID, record.Status.String(), record.ValidTrack, record.FalsePositiveReason,
		record.OriginTrackID, record.LastTrackID,
		record.FirstSeen, record.LastSeen, record.FinalizedAt, record.FramesSeen,
		record.DurationTracked, record.TotalMovement,
		record.EntryZone, record.ExitZone, record.Direction,
		record.Age, record.Gender, record.GenderScore, record.InferenceFailures, record.Error,
		string(features), string(events), embedding,
	)
	if err != nil {
		return errors.Wrapf(err, "Can't upsert identity '%s'", record.UUID)
	}
	return nil
}

// FindClosest returns uuid of the finalized identity nearest to the embedding by cosine distance.
// Empty string is returned when nothing lies under threshold.
func (s *Store) FindClosest(ctx context.Context, embedding []float64, threshold float64) (string, error) {
	vec := vecToString(embedding)
	query := `SELECT uuid FROM identity_records WHERE embedding <=> $1::vector < $2 ORDER BY embedding <=> $1::vector ASC LIMIT 1`

	s.mu.Lock()
	defer s.mu.Unlock()
	var id string
	err := s.conn.QueryRow(ctx, query, vec, threshold).Scan(&id)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "Can't search identities by embedding")
	}
	return id, nil
}

// vecToString formats a float slice into pgvector text format "[1.000000,2.000000,...]"
func vecToString(vec []float64) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%f", v)
	}
	b.WriteByte(']')
	return b.String()
}
