package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"time"

	"github.com/LdDl/mot-lifecycle/lifecycle"
	"github.com/LdDl/mot-lifecycle/mot"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	_ "modernc.org/sqlite"
)

// schema.sql defines tables for finalized identity records and line crossing events
//
//go:embed schema.sql
var schemaSQL string

var ErrNotFound = errors.New("record not found")

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA temp_store=MEMORY",
}

// Store persists identity records and crossing events into an SQLite file
type Store struct {
	db       *sql.DB
	streamID string
	log      logrus.FieldLogger
}

type Option func(*Store)

// WithStreamID sets stream id written along with crossing events
func WithStreamID(id string) Option {
	return func(s *Store) {
		s.streamID = id
	}
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Store) {
		s.log = log
	}
}

// Open opens (or creates) database file and applies schema
func Open(path string, options ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "Can't open sqlite store")
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "Can't execute '%s'", pragma)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "Can't initialize sqlite schema")
	}
	s := &Store{
		db:  db,
		log: logrus.StandardLogger(),
	}
	for _, option := range options {
		option(s)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Persist upserts record keyed by its uuid
func (s *Store) Persist(ctx context.Context, record *lifecycle.Record) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "Can't marshal record")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO identities (
			uuid, stream_id, status, valid_track, false_positive_reason, origin_id, last_track_id,
			first_seen_unix_nanos, last_seen_unix_nanos, finalized_unix_nanos, frames_seen,
			duration_tracked, total_movement, entry_zone, exit_zone, direction,
			age, gender, gender_score, inference_failures, error, record_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (uuid) DO UPDATE SET
			status = excluded.status,
			valid_track = excluded.valid_track,
			false_positive_reason = excluded.false_positive_reason,
			last_track_id = excluded.last_track_id,
			last_seen_unix_nanos = excluded.last_seen_unix_nanos,
			finalized_unix_nanos = excluded.finalized_unix_nanos,
			frames_seen = excluded.frames_seen,
			duration_tracked = excluded.duration_tracked,
			total_movement = excluded.total_movement,
			exit_zone = excluded.exit_zone,
			direction = excluded.direction,
			age = excluded.age,
			gender = excluded.gender,
			gender_score = excluded.gender_score,
			inference_failures = excluded.inference_failures,
			error = excluded.error,
			record_json = excluded.record_json`,
		record.UUID, record.StreamID, record.Status.String(), record.ValidTrack, record.FalsePositiveReason,
		record.OriginTrackID, record.LastTrackID,
		record.FirstSeen.UnixNano(), record.LastSeen.UnixNano(), record.FinalizedAt.UnixNano(), record.FramesSeen,
		record.DurationTracked, record.TotalMovement, record.EntryZone, record.ExitZone, record.Direction,
		nullFloat(record.Age), record.Gender, nullFloat(record.GenderScore), record.InferenceFailures, record.Error,
		string(payload),
	)
	if err != nil {
		return errors.Wrapf(err, "Can't upsert identity '%s'", record.UUID)
	}
	return nil
}

// GetRecord reads record back by uuid
func (s *Store) GetRecord(ctx context.Context, uuid string) (*lifecycle.Record, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT record_json FROM identities WHERE uuid = ?`, uuid).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(ErrNotFound, "uuid '%s'", uuid)
	}
	if err != nil {
		return nil, errors.Wrap(err, "Can't query identity")
	}
	record := &lifecycle.Record{}
	if err := json.Unmarshal([]byte(payload), record); err != nil {
		return nil, errors.Wrapf(err, "Can't unmarshal identity '%s'", uuid)
	}
	return record, nil
}

// CountRecords returns number of stored records per status
func (s *Store) CountRecords(ctx context.Context) (map[lifecycle.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM identities GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "Can't count identities")
	}
	defer rows.Close()
	counts := make(map[lifecycle.Status]int)
	for rows.Next() {
		var name string
		var count int
		if err := rows.Scan(&name, &count); err != nil {
			return nil, errors.Wrap(err, "Can't scan identity count")
		}
		var status lifecycle.Status
		if err := status.UnmarshalText([]byte(name)); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// OnCrossing stores crossing event. Errors are logged since observers can't return them
func (s *Store) OnCrossing(event mot.CrossingEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.InsertCrossing(ctx, event); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"line":     event.LineName,
			"track_id": event.TrackID,
		}).Error("Can't store crossing event")
	}
}

// InsertCrossing stores crossing event, duplicates (same event uuid) are ignored
func (s *Store) InsertCrossing(ctx context.Context, event mot.CrossingEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO crossings (event_uuid, stream_id, track_id, line_name, direction, class_name, crossed_unix_nanos)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (event_uuid) DO NOTHING`,
		event.UUID.String(), s.streamID, event.TrackID, event.LineName, string(event.Direction), event.ClassName, event.Timestamp.UnixNano(),
	)
	if err != nil {
		return errors.Wrap(err, "Can't insert crossing")
	}
	return nil
}

// CountCrossings returns number of stored crossings of the line per direction
func (s *Store) CountCrossings(ctx context.Context, line string) (map[mot.CrossingDirection]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT direction, COUNT(*) FROM crossings WHERE line_name = ? GROUP BY direction`, line)
	if err != nil {
		return nil, errors.Wrap(err, "Can't count crossings")
	}
	defer rows.Close()
	counts := make(map[mot.CrossingDirection]int)
	for rows.Next() {
		var direction string
		var count int
		if err := rows.Scan(&direction, &count); err != nil {
			return nil, errors.Wrap(err, "Can't scan crossing count")
		}
		counts[mot.CrossingDirection(direction)] = count
	}
	return counts, rows.Err()
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
