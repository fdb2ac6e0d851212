package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/LdDl/mot-lifecycle/lifecycle"
	"github.com/LdDl/mot-lifecycle/mot"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T, options ...Option) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "lifecycle.db"), options...)
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func sampleRecord() *lifecycle.Record {
	first := time.Date(2024, 2, 3, 14, 0, 0, 0, time.UTC)
	age := 33.5
	score := 0.71
	return &lifecycle.Record{
		UUID:             uuid.NewString(),
		StreamID:         "lobby",
		Status:           lifecycle.StatusFinalized,
		ValidTrack:       true,
		OriginTrackID:    4,
		LastTrackID:      9,
		FirstSeen:        first,
		LastSeen:         first.Add(3 * time.Second),
		LostSince:        first.Add(3100 * time.Millisecond),
		FinalizedAt:      first.Add(13200 * time.Millisecond),
		FramesSeen:       75,
		DurationTracked:  3,
		TotalMovement:    212.5,
		PositionsSummary: &lifecycle.PositionsSummary{Start: mot.NewPoint(10, 300), End: mot.NewPoint(220, 302), Count: 32},
		EntryZone:        "Z20",
		ExitZone:         "EdgeEast",
		Direction:        "East",
		Age:              &age,
		Gender:           lifecycle.GenderMale,
		GenderScore:      &score,
		FeatureSamples:   []lifecycle.FeatureSample{{{Label: "Age", Score: 33.5}, {Label: "Male", Score: 0.71}}},
		EventLog:         []string{lifecycle.EventDetected, lifecycle.EventLost, lifecycle.EventFinalized},
	}
}

func TestPersistAndGetRecord(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	record := sampleRecord()
	require.NoError(t, store.Persist(ctx, record))

	stored, err := store.GetRecord(ctx, record.UUID)
	require.NoError(t, err)
	assert.Equal(t, record.UUID, stored.UUID)
	assert.Equal(t, lifecycle.StatusFinalized, stored.Status)
	assert.Equal(t, record.EventLog, stored.EventLog)
	assert.Equal(t, record.FeatureSamples, stored.FeatureSamples)
	assert.Equal(t, *record.PositionsSummary, *stored.PositionsSummary)
	assert.True(t, record.FirstSeen.Equal(stored.FirstSeen))
	assert.True(t, record.FinalizedAt.Equal(stored.FinalizedAt))
	require.NotNil(t, stored.Age)
	assert.InDelta(t, 33.5, *stored.Age, 1e-9)
}

func TestPersistIsUpsert(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	record := sampleRecord()
	require.NoError(t, store.Persist(ctx, record))

	record.Status = lifecycle.StatusDiscarded
	record.ValidTrack = false
	record.FalsePositiveReason = "low_movement"
	record.Age = nil
	require.NoError(t, store.Persist(ctx, record))

	stored, err := store.GetRecord(ctx, record.UUID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusDiscarded, stored.Status)
	assert.Nil(t, stored.Age)

	counts, err := store.CountRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[lifecycle.Status]int{lifecycle.StatusDiscarded: 1}, counts)
}

func TestGetRecordNotFound(t *testing.T) {
	store := openTestStore(t)
	_, err := store.GetRecord(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestCrossings(t *testing.T) {
	store := openTestStore(t, WithStreamID("lobby"))
	now := time.Date(2024, 2, 3, 14, 0, 0, 0, time.UTC)
	events := []mot.CrossingEvent{
		{TrackID: 1, UUID: uuid.New(), Type: mot.EventTypeLineCrossed, LineName: "door", Direction: mot.DirectionUp, ClassName: "person", Timestamp: now},
		{TrackID: 2, UUID: uuid.New(), Type: mot.EventTypeLineCrossed, LineName: "door", Direction: mot.DirectionUp, ClassName: "person", Timestamp: now},
		{TrackID: 3, UUID: uuid.New(), Type: mot.EventTypeLineCrossed, LineName: "door", Direction: mot.DirectionDown, ClassName: "head", Timestamp: now},
		{TrackID: 3, UUID: uuid.New(), Type: mot.EventTypeLineCrossed, LineName: "hall", Direction: mot.DirectionLeft, ClassName: "head", Timestamp: now},
	}
	for _, event := range events {
		store.OnCrossing(event)
	}
	// Same event delivered twice is stored once
	store.OnCrossing(events[0])

	counts, err := store.CountCrossings(context.Background(), "door")
	require.NoError(t, err)
	assert.Equal(t, map[mot.CrossingDirection]int{mot.DirectionUp: 2, mot.DirectionDown: 1}, counts)

	counts, err = store.CountCrossings(context.Background(), "nowhere")
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestStoreAsLineObserver(t *testing.T) {
	store := openTestStore(t)
	line := mot.NewLineCounter(mot.LineDefinition{
		Name:        "gate",
		P1:          mot.NewPoint(0, 100),
		P2:          mot.NewPoint(400, 100),
		Orientation: mot.OrientationHorizontal,
	}, store)
	tracker := mot.NewDefaultGreedyTracker()
	now := time.Date(2024, 2, 3, 14, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		y := 45 + float64(i)*20
		tracks, err := tracker.Update([]mot.Detection{mot.NewDetection(50, y, 90, y+40, "person", 0.9)})
		require.NoError(t, err)
		line.Analyze(tracks, now.Add(time.Duration(i)*time.Second))
	}
	counts, err := store.CountCrossings(context.Background(), "gate")
	require.NoError(t, err)
	total := 0
	for _, count := range counts {
		total += count
	}
	assert.Equal(t, 1, total)
}

func TestOpenInvalidPath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "dir", "lifecycle.db"))
	assert.Error(t, err)
}
