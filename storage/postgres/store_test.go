package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/LdDl/mot-lifecycle/lifecycle"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVecToString(t *testing.T) {
	assert.Equal(t, "[]", vecToString(nil))
	assert.Equal(t, "[1.000000]", vecToString([]float64{1}))
	assert.Equal(t, "[0.500000,-2.250000,0.000000]", vecToString([]float64{0.5, -2.25, 0}))
}

// Runs only against a real database with pgvector installed
func TestPersistIntegration(t *testing.T) {
	url := os.Getenv("MOT_LIFECYCLE_TEST_POSTGRES")
	if url == "" {
		t.Skip("MOT_LIFECYCLE_TEST_POSTGRES is not set")
	}
	ctx := context.Background()
	store, err := New(ctx, url)
	require.NoError(t, err)
	defer store.Close(ctx)

	now := time.Now().UTC()
	record := &lifecycle.Record{
		UUID:        uuid.NewString(),
		StreamID:    "integration",
		Status:      lifecycle.StatusFinalized,
		ValidTrack:  true,
		FirstSeen:   now.Add(-5 * time.Second),
		LastSeen:    now.Add(-time.Second),
		FinalizedAt: now,
		FramesSeen:  40,
		Gender:      lifecycle.GenderUnknown,
		Embedding:   []float64{0.1, 0.9, 0.3},
		EventLog:    []string{lifecycle.EventDetected, lifecycle.EventLost, lifecycle.EventFinalized},
	}
	require.NoError(t, store.Persist(ctx, record))
	record.Status = lifecycle.StatusDiscarded
	require.NoError(t, store.Persist(ctx, record))

	id, err := store.FindClosest(ctx, []float64{0.1, 0.9, 0.3}, 0.01)
	require.NoError(t, err)
	assert.Equal(t, record.UUID, id)
}
