package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/LdDl/mot-lifecycle/config"
	"github.com/LdDl/mot-lifecycle/lifecycle"
	"github.com/LdDl/mot-lifecycle/mot"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2024, 5, 10, 8, 30, 0, 0, time.UTC)

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func testConfig(t *testing.T) config.StreamConfig {
	t.Helper()
	cfg, err := config.Parse([]byte(`{
		"stream_id": "door-cam",
		"fps": 10,
		"lines": [
			{"name": "door", "p1": [320, 0], "p2": [320, 640], "orientation": "vertical", "classes": ["head"]}
		],
		"lifecycle": {"grace_period": "0s"}
	}`))
	require.NoError(t, err)
	return cfg
}

type collector struct {
	mu      sync.Mutex
	events  []mot.CrossingEvent
	records []*lifecycle.Record
}

func (c *collector) OnCrossing(event mot.CrossingEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *collector) Persist(ctx context.Context, record *lifecycle.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, record)
	return nil
}

func TestStreamCountsAndFinalizes(t *testing.T) {
	cfg := testConfig(t)
	sink := &collector{}
	stream, err := FromConfig(cfg, quietLogger(), []mot.CrossingObserver{sink}, lifecycle.WithSink(sink))
	require.NoError(t, err)

	ctx := context.Background()
	// Head walks left to right through the door line
	for i := 0; i < 12; i++ {
		x := 205 + float64(i)*20
		_, err := stream.ProcessFrame(ctx, Frame{
			Index:     i,
			Timestamp: cfg.FrameTime(start, i),
			Detections: []mot.Detection{
				mot.NewDetection(x, 300, x+40, 340, "head", 0.9),
				// Faces are not tracked
				mot.NewDetection(x+10, 305, x+30, 325, "face", 0.8),
			},
		})
		require.NoError(t, err)
	}
	tracks, err := stream.ProcessFrame(ctx, Frame{Index: 12, Timestamp: cfg.FrameTime(start, 12)})
	require.NoError(t, err)
	require.Len(t, tracks, 1)
	assert.False(t, tracks[0].Matched())

	counts := stream.Counts()
	require.Len(t, counts, 1)
	assert.Equal(t, "door", counts[0].Name)
	assert.Equal(t, 1, counts[0].Counts.Entries+counts[0].Counts.Exits)
	assert.Len(t, counts[0].Labels, 2)

	require.NoError(t, stream.Close(ctx))
	assert.Equal(t, 13, stream.Frames())

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.events, 1)
	assert.Equal(t, "door", sink.events[0].LineName)
	assert.Equal(t, "head", sink.events[0].ClassName)
	assert.Equal(t, 1, sink.events[0].TrackID)

	require.Len(t, sink.records, 1)
	record := sink.records[0]
	assert.Equal(t, "door-cam", record.StreamID)
	assert.True(t, record.ValidTrack)
	assert.Equal(t, "East", record.Direction)
	assert.Equal(t, 12, record.FramesSeen)
}

func TestStreamRejectsTimestampsGoingBack(t *testing.T) {
	stream, err := FromConfig(testConfig(t), quietLogger(), nil)
	require.NoError(t, err)
	defer stream.Close(context.Background())

	ctx := context.Background()
	_, err = stream.ProcessFrame(ctx, Frame{Index: 0, Timestamp: start.Add(time.Second)})
	require.NoError(t, err)
	_, err = stream.ProcessFrame(ctx, Frame{Index: 1, Timestamp: start})
	assert.True(t, errors.Is(err, ErrTimestampOrder))
	_, err = stream.ProcessFrame(ctx, Frame{Index: 2})
	assert.Error(t, err)
}

func TestStreamCancelledContext(t *testing.T) {
	stream, err := FromConfig(testConfig(t), quietLogger(), nil)
	require.NoError(t, err)
	defer stream.Close(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = stream.ProcessFrame(ctx, Frame{Index: 0, Timestamp: start})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, stream.Frames())
}

func TestStreamWithoutManager(t *testing.T) {
	line := mot.NewLineCounter(mot.LineDefinition{
		Name:        "hall",
		P1:          mot.NewPoint(0, 200),
		P2:          mot.NewPoint(640, 200),
		Orientation: mot.OrientationHorizontal,
	})
	stream := NewStream("hall-cam", mot.NewDefaultGreedyTracker(), []*mot.LineCounter{line}, nil, nil)
	for i := 0; i < 6; i++ {
		y := 150 + float64(i)*20
		_, err := stream.ProcessFrame(context.Background(), Frame{
			Index:      i,
			Timestamp:  start.Add(time.Duration(i) * 100 * time.Millisecond),
			Detections: []mot.Detection{mot.NewDetection(100, y, 150, y+40, "person", 0.9)},
		})
		require.NoError(t, err)
	}
	assert.Nil(t, stream.Manager())
	assert.NoError(t, stream.Close(context.Background()))
	counts := line.Counts()
	assert.Equal(t, 1, counts.Entries+counts.Exits)
}
