package pipeline

import (
	"context"
	"image"
	"time"

	"github.com/LdDl/mot-lifecycle/config"
	"github.com/LdDl/mot-lifecycle/lifecycle"
	"github.com/LdDl/mot-lifecycle/mot"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var ErrTimestampOrder = errors.New("frame timestamp is before the previous one")

// Frame is a single frame of detector output
type Frame struct {
	Index     int
	Timestamp time.Time
	// Optional. Needed for face enrichment and visual re-identification only
	Image      image.Image
	Detections []mot.Detection
}

// LineSummary holds counters and display labels of a counting line
type LineSummary struct {
	Name   string
	Counts mot.LineCounts
	Labels []string
}

// Stream runs associator, line counters and identity lifecycle over frames of one video stream.
// ProcessFrame must not be called concurrently.
type Stream struct {
	id       string
	tracker  *mot.GreedyTracker
	lines    []*mot.LineCounter
	manager  *lifecycle.Manager
	log      logrus.FieldLogger
	frames   int
	lastTime time.Time
}

// NewStream wires already constructed components. Manager may be nil when only counting is needed
func NewStream(id string, tracker *mot.GreedyTracker, lines []*mot.LineCounter, manager *lifecycle.Manager, log logrus.FieldLogger) *Stream {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Stream{
		id:      id,
		tracker: tracker,
		lines:   lines,
		manager: manager,
		log:     log.WithField("stream", id),
	}
}

// FromConfig builds stream with every component described by configuration.
// Observers are registered on every counting line.
func FromConfig(cfg config.StreamConfig, log logrus.FieldLogger, observers []mot.CrossingObserver, options ...lifecycle.Option) (*Stream, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	params, err := cfg.TrackerParams()
	if err != nil {
		return nil, errors.Wrap(err, "Can't prepare tracker")
	}
	defs, err := cfg.LineDefinitions()
	if err != nil {
		return nil, errors.Wrap(err, "Can't prepare counting lines")
	}
	lcfg, err := cfg.LifecycleConfig()
	if err != nil {
		return nil, errors.Wrap(err, "Can't prepare identity lifecycle")
	}
	options = append([]lifecycle.Option{lifecycle.WithLogger(log)}, options...)
	manager, err := lifecycle.NewManager(lcfg, options...)
	if err != nil {
		return nil, errors.Wrap(err, "Can't create identity manager")
	}
	lines := make([]*mot.LineCounter, 0, len(defs))
	for _, def := range defs {
		lines = append(lines, mot.NewLineCounter(def, observers...))
	}
	return NewStream(cfg.StreamID, mot.NewGreedyTracker(params), lines, manager, log), nil
}

// ProcessFrame advances the stream by one frame and returns live tracks
func (s *Stream) ProcessFrame(ctx context.Context, frame Frame) ([]*mot.Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if frame.Timestamp.IsZero() {
		return nil, errors.Errorf("frame %d has no timestamp", frame.Index)
	}
	if frame.Timestamp.Before(s.lastTime) {
		return nil, errors.Wrapf(ErrTimestampOrder, "frame %d at %s", frame.Index, frame.Timestamp.Format(time.RFC3339Nano))
	}
	s.lastTime = frame.Timestamp
	s.frames++

	tracks, err := s.tracker.Update(frame.Detections)
	if err != nil {
		// Boxes are already applied, only velocity estimate suffers
		s.log.WithError(err).WithField("frame", frame.Index).Warn("Motion filter update failed")
	}
	for _, line := range s.lines {
		line.Analyze(tracks, frame.Timestamp)
	}
	if s.manager != nil {
		s.manager.Update(ctx, lifecycle.FrameInput{
			Timestamp: frame.Timestamp,
			Image:     frame.Image,
			Tracks:    tracks,
			Faces:     mot.FilterDetections(frame.Detections, mot.ClassFace),
		})
	}
	return tracks, nil
}

// Counts returns per-line summaries in configuration order
func (s *Stream) Counts() []LineSummary {
	summaries := make([]LineSummary, 0, len(s.lines))
	for _, line := range s.lines {
		summaries = append(summaries, LineSummary{
			Name:   line.Definition().Name,
			Counts: line.Counts(),
			Labels: line.Annotate(),
		})
	}
	return summaries
}

// Lines returns counting lines, e.g. to register extra observers
func (s *Stream) Lines() []*mot.LineCounter {
	return s.lines
}

// Manager returns identity manager or nil
func (s *Stream) Manager() *lifecycle.Manager {
	return s.manager
}

// Frames returns number of processed frames
func (s *Stream) Frames() int {
	return s.frames
}

// Close finalizes remaining identities and waits for their persistence
func (s *Stream) Close(ctx context.Context) error {
	if s.manager == nil {
		return nil
	}
	if err := s.manager.Close(ctx); err != nil {
		return errors.Wrap(err, "Can't close identity manager")
	}
	stats := s.manager.Stats()
	s.log.WithFields(logrus.Fields{
		"frames":    s.frames,
		"created":   stats.Created,
		"recovered": stats.Recovered,
		"finalized": stats.Finalized,
		"discarded": stats.Discarded,
		"persisted": stats.Persisted,
	}).Info("Stream closed")
	return nil
}
