package lifecycle

import (
	"time"

	"github.com/LdDl/mot-lifecycle/mot"
	"github.com/pkg/errors"
)

// Config holds identity lifecycle parameters of a single stream
type Config struct {
	// StreamID is copied into every persisted record
	StreamID string
	// Track classes identities are created for
	IdentityClasses []mot.DetectionClass

	// Enrichment
	MaxSamples           int
	MaxInferenceFailures int
	InferenceTimeout     time.Duration
	MaxFaceDistance      float64
	MinFaceScore         float64
	MinCropSize          int
	// Crop is expanded by this fraction of its size on each side
	CropPadding float64
	// When positive, crops are resized to CropSize x CropSize before inference
	CropSize int

	// Loss and re-identification
	GracePeriod             time.Duration
	LostTrackCleanupTimeout time.Duration
	ReIDDistanceThreshold   float64

	// False positive classification
	MinMovementPx float64
	MinDuration   time.Duration
	MinFrames     int

	// Aggregation
	GenderConfidence float64

	// Exit heading and zones
	FrameWidth       int
	FrameHeight      int
	GridSize         int
	BorderMargin     float64
	StaticMovementPx float64
	HeadingWindow    int
	TrailDepth       int

	// Background work
	Workers          int
	QueueSize        int
	PersistQueueSize int
	PersistTimeout   time.Duration
}

// DefaultConfig returns empirically chosen defaults
func DefaultConfig() Config {
	return Config{
		IdentityClasses:         []mot.DetectionClass{mot.ClassHead},
		MaxSamples:              3,
		MaxInferenceFailures:    3,
		InferenceTimeout:        15 * time.Second,
		MaxFaceDistance:         100,
		MinFaceScore:            0.6,
		MinCropSize:             30,
		CropPadding:             0.15,
		GracePeriod:             time.Second,
		LostTrackCleanupTimeout: 10 * time.Second,
		ReIDDistanceThreshold:   0.3,
		MinMovementPx:           20,
		MinDuration:             500 * time.Millisecond,
		MinFrames:               3,
		GenderConfidence:        0.55,
		FrameWidth:              640,
		FrameHeight:             640,
		GridSize:                6,
		BorderMargin:            0.1,
		StaticMovementPx:        5,
		HeadingWindow:           5,
		TrailDepth:              32,
		Workers:                 2,
		QueueSize:               8,
		PersistQueueSize:        64,
		PersistTimeout:          5 * time.Second,
	}
}

// Validate checks configuration consistency
func (cfg Config) Validate() error {
	switch {
	case cfg.MaxSamples < 1:
		return errors.Errorf("max samples should be positive, got %d", cfg.MaxSamples)
	case cfg.MaxInferenceFailures < 1:
		return errors.Errorf("max inference failures should be positive, got %d", cfg.MaxInferenceFailures)
	case cfg.InferenceTimeout <= 0:
		return errors.Errorf("inference timeout should be positive, got %s", cfg.InferenceTimeout)
	case cfg.LostTrackCleanupTimeout <= 0:
		return errors.Errorf("lost track cleanup timeout should be positive, got %s", cfg.LostTrackCleanupTimeout)
	case cfg.GracePeriod < 0:
		return errors.Errorf("grace period can't be negative, got %s", cfg.GracePeriod)
	case cfg.ReIDDistanceThreshold < 0 || cfg.ReIDDistanceThreshold > 2:
		return errors.Errorf("re-identification threshold should be in [0, 2], got %f", cfg.ReIDDistanceThreshold)
	case cfg.GenderConfidence < 0.5 || cfg.GenderConfidence > 1:
		return errors.Errorf("gender confidence should be in [0.5, 1], got %f", cfg.GenderConfidence)
	case cfg.FrameWidth < 1 || cfg.FrameHeight < 1:
		return errors.Errorf("frame size should be positive, got %dx%d", cfg.FrameWidth, cfg.FrameHeight)
	case cfg.GridSize < 1:
		return errors.Errorf("grid size should be positive, got %d", cfg.GridSize)
	case cfg.BorderMargin < 0 || cfg.BorderMargin >= 0.5:
		return errors.Errorf("border margin should be in [0, 0.5), got %f", cfg.BorderMargin)
	case cfg.HeadingWindow < 2:
		return errors.Errorf("heading window should be at least 2, got %d", cfg.HeadingWindow)
	case cfg.TrailDepth < 2:
		return errors.Errorf("trail depth should be at least 2, got %d", cfg.TrailDepth)
	case cfg.Workers < 1 || cfg.QueueSize < 1:
		return errors.Errorf("worker pool should have positive size, got %d workers and queue of %d", cfg.Workers, cfg.QueueSize)
	case cfg.PersistQueueSize < 1:
		return errors.Errorf("persist queue should be positive, got %d", cfg.PersistQueueSize)
	case cfg.MinCropSize < 0 || cfg.CropSize < 0 || cfg.CropPadding < 0:
		return errors.New("crop parameters can't be negative")
	}
	return nil
}
