package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/LdDl/mot-lifecycle/lifecycle"
	"github.com/LdDl/mot-lifecycle/mot"
	"github.com/pkg/errors"
)

const maxFileSize = 1 * 1024 * 1024

// StreamConfig is the configuration file of a single video stream
type StreamConfig struct {
	StreamID string `json:"stream_id"`
	// Frame rate used to derive timestamps when input has none
	FPS       float64          `json:"fps"`
	Tracker   TrackerSection   `json:"tracker"`
	Lines     []LineSection    `json:"lines"`
	Lifecycle LifecycleSection `json:"lifecycle"`
}

type TrackerSection struct {
	MinDistance   float64  `json:"min_distance"`
	MaxDistance   float64  `json:"max_distance"`
	MinIoU        float64  `json:"min_iou"`
	MaxIoU        float64  `json:"max_iou"`
	MaxLostFrames int      `json:"max_lost_frames"`
	TrailDepth    int      `json:"trail_depth"`
	Classes       []string `json:"classes"`
}

type LineSection struct {
	Name string `json:"name"`
	// [x, y] in pixels
	P1                [2]float64 `json:"p1"`
	P2                [2]float64 `json:"p2"`
	Orientation       string     `json:"orientation"`
	Anchor            string     `json:"anchor"`
	Classes           []string   `json:"classes"`
	FirstCrossingOnly bool       `json:"first_crossing_only"`
}

type LifecycleSection struct {
	IdentityClasses         []string `json:"identity_classes"`
	MaxSamples              int      `json:"max_samples"`
	MaxInferenceFailures    int      `json:"max_inference_failures"`
	InferenceTimeout        Duration `json:"inference_timeout"`
	MaxFaceDistance         float64  `json:"max_face_distance"`
	MinFaceScore            float64  `json:"min_face_score"`
	MinCropSize             int      `json:"min_crop_size"`
	CropPadding             float64  `json:"crop_padding"`
	CropSize                int      `json:"crop_size"`
	GracePeriod             Duration `json:"grace_period"`
	LostTrackCleanupTimeout Duration `json:"lost_track_cleanup_timeout"`
	ReIDDistanceThreshold   float64  `json:"reid_distance_threshold"`
	MinMovementPx           float64  `json:"min_movement_px"`
	MinDuration             Duration `json:"min_duration"`
	MinFrames               int      `json:"min_frames"`
	GenderConfidence        float64  `json:"gender_confidence"`
	FrameWidth              int      `json:"frame_width"`
	FrameHeight             int      `json:"frame_height"`
	GridSize                int      `json:"grid_size"`
	BorderMargin            float64  `json:"border_margin"`
	StaticMovementPx        float64  `json:"static_movement_px"`
	HeadingWindow           int      `json:"heading_window"`
	TrailDepth              int      `json:"trail_depth"`
	Workers                 int      `json:"workers"`
	QueueSize               int      `json:"queue_size"`
	PersistQueueSize        int      `json:"persist_queue_size"`
	PersistTimeout          Duration `json:"persist_timeout"`
}

// Default returns configuration with no counting lines and default thresholds
func Default() StreamConfig {
	params := mot.DefaultGreedyTrackerParams()
	lc := lifecycle.DefaultConfig()
	return StreamConfig{
		StreamID: "default",
		FPS:      25,
		Tracker: TrackerSection{
			MinDistance:   params.MinDistance,
			MaxDistance:   params.MaxDistance,
			MinIoU:        params.MinIoU,
			MaxIoU:        params.MaxIoU,
			MaxLostFrames: params.MaxLostFrames,
			TrailDepth:    params.TrailDepth,
			Classes:       []string{mot.ClassPerson.String(), mot.ClassHead.String()},
		},
		Lines: []LineSection{},
		Lifecycle: LifecycleSection{
			IdentityClasses:         classNames(lc.IdentityClasses),
			MaxSamples:              lc.MaxSamples,
			MaxInferenceFailures:    lc.MaxInferenceFailures,
			InferenceTimeout:        Duration(lc.InferenceTimeout),
			MaxFaceDistance:         lc.MaxFaceDistance,
			MinFaceScore:            lc.MinFaceScore,
			MinCropSize:             lc.MinCropSize,
			CropPadding:             lc.CropPadding,
			CropSize:                lc.CropSize,
			GracePeriod:             Duration(lc.GracePeriod),
			LostTrackCleanupTimeout: Duration(lc.LostTrackCleanupTimeout),
			ReIDDistanceThreshold:   lc.ReIDDistanceThreshold,
			MinMovementPx:           lc.MinMovementPx,
			MinDuration:             Duration(lc.MinDuration),
			MinFrames:               lc.MinFrames,
			GenderConfidence:        lc.GenderConfidence,
			FrameWidth:              lc.FrameWidth,
			FrameHeight:             lc.FrameHeight,
			GridSize:                lc.GridSize,
			BorderMargin:            lc.BorderMargin,
			StaticMovementPx:        lc.StaticMovementPx,
			HeadingWindow:           lc.HeadingWindow,
			TrailDepth:              lc.TrailDepth,
			Workers:                 lc.Workers,
			QueueSize:               lc.QueueSize,
			PersistQueueSize:        lc.PersistQueueSize,
			PersistTimeout:          Duration(lc.PersistTimeout),
		},
	}
}

// Load reads configuration from JSON file. Omitted fields keep their default values.
// The file must have .json extension and be under 1MB.
func Load(path string) (StreamConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return StreamConfig{}, errors.Errorf("config file must have .json extension, got '%s'", ext)
	}
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return StreamConfig{}, errors.Wrap(err, "Can't stat config file")
	}
	if fileInfo.Size() > maxFileSize {
		return StreamConfig{}, errors.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return StreamConfig{}, errors.Wrap(err, "Can't read config file")
	}
	cfg, err := Parse(data)
	if err != nil {
		return StreamConfig{}, errors.Wrapf(err, "Config file '%s'", cleanPath)
	}
	return cfg, nil
}

// Parse decodes JSON on top of Default and validates result
func Parse(data []byte) (StreamConfig, error) {
	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return StreamConfig{}, errors.Wrap(err, "Can't parse config JSON")
	}
	if err := cfg.Validate(); err != nil {
		return StreamConfig{}, errors.Wrap(err, "Invalid configuration")
	}
	return cfg, nil
}

// Validate checks that the configuration values are consistent
func (c StreamConfig) Validate() error {
	if c.FPS <= 0 {
		return errors.Errorf("fps must be positive, got %f", c.FPS)
	}
	if c.Tracker.MinDistance > c.Tracker.MaxDistance {
		return errors.Errorf("tracker min_distance %f is greater than max_distance %f", c.Tracker.MinDistance, c.Tracker.MaxDistance)
	}
	if c.Tracker.MinIoU > c.Tracker.MaxIoU {
		return errors.Errorf("tracker min_iou %f is greater than max_iou %f", c.Tracker.MinIoU, c.Tracker.MaxIoU)
	}
	if c.Tracker.MaxLostFrames < 0 {
		return errors.Errorf("tracker max_lost_frames can't be negative, got %d", c.Tracker.MaxLostFrames)
	}
	if c.Tracker.TrailDepth < 2 {
		return errors.Errorf("tracker trail_depth must be at least 2 for line counting, got %d", c.Tracker.TrailDepth)
	}
	if _, err := TrackerParams(c.Tracker); err != nil {
		return err
	}
	if _, err := c.LineDefinitions(); err != nil {
		return err
	}
	lc, err := c.LifecycleConfig()
	if err != nil {
		return err
	}
	return lc.Validate()
}

// TrackerParams returns associator parameters of the stream
func (c StreamConfig) TrackerParams() (mot.GreedyTrackerParams, error) {
	return TrackerParams(c.Tracker)
}

// TrackerParams converts tracker section to associator parameters
func TrackerParams(section TrackerSection) (mot.GreedyTrackerParams, error) {
	classes, err := parseClasses(section.Classes)
	if err != nil {
		return mot.GreedyTrackerParams{}, errors.Wrap(err, "tracker")
	}
	params := mot.DefaultGreedyTrackerParams()
	params.MinDistance = section.MinDistance
	params.MaxDistance = section.MaxDistance
	params.MinIoU = section.MinIoU
	params.MaxIoU = section.MaxIoU
	params.MaxLostFrames = section.MaxLostFrames
	params.TrailDepth = section.TrailDepth
	params.Classes = classes
	return params, nil
}

// LineDefinitions converts line sections to counting line definitions
func (c StreamConfig) LineDefinitions() ([]mot.LineDefinition, error) {
	seen := make(map[string]struct{}, len(c.Lines))
	defs := make([]mot.LineDefinition, 0, len(c.Lines))
	for i, line := range c.Lines {
		if line.Name == "" {
			return nil, errors.Errorf("line #%d has no name", i)
		}
		if _, ok := seen[line.Name]; ok {
			return nil, errors.Errorf("duplicate line name '%s'", line.Name)
		}
		seen[line.Name] = struct{}{}
		if line.P1 == line.P2 {
			return nil, errors.Errorf("line '%s' has coincident endpoints", line.Name)
		}
		anchor := mot.AnchorCenter
		if line.Anchor != "" {
			var ok bool
			anchor, ok = mot.ParseAnchorPoint(line.Anchor)
			if !ok {
				return nil, errors.Errorf("line '%s' has unknown anchor '%s'", line.Name, line.Anchor)
			}
		}
		classes, err := parseClasses(line.Classes)
		if err != nil {
			return nil, errors.Wrapf(err, "line '%s'", line.Name)
		}
		defs = append(defs, mot.LineDefinition{
			Name:              line.Name,
			P1:                mot.NewPoint(line.P1[0], line.P1[1]),
			P2:                mot.NewPoint(line.P2[0], line.P2[1]),
			Orientation:       mot.ParseOrientation(line.Orientation),
			Anchor:            anchor,
			Classes:           classes,
			FirstCrossingOnly: line.FirstCrossingOnly,
		})
	}
	return defs, nil
}

// LifecycleConfig converts lifecycle section to identity manager configuration
func (c StreamConfig) LifecycleConfig() (lifecycle.Config, error) {
	s := c.Lifecycle
	classes, err := parseClasses(s.IdentityClasses)
	if err != nil {
		return lifecycle.Config{}, errors.Wrap(err, "lifecycle")
	}
	return lifecycle.Config{
		StreamID:                c.StreamID,
		IdentityClasses:         classes,
		MaxSamples:              s.MaxSamples,
		MaxInferenceFailures:    s.MaxInferenceFailures,
		InferenceTimeout:        s.InferenceTimeout.Std(),
		MaxFaceDistance:         s.MaxFaceDistance,
		MinFaceScore:            s.MinFaceScore,
		MinCropSize:             s.MinCropSize,
		CropPadding:             s.CropPadding,
		CropSize:                s.CropSize,
		GracePeriod:             s.GracePeriod.Std(),
		LostTrackCleanupTimeout: s.LostTrackCleanupTimeout.Std(),
		ReIDDistanceThreshold:   s.ReIDDistanceThreshold,
		MinMovementPx:           s.MinMovementPx,
		MinDuration:             s.MinDuration.Std(),
		MinFrames:               s.MinFrames,
		GenderConfidence:        s.GenderConfidence,
		FrameWidth:              s.FrameWidth,
		FrameHeight:             s.FrameHeight,
		GridSize:                s.GridSize,
		BorderMargin:            s.BorderMargin,
		StaticMovementPx:        s.StaticMovementPx,
		HeadingWindow:           s.HeadingWindow,
		TrailDepth:              s.TrailDepth,
		Workers:                 s.Workers,
		QueueSize:               s.QueueSize,
		PersistQueueSize:        s.PersistQueueSize,
		PersistTimeout:          s.PersistTimeout.Std(),
	}, nil
}

// FrameTime returns timestamp of the frame for inputs without timestamps
func (c StreamConfig) FrameTime(start time.Time, frame int) time.Time {
	return start.Add(time.Duration(float64(frame) / c.FPS * float64(time.Second)))
}

func parseClasses(labels []string) ([]mot.DetectionClass, error) {
	if len(labels) == 0 {
		return nil, nil
	}
	classes := make([]mot.DetectionClass, 0, len(labels))
	for _, label := range labels {
		class := mot.ParseDetectionClass(label)
		if class == mot.ClassUnknown {
			return nil, errors.Errorf("unknown class '%s'", label)
		}
		classes = append(classes, class)
	}
	return classes, nil
}

func classNames(classes []mot.DetectionClass) []string {
	names := make([]string, len(classes))
	for i, class := range classes {
		names[i] = class.String()
	}
	return names
}
