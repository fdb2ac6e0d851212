package lifecycle

import (
	"context"
	"image"
	"strings"
	"time"

	"github.com/LdDl/mot-lifecycle/mot"
	"github.com/pkg/errors"
)

// Status is a lifecycle state of an identity
type Status uint8

const (
	StatusActive Status = iota
	StatusLost
	StatusFinalized
	StatusDiscarded
)

var statusNames = [...]string{"active", "lost", "finalized", "discarded"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "unknown"
}

// Terminal reports whether identity can't change anymore
func (s Status) Terminal() bool {
	return s == StatusFinalized || s == StatusDiscarded
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	for i, name := range statusNames {
		if name == strings.ToLower(string(text)) {
			*s = Status(i)
			return nil
		}
	}
	return errors.Errorf("unknown status '%s'", string(text))
}

// Lifecycle events stored in identity's event log
const (
	EventDetected    = "detected"
	EventRecovered   = "recovered"
	EventLost        = "lost"
	EventFinalized   = "finalized"
	EventDiscardedFP = "discarded_fp"
)

// Error annotations
const (
	errInferenceTimedOut = "inference timed out"
)

// Attribute is a single labelled score produced by face-attribute model, e.g. {"Age", 31.5} or {"Male", 0.83}
type Attribute struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// FeatureSample is a result of a single face-attribute inference
type FeatureSample []Attribute

// AttributeExtractor runs face-attribute inference. It is called from background workers only.
type AttributeExtractor interface {
	ExtractAttributes(ctx context.Context, crop image.Image) (FeatureSample, error)
}

// AttributeExtractorFunc adapts function to AttributeExtractor
type AttributeExtractorFunc func(ctx context.Context, crop image.Image) (FeatureSample, error)

func (f AttributeExtractorFunc) ExtractAttributes(ctx context.Context, crop image.Image) (FeatureSample, error) {
	return f(ctx, crop)
}

// EmbeddingExtractor produces re-identification embedding. It is called synchronously on the frame loop.
type EmbeddingExtractor interface {
	ExtractEmbedding(ctx context.Context, crop image.Image) ([]float64, error)
}

// EmbeddingExtractorFunc adapts function to EmbeddingExtractor
type EmbeddingExtractorFunc func(ctx context.Context, crop image.Image) ([]float64, error)

func (f EmbeddingExtractorFunc) ExtractEmbedding(ctx context.Context, crop image.Image) ([]float64, error) {
	return f(ctx, crop)
}

// Identity is a long-lived logical person record.
// While Active it is bound to a track; while Lost it waits for recovery or finalization.
type Identity struct {
	UUID           string
	Status         Status
	OriginTrackID  int
	CurrentTrackID int
	// HasTrack is true while identity is Active and bound to CurrentTrackID
	HasTrack    bool
	LastTrackID int

	FeatureSamples []FeatureSample
	Embedding      []float64
	Trail          []mot.Rectangle
	BBox           mot.Rectangle
	VelocityX      float64
	VelocityY      float64

	FirstSeen  time.Time
	LastSeen   time.Time
	LostSince  time.Time
	FramesSeen int

	InferenceInProgress bool
	InferenceStartedAt  time.Time
	InferenceFailures   int
	Error               string

	Age         *float64
	GenderScore *float64
	Gender      string
	EventLog    []string

	inferenceToken uint64
}

func (identity *Identity) clone() Identity {
	cp := *identity
	cp.FeatureSamples = make([]FeatureSample, len(identity.FeatureSamples))
	for i, sample := range identity.FeatureSamples {
		cp.FeatureSamples[i] = append(FeatureSample{}, sample...)
	}
	cp.Embedding = append([]float64(nil), identity.Embedding...)
	cp.Trail = append([]mot.Rectangle(nil), identity.Trail...)
	cp.EventLog = append([]string(nil), identity.EventLog...)
	if identity.Age != nil {
		age := *identity.Age
		cp.Age = &age
	}
	if identity.GenderScore != nil {
		score := *identity.GenderScore
		cp.GenderScore = &score
	}
	return cp
}

func (identity *Identity) appendTrail(bbox mot.Rectangle, depth int) {
	identity.Trail = append(identity.Trail, bbox)
	if len(identity.Trail) > depth {
		identity.Trail = identity.Trail[len(identity.Trail)-depth:]
	}
}

func (identity *Identity) log(event string) {
	identity.EventLog = append(identity.EventLog, event)
}

// PositionsSummary describes trail of a finalized identity
type PositionsSummary struct {
	Start mot.Point `json:"start"`
	End   mot.Point `json:"end"`
	Count int       `json:"count"`
}

// Record is a finalized identity payload handed to RecordSink. Trail is not included.
type Record struct {
	UUID                string            `json:"uuid"`
	StreamID            string            `json:"stream_id,omitempty"`
	Status              Status            `json:"status"`
	ValidTrack          bool              `json:"valid_track"`
	FalsePositiveReason string            `json:"false_positive_reason,omitempty"`
	OriginTrackID       int               `json:"origin_id"`
	LastTrackID         int               `json:"last_track_id"`
	FirstSeen           time.Time         `json:"first_seen"`
	LastSeen            time.Time         `json:"last_seen"`
	LostSince           time.Time         `json:"lost_since"`
	FinalizedAt         time.Time         `json:"finalized_at"`
	FramesSeen          int               `json:"frames_seen"`
	DurationTracked     float64           `json:"duration_tracked"`
	TotalMovement       float64           `json:"total_movement"`
	PositionsSummary    *PositionsSummary `json:"positions_summary,omitempty"`
	EntryZone           string            `json:"entry_zone,omitempty"`
	ExitZone            string            `json:"exit_zone,omitempty"`
	Direction           string            `json:"direction,omitempty"`
	Age                 *float64          `json:"age"`
	Gender              string            `json:"gender"`
	GenderScore         *float64          `json:"gender_score"`
	FeatureSamples      []FeatureSample   `json:"features"`
	Embedding           []float64         `json:"embedding,omitempty"`
	InferenceFailures   int               `json:"inference_failures"`
	Error               string            `json:"error,omitempty"`
	EventLog            []string          `json:"event_log"`
}
