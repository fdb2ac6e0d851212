package mot

import (
	"math"

	"github.com/pkg/errors"
)

// GreedyTrackerParams holds association thresholds of GreedyTracker
type GreedyTrackerParams struct {
	// Candidate is acceptable when centroid distance is in [MinDistance, MaxDistance]...
	MinDistance float64
	MaxDistance float64
	// ...or IoU with track's last bbox is in [MinIoU, MaxIoU]
	MinIoU float64
	MaxIoU float64
	// Track is removed once it was not matched for more than MaxLostFrames frames
	MaxLostFrames int
	// Max number of bboxes kept in track's trail
	TrailDepth int
	// Time step of Kalman filter
	TimeStep float64
	// Classes to track. Empty means every class
	Classes []DetectionClass
}

// DefaultGreedyTrackerParams returns default thresholds.
// Default values: distance and IoU ranges [0.1, 1.2], maxLostFrames=5, trailDepth=10, timeStep=1.0
func DefaultGreedyTrackerParams() GreedyTrackerParams {
	return GreedyTrackerParams{
		MinDistance:   0.1,
		MaxDistance:   1.2,
		MinIoU:        0.1,
		MaxIoU:        1.2,
		MaxLostFrames: 5,
		TrailDepth:    10,
		TimeStep:      1.0,
	}
}

// GreedyTracker is a per-track greedy multi-object tracker.
// For every existing track (in creation order) it scans not yet matched detections,
// accepts a candidate when either its centroid distance or its IoU lies within configured range
// and picks the acceptable candidate with the highest IoU (ties broken by smaller distance).
// There is no global assignment: results depend on track creation order.
type GreedyTracker struct {
	params GreedyTrackerParams
	// Tracks in creation order
	tracks []*Track
	nextID int
}

// NewDefaultGreedyTracker creates a default instance of GreedyTracker.
func NewDefaultGreedyTracker() *GreedyTracker {
	return NewGreedyTracker(DefaultGreedyTrackerParams())
}

// NewGreedyTracker creates a new instance of GreedyTracker with specified parameters.
func NewGreedyTracker(params GreedyTrackerParams) *GreedyTracker {
	if params.TrailDepth < 1 {
		params.TrailDepth = 1
	}
	if params.TimeStep <= 0 {
		params.TimeStep = 1.0
	}
	return &GreedyTracker{
		params: params,
		tracks: make([]*Track, 0),
		nextID: 1,
	}
}

// Params returns tracker parameters
func (tracker *GreedyTracker) Params() GreedyTrackerParams {
	return tracker.params
}

// Update matches frame detections to existing tracks, spawns new tracks and ages out stale ones.
// It returns every live track in creation order (including not matched ones which are not removed yet).
// An error is returned only when a motion filter update fails; bounding boxes are applied anyway.
func (tracker *GreedyTracker) Update(detections []Detection) ([]*Track, error) {
	detections = FilterDetections(detections, tracker.params.Classes...)
	matchedDetections := make([]bool, len(detections))
	var updateErr error

	for _, track := range tracker.tracks {
		track.predict()
		bestIdx := tracker.bestCandidate(track, detections, matchedDetections)
		if bestIdx < 0 {
			track.markLost()
			continue
		}
		matchedDetections[bestIdx] = true
		if err := track.update(detections[bestIdx]); err != nil && updateErr == nil {
			updateErr = errors.Wrapf(err, "Track %d", track.id)
		}
	}

	for i := range detections {
		if matchedDetections[i] {
			continue
		}
		tracker.tracks = append(tracker.tracks, newTrack(tracker.nextID, detections[i], tracker.params.TrailDepth, tracker.params.TimeStep))
		tracker.nextID++
	}

	// Clean up existing data - remove tracks not found for a long time
	alive := tracker.tracks[:0]
	for _, track := range tracker.tracks {
		if track.lostFrames <= tracker.params.MaxLostFrames {
			alive = append(alive, track)
		}
	}
	for i := len(alive); i < len(tracker.tracks); i++ {
		tracker.tracks[i] = nil
	}
	tracker.tracks = alive

	return tracker.Tracks(), updateErr
}

func (tracker *GreedyTracker) bestCandidate(track *Track, detections []Detection, matched []bool) int {
	bestIdx := -1
	bestIoU := 0.0
	bestDist := math.Inf(1)
	trackCenter := track.Centroid()
	for i := range detections {
		if matched[i] {
			continue
		}
		dist := euclideanDistance(trackCenter, detections[i].BBox.Center())
		iou := IoU(track.currentBBox, detections[i].BBox)
		acceptable := inRange(dist, tracker.params.MinDistance, tracker.params.MaxDistance) ||
			inRange(iou, tracker.params.MinIoU, tracker.params.MaxIoU)
		if !acceptable {
			continue
		}
		if iou > bestIoU || (iou == bestIoU && dist < bestDist) {
			bestIoU = iou
			bestDist = dist
			bestIdx = i
		}
	}
	return bestIdx
}

// Tracks returns live tracks in creation order
func (tracker *GreedyTracker) Tracks() []*Track {
	tracks := make([]*Track, len(tracker.tracks))
	copy(tracks, tracker.tracks)
	return tracks
}

// Reset drops every track. Identifiers keep increasing after reset
func (tracker *GreedyTracker) Reset() {
	tracker.tracks = make([]*Track, 0)
}
