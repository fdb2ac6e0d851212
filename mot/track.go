package mot

import (
	kalman_filter "github.com/LdDl/kalman-filter"
	"github.com/pkg/errors"
)

// Track is a short-lived frame-to-frame object produced by GreedyTracker.
// Position used for association is always the last observed bounding box;
// the 8-D Kalman filter [cx, cy, w, h, vx, vy, vw, vh] only smooths velocity estimates.
type Track struct {
	id          int
	class       DetectionClass
	label       string
	score       float64
	currentBBox Rectangle
	trail       []Rectangle
	maxTrailLen int
	lostFrames  int
	hits        int
	tracker     *kalman_filter.KalmanBBox
}

// newTrack creates track for the detection with specified time step
func newTrack(id int, detection Detection, maxTrailLen int, dt float64) *Track {
	bbox := detection.BBox
	center := bbox.Center()

	// Kalman filter props
	uCx := 0.0
	uCy := 0.0
	uW := 0.0
	uH := 0.0
	stdDevA := 2.0
	stdDevMCx := 0.1
	stdDevMCy := 0.1
	stdDevMW := 0.1
	stdDevMH := 0.1
	kf := kalman_filter.NewKalmanBBox(
		dt, uCx, uCy, uW, uH,
		stdDevA, stdDevMCx, stdDevMCy, stdDevMW, stdDevMH,
		kalman_filter.WithStateBBox(center.X, center.Y, bbox.Width, bbox.Height),
	)

	track := Track{
		id:          id,
		class:       detection.Class,
		label:       detection.Label,
		score:       detection.Score,
		currentBBox: bbox,
		trail:       make([]Rectangle, 0, maxTrailLen),
		maxTrailLen: maxTrailLen,
		hits:        1,
		tracker:     kf,
	}
	track.trail = append(track.trail, bbox)
	return &track
}

// ID returns track's identifier
func (track *Track) ID() int {
	return track.id
}

// Class returns class of the last matched detection
func (track *Track) Class() DetectionClass {
	return track.class
}

// Label returns raw label of the last matched detection
func (track *Track) Label() string {
	return track.label
}

// Score returns confidence of the last matched detection
func (track *Track) Score() float64 {
	return track.score
}

// BBox returns last observed bounding box
func (track *Track) BBox() Rectangle {
	return track.currentBBox
}

// Centroid returns center of last observed bounding box
func (track *Track) Centroid() Point {
	return track.currentBBox.Center()
}

// LostFrames returns number of consecutive frames without a match
func (track *Track) LostFrames() int {
	return track.lostFrames
}

// Matched reports whether track was matched (or spawned) on the latest frame
func (track *Track) Matched() bool {
	return track.lostFrames == 0
}

// Hits returns number of frames the track was observed
func (track *Track) Hits() int {
	return track.hits
}

// Trail returns copy of track's bounded bbox history, oldest first
func (track *Track) Trail() []Rectangle {
	trail := make([]Rectangle, len(track.trail))
	copy(trail, track.trail)
	return trail
}

// TrailLen returns current length of the trail
func (track *Track) TrailLen() int {
	return len(track.trail)
}

// Velocity returns smoothed center velocity (vx, vy) in pixels per time step
func (track *Track) Velocity() (float64, float64) {
	vx, vy, _, _ := track.tracker.GetVelocity()
	return vx, vy
}

func (track *Track) predict() {
	track.tracker.Predict()
}

// update applies matched detection to the track
func (track *Track) update(detection Detection) error {
	bbox := detection.BBox
	center := bbox.Center()
	err := track.tracker.Update(center.X, center.Y, bbox.Width, bbox.Height)
	if err != nil {
		return errors.Wrap(err, "Can't update object tracker")
	}

	track.currentBBox = bbox
	track.class = detection.Class
	track.label = detection.Label
	track.score = detection.Score
	track.lostFrames = 0
	track.hits++

	track.trail = append(track.trail, bbox)
	if len(track.trail) > track.maxTrailLen {
		track.trail = track.trail[1:]
	}
	return nil
}

func (track *Track) markLost() {
	track.lostFrames++
}
