package lifecycle

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/LdDl/mot-lifecycle/mot"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
)

// Gender labels
const (
	GenderMale    = "male"
	GenderFemale  = "female"
	GenderNeutral = "neutral"
	GenderUnknown = "unknown"
)

// Heading of an identity when it left the scene
const (
	HeadingStatic = "Static"
)

var headings = [...]string{"East", "SouthEast", "South", "SouthWest", "West", "NorthWest", "North", "NorthEast"}

// False positive reasons
const (
	ReasonShortTrail    = "short_trail"
	ReasonLowMovement   = "low_movement"
	ReasonShortDuration = "short_duration"
	ReasonFewFrames     = "few_frames"
)

// finalize turns identity into a terminal record. Must be called with mu held.
func (m *Manager) finalize(identity *Identity, now time.Time) *Record {
	points := centers(identity.Trail)
	duration := identity.LastSeen.Sub(identity.FirstSeen)
	falsePositive, reason := classifyFalsePositive(m.cfg, points, duration, identity.FramesSeen)
	m.aggregate(identity)

	record := &Record{
		UUID:                identity.UUID,
		StreamID:            m.cfg.StreamID,
		ValidTrack:          !falsePositive,
		FalsePositiveReason: reason,
		OriginTrackID:       identity.OriginTrackID,
		LastTrackID:         identity.LastTrackID,
		FirstSeen:           identity.FirstSeen,
		LastSeen:            identity.LastSeen,
		LostSince:           identity.LostSince,
		FinalizedAt:         now,
		FramesSeen:          identity.FramesSeen,
		DurationTracked:     duration.Seconds(),
		TotalMovement:       displacement(points),
		Age:                 identity.Age,
		Gender:              identity.Gender,
		GenderScore:         identity.GenderScore,
		FeatureSamples:      identity.FeatureSamples,
		Embedding:           identity.Embedding,
		InferenceFailures:   identity.InferenceFailures,
		Error:               identity.Error,
	}
	if len(points) > 0 {
		first, last := points[0], points[len(points)-1]
		record.PositionsSummary = &PositionsSummary{Start: first, End: last, Count: len(points)}
		record.Direction = estimateHeading(points, m.cfg.HeadingWindow, m.cfg.StaticMovementPx, identity.VelocityX, identity.VelocityY)
		record.EntryZone = gridZone(first, m.cfg.FrameWidth, m.cfg.FrameHeight, m.cfg.GridSize)
		record.ExitZone = exitZone(last, record.Direction, m.cfg)
	}

	if falsePositive {
		identity.Status = StatusDiscarded
		identity.log(EventDiscardedFP)
		m.stats.Discarded++
	} else {
		identity.Status = StatusFinalized
		identity.log(EventFinalized)
		m.stats.Finalized++
	}
	record.Status = identity.Status
	record.EventLog = append([]string(nil), identity.EventLog...)

	m.log.WithFields(logrus.Fields{
		"uuid":      record.UUID,
		"status":    record.Status,
		"reason":    record.FalsePositiveReason,
		"frames":    record.FramesSeen,
		"direction": record.Direction,
		"exit_zone": record.ExitZone,
	}).Info("Identity finalized")
	return record
}

// aggregate computes age and gender estimates from collected samples. Must be called with mu held.
func (m *Manager) aggregate(identity *Identity) {
	identity.Age, identity.Gender, identity.GenderScore = aggregateAttributes(identity.FeatureSamples, m.cfg.GenderConfidence)
}

// aggregateAttributes averages "Age" scores and male probability.
// "Female" scores are counted as 1 - male probability.
// Gender is resolved only when the dominant probability reaches confidence, otherwise it is neutral.
func aggregateAttributes(samples []FeatureSample, confidence float64) (*float64, string, *float64) {
	var ages, males []float64
	for _, sample := range samples {
		for _, attribute := range sample {
			switch strings.ToLower(attribute.Label) {
			case "age":
				ages = append(ages, attribute.Score)
			case "male":
				males = append(males, attribute.Score)
			case "female":
				males = append(males, 1-attribute.Score)
			}
		}
	}
	var age *float64
	if len(ages) > 0 {
		mean := stat.Mean(ages, nil)
		age = &mean
	}
	if len(males) == 0 {
		return age, GenderUnknown, nil
	}
	male := stat.Mean(males, nil)
	gender := GenderNeutral
	switch {
	case male >= confidence:
		gender = GenderMale
	case 1-male >= confidence:
		gender = GenderFemale
	}
	return age, gender, &male
}

// classifyFalsePositive reports whether identity is a detection artifact and why
func classifyFalsePositive(cfg Config, points []mot.Point, duration time.Duration, framesSeen int) (bool, string) {
	switch {
	case len(points) < 2:
		return true, ReasonShortTrail
	case displacement(points) < cfg.MinMovementPx:
		return true, ReasonLowMovement
	case duration < cfg.MinDuration:
		return true, ReasonShortDuration
	case framesSeen < cfg.MinFrames:
		return true, ReasonFewFrames
	}
	return false, ""
}

func centers(trail []mot.Rectangle) []mot.Point {
	points := make([]mot.Point, len(trail))
	for i, bbox := range trail {
		points[i] = bbox.Center()
	}
	return points
}

// displacement is |dx| + |dy| between first and last points
func displacement(points []mot.Point) float64 {
	if len(points) < 2 {
		return 0
	}
	first, last := points[0], points[len(points)-1]
	return math.Abs(last.X-first.X) + math.Abs(last.Y-first.Y)
}

// estimateHeading buckets movement over the last window points into 8 compass directions.
// Image Y axis points South. Without enough points, velocity over the window is used instead.
func estimateHeading(points []mot.Point, window int, staticPx, vx, vy float64) string {
	var dx, dy float64
	if len(points) >= 2 {
		recent := points
		if len(recent) > window {
			recent = recent[len(recent)-window:]
		}
		first, last := recent[0], recent[len(recent)-1]
		dx, dy = last.X-first.X, last.Y-first.Y
	} else {
		dx, dy = vx*float64(window-1), vy*float64(window-1)
	}
	if math.Abs(dx)+math.Abs(dy) < staticPx {
		return HeadingStatic
	}
	sector := int(math.Round(math.Atan2(dy, dx) / (math.Pi / 4)))
	return headings[(sector+8)%8]
}

// gridZone maps point to "Z{row}{col}" cell of grid x grid split frame
func gridZone(p mot.Point, width, height, grid int) string {
	col := clampInt(int(p.X/(float64(width)/float64(grid))), 0, grid-1)
	row := clampInt(int(p.Y/(float64(height)/float64(grid))), 0, grid-1)
	return fmt.Sprintf("Z%d%d", row, col)
}

// exitZone names frame border the identity left through, e.g. "EdgeNorth" or "EdgeSouthWest".
// Identity which disappeared away from borders (occlusion) or moved away from them gets its grid cell.
func exitZone(last mot.Point, heading string, cfg Config) string {
	if heading != HeadingStatic {
		marginX := cfg.BorderMargin * float64(cfg.FrameWidth)
		marginY := cfg.BorderMargin * float64(cfg.FrameHeight)
		vertical := ""
		switch {
		case last.Y <= marginY && strings.Contains(heading, "North"):
			vertical = "North"
		case last.Y >= float64(cfg.FrameHeight)-marginY && strings.Contains(heading, "South"):
			vertical = "South"
		}
		horizontal := ""
		switch {
		case last.X <= marginX && strings.Contains(heading, "West"):
			horizontal = "West"
		case last.X >= float64(cfg.FrameWidth)-marginX && strings.Contains(heading, "East"):
			horizontal = "East"
		}
		if vertical != "" || horizontal != "" {
			return "Edge" + vertical + horizontal
		}
	}
	return gridZone(last, cfg.FrameWidth, cfg.FrameHeight, cfg.GridSize)
}

func clampInt(v, low, high int) int {
	if v < low {
		return low
	}
	if v > high {
		return high
	}
	return v
}
