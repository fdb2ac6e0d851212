package mot

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Orientation defines how side changes are mapped to crossing directions
type Orientation uint8

const (
	OrientationHorizontal Orientation = iota
	OrientationVertical
	OrientationOther
)

func (o Orientation) String() string {
	switch o {
	case OrientationHorizontal:
		return "HORIZONTAL"
	case OrientationVertical:
		return "VERTICAL"
	default:
		return "OTHER"
	}
}

// ParseOrientation maps configuration string to Orientation. Unknown strings give OrientationOther
func ParseOrientation(s string) Orientation {
	switch normalizeName(s) {
	case "horizontal":
		return OrientationHorizontal
	case "vertical":
		return OrientationVertical
	default:
		return OrientationOther
	}
}

// CrossingDirection is a direction of detected line crossing
type CrossingDirection string

const (
	DirectionRight   = CrossingDirection("Right")
	DirectionLeft    = CrossingDirection("Left")
	DirectionDown    = CrossingDirection("Down")
	DirectionUp      = CrossingDirection("Up")
	DirectionUnknown = CrossingDirection("Unknown")
)

// EventTypeLineCrossed is the type of every CrossingEvent
const EventTypeLineCrossed = "person_crossed_line"

// LineDefinition is an immutable description of a counting line
type LineDefinition struct {
	Name        string
	P1          Point
	P2          Point
	Orientation Orientation
	Anchor      AnchorPoint
	// Classes to count. Empty means every class
	Classes []DetectionClass
	// When true, track is counted only once per line. Otherwise it is re-armed after every count
	FirstCrossingOnly bool
}

// IsVertical reports whether line geometry is closer to vertical
func (def LineDefinition) IsVertical() bool {
	return math.Abs(def.P2.Y-def.P1.Y) > math.Abs(def.P2.X-def.P1.X)
}

// CrossingEvent is emitted once per detected crossing
type CrossingEvent struct {
	TrackID   int
	UUID      uuid.UUID
	Type      string
	LineName  string
	Direction CrossingDirection
	ClassName string
	Timestamp time.Time
}

// CrossingObserver receives crossing events synchronously
type CrossingObserver interface {
	OnCrossing(event CrossingEvent)
}

// CrossingObserverFunc adapts ordinary function to CrossingObserver
type CrossingObserverFunc func(event CrossingEvent)

func (f CrossingObserverFunc) OnCrossing(event CrossingEvent) {
	f(event)
}

// LineCounts holds counters of a line
type LineCounts struct {
	Entries int
	Exits   int
	// Crossings of lines with OrientationOther
	Other int
}

type crossingState struct {
	lastSide bool
	latched  bool
}

// LineCounter detects crossings of a single line by tracks' anchor points.
// Each counter keeps its own per-track state and observers.
type LineCounter struct {
	mu        sync.Mutex
	def       LineDefinition
	states    map[int]*crossingState
	counts    LineCounts
	observers []CrossingObserver
}

// NewLineCounter creates counter for the given line
func NewLineCounter(def LineDefinition, observers ...CrossingObserver) *LineCounter {
	classes := make([]DetectionClass, len(def.Classes))
	copy(classes, def.Classes)
	def.Classes = classes
	return &LineCounter{
		def:       def,
		states:    make(map[int]*crossingState),
		observers: append([]CrossingObserver{}, observers...),
	}
}

// Definition returns line definition
func (lc *LineCounter) Definition() LineDefinition {
	return lc.def
}

// Register appends observer. Observers are called in registration order
func (lc *LineCounter) Register(observer CrossingObserver) {
	lc.mu.Lock()
	lc.observers = append(lc.observers, observer)
	lc.mu.Unlock()
}

// Counts returns current counters
func (lc *LineCounter) Counts() LineCounts {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.counts
}

// Analyze processes tracks of the current frame and returns detected crossings.
// Observers are notified after counters are updated.
func (lc *LineCounter) Analyze(tracks []*Track, now time.Time) []CrossingEvent {
	lc.mu.Lock()
	if len(tracks) == 0 {
		lc.states = make(map[int]*crossingState)
		lc.mu.Unlock()
		return nil
	}

	var events []CrossingEvent
	present := make(map[int]struct{}, len(tracks))
	for _, track := range tracks {
		present[track.id] = struct{}{}
		if len(lc.def.Classes) > 0 && !containsClass(lc.def.Classes, track.class) {
			continue
		}
		if event, ok := lc.analyzeTrack(track, now); ok {
			events = append(events, event)
		}
	}

	// Drop state of tracks which are gone
	for id := range lc.states {
		if _, ok := present[id]; !ok {
			delete(lc.states, id)
		}
	}
	observers := lc.observers
	lc.mu.Unlock()

	for _, event := range events {
		for _, observer := range observers {
			observer.OnCrossing(event)
		}
	}
	return events
}

func (lc *LineCounter) analyzeTrack(track *Track, now time.Time) (CrossingEvent, bool) {
	trail := track.trail
	if len(trail) == 0 {
		return CrossingEvent{}, false
	}
	current := lc.def.Anchor.Project(trail[len(trail)-1])
	currentSide := SideOfLine(lc.def.P1, lc.def.P2, current)

	state, ok := lc.states[track.id]
	if len(trail) < 2 {
		if !ok {
			lc.states[track.id] = &crossingState{lastSide: currentSide}
		}
		return CrossingEvent{}, false
	}
	previous := lc.def.Anchor.Project(trail[len(trail)-2])
	// Track first seen with a trail starts from its previous anchor, so it may count right away
	if !ok {
		state = &crossingState{lastSide: SideOfLine(lc.def.P1, lc.def.P2, previous)}
		lc.states[track.id] = state
	}

	var event CrossingEvent
	crossed := state.lastSide != currentSide &&
		!state.latched &&
		SegmentsIntersect(lc.def.P1, lc.def.P2, previous, current)
	if crossed {
		event = CrossingEvent{
			TrackID:   track.id,
			UUID:      uuid.New(),
			Type:      EventTypeLineCrossed,
			LineName:  lc.def.Name,
			Direction: lc.count(state.lastSide, currentSide),
			ClassName: track.label,
			Timestamp: now,
		}
		if event.ClassName == "" {
			event.ClassName = "Unknown"
		}
		state.latched = lc.def.FirstCrossingOnly
	}
	state.lastSide = currentSide
	return event, crossed
}

// count increments counter matching side transition and returns direction
func (lc *LineCounter) count(previousSide, currentSide bool) CrossingDirection {
	switch lc.def.Orientation {
	case OrientationHorizontal:
		if !previousSide && currentSide {
			lc.counts.Entries++
			return DirectionRight
		}
		lc.counts.Exits++
		return DirectionLeft
	case OrientationVertical:
		if !previousSide && currentSide {
			lc.counts.Entries++
			return DirectionDown
		}
		lc.counts.Exits++
		return DirectionUp
	default:
		lc.counts.Other++
		return DirectionUnknown
	}
}

// Annotate returns human readable counter labels
func (lc *LineCounter) Annotate() []string {
	counts := lc.Counts()
	if lc.def.IsVertical() {
		return []string{
			fmt.Sprintf("Left: %d", counts.Entries),
			fmt.Sprintf("Right: %d", counts.Exits),
		}
	}
	return []string{
		fmt.Sprintf("Up: %d", counts.Exits),
		fmt.Sprintf("Down: %d", counts.Entries),
	}
}

// Reset drops per-track state and counters
func (lc *LineCounter) Reset() {
	lc.mu.Lock()
	lc.states = make(map[int]*crossingState)
	lc.counts = LineCounts{}
	lc.mu.Unlock()
}
