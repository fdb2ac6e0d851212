package mot

import (
	"math"

	"github.com/tidwall/gjson"
)

// DetectionClass is a closed set of object classes the engine reasons about.
// Raw labels are mapped to it only when detections are parsed.
type DetectionClass uint8

const (
	ClassUnknown DetectionClass = iota
	ClassPerson
	ClassHead
	ClassFace
)

func (c DetectionClass) String() string {
	switch c {
	case ClassPerson:
		return "person"
	case ClassHead:
		return "head"
	case ClassFace:
		return "face"
	default:
		return "unknown"
	}
}

// ParseDetectionClass maps raw model label to DetectionClass
func ParseDetectionClass(label string) DetectionClass {
	switch normalizeName(label) {
	case "person", "pedestrian":
		return ClassPerson
	case "head":
		return ClassHead
	case "face", "humanface":
		return ClassFace
	default:
		return ClassUnknown
	}
}

// Detection is a single detector output for one frame
type Detection struct {
	BBox  Rectangle
	Class DetectionClass
	// Label is raw label as produced by detector. Used only for reporting
	Label string
	Score float64
}

// NewDetection creates detection from (x1, y1, x2, y2) corners and raw label
func NewDetection(x1, y1, x2, y2 float64, label string, score float64) Detection {
	return Detection{
		BBox:  NewRectCorners(x1, y1, x2, y2),
		Class: ParseDetectionClass(label),
		Label: label,
		Score: score,
	}
}

// ParseDetectionsJSON parses JSON array of detections like
//
//	[{"bbox": [x1, y1, x2, y2], "label": "head", "score": 0.87}, ...]
//
// Malformed entries (not an object, no 4-number bbox, no label) are dropped; their number is returned.
func ParseDetectionsJSON(data []byte) ([]Detection, int) {
	return ParseDetections(gjson.ParseBytes(data))
}

// ParseDetections does the same as ParseDetectionsJSON for already parsed value
func ParseDetections(value gjson.Result) ([]Detection, int) {
	if !value.IsArray() {
		if value.Exists() {
			return nil, 1
		}
		return nil, 0
	}
	entries := value.Array()
	detections := make([]Detection, 0, len(entries))
	dropped := 0
	for _, entry := range entries {
		detection, ok := parseDetection(entry)
		if !ok {
			dropped++
			continue
		}
		detections = append(detections, detection)
	}
	return detections, dropped
}

func parseDetection(entry gjson.Result) (Detection, bool) {
	if !entry.IsObject() {
		return Detection{}, false
	}
	label := entry.Get("label")
	if label.Type != gjson.String || label.String() == "" {
		return Detection{}, false
	}
	bbox := entry.Get("bbox")
	if !bbox.IsArray() {
		return Detection{}, false
	}
	coords := bbox.Array()
	if len(coords) != 4 {
		return Detection{}, false
	}
	var xyxy [4]float64
	for i, coord := range coords {
		if coord.Type != gjson.Number {
			return Detection{}, false
		}
		xyxy[i] = coord.Float()
		if math.IsNaN(xyxy[i]) || math.IsInf(xyxy[i], 0) {
			return Detection{}, false
		}
	}
	score := 1.0
	if s := entry.Get("score"); s.Exists() {
		if s.Type != gjson.Number {
			return Detection{}, false
		}
		score = s.Float()
	}
	return NewDetection(xyxy[0], xyxy[1], xyxy[2], xyxy[3], label.String(), score), true
}

// FilterDetections returns detections of given classes. Empty classes list keeps everything
func FilterDetections(detections []Detection, classes ...DetectionClass) []Detection {
	if len(classes) == 0 {
		return detections
	}
	filtered := make([]Detection, 0, len(detections))
	for _, detection := range detections {
		if containsClass(classes, detection.Class) {
			filtered = append(filtered, detection)
		}
	}
	return filtered
}

func containsClass(classes []DetectionClass, class DetectionClass) bool {
	for _, c := range classes {
		if c == class {
			return true
		}
	}
	return false
}
