package mot

import (
	"testing"
)

func TestParseDetectionClass(t *testing.T) {
	cases := map[string]DetectionClass{
		"person":     ClassPerson,
		"head":       ClassHead,
		"Human Face": ClassFace,
		"face":       ClassFace,
		"car":        ClassUnknown,
		"":           ClassUnknown,
	}
	for label, expected := range cases {
		if got := ParseDetectionClass(label); got != expected {
			t.Errorf("Label %q: expected %s, got %s", label, expected, got)
		}
	}
}

func TestParseDetectionsJSON(t *testing.T) {
	data := []byte(`[
		{"bbox": [10, 20, 40, 60], "label": "head", "score": 0.9},
		{"bbox": [10, 20, 40], "label": "head"},
		{"label": "person"},
		{"bbox": [0, 0, 5, 5]},
		{"bbox": ["a", 0, 5, 5], "label": "person"},
		{"bbox": [0, 0, 5, 5], "label": 3},
		"garbage",
		42,
		{"bbox": [100, 100, 50, 50], "label": "human face"}
	]`)
	detections, dropped := ParseDetectionsJSON(data)
	if dropped != 7 {
		t.Errorf("Expected 7 dropped entries, got %d", dropped)
	}
	if len(detections) != 2 {
		t.Fatalf("Expected 2 detections, got %d", len(detections))
	}
	if detections[0].BBox != NewRectCorners(10, 20, 40, 60) || detections[0].Class != ClassHead || detections[0].Score != 0.9 {
		t.Errorf("Wrong first detection: %+v", detections[0])
	}
	if detections[1].Class != ClassFace || detections[1].Score != 1.0 {
		t.Errorf("Wrong second detection: %+v", detections[1])
	}
	if detections[1].BBox != NewRectCorners(50, 50, 100, 100) {
		t.Errorf("Corners should be normalized, got %v", detections[1].BBox)
	}
}

func TestParseDetectionsNotArray(t *testing.T) {
	detections, dropped := ParseDetectionsJSON([]byte(`{"bbox": [0, 0, 1, 1]}`))
	if len(detections) != 0 || dropped != 1 {
		t.Errorf("Expected nothing parsed and 1 dropped, got %d and %d", len(detections), dropped)
	}
	detections, dropped = ParseDetectionsJSON(nil)
	if len(detections) != 0 || dropped != 0 {
		t.Errorf("Expected nothing for empty input, got %d and %d", len(detections), dropped)
	}
}

func TestFilterDetections(t *testing.T) {
	detections := []Detection{
		NewDetection(0, 0, 1, 1, "head", 1),
		NewDetection(0, 0, 1, 1, "person", 1),
		NewDetection(0, 0, 1, 1, "face", 1),
	}
	if got := FilterDetections(detections); len(got) != 3 {
		t.Errorf("No classes should keep everything, got %d", len(got))
	}
	got := FilterDetections(detections, ClassFace, ClassHead)
	if len(got) != 2 || got[0].Class != ClassHead || got[1].Class != ClassFace {
		t.Errorf("Wrong filtered detections: %+v", got)
	}
}
