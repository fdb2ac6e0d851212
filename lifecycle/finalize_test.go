package lifecycle

import (
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/LdDl/mot-lifecycle/mot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyFalsePositive(t *testing.T) {
	cfg := DefaultConfig()
	line := func(length float64) []mot.Point {
		return []mot.Point{{X: 100, Y: 100}, {X: 100 + length/2, Y: 100}, {X: 100 + length, Y: 100}}
	}
	tests := []struct {
		name     string
		points   []mot.Point
		duration time.Duration
		frames   int
		fp       bool
		reason   string
	}{
		{"single point", []mot.Point{{X: 1, Y: 1}}, 5 * time.Second, 50, true, ReasonShortTrail},
		{"jitter", line(5), 300 * time.Millisecond, 2, true, ReasonLowMovement},
		{"flash", line(50), 300 * time.Millisecond, 20, true, ReasonShortDuration},
		{"sparse", line(50), 2 * time.Second, 2, true, ReasonFewFrames},
		{"walker", line(50), 2 * time.Second, 20, false, ""},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			fp, reason := classifyFalsePositive(cfg, test.points, test.duration, test.frames)
			assert.Equal(t, test.fp, fp)
			assert.Equal(t, test.reason, reason)
		})
	}
}

func TestDisplacementIsManhattan(t *testing.T) {
	points := []mot.Point{{X: 10, Y: 10}, {X: 500, Y: 500}, {X: 13, Y: 6}}
	assert.InDelta(t, 7, displacement(points), 1e-9)
	assert.Zero(t, displacement(points[:1]))
}

func TestAggregateAttributes(t *testing.T) {
	age, gender, score := aggregateAttributes([]FeatureSample{
		{{Label: "Age", Score: 30}, {Label: "Male", Score: 0.9}},
		{{Label: "age", Score: 40}, {Label: "Female", Score: 0.9}},
	}, 0.55)
	require.NotNil(t, age)
	assert.InDelta(t, 35, *age, 1e-9)
	assert.Equal(t, GenderNeutral, gender)
	require.NotNil(t, score)
	assert.InDelta(t, 0.5, *score, 1e-9)

	age, gender, score = aggregateAttributes([]FeatureSample{
		{{Label: "Female", Score: 0.8}},
	}, 0.55)
	assert.Nil(t, age)
	assert.Equal(t, GenderFemale, gender)
	require.NotNil(t, score)
	assert.InDelta(t, 0.2, *score, 1e-9)

	age, gender, score = aggregateAttributes([]FeatureSample{
		{{Label: "Age", Score: 22}, {Label: "Glasses", Score: 0.7}},
	}, 0.55)
	require.NotNil(t, age)
	assert.Equal(t, GenderUnknown, gender)
	assert.Nil(t, score)

	_, gender, _ = aggregateAttributes(nil, 0.55)
	assert.Equal(t, GenderUnknown, gender)
}

func TestEstimateHeading(t *testing.T) {
	tests := []struct {
		dx, dy  float64
		heading string
	}{
		{10, 0, "East"},
		{10, 10, "SouthEast"},
		{0, 10, "South"},
		{-10, 10, "SouthWest"},
		{-10, 0, "West"},
		{-10, -10, "NorthWest"},
		{0, -10, "North"},
		{10, -10, "NorthEast"},
		{2, 2, HeadingStatic},
	}
	for _, test := range tests {
		points := []mot.Point{{X: 100, Y: 100}, {X: 100 + test.dx, Y: 100 + test.dy}}
		assert.Equal(t, test.heading, estimateHeading(points, 5, 5, 0, 0), "dx=%v dy=%v", test.dx, test.dy)
	}
}

func TestEstimateHeadingWindow(t *testing.T) {
	points := []mot.Point{{X: 0, Y: 0}, {X: 100, Y: 0}, {X: 100, Y: 0}, {X: 100, Y: 0}, {X: 100, Y: 0}, {X: 100, Y: 10}}
	assert.Equal(t, "South", estimateHeading(points, 5, 5, 0, 0))
	assert.Equal(t, "East", estimateHeading(points, 10, 5, 0, 0))
}

func TestEstimateHeadingVelocityFallback(t *testing.T) {
	single := []mot.Point{{X: 100, Y: 100}}
	assert.Equal(t, "West", estimateHeading(single, 5, 5, -3, 0))
	assert.Equal(t, HeadingStatic, estimateHeading(single, 5, 5, 0.5, 0.5))
	assert.Equal(t, HeadingStatic, estimateHeading(nil, 5, 5, 0, 0))
}

func TestGridZone(t *testing.T) {
	assert.Equal(t, "Z00", gridZone(mot.Point{X: 0, Y: 0}, 640, 640, 6))
	assert.Equal(t, "Z55", gridZone(mot.Point{X: 639, Y: 639}, 640, 640, 6))
	assert.Equal(t, "Z12", gridZone(mot.Point{X: 215, Y: 125}, 640, 640, 6))
	assert.Equal(t, "Z05", gridZone(mot.Point{X: 700, Y: -5}, 640, 640, 6), "outside points are clamped")
}

func TestExitZone(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		name    string
		last    mot.Point
		heading string
		zone    string
	}{
		{"top border", mot.Point{X: 320, Y: 20}, "North", "EdgeNorth"},
		{"corner", mot.Point{X: 20, Y: 620}, "SouthWest", "EdgeSouthWest"},
		{"right border", mot.Point{X: 630, Y: 320}, "East", "EdgeEast"},
		{"diagonal near one border", mot.Point{X: 630, Y: 320}, "NorthEast", "EdgeEast"},
		{"moving away from border", mot.Point{X: 320, Y: 20}, "South", "Z03"},
		{"occluded in the middle", mot.Point{X: 320, Y: 320}, "North", "Z33"},
		{"static at border", mot.Point{X: 320, Y: 20}, HeadingStatic, "Z03"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.zone, exitZone(test.last, test.heading, cfg))
		})
	}
}

func TestSelectFace(t *testing.T) {
	bbox := mot.NewRect(100, 100, 100, 120)
	near := mot.NewDetection(130, 110, 170, 150, "face", 0.9)
	far := mot.NewDetection(102, 102, 142, 142, "face", 0.9)
	weak := mot.NewDetection(131, 111, 171, 151, "face", 0.3)
	notFace := mot.NewDetection(130, 110, 170, 150, "head", 0.9)

	face, ok := selectFace(bbox, []mot.Detection{far, weak, notFace, near}, 100, 0.6)
	require.True(t, ok)
	assert.Equal(t, near, face)

	face, ok = selectFace(bbox, []mot.Detection{far}, 100, 0.6)
	require.True(t, ok)
	assert.Equal(t, far, face)

	_, ok = selectFace(bbox, []mot.Detection{far}, 20, 0.6)
	assert.False(t, ok, "face is too far from head center")

	_, ok = selectFace(bbox, []mot.Detection{weak, notFace}, 100, 0.6)
	assert.False(t, ok)

	_, ok = selectFace(bbox, nil, 100, 0.6)
	assert.False(t, ok)
}

func TestSelectFaceAtMaxDistance(t *testing.T) {
	bbox := mot.NewRect(100, 100, 100, 120)
	// Centers (150, 130) and (150, 160) are exactly 30px apart
	edge := mot.NewDetection(140, 120, 160, 140, "face", 0.9)

	face, ok := selectFace(bbox, []mot.Detection{edge}, 30, 0.6)
	require.True(t, ok)
	assert.Equal(t, edge, face)

	_, ok = selectFace(bbox, []mot.Detection{edge}, 29.5, 0.6)
	assert.False(t, ok)
}

func TestPadRect(t *testing.T) {
	padded := padRect(mot.NewRect(100, 100, 40, 20), 0.25)
	assert.Equal(t, mot.NewRect(90, 95, 60, 30), padded)
}

func TestCropImage(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 100, 100))
	red := color.RGBA{R: 255, A: 255}
	for y := 20; y < 40; y++ {
		for x := 10; x < 30; x++ {
			src.Set(x, y, red)
		}
	}

	crop, err := cropImage(src, image.Rect(10, 20, 30, 40), 0)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 20, 20), crop.Bounds())
	assert.Equal(t, red, color.RGBAModel.Convert(crop.At(0, 0)))
	assert.Equal(t, red, color.RGBAModel.Convert(crop.At(19, 19)))

	// Crop should not share memory with frame
	src.Set(10, 20, color.RGBA{B: 255, A: 255})
	assert.Equal(t, red, color.RGBAModel.Convert(crop.At(0, 0)))

	scaled, err := cropImage(src, image.Rect(10, 20, 30, 40), 64)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 64, 64), scaled.Bounds())

	_, err = cropImage(src, image.Rectangle{}, 0)
	assert.ErrorIs(t, err, ErrEmptyCrop)
}
