package mot

import (
	"image"
	"math"
)

// Rectangle is an axis-aligned bounding box given by its top-left corner and size
type Rectangle struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

func NewRect(x, y, width, height float64) Rectangle {
	return Rectangle{
		X:      x,
		Y:      y,
		Width:  width,
		Height: height,
	}
}

// NewRectCorners creates rectangle from (x1, y1, x2, y2) corners. Corners may come in any order.
func NewRectCorners(x1, y1, x2, y2 float64) Rectangle {
	left, right := minFloat64(x1, x2), maxFloat64(x1, x2)
	top, bottom := minFloat64(y1, y2), maxFloat64(y1, y2)
	return Rectangle{
		X:      left,
		Y:      top,
		Width:  right - left,
		Height: bottom - top,
	}
}

// Corners returns (x1, y1, x2, y2)
func (r Rectangle) Corners() (float64, float64, float64, float64) {
	return r.X, r.Y, r.X + r.Width, r.Y + r.Height
}

// Center returns centroid of the rectangle
func (r Rectangle) Center() Point {
	return Point{
		X: r.X + r.Width/2.0,
		Y: r.Y + r.Height/2.0,
	}
}

func (r Rectangle) Area() float64 {
	return r.Width * r.Height
}

// Empty reports whether rectangle has no area
func (r Rectangle) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Contains reports whether other lies fully inside r (borders included)
func (r Rectangle) Contains(other Rectangle) bool {
	x1, y1, x2, y2 := r.Corners()
	ox1, oy1, ox2, oy2 := other.Corners()
	return ox1 >= x1 && oy1 >= y1 && ox2 <= x2 && oy2 <= y2
}

// ImageRect converts rectangle to integer image coordinates, clipped to bounds
func (r Rectangle) ImageRect(bounds image.Rectangle) image.Rectangle {
	x1, y1, x2, y2 := r.Corners()
	rect := image.Rect(
		int(math.Floor(x1)), int(math.Floor(y1)),
		int(math.Ceil(x2)), int(math.Ceil(y2)),
	)
	return rect.Intersect(bounds)
}

type Point struct {
	X float64
	Y float64
}

func NewPoint(x, y float64) Point {
	return Point{
		X: x,
		Y: y,
	}
}

// DistanceTo returns euclidean distance between two points
func (p Point) DistanceTo(other Point) float64 {
	return euclideanDistance(p, other)
}

func euclideanDistance(p1, p2 Point) float64 {
	return math.Sqrt(math.Pow(p1.X-p2.X, 2) + math.Pow(p1.Y-p2.Y, 2))
}

// AnchorPoint selects reference point of a bounding box used in line crossing geometry
type AnchorPoint uint8

const (
	AnchorCenter AnchorPoint = iota
	AnchorBottomCenter
	AnchorTopCenter
	AnchorBottomLeft
	AnchorBottomRight
)

var anchorNames = [...]string{"Center", "BottomCenter", "TopCenter", "BottomLeft", "BottomRight"}

func (a AnchorPoint) String() string {
	if int(a) < len(anchorNames) {
		return anchorNames[a]
	}
	return "Unknown"
}

// ParseAnchorPoint maps anchor name to AnchorPoint. Unknown names give false.
// Upper-case names with underscores ("BOTTOM_CENTER") are accepted too.
func ParseAnchorPoint(name string) (AnchorPoint, bool) {
	normalized := normalizeName(name)
	for i, anchorName := range anchorNames {
		if normalizeName(anchorName) == normalized {
			return AnchorPoint(i), true
		}
	}
	return AnchorCenter, false
}

// Project returns anchor position on the given rectangle
func (a AnchorPoint) Project(r Rectangle) Point {
	x1, y1, x2, y2 := r.Corners()
	switch a {
	case AnchorBottomCenter:
		return Point{X: (x1 + x2) / 2.0, Y: y2}
	case AnchorTopCenter:
		return Point{X: (x1 + x2) / 2.0, Y: y1}
	case AnchorBottomLeft:
		return Point{X: x1, Y: y2}
	case AnchorBottomRight:
		return Point{X: x2, Y: y2}
	default:
		return r.Center()
	}
}
