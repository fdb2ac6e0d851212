package mot

type turn int

const (
	turnCollinear turn = iota
	turnClockwise
	turnCounterClockwise
)

// orientation of ordered triplet (p, q, r)
func orientation(p, q, r Point) turn {
	val := (q.Y-p.Y)*(r.X-q.X) - (q.X-p.X)*(r.Y-q.Y)
	switch {
	case val > 0:
		return turnClockwise
	case val < 0:
		return turnCounterClockwise
	default:
		return turnCollinear
	}
}

// onSegment checks whether q lies on segment pr, given p, q, r are collinear
func onSegment(p, q, r Point) bool {
	return q.X <= maxFloat64(p.X, r.X) && q.X >= minFloat64(p.X, r.X) &&
		q.Y <= maxFloat64(p.Y, r.Y) && q.Y >= minFloat64(p.Y, r.Y)
}

// SegmentsIntersect reports whether segment p1-q1 intersects segment p2-q2.
// Touching endpoints and collinear overlaps count as intersection.
func SegmentsIntersect(p1, q1, p2, q2 Point) bool {
	o1 := orientation(p1, q1, p2)
	o2 := orientation(p1, q1, q2)
	o3 := orientation(p2, q2, p1)
	o4 := orientation(p2, q2, q1)

	if o1 != turnCollinear && o2 != turnCollinear && o3 != turnCollinear && o4 != turnCollinear &&
		o1 != o2 && o3 != o4 {
		return true
	}
	if o1 == turnCollinear && onSegment(p1, p2, q1) {
		return true
	}
	if o2 == turnCollinear && onSegment(p1, q2, q1) {
		return true
	}
	if o3 == turnCollinear && onSegment(p2, p1, q2) {
		return true
	}
	if o4 == turnCollinear && onSegment(p2, q1, q2) {
		return true
	}
	return false
}

// SideOfLine reports whether point a lies on the positive side of the directed line p1->p2,
// i.e. the 2D cross product of (p2-p1) and (a-p1) is positive
func SideOfLine(p1, p2, a Point) bool {
	return (p2.X-p1.X)*(a.Y-p1.Y)-(p2.Y-p1.Y)*(a.X-p1.X) > 0
}
