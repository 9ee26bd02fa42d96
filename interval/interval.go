package interval

type (
	// Point is an opaque interval endpoint, compared with an Ordering
	Point = interface{}

	// Ordering compares two points: negative, zero, positive
	Ordering func(a, b Point) int

	// Interval is a range over a point type with inclusive or exclusive
	// endpoints. Invariant: start <= end.
	Interval struct {
		Start         Point
		End           Point
		IncludesStart bool
		IncludesEnd   bool
	}
)

func New(start, end Point, includesStart, includesEnd bool) Interval {
	return Interval{Start: start, End: end, IncludesStart: includesStart, IncludesEnd: includesEnd}
}

// DefinitelyEmpty reports whether the interval provably contains no point:
// start == end and not both endpoints inclusive.
func (iv Interval) DefinitelyEmpty(ord Ordering) bool {
	return ord(iv.Start, iv.End) == 0 && !(iv.IncludesStart && iv.IncludesEnd)
}

// Contains reports whether p lies inside the interval
func (iv Interval) Contains(ord Ordering, p Point) bool {
	cs := ord(p, iv.Start)
	if cs < 0 || (cs == 0 && !iv.IncludesStart) {
		return false
	}
	ce := ord(p, iv.End)
	if ce > 0 || (ce == 0 && !iv.IncludesEnd) {
		return false
	}
	return true
}

// IsAbovePoint reports whether every point of the interval is > p
func (iv Interval) IsAbovePoint(ord Ordering, p Point) bool {
	c := ord(p, iv.Start)
	return c < 0 || (c == 0 && !iv.IncludesStart)
}

// IsBelowPoint reports whether every point of the interval is < p
func (iv Interval) IsBelowPoint(ord Ordering, p Point) bool {
	c := ord(p, iv.End)
	return c > 0 || (c == 0 && !iv.IncludesEnd)
}

// MayOverlap reports whether the two intervals have a non-empty
// intersection per the ordering and inclusivity.
func (iv Interval) MayOverlap(ord Ordering, other Interval) bool {
	return !iv.isBelow(ord, other) && !other.isBelow(ord, iv)
}

// isBelow reports whether iv lies entirely below other
func (iv Interval) isBelow(ord Ordering, other Interval) bool {
	c := ord(iv.End, other.Start)
	return c < 0 || (c == 0 && !(iv.IncludesEnd && other.IncludesStart))
}

// endBefore reports whether a's end bound is strictly below b's end bound
func endBefore(ord Ordering, a, b Interval) bool {
	c := ord(a.End, b.End)
	if c != 0 {
		return c < 0
	}
	return !a.IncludesEnd && b.IncludesEnd
}

// maxEndOf picks the later-ending of two intervals
func maxEndOf(ord Ordering, a, b Interval) Interval {
	if endBefore(ord, a, b) {
		return b
	}
	return a
}
