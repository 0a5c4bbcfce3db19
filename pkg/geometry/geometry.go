// Package geometry provides the floating point comparison and distance
// primitives used by the wipe engine. All comparisons are tolerance based
// so that accumulated rounding error never flips a pruning or clipping
// decision.
package geometry

import "math"

// Tolerance is the absolute error allowed before two coordinates are
// considered different. Machine units are millimeters; slicers emit at
// most five decimal places, so 1e-6 is below any representable move.
const Tolerance = 1e-6

// IsEqual reports whether a and b are equal within Tolerance.
func IsEqual(a, b float64) bool {
	return math.Abs(a-b) < Tolerance
}

// IsZero reports whether v is zero within Tolerance.
func IsZero(v float64) bool {
	return math.Abs(v) < Tolerance
}

// GreaterThan reports whether a is greater than b by more than Tolerance.
func GreaterThan(a, b float64) bool {
	return a-b > Tolerance
}

// GreaterThanOrEqual reports whether a is greater than or within Tolerance
// of b.
func GreaterThanOrEqual(a, b float64) bool {
	return a > b || IsEqual(a, b)
}

// LessThan reports whether a is less than b by more than Tolerance.
func LessThan(a, b float64) bool {
	return b-a > Tolerance
}

// LessThanOrEqual reports whether a is less than or within Tolerance of b.
func LessThanOrEqual(a, b float64) bool {
	return a < b || IsEqual(a, b)
}

// CartesianDistance returns the XY plane distance between two points.
func CartesianDistance(x1, y1, x2, y2 float64) float64 {
	dx := x2 - x1
	dy := y2 - y1
	return math.Sqrt(dx*dx + dy*dy)
}
