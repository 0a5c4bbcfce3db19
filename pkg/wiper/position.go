// Observed extruder head positions
//
// Copyright (C) 2026  Octolapse Go Port
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package wiper

import (
	"github.com/zipper177/Octolapse/pkg/geometry"
)

// Position describes one observed location of the extruder head together
// with the interpreter state that produced it. Positions are pure data:
// the engine never modifies one after it is recorded, and adjusted copies
// (such as clipped anchors) are always fresh values.
type Position struct {
	// X and Y are the absolute machine coordinates in machine units.
	X float64
	Y float64

	// OffsetX and OffsetY are the coordinates adjusted for any active
	// coordinate system offset (G92 style). These are the values that
	// must be emitted when the X/Y axes are in absolute mode.
	OffsetX float64
	OffsetY float64

	// OffsetE is the cumulative extrusion coordinate, offset adjusted.
	OffsetE float64

	// IsRelative reports whether the X/Y axes are interpreted as
	// relative deltas.
	IsRelative bool

	// IsExtruderRelative reports whether the E axis is interpreted as
	// relative deltas.
	IsExtruderRelative bool

	// IsExtruding reports whether the move arriving at this position
	// deposits material.
	IsExtruding bool

	// HasXYPositionChanged reports whether the move arriving at this
	// position changed the X or Y coordinate.
	HasXYPositionChanged bool

	// IsLayerChange reports whether this position begins a new layer.
	IsLayerChange bool
}

// DistanceTo returns the cartesian XY distance to another position,
// measured on the raw machine coordinates.
func (p Position) DistanceTo(other Position) float64 {
	return geometry.CartesianDistance(p.X, p.Y, other.X, other.Y)
}
