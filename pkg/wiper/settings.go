// Wipe configuration and normalization
//
// Copyright (C) 2026  Octolapse Go Port
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package wiper

import (
	"github.com/zipper177/Octolapse/pkg/geometry"
)

// Settings holds the user supplied wipe configuration. All lengths are in
// machine units and all feedrates in machine units per minute. Settings are
// treated as immutable once the engine has been initialized with them.
type Settings struct {
	// RetractionLength is the total amount of filament to retract around
	// the wipe, split across the pre-wipe retract, the wipe travel itself
	// and the post-wipe retract.
	RetractionLength float64

	// RetractBeforeWipePercent is the fraction of RetractionLength to
	// retract before wiping begins. Clamped to [0,1] during
	// initialization; if the sum with RetractAfterWipePercent exceeds 1
	// both are rescaled proportionally.
	RetractBeforeWipePercent float64

	// RetractAfterWipePercent is the fraction of RetractionLength to
	// retract after wiping completes.
	RetractAfterWipePercent float64

	// RetractionFeedrate is the feedrate used for the pre and post wipe
	// retract moves.
	RetractionFeedrate float64

	// WipeFeedrate is the feedrate used while wiping along the path.
	WipeFeedrate float64

	// XYTravelSpeed is the feedrate used for the non-retracting return
	// leg of a full wipe.
	XYTravelSpeed float64
}

// normalized returns a copy of the settings with the retract percentages
// clamped to be non-negative and, if their sum exceeds 1, rescaled
// proportionally so the sum equals 1. The pre/post ratio is preserved.
func (s Settings) normalized() Settings {
	if geometry.LessThan(s.RetractBeforeWipePercent, 0) {
		s.RetractBeforeWipePercent = 0
	}
	if geometry.LessThan(s.RetractAfterWipePercent, 0) {
		s.RetractAfterWipePercent = 0
	}
	total := s.RetractBeforeWipePercent + s.RetractAfterWipePercent
	if geometry.GreaterThan(total, 1) && !geometry.IsZero(total) {
		ratio := 1 / total
		s.RetractBeforeWipePercent *= ratio
		s.RetractAfterWipePercent *= ratio
	}
	return s
}
