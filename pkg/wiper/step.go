// Wipe step output values
//
// Copyright (C) 2026  Octolapse Go Port
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package wiper

import "fmt"

// StepType identifies what kind of motion a wipe step requests.
type StepType int

const (
	// StepWipe moves the head along the wipe path while retracting.
	StepWipe StepType = iota

	// StepTravel moves the head without touching the extruder axis.
	// Produced for the return leg of a full wipe.
	StepTravel

	// StepRetract retracts filament without moving the head.
	StepRetract
)

// String returns the step type name.
func (t StepType) String() string {
	switch t {
	case StepWipe:
		return "wipe"
	case StepTravel:
		return "travel"
	case StepRetract:
		return "retract"
	default:
		return "unknown"
	}
}

// Step is one emitted wipe action. X/Y carry relative deltas when the
// source positions use relative XY mode and offset-adjusted absolute
// coordinates otherwise; E follows the extruder axis mode the same way.
// A negative Feedrate means "no feedrate override" and the consumer
// should let the previous feedrate stand.
type Step struct {
	Type     StepType
	X        float64 // valid for StepWipe and StepTravel
	Y        float64 // valid for StepWipe and StepTravel
	E        float64 // valid for StepWipe and StepRetract
	Feedrate float64
}

// HasFeedrate reports whether the step carries a feedrate override.
func (s Step) HasFeedrate() bool {
	return s.Feedrate >= 0
}

// String returns a compact description for logging.
func (s Step) String() string {
	switch s.Type {
	case StepTravel:
		return fmt.Sprintf("travel(x=%.4f y=%.4f f=%.0f)", s.X, s.Y, s.Feedrate)
	case StepRetract:
		return fmt.Sprintf("retract(e=%.5f f=%.0f)", s.E, s.Feedrate)
	default:
		return fmt.Sprintf("wipe(x=%.4f y=%.4f e=%.5f f=%.0f)", s.X, s.Y, s.E, s.Feedrate)
	}
}

// newWipeStep builds a motion step that retracts while moving.
func newWipeStep(x, y, e, feedrate float64) Step {
	return Step{Type: StepWipe, X: x, Y: y, E: e, Feedrate: feedrate}
}

// newTravelStep builds a motion step with no extrusion change.
func newTravelStep(x, y, feedrate float64) Step {
	return Step{Type: StepTravel, X: x, Y: y, Feedrate: feedrate}
}

// newRetractStep builds a retract-only step.
func newRetractStep(e, feedrate float64) Step {
	return Step{Type: StepRetract, E: e, Feedrate: feedrate}
}
