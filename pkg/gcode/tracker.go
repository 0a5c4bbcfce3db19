// G-code interpreter state tracking
//
// Follows the coordinate and extrusion state of a G-code stream and
// reports each physical move as a position transition the wipe engine
// can consume.
//
// Copyright (C) 2026  Octolapse Go Port
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package gcode

import (
	"github.com/zipper177/Octolapse/pkg/geometry"
	"github.com/zipper177/Octolapse/pkg/wiper"
)

// Transition is one observed physical move: the position before, the
// position after, and how the extruder axis changed on the way.
type Transition struct {
	Current  wiper.Position
	Previous wiper.Position

	// ExtrusionDelta is the material fed (positive) or withdrawn
	// (negative) by this move.
	ExtrusionDelta float64

	// IsRetraction reports a retract-only move: negative extrusion with
	// no XY motion.
	IsRetraction bool

	// FirmwareRetract reports that the retraction came from a G10
	// command rather than an explicit E move.
	FirmwareRetract bool
}

// Tracker follows the interpreter state of a G-code stream: coordinate
// modes, G92 offsets, the cumulative extrusion coordinate and the layer
// the head is printing on. Axes start at the origin in absolute mode,
// matching a freshly homed machine; well formed files re-home and set
// their modes explicitly before printing.
type Tracker struct {
	x, y, z float64 // absolute machine coordinates
	e       float64 // cumulative extrusion coordinate

	offsetX, offsetY, offsetZ, offsetE float64

	xyRelative bool
	eRelative  bool
	feedrate   float64

	lastExtrusionZ float64
	hasExtruded    bool

	// g90InfluencesExtruder makes G90/G91 switch the extruder axis mode
	// together with XYZ, as Marlin does. RepRap style firmwares leave
	// the extruder mode to M82/M83 alone.
	g90InfluencesExtruder bool
}

// NewTracker returns a tracker positioned at the origin with absolute
// coordinate modes.
func NewTracker() *Tracker {
	return &Tracker{}
}

// SetG90InfluencesExtruder selects whether G90/G91 also switch the
// extruder axis mode.
func (t *Tracker) SetG90InfluencesExtruder(enabled bool) {
	t.g90InfluencesExtruder = enabled
}

// Position returns the current tracked position.
func (t *Tracker) Position() wiper.Position {
	return wiper.Position{
		X:                  t.x,
		Y:                  t.y,
		OffsetX:            t.x - t.offsetX,
		OffsetY:            t.y - t.offsetY,
		OffsetE:            t.e - t.offsetE,
		IsRelative:         t.xyRelative,
		IsExtruderRelative: t.eRelative,
	}
}

// Feedrate returns the most recently commanded feedrate.
func (t *Tracker) Feedrate() float64 {
	return t.feedrate
}

// Z returns the current Z coordinate.
func (t *Tracker) Z() float64 {
	return t.z
}

// Process applies one parsed command to the tracked state. It returns a
// transition and true for commands that physically move the head or the
// filament; mode switches, offset changes and unknown commands update
// state silently and return false.
func (t *Tracker) Process(cmd Command) (Transition, bool) {
	switch cmd.Name {
	case "G0", "G1":
		return t.processMove(cmd), true

	case "G28":
		return t.processHome(cmd), true

	case "G90":
		t.xyRelative = false
		if t.g90InfluencesExtruder {
			t.eRelative = false
		}
	case "G91":
		t.xyRelative = true
		if t.g90InfluencesExtruder {
			t.eRelative = true
		}
	case "M82":
		t.eRelative = false
	case "M83":
		t.eRelative = true

	case "G92":
		t.processSetPosition(cmd)
	case "G92.1":
		t.offsetX, t.offsetY, t.offsetZ, t.offsetE = 0, 0, 0, 0

	case "G10":
		// Firmware retract. The tool offset variant carries P or L
		// parameters and does not move anything.
		if !cmd.HasParam('P') && !cmd.HasParam('L') {
			pos := t.Position()
			return Transition{
				Current:         pos,
				Previous:        pos,
				IsRetraction:    true,
				FirmwareRetract: true,
			}, true
		}
	case "G11":
		// Firmware unretract: filament moves, the head does not.
		pos := t.Position()
		return Transition{Current: pos, Previous: pos}, true
	}

	return Transition{}, false
}

// processMove applies a G0/G1 command.
func (t *Tracker) processMove(cmd Command) Transition {
	previous := t.Position()
	oldX, oldY, oldE := t.x, t.y, t.e

	if v, ok := cmd.Param('X'); ok {
		if t.xyRelative {
			t.x += v
		} else {
			t.x = v + t.offsetX
		}
	}
	if v, ok := cmd.Param('Y'); ok {
		if t.xyRelative {
			t.y += v
		} else {
			t.y = v + t.offsetY
		}
	}
	if v, ok := cmd.Param('Z'); ok {
		if t.xyRelative {
			t.z += v
		} else {
			t.z = v + t.offsetZ
		}
	}
	if v, ok := cmd.Param('E'); ok {
		if t.eRelative {
			t.e += v
		} else {
			t.e = v + t.offsetE
		}
	}
	if v, ok := cmd.Param('F'); ok {
		t.feedrate = v
	}

	dx := t.x - oldX
	dy := t.y - oldY
	de := t.e - oldE

	xyChanged := !geometry.IsZero(dx) || !geometry.IsZero(dy)
	extruding := geometry.GreaterThan(de, 0)

	// The first extruding move at a higher Z than any extrusion so far
	// begins a new layer.
	layerChange := false
	if extruding {
		if !t.hasExtruded || geometry.GreaterThan(t.z, t.lastExtrusionZ) {
			layerChange = true
		}
		t.lastExtrusionZ = t.z
		t.hasExtruded = true
	}

	current := t.Position()
	current.IsExtruding = extruding
	current.HasXYPositionChanged = xyChanged
	current.IsLayerChange = layerChange

	return Transition{
		Current:        current,
		Previous:       previous,
		ExtrusionDelta: de,
		IsRetraction:   geometry.LessThan(de, 0) && !xyChanged,
	}
}

// processHome applies a G28 command, zeroing the named axes or all of
// them when none are given.
func (t *Tracker) processHome(cmd Command) Transition {
	previous := t.Position()

	homeX := cmd.HasParam('X')
	homeY := cmd.HasParam('Y')
	homeZ := cmd.HasParam('Z')
	if !homeX && !homeY && !homeZ {
		homeX, homeY, homeZ = true, true, true
	}

	if homeX {
		t.x = 0
	}
	if homeY {
		t.y = 0
	}
	if homeZ {
		t.z = 0
	}

	current := t.Position()
	current.HasXYPositionChanged = !geometry.IsZero(t.x-previous.X) || !geometry.IsZero(t.y-previous.Y)
	return Transition{Current: current, Previous: previous}
}

// processSetPosition applies a G92 command. Each named axis gets an
// offset so the current machine position reads as the given value; a
// bare G92 zeroes the readings of all axes.
func (t *Tracker) processSetPosition(cmd Command) {
	x, hasX := cmd.Param('X')
	y, hasY := cmd.Param('Y')
	z, hasZ := cmd.Param('Z')
	e, hasE := cmd.Param('E')

	if !hasX && !hasY && !hasZ && !hasE {
		t.offsetX = t.x
		t.offsetY = t.y
		t.offsetZ = t.z
		t.offsetE = t.e
		return
	}

	if hasX {
		t.offsetX = t.x - x
	}
	if hasY {
		t.offsetY = t.y - y
	}
	if hasZ {
		t.offsetZ = t.z - z
	}
	if hasE {
		t.offsetE = t.e - e
	}
}
