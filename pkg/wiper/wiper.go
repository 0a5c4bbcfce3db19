// Package wiper computes nozzle wipe motion for G-code preprocessing.
//
// Given a live stream of extruder head positions, the engine decides when a
// short back-and-forth wipe move can be inserted around a filament
// retraction, how long that wipe path may be, and what motion and extrusion
// deltas each wipe segment requires. Wipe moves reuse already traveled
// geometry rather than detour off the print, and consume exactly the
// configured retraction amount split across a pre-wipe retract, the wipe
// travel itself, and a post-wipe retract.
//
// The engine is single threaded and call-and-return: Update must be called
// once per observed motion command, Undo immediately after a rejected
// Update, and WipeSteps reads without mutating. Each instance must be
// owned by exactly one processing stream.
//
// Copyright (C) 2026  Octolapse Go Port
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package wiper

import (
	"github.com/zipper177/Octolapse/pkg/errors"
	"github.com/zipper177/Octolapse/pkg/geometry"
)

// Wiper is the wipe motion engine. Create one with New, configure it with
// Initialize, then feed it position transitions through Update.
type Wiper struct {
	settings Settings
	hist     history

	// Derived geometry, computed once per Initialize.
	preWipeRetractLength      float64
	postWipeRetractLength     float64
	wipeDistance              float64
	halfWipeDistance          float64
	distanceToRetractionRatio float64

	useFullWipe bool
	initialized bool
}

// New returns an unconfigured engine. Full wipe mode is the default.
// Update and WipeSteps are no-ops until Initialize succeeds.
func New() *Wiper {
	return &Wiper{useFullWipe: true}
}

// Initialize establishes the derived wipe geometry from the given settings.
// It may be called again to reconfigure; doing so resets the derived state
// but not the position history. The retract percentages are clamped and
// rescaled per Settings.normalized.
//
// Initialize fails when the derived wipe distance is not positive, for
// example when the pre and post percentages consume the entire retraction
// or the retraction length is zero. The engine is left disabled in that
// case and callers should skip wipe generation entirely.
func (w *Wiper) Initialize(settings Settings) error {
	s := settings.normalized()

	pre := s.RetractionLength * s.RetractBeforeWipePercent
	post := s.RetractionLength * s.RetractAfterWipePercent
	wipeRetractionLength := s.RetractionLength - pre - post

	// The wipe travel is scaled by the wipe to retraction speed ratio so
	// the retraction completes exactly when the wipe travel does.
	var wipeDistance float64
	if !geometry.IsZero(s.RetractionFeedrate) {
		wipeDistance = wipeRetractionLength * (s.WipeFeedrate / s.RetractionFeedrate)
	}

	if !geometry.GreaterThan(wipeDistance, 0) {
		w.initialized = false
		return errors.WipeSettingsError("retraction_length",
			"the derived wipe distance is zero, wiping is disabled")
	}

	w.settings = s
	w.preWipeRetractLength = pre
	w.postWipeRetractLength = post
	w.wipeDistance = wipeDistance
	w.halfWipeDistance = wipeDistance * 0.5
	w.distanceToRetractionRatio = wipeRetractionLength / wipeDistance
	w.initialized = true
	return nil
}

// Initialized reports whether the engine has been successfully configured.
func (w *Wiper) Initialized() bool {
	return w.initialized
}

// SetUseFullWipe selects between a full round-trip wipe with a
// non-retracting return leg (true, the default) and a half wipe that
// continues retracting on the return leg (false). Switch modes before
// feeding positions; the mode also determines the pruning target.
func (w *Wiper) SetUseFullWipe(useFullWipe bool) {
	w.useFullWipe = useFullWipe
}

// UseFullWipe reports the active wipe mode.
func (w *Wiper) UseFullWipe() bool {
	return w.useFullWipe
}

// TotalDistance returns the accumulated path length currently represented
// by the history, measured from the anchor.
func (w *Wiper) TotalDistance() float64 {
	return w.hist.total
}

// HistorySize returns the number of positions currently kept.
func (w *Wiper) HistorySize() int {
	return w.hist.size()
}

// Settings returns the normalized settings in effect.
func (w *Wiper) Settings() Settings {
	return w.settings
}

// Update feeds one observed transition into the history. A snapshot for
// Undo is taken first. Layer changes and moves that are not extruding XY
// moves clear the history: no wipe opportunity crosses a layer boundary
// or a non-printing move. Otherwise the current position is appended,
// the accumulated distance grows by the XY distance traveled, and the
// history is pruned back down toward the active wipe distance.
//
// Update is a no-op before a successful Initialize.
func (w *Wiper) Update(current, previous Position) {
	if !w.initialized {
		return
	}

	w.hist.saveSnapshot()

	if current.IsLayerChange || !(current.HasXYPositionChanged && current.IsExtruding) {
		w.hist.clear()
		return
	}

	if w.hist.size() == 0 {
		// The previous position anchors the earliest kept geometry.
		w.hist.anchor = previous
		w.hist.hasAnchor = true
	}

	w.hist.append(current)
	w.hist.total += previous.DistanceTo(current)
	w.hist.prune(w.targetWipeDistance())
}

// Undo reverts the structural and accounting effects of the most recent
// Update. Only a single level is kept: a second Update without an
// intervening Undo discards the previous snapshot irrevocably, and an
// Undo without a pending snapshot is a no-op.
func (w *Wiper) Undo() {
	w.hist.restoreSnapshot()
}

// targetWipeDistance returns the path length the active mode needs.
func (w *Wiper) targetWipeDistance() float64 {
	if w.useFullWipe {
		return w.wipeDistance
	}
	return w.halfWipeDistance
}

// missingRetraction returns how much additional retraction is owed because
// the available wipe travel is shorter than ideal. Negative when more than
// enough history exists.
func (w *Wiper) missingRetraction() float64 {
	if w.useFullWipe {
		return (w.wipeDistance - w.hist.total) * w.distanceToRetractionRatio
	}
	// A half wipe covers each segment twice, so the shortfall counts double.
	return (w.halfWipeDistance - w.hist.total) * 2 * w.distanceToRetractionRatio
}

// extraRetraction returns how much more path the history holds than the
// active wipe needs. Positive values drive clipping of the oldest segment.
func (w *Wiper) extraRetraction() float64 {
	return w.hist.total - w.targetWipeDistance()
}

// clipPath shortens the segment between from and to by distanceToClip,
// moving the "to" endpoint toward "from". A fresh adjusted copy is
// returned; the inputs are never mutated. The offset coordinates are
// interpolated the same way so they stay consistent with the raw ones.
func clipPath(distanceToClip float64, from, to Position) Position {
	distance := geometry.CartesianDistance(from.X, from.Y, to.X, to.Y)
	keptRatio := (distance - distanceToClip) / distance

	clipped := to
	clipped.X = from.X + (to.X-from.X)*keptRatio
	clipped.Y = from.Y + (to.Y-from.Y)*keptRatio
	clipped.OffsetX = from.OffsetX + (to.OffsetX-from.OffsetX)*keptRatio
	clipped.OffsetY = from.OffsetY + (to.OffsetY-from.OffsetY)*keptRatio
	return clipped
}

// WipeSteps produces the ordered motion and extrusion plan for the current
// accumulated wipe opportunity. It walks the history from the newest entry
// back to the anchor and forward again, emitting one step per traversed
// segment:
//
//	[pre-retract]? outbound... turn-around pair return... [post-retract]?
//
// The read is idempotent: the history is not mutated, and calling
// WipeSteps twice without an intervening Update yields identical output.
// An empty slice is returned when the engine is uninitialized, the
// history is empty, or no distance has accumulated.
func (w *Wiper) WipeSteps() []Step {
	if !w.initialized || w.hist.total == 0 || !w.hist.hasAnchor || w.hist.size() == 0 {
		return nil
	}

	positions := w.hist.items
	anchor := w.hist.anchor
	feedrate := -1.0

	// Any missing retraction is folded into the post-wipe retract.
	postWipeRetractLength := w.postWipeRetractLength
	if missing := w.missingRetraction(); geometry.GreaterThanOrEqual(missing, 0) {
		postWipeRetractLength += missing
	}

	// When more history exists than the wipe needs, pull the anchor in
	// along the oldest segment so exactly the needed distance is covered.
	if extra := w.extraRetraction(); geometry.GreaterThan(extra, 0) {
		anchor = clipPath(extra, positions[0], anchor)
	}

	var steps []Step
	currentOffsetE := 0.0

	hasPreRetract := geometry.GreaterThan(w.preWipeRetractLength, 0)
	if hasPreRetract {
		// The newest history entry carries the extruder axis mode and
		// offset the retract must be expressed in.
		last := positions[len(positions)-1]
		feedrate = w.settings.RetractionFeedrate
		var e float64
		if last.IsExtruderRelative {
			e = -w.preWipeRetractLength
		} else {
			e = last.OffsetE - w.preWipeRetractLength
		}
		steps = append(steps, newRetractStep(e, feedrate))
	}

	// The wipe feedrate applies to the first emitted wipe segment only;
	// later segments inherit it by carrying no override.
	feedrate = w.settings.WipeFeedrate

	var previous Position
	havePrevious := false
	var current Position

	// Outbound: newest entry back toward the oldest.
	for i := len(positions) - 1; i >= 0; i-- {
		current = positions[i]
		if !havePrevious {
			previous = current
			havePrevious = true
			// Seed the running offset from the newest position,
			// already reduced by any pre-wipe retract.
			currentOffsetE = previous.OffsetE
			if hasPreRetract {
				currentOffsetE -= w.preWipeRetractLength
			}
			continue
		}
		retractionRelative := previous.DistanceTo(current) * w.distanceToRetractionRatio
		steps = append(steps, w.wipeStep(previous, current, retractionRelative, &currentOffsetE, feedrate, false))
		previous = current
		feedrate = -1
	}

	// Turn around at the (possibly clipped) anchor: one step out to it,
	// one step back. The return step uses the travel feedrate for a full
	// wipe; a half wipe keeps retracting. The feedrate value is not
	// reset afterwards, so the first return segment repeats it.
	retractionRelative := previous.DistanceTo(anchor) * w.distanceToRetractionRatio
	steps = append(steps, w.wipeStep(previous, anchor, retractionRelative, &currentOffsetE, feedrate, false))
	if w.useFullWipe {
		feedrate = w.settings.XYTravelSpeed
	} else {
		feedrate = -1
	}
	steps = append(steps, w.wipeStep(anchor, previous, retractionRelative, &currentOffsetE, feedrate, true))

	// Return: oldest entry forward to the newest, completing the trip.
	for i := 1; i < len(positions); i++ {
		current = positions[i]
		retractionRelative := previous.DistanceTo(current) * w.distanceToRetractionRatio
		steps = append(steps, w.wipeStep(previous, current, retractionRelative, &currentOffsetE, feedrate, true))
		previous = current
		feedrate = -1
	}

	// Whatever retraction is still owed happens in place at the end.
	if postWipeRetractLength > 0 {
		// Only override the feedrate when the retraction and wipe
		// feedrates differ.
		if !geometry.IsEqual(w.settings.RetractionFeedrate, w.settings.WipeFeedrate) {
			feedrate = w.settings.RetractionFeedrate
		}
		var e float64
		if current.IsExtruderRelative {
			e = -postWipeRetractLength
		} else {
			e = currentOffsetE - postWipeRetractLength
		}
		steps = append(steps, newRetractStep(e, feedrate))
	}

	return steps
}

// wipeStep builds one motion step between two consecutive path positions.
// X/Y are relative deltas of the raw coordinates in relative XY mode and
// the offset-adjusted coordinates of the destination otherwise. The
// extruder delta is skipped entirely on the return leg of a full wipe,
// producing a pure travel step; otherwise the retraction for the segment
// is expressed relative or folded into the running absolute offset, which
// is decremented in place.
func (w *Wiper) wipeStep(from, to Position, retractionRelative float64, currentOffsetE *float64, feedrate float64, isReturn bool) Step {
	var x, y float64
	if to.IsRelative {
		x = to.X - from.X
		y = to.Y - from.Y
	} else {
		x = to.OffsetX
		y = to.OffsetY
	}

	if w.useFullWipe && isReturn {
		return newTravelStep(x, y, feedrate)
	}

	var e float64
	if to.IsExtruderRelative {
		e = -retractionRelative
	} else {
		e = *currentOffsetE - retractionRelative
		*currentOffsetE = e
	}
	return newWipeStep(x, y, e, feedrate)
}
