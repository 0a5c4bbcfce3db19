// Wipe engine tests
//
// Copyright (C) 2026  Octolapse Go Port
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package wiper

import (
	"reflect"
	"testing"

	"github.com/zipper177/Octolapse/pkg/geometry"
)

// testSettings returns the reference configuration used throughout:
// pre=0.4, post=0.4, wipe retraction=1.2, wipe distance=2.4, ratio=0.5.
func testSettings() Settings {
	return Settings{
		RetractionLength:         2.0,
		RetractBeforeWipePercent: 0.2,
		RetractAfterWipePercent:  0.2,
		RetractionFeedrate:       1800,
		WipeFeedrate:             3600,
		XYTravelSpeed:            6000,
	}
}

// extrudingMove builds an absolute-XY, relative-E extruding move.
func extrudingMove(x, y float64) Position {
	return Position{
		X: x, Y: y,
		OffsetX: x, OffsetY: y,
		IsExtruderRelative:   true,
		IsExtruding:          true,
		HasXYPositionChanged: true,
	}
}

func newTestWiper(t *testing.T) *Wiper {
	t.Helper()
	w := New()
	if err := w.Initialize(testSettings()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	return w
}

// feedLine feeds consecutive 1.0 unit moves along X starting at the origin.
func feedLine(w *Wiper, count int) {
	previous := extrudingMove(0, 0)
	for i := 1; i <= count; i++ {
		current := extrudingMove(float64(i), 0)
		w.Update(current, previous)
		previous = current
	}
}

type expectedStep struct {
	typ StepType
	x   float64
	y   float64
	e   float64
	f   float64
}

func assertSteps(t *testing.T, steps []Step, expected []expectedStep) {
	t.Helper()
	if len(steps) != len(expected) {
		t.Fatalf("expected %d steps, got %d: %v", len(expected), len(steps), steps)
	}
	for i, want := range expected {
		got := steps[i]
		if got.Type != want.typ {
			t.Errorf("step %d: expected type %v, got %v", i, want.typ, got.Type)
			continue
		}
		if want.typ != StepRetract {
			if !geometry.IsEqual(got.X, want.x) || !geometry.IsEqual(got.Y, want.y) {
				t.Errorf("step %d: expected x=%v y=%v, got x=%v y=%v", i, want.x, want.y, got.X, got.Y)
			}
		}
		if want.typ != StepTravel {
			if !geometry.IsEqual(got.E, want.e) {
				t.Errorf("step %d: expected e=%v, got e=%v", i, want.e, got.E)
			}
		}
		if !geometry.IsEqual(got.Feedrate, want.f) {
			t.Errorf("step %d: expected feedrate %v, got %v", i, want.f, got.Feedrate)
		}
	}
}

// retractionTotal sums the retraction consumed by a relative-E step sequence.
func retractionTotal(steps []Step) float64 {
	total := 0.0
	for _, s := range steps {
		if s.Type == StepWipe || s.Type == StepRetract {
			total += -s.E
		}
	}
	return total
}

func TestUpdateAccumulatesDistance(t *testing.T) {
	w := newTestWiper(t)

	feedLine(w, 2)

	if !geometry.IsEqual(w.TotalDistance(), 2.0) {
		t.Errorf("expected total distance 2.0, got %v", w.TotalDistance())
	}
	if w.HistorySize() != 2 {
		t.Errorf("expected 2 history entries, got %d", w.HistorySize())
	}
}

func TestUpdateBeforeInitialize(t *testing.T) {
	w := New()

	w.Update(extrudingMove(1, 0), extrudingMove(0, 0))

	if w.TotalDistance() != 0 {
		t.Errorf("uninitialized update should be a no-op, got total %v", w.TotalDistance())
	}
	if steps := w.WipeSteps(); len(steps) != 0 {
		t.Errorf("uninitialized engine should produce no steps, got %d", len(steps))
	}
}

func TestUpdateClearsOnLayerChange(t *testing.T) {
	w := newTestWiper(t)
	feedLine(w, 2)

	current := extrudingMove(3, 0)
	current.IsLayerChange = true
	w.Update(current, extrudingMove(2, 0))

	if w.TotalDistance() != 0 {
		t.Errorf("layer change should reset total distance, got %v", w.TotalDistance())
	}
	if w.HistorySize() != 0 {
		t.Errorf("layer change should clear history, got %d entries", w.HistorySize())
	}
}

func TestUpdateClearsOnNonExtrudingMove(t *testing.T) {
	w := newTestWiper(t)
	feedLine(w, 2)

	current := extrudingMove(3, 0)
	current.IsExtruding = false
	w.Update(current, extrudingMove(2, 0))

	if w.TotalDistance() != 0 || w.HistorySize() != 0 {
		t.Errorf("non-extruding move should clear history, got total=%v size=%d",
			w.TotalDistance(), w.HistorySize())
	}
}

func TestUpdateClearsWithoutXYChange(t *testing.T) {
	w := newTestWiper(t)
	feedLine(w, 2)

	current := extrudingMove(2, 0)
	current.HasXYPositionChanged = false
	w.Update(current, extrudingMove(2, 0))

	if w.TotalDistance() != 0 || w.HistorySize() != 0 {
		t.Errorf("extrude-only move should clear history, got total=%v size=%d",
			w.TotalDistance(), w.HistorySize())
	}
}

func TestTotalDistanceNeverNegative(t *testing.T) {
	w := newTestWiper(t)

	moves := []Position{
		extrudingMove(1, 0),
		extrudingMove(1, 1),
		func() Position { p := extrudingMove(2, 1); p.IsLayerChange = true; return p }(),
		extrudingMove(2, 2),
		func() Position { p := extrudingMove(3, 2); p.IsExtruding = false; return p }(),
		extrudingMove(3, 3),
		extrudingMove(4, 3),
		extrudingMove(5, 3),
		extrudingMove(6, 3),
	}
	previous := extrudingMove(0, 0)
	for i, current := range moves {
		w.Update(current, previous)
		if w.TotalDistance() < 0 {
			t.Fatalf("total distance went negative after move %d: %v", i, w.TotalDistance())
		}
		previous = current
	}
}

func TestPruneKeepsEnoughPath(t *testing.T) {
	w := newTestWiper(t)

	// Three 1.0 unit moves: total 3.0 exceeds the 2.4 wipe distance, but
	// removing the oldest segment would leave 2.0, so nothing is pruned.
	feedLine(w, 3)

	if !geometry.IsEqual(w.TotalDistance(), 3.0) {
		t.Errorf("expected total distance 3.0, got %v", w.TotalDistance())
	}
	if w.HistorySize() != 3 {
		t.Errorf("expected 3 history entries, got %d", w.HistorySize())
	}

	// A fourth move makes removal possible: dropping the oldest segment
	// leaves 3.0, still at least the wipe distance.
	w.Update(extrudingMove(4, 0), extrudingMove(3, 0))

	if !geometry.IsEqual(w.TotalDistance(), 3.0) {
		t.Errorf("expected total distance 3.0 after pruning, got %v", w.TotalDistance())
	}
	if w.HistorySize() != 3 {
		t.Errorf("expected 3 history entries after pruning, got %d", w.HistorySize())
	}
	if !geometry.IsEqual(w.hist.anchor.X, 1.0) || !geometry.IsEqual(w.hist.anchor.Y, 0) {
		t.Errorf("expected anchor to advance to (1,0), got (%v,%v)",
			w.hist.anchor.X, w.hist.anchor.Y)
	}

	// The pruning lower bound holds whenever entries remain.
	if geometry.LessThan(w.TotalDistance(), w.targetWipeDistance()) {
		t.Errorf("total distance %v fell below wipe distance %v",
			w.TotalDistance(), w.targetWipeDistance())
	}
}

func TestPruneTargetFollowsWipeMode(t *testing.T) {
	w := newTestWiper(t)
	w.SetUseFullWipe(false)

	// Half wipe distance is 1.2, so three 1.0 unit moves prune down to 2.0.
	feedLine(w, 3)

	if !geometry.IsEqual(w.TotalDistance(), 2.0) {
		t.Errorf("expected total distance 2.0, got %v", w.TotalDistance())
	}
	if w.HistorySize() != 2 {
		t.Errorf("expected 2 history entries, got %d", w.HistorySize())
	}
}

func TestUndoRestoresExactly(t *testing.T) {
	w := newTestWiper(t)
	feedLine(w, 2)

	savedTotal := w.hist.total
	savedAnchor := w.hist.anchor
	savedItems := append([]Position(nil), w.hist.items...)

	w.Update(extrudingMove(3, 0), extrudingMove(2, 0))
	w.Undo()

	if w.hist.total != savedTotal {
		t.Errorf("undo did not restore total: expected %v, got %v", savedTotal, w.hist.total)
	}
	if w.hist.anchor != savedAnchor {
		t.Errorf("undo did not restore anchor: expected %+v, got %+v", savedAnchor, w.hist.anchor)
	}
	if !reflect.DeepEqual(w.hist.items, savedItems) {
		t.Errorf("undo did not restore history items: expected %d entries, got %d",
			len(savedItems), len(w.hist.items))
	}
}

func TestUndoAfterLayerChangeClear(t *testing.T) {
	w := newTestWiper(t)
	feedLine(w, 3)

	savedTotal := w.hist.total
	savedSize := w.HistorySize()

	current := extrudingMove(4, 0)
	current.IsLayerChange = true
	w.Update(current, extrudingMove(3, 0))

	if w.HistorySize() != 0 {
		t.Fatalf("expected cleared history, got %d entries", w.HistorySize())
	}

	w.Undo()

	if w.hist.total != savedTotal {
		t.Errorf("expected total %v restored, got %v", savedTotal, w.hist.total)
	}
	if w.HistorySize() != savedSize {
		t.Errorf("expected %d entries restored, got %d", savedSize, w.HistorySize())
	}
}

func TestUndoWithoutSnapshot(t *testing.T) {
	w := newTestWiper(t)

	// No Update has happened; Undo must be a harmless no-op.
	w.Undo()

	if w.TotalDistance() != 0 || w.HistorySize() != 0 {
		t.Errorf("undo without snapshot changed state: total=%v size=%d",
			w.TotalDistance(), w.HistorySize())
	}
}

func TestUndoSingleLevel(t *testing.T) {
	w := newTestWiper(t)
	feedLine(w, 2)

	// Two consecutive updates; only the second can be undone.
	w.Update(extrudingMove(3, 0), extrudingMove(2, 0))
	w.Undo()
	w.Undo()

	// State reflects the first two moves, not zero.
	if !geometry.IsEqual(w.TotalDistance(), 2.0) {
		t.Errorf("expected total 2.0 after double undo, got %v", w.TotalDistance())
	}
}

func TestWipeStepsEmptyWithoutHistory(t *testing.T) {
	w := newTestWiper(t)

	if steps := w.WipeSteps(); len(steps) != 0 {
		t.Errorf("expected no steps for empty history, got %d", len(steps))
	}

	feedLine(w, 2)
	current := extrudingMove(3, 0)
	current.IsLayerChange = true
	w.Update(current, extrudingMove(2, 0))

	if steps := w.WipeSteps(); len(steps) != 0 {
		t.Errorf("expected no steps after clear, got %d", len(steps))
	}
}

func TestWipeStepsFullWipe(t *testing.T) {
	w := newTestWiper(t)

	// Three 1.0 unit moves along X accumulate 3.0 of path against a 2.4
	// wipe distance. The anchor is clipped from (0,0) to (0.6,0) so the
	// outbound leg covers exactly 2.4, and the return leg is pure travel.
	feedLine(w, 3)

	steps := w.WipeSteps()
	assertSteps(t, steps, []expectedStep{
		{typ: StepRetract, e: -0.4, f: 1800},
		{typ: StepWipe, x: 2, y: 0, e: -0.5, f: 3600},
		{typ: StepWipe, x: 1, y: 0, e: -0.5, f: -1},
		{typ: StepWipe, x: 0.6, y: 0, e: -0.2, f: -1},
		{typ: StepTravel, x: 1, y: 0, f: 6000},
		{typ: StepTravel, x: 2, y: 0, f: 6000},
		{typ: StepTravel, x: 3, y: 0, f: -1},
		{typ: StepRetract, e: -0.4, f: 1800},
	})

	// The plan consumes exactly the configured retraction length.
	if total := retractionTotal(steps); !geometry.IsEqual(total, 2.0) {
		t.Errorf("expected 2.0 total retraction, got %v", total)
	}
}

func TestWipeStepsHalfWipe(t *testing.T) {
	w := newTestWiper(t)
	w.SetUseFullWipe(false)

	// Two 1.0 unit moves against a 1.2 half wipe distance. The anchor is
	// clipped to (0.8,0) and the return leg keeps retracting.
	feedLine(w, 2)

	steps := w.WipeSteps()
	assertSteps(t, steps, []expectedStep{
		{typ: StepRetract, e: -0.4, f: 1800},
		{typ: StepWipe, x: 1, y: 0, e: -0.5, f: 3600},
		{typ: StepWipe, x: 0.8, y: 0, e: -0.1, f: -1},
		{typ: StepWipe, x: 1, y: 0, e: -0.1, f: -1},
		{typ: StepWipe, x: 2, y: 0, e: -0.5, f: -1},
		{typ: StepRetract, e: -0.4, f: 1800},
	})

	if total := retractionTotal(steps); !geometry.IsEqual(total, 2.0) {
		t.Errorf("expected 2.0 total retraction, got %v", total)
	}
}

func TestWipeStepsShortHistory(t *testing.T) {
	w := newTestWiper(t)

	// A single 1.0 unit move leaves the wipe 1.4 units short; the unmet
	// retraction is folded into the post-wipe retract: 0.4 + 1.4*0.5 = 1.1.
	feedLine(w, 1)

	steps := w.WipeSteps()
	assertSteps(t, steps, []expectedStep{
		{typ: StepRetract, e: -0.4, f: 1800},
		{typ: StepWipe, x: 0, y: 0, e: -0.5, f: 3600},
		{typ: StepTravel, x: 1, y: 0, f: 6000},
		{typ: StepRetract, e: -1.1, f: 1800},
	})

	if total := retractionTotal(steps); !geometry.IsEqual(total, 2.0) {
		t.Errorf("expected 2.0 total retraction, got %v", total)
	}
}

func TestWipeStepsAbsoluteExtruder(t *testing.T) {
	w := newTestWiper(t)

	// Absolute E mode: deltas accumulate into a running offset seeded from
	// the newest position. The final retract lands exactly at the newest
	// offset minus the full retraction length.
	previous := extrudingMove(0, 0)
	previous.IsExtruderRelative = false
	for i := 1; i <= 3; i++ {
		current := extrudingMove(float64(i), 0)
		current.IsExtruderRelative = false
		current.OffsetE = 10.0 + float64(i)
		w.Update(current, previous)
		previous = current
	}

	steps := w.WipeSteps()
	assertSteps(t, steps, []expectedStep{
		{typ: StepRetract, e: 12.6, f: 1800}, // 13.0 - 0.4
		{typ: StepWipe, x: 2, y: 0, e: 12.1, f: 3600},
		{typ: StepWipe, x: 1, y: 0, e: 11.6, f: -1},
		{typ: StepWipe, x: 0.6, y: 0, e: 11.4, f: -1},
		{typ: StepTravel, x: 1, y: 0, f: 6000},
		{typ: StepTravel, x: 2, y: 0, f: 6000},
		{typ: StepTravel, x: 3, y: 0, f: -1},
		{typ: StepRetract, e: 11.0, f: 1800}, // 13.0 - 2.0
	})
}

func TestWipeStepsRelativeXYRoundTrip(t *testing.T) {
	w := newTestWiper(t)

	// Relative XY mode: every motion step carries a delta and the whole
	// wipe sequence is position neutral.
	previous := extrudingMove(0, 0)
	previous.IsRelative = true
	for i := 1; i <= 3; i++ {
		current := extrudingMove(float64(i), 0)
		current.IsRelative = true
		w.Update(current, previous)
		previous = current
	}

	steps := w.WipeSteps()
	sumX, sumY := 0.0, 0.0
	for _, s := range steps {
		if s.Type == StepWipe || s.Type == StepTravel {
			sumX += s.X
			sumY += s.Y
		}
	}
	if !geometry.IsZero(sumX) || !geometry.IsZero(sumY) {
		t.Errorf("wipe sequence should return to its origin, drifted by (%v,%v)", sumX, sumY)
	}
}

func TestWipeStepsOrdering(t *testing.T) {
	t.Run("no pre-retract when percent is zero", func(t *testing.T) {
		s := testSettings()
		s.RetractBeforeWipePercent = 0
		w := New()
		if err := w.Initialize(s); err != nil {
			t.Fatalf("Initialize failed: %v", err)
		}
		feedLine(w, 3)

		steps := w.WipeSteps()
		if len(steps) == 0 {
			t.Fatal("expected steps")
		}
		if steps[0].Type == StepRetract {
			t.Errorf("expected no leading retract, got %v", steps[0])
		}
		if last := steps[len(steps)-1]; last.Type != StepRetract {
			t.Errorf("expected trailing retract, got %v", last)
		}
	})

	t.Run("no post-retract when nothing is owed", func(t *testing.T) {
		s := testSettings()
		s.RetractAfterWipePercent = 0
		w := New()
		if err := w.Initialize(s); err != nil {
			t.Fatalf("Initialize failed: %v", err)
		}
		// pre=0.4, wipe retraction=1.6, wipe distance=3.2; four moves
		// accumulate 4.0, so nothing is missing and post stays zero.
		feedLine(w, 4)

		steps := w.WipeSteps()
		if len(steps) == 0 {
			t.Fatal("expected steps")
		}
		if steps[0].Type != StepRetract {
			t.Errorf("expected leading retract, got %v", steps[0])
		}
		if last := steps[len(steps)-1]; last.Type == StepRetract {
			t.Errorf("expected no trailing retract, got %v", last)
		}
	})
}

func TestWipeStepsIdempotent(t *testing.T) {
	w := newTestWiper(t)
	feedLine(w, 3)

	first := w.WipeSteps()
	second := w.WipeSteps()

	if !reflect.DeepEqual(first, second) {
		t.Errorf("repeated reads differ:\nfirst:  %v\nsecond: %v", first, second)
	}

	// The read must not disturb the accounting either.
	if !geometry.IsEqual(w.TotalDistance(), 3.0) {
		t.Errorf("expected total 3.0 after reads, got %v", w.TotalDistance())
	}
}
