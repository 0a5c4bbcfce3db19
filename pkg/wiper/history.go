// Distance-bounded position history with single-level undo
//
// Copyright (C) 2026  Octolapse Go Port
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package wiper

import (
	"github.com/zipper177/Octolapse/pkg/geometry"
)

// history is an ordered buffer of recently observed positions (oldest
// first) together with the anchor the accumulated distance is measured
// from. The anchor is logically one position before the oldest kept
// entry. Anchors and snapshots are held by value so no two fields ever
// alias the same mutable position.
type history struct {
	items     []Position
	anchor    Position
	hasAnchor bool
	total     float64
	snapshot  *historySnapshot
}

// historySnapshot captures the complete history state for one-level undo.
type historySnapshot struct {
	items     []Position
	anchor    Position
	hasAnchor bool
	total     float64
}

// saveSnapshot records the current state into the undo slot, discarding
// any previous snapshot.
func (h *history) saveSnapshot() {
	h.snapshot = &historySnapshot{
		items:     append([]Position(nil), h.items...),
		anchor:    h.anchor,
		hasAnchor: h.hasAnchor,
		total:     h.total,
	}
}

// restoreSnapshot restores the most recently saved state and discards the
// snapshot. Without a snapshot it is a no-op.
func (h *history) restoreSnapshot() {
	if h.snapshot == nil {
		return
	}
	h.items = h.snapshot.items
	h.anchor = h.snapshot.anchor
	h.hasAnchor = h.snapshot.hasAnchor
	h.total = h.snapshot.total
	h.snapshot = nil
}

// clear drops all entries and resets the accumulated distance.
func (h *history) clear() {
	h.items = nil
	h.hasAnchor = false
	h.total = 0
}

// append adds a position to the back of the buffer.
func (h *history) append(p Position) {
	h.items = append(h.items, p)
}

// size returns the number of kept entries.
func (h *history) size() int {
	return len(h.items)
}

// prune removes entries from the front while the accumulated distance
// exceeds target, advancing the anchor to each removed entry. It stops
// early when removing the oldest entry would drop the total below target:
// keeping slightly more path than needed is preferred over falling short.
func (h *history) prune(target float64) {
	for len(h.items) > 0 && h.total > target {
		front := h.items[0]
		distanceRemoved := geometry.CartesianDistance(h.anchor.X, h.anchor.Y, front.X, front.Y)
		newTotal := h.total - distanceRemoved

		if geometry.LessThan(newTotal, target) {
			break
		}

		// The front item becomes the new anchor, by value.
		h.anchor = front
		h.total = newTotal
		h.items = h.items[1:]
	}
}
