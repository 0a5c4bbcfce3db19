// Processing counters and progress reporting
//
// Copyright (C) 2026  Octolapse Go Port
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package process

// Stats counts what one processing run did.
type Stats struct {
	// LinesRead and LinesWritten count raw stream lines, including
	// comments and blanks.
	LinesRead    int64
	LinesWritten int64

	// Commands counts lines that parsed to a named G-code command.
	Commands int64

	// Retractions counts detected retractions, explicit and firmware.
	Retractions int64

	// WipesInserted counts retractions replaced by a wipe sequence;
	// WipesSkipped counts those passed through unchanged.
	WipesInserted int64
	WipesSkipped  int64

	// StepsEmitted counts the individual wipe, travel and retract
	// lines the inserted sequences produced.
	StepsEmitted int64

	// PathReused is the accumulated path length the inserted wipes
	// drew from, in millimeters.
	PathReused float64
}

// Add accumulates another run's counters, for batch summaries.
func (s *Stats) Add(other Stats) {
	s.LinesRead += other.LinesRead
	s.LinesWritten += other.LinesWritten
	s.Commands += other.Commands
	s.Retractions += other.Retractions
	s.WipesInserted += other.WipesInserted
	s.WipesSkipped += other.WipesSkipped
	s.StepsEmitted += other.StepsEmitted
	s.PathReused += other.PathReused
}

// Progress pairs the counters with byte progress through the input.
type Progress struct {
	BytesRead  int64
	BytesTotal int64
	Stats      Stats
}

// Percent returns completion in [0, 100], or -1 when the input size is
// unknown.
func (p Progress) Percent() float64 {
	if p.BytesTotal <= 0 {
		return -1
	}
	pct := float64(p.BytesRead) / float64(p.BytesTotal) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}
