// G-code serialization
//
// Turns wipe steps back into G1 lines and writes the processed stream.
//
// Copyright (C) 2026  Octolapse Go Port
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package gcode

import (
	"bufio"
	"io"
	"strconv"

	"github.com/zipper177/Octolapse/pkg/pool"
	"github.com/zipper177/Octolapse/pkg/wiper"
)

// Coordinate words carry three decimals, extrusion five. Slicers emit
// the same precision and firmwares parse no finer.
const (
	xyPrecision = 3
	ePrecision  = 5
)

// formatFloat renders a fixed precision float without a negative zero:
// values that round to "-0.000" flip sign before formatting so the
// emitted word stays clean when accumulated error leaves a tiny
// negative remainder.
func formatFloat(dst []byte, v float64, prec int) []byte {
	b := strconv.AppendFloat(dst, v, 'f', prec, 64)
	if b[0] != '-' {
		return b
	}
	for _, c := range b[1:] {
		if c != '0' && c != '.' {
			return b
		}
	}
	return append(dst[:0], b[1:]...)
}

// FormatStep renders one wipe step as a G1 line without a trailing
// newline. Steps with a negative feedrate inherit the machine's current
// feedrate and get no F word.
func FormatStep(step wiper.Step) string {
	buf := pool.GetByteBuffer()
	defer pool.PutByteBuffer(buf)

	var scratch [24]byte

	buf.WriteString("G1")
	switch step.Type {
	case wiper.StepWipe:
		buf.WriteString(" X")
		buf.Write(formatFloat(scratch[:0], step.X, xyPrecision))
		buf.WriteString(" Y")
		buf.Write(formatFloat(scratch[:0], step.Y, xyPrecision))
		buf.WriteString(" E")
		buf.Write(formatFloat(scratch[:0], step.E, ePrecision))
	case wiper.StepTravel:
		buf.WriteString(" X")
		buf.Write(formatFloat(scratch[:0], step.X, xyPrecision))
		buf.WriteString(" Y")
		buf.Write(formatFloat(scratch[:0], step.Y, xyPrecision))
	case wiper.StepRetract:
		buf.WriteString(" E")
		buf.Write(formatFloat(scratch[:0], step.E, ePrecision))
	}
	if step.HasFeedrate() {
		buf.WriteString(" F")
		buf.Write(strconv.AppendFloat(scratch[:0], step.Feedrate, 'f', 0, 64))
	}
	return buf.String()
}

// Writer emits the processed G-code stream through a buffered writer.
type Writer struct {
	w     *bufio.Writer
	lines int64
}

// NewWriter returns a writer emitting to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// WriteLine writes one raw line followed by a newline.
func (w *Writer) WriteLine(line string) error {
	if _, err := w.w.WriteString(line); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	w.lines++
	return nil
}

// WriteStep serializes one wipe step and writes it as a line.
func (w *Writer) WriteStep(step wiper.Step) error {
	return w.WriteLine(FormatStep(step))
}

// Flush drains the underlying buffer.
func (w *Writer) Flush() error {
	return w.w.Flush()
}

// LinesWritten returns the number of lines emitted so far.
func (w *Writer) LinesWritten() int64 {
	return w.lines
}
