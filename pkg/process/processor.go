// Package process is the streaming G-code preprocessing pipeline.
//
// A Processor reads a sliced G-code stream line by line, follows the
// interpreter state through a gcode.Tracker, feeds every physical move
// to the wipe engine and substitutes qualifying retractions with
// generated wipe sequences. Every other line passes through unchanged.
//
// The substituted sequences are position neutral: each wipe travels out
// over already printed path and returns to where the retraction
// happened, so the tracker state stays correct without re-parsing the
// emitted lines.
//
// Copyright (C) 2026  Octolapse Go Port
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package process

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/zipper177/Octolapse/pkg/config"
	"github.com/zipper177/Octolapse/pkg/errors"
	"github.com/zipper177/Octolapse/pkg/gcode"
	"github.com/zipper177/Octolapse/pkg/geometry"
	"github.com/zipper177/Octolapse/pkg/log"
	"github.com/zipper177/Octolapse/pkg/metrics"
	"github.com/zipper177/Octolapse/pkg/wiper"
)

const (
	// maxLineSize caps a single input line. Slicers embed thumbnails
	// and metadata in very long comment lines.
	maxLineSize = 1024 * 1024

	// ctxCheckInterval is how many lines pass between context checks.
	ctxCheckInterval = 4096

	// progressInterval is how many lines pass between progress
	// callbacks.
	progressInterval = 5000
)

// Options configures a Processor.
type Options struct {
	// Wiper drives the engine geometry and the interpreter flags.
	Wiper config.WiperOptions

	// Output controls annotation of inserted sequences and whether
	// ProcessFile may replace an existing destination.
	Output config.OutputOptions

	// Logger receives decision logging. Nil uses the package logger.
	Logger *log.Logger

	// Metrics receives counters and histograms. Nil uses the global
	// bundle.
	Metrics *metrics.WipeMetrics
}

// Processor rewrites one G-code stream at a time. The snapshot methods
// (Stats, Progress, WiperState) are safe to call from other goroutines
// while Run is active; Run itself must not be called concurrently on
// the same Processor.
type Processor struct {
	opts     Options
	logger   *log.Logger
	wm       *metrics.WipeMetrics
	settings wiper.Settings

	engine  *wiper.Wiper
	tracker *gcode.Tracker

	// wiping is set when the engine initialized with usable geometry
	// and insertion is switched on.
	wiping  bool
	initErr error

	// pendingRecover is set while a firmware retraction has been
	// replaced and the matching G11 still has to be rewritten.
	pendingRecover bool
	mismatchWarned bool

	mu              sync.Mutex
	stats           Stats
	bytesRead       int64
	bytesTotal      int64
	historyDepth    int
	historyDistance float64

	progressFn func(Progress)
}

// New builds a Processor from the given options. Degenerate wipe
// geometry is not an error here: the processor logs one warning and
// runs in passthrough mode, since a misconfigured tool still has to
// produce its output file.
func New(opts Options) *Processor {
	p := &Processor{
		opts:   opts,
		logger: opts.Logger,
		wm:     opts.Metrics,
	}
	if p.logger == nil {
		p.logger = log.GetLogger("process")
	}
	if p.wm == nil {
		p.wm = metrics.GlobalMetrics()
	}

	p.settings = wiper.Settings{
		RetractionLength:         opts.Wiper.RetractionLength,
		RetractBeforeWipePercent: opts.Wiper.RetractBeforeWipePercent,
		RetractAfterWipePercent:  opts.Wiper.RetractAfterWipePercent,
		RetractionFeedrate:       opts.Wiper.RetractionFeedrate,
		WipeFeedrate:             opts.Wiper.WipeFeedrate,
		XYTravelSpeed:            opts.Wiper.XYTravelSpeed,
	}

	p.reset()
	if opts.Wiper.Enabled && !p.wiping {
		p.logger.Warn("wiping requested but the configured geometry is unusable, input will pass through: %v", p.initErr)
		p.wm.RecordWarning("degenerate_settings")
	}
	return p
}

// SetProgressFunc installs a callback invoked periodically during Run
// and once at completion. The callback runs on the processing
// goroutine and must return quickly.
func (p *Processor) SetProgressFunc(fn func(Progress)) {
	p.progressFn = fn
}

// SetExpectedBytes primes the progress denominator, typically with the
// input file size. Zero leaves the percentage unknown.
func (p *Processor) SetExpectedBytes(n int64) {
	p.mu.Lock()
	p.bytesTotal = n
	p.mu.Unlock()
}

// reset prepares fresh interpreter and engine state for a run.
func (p *Processor) reset() {
	p.tracker = gcode.NewTracker()
	p.tracker.SetG90InfluencesExtruder(p.opts.Wiper.G90InfluencesExtruder)

	p.engine = wiper.New()
	p.engine.SetUseFullWipe(p.opts.Wiper.UseFullWipe)
	wiping := false
	if p.opts.Wiper.Enabled {
		if err := p.engine.Initialize(p.settings); err != nil {
			p.initErr = err
		} else {
			wiping = true
		}
	}
	p.pendingRecover = false
	p.mismatchWarned = false

	p.mu.Lock()
	p.wiping = wiping
	p.stats = Stats{}
	p.bytesRead = 0
	p.historyDepth = 0
	p.historyDistance = 0
	p.mu.Unlock()
}

// Run processes one G-code stream. The returned stats cover this run
// only. Tracker and engine state are fresh on every call, so a single
// Processor may work through several files in sequence.
func (p *Processor) Run(ctx context.Context, r io.Reader, w io.Writer) (Stats, error) {
	p.reset()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	out := gcode.NewWriter(w)

	var lines int64
	for scanner.Scan() {
		if lines%ctxCheckInterval == 0 && ctx != nil {
			if err := ctx.Err(); err != nil {
				return p.Stats(), err
			}
		}
		lines++

		if err := p.processLine(out, scanner.Text()); err != nil {
			return p.Stats(), err
		}
	}
	if err := scanner.Err(); err != nil {
		return p.Stats(), errors.Wrap(err, errors.ErrProcessInput, "reading G-code input failed")
	}
	if err := out.Flush(); err != nil {
		return p.Stats(), errors.Wrap(err, errors.ErrProcessOutput, "flushing G-code output failed")
	}

	p.wm.RecordLinesWritten(uint64(out.LinesWritten()))
	stats := p.Stats()
	p.reportProgress()
	return stats, nil
}

// processLine handles a single raw input line.
func (p *Processor) processLine(out *gcode.Writer, line string) error {
	cmd := gcode.ParseLine(line)
	defer cmd.Release()

	p.wm.RecordCommand(cmd.Name)
	p.mu.Lock()
	p.stats.LinesRead++
	p.bytesRead += int64(len(line)) + 1
	if cmd.Name != "" {
		p.stats.Commands++
	}
	due := p.progressFn != nil && p.stats.LinesRead%progressInterval == 0
	p.mu.Unlock()

	if err := p.handleCommand(out, cmd, line); err != nil {
		return err
	}

	p.syncState(out)
	if due {
		p.reportProgress()
	}
	return nil
}

// handleCommand routes one parsed command: feed the tracker, feed the
// engine, and either substitute a wipe sequence or pass the original
// line through.
func (p *Processor) handleCommand(out *gcode.Writer, cmd gcode.Command, line string) error {
	transition, moved := p.tracker.Process(cmd)
	if !moved {
		return writeLine(out, line)
	}

	p.engine.Update(transition.Current, transition.Previous)

	if transition.IsRetraction {
		replaced, err := p.handleRetraction(out, transition)
		if err != nil || replaced {
			return err
		}
		return writeLine(out, line)
	}

	if cmd.Name == "G11" && p.pendingRecover {
		return p.recoverFirmwareRetract(out)
	}

	return writeLine(out, line)
}

// handleRetraction decides whether a detected retraction becomes a wipe
// sequence. It returns true when the original line was replaced.
func (p *Processor) handleRetraction(out *gcode.Writer, t gcode.Transition) (bool, error) {
	p.mu.Lock()
	p.stats.Retractions++
	p.mu.Unlock()
	p.wm.RecordRetraction(t.FirmwareRetract)

	if !p.wiping {
		p.skip("disabled")
		return false, nil
	}
	if t.FirmwareRetract && !p.opts.Wiper.ReplaceFirmwareRetracts {
		return false, nil
	}

	p.checkRetractionLength(t)

	// The retraction is not an extruding XY move, so the update above
	// just cleared the history. Undo restores the wipe opportunity
	// that existed before the retraction arrived.
	p.engine.Undo()
	steps := p.engine.WipeSteps()
	depth := p.engine.HistorySize()
	pathLength := p.engine.TotalDistance()
	p.engine.Update(t.Current, t.Previous)

	if len(steps) == 0 {
		p.skip("empty_history")
		return false, nil
	}
	if depth < p.opts.Wiper.MinimumHistory {
		p.skip("short_history")
		return false, nil
	}

	if err := p.emitWipe(out, steps, pathLength); err != nil {
		return false, err
	}
	if t.FirmwareRetract {
		p.pendingRecover = true
	}
	return true, nil
}

// emitWipe writes one wipe sequence in place of a retraction line.
func (p *Processor) emitWipe(out *gcode.Writer, steps []wiper.Step, pathLength float64) error {
	if p.opts.Output.Annotate {
		if err := writeLine(out, "; octowipe start"); err != nil {
			return err
		}
	}

	lastFeedrate := -1.0
	for _, step := range steps {
		if err := writeStep(out, step); err != nil {
			return err
		}
		p.wm.RecordWipeStep(step.Type.String())
		if step.HasFeedrate() {
			lastFeedrate = step.Feedrate
		}
	}

	// The replaced line may have carried the modal feedrate for the
	// moves that follow it; restore it when the wipe left the machine
	// on a different one.
	if modal := p.tracker.Feedrate(); modal > 0 && !geometry.IsEqual(modal, lastFeedrate) {
		if err := writeLine(out, fmt.Sprintf("G1 F%.0f", modal)); err != nil {
			return err
		}
	}

	if p.opts.Output.Annotate {
		if err := writeLine(out, "; octowipe end"); err != nil {
			return err
		}
	}

	p.mu.Lock()
	p.stats.WipesInserted++
	p.stats.StepsEmitted += int64(len(steps))
	p.stats.PathReused += pathLength
	p.mu.Unlock()
	p.wm.RecordWipeInserted(pathLength)
	p.logger.Debug("inserted a %d step wipe drawing on %.3fmm of path", len(steps), pathLength)
	return nil
}

// recoverFirmwareRetract rewrites the G11 matching a replaced G10. The
// firmware never saw that retraction, so its recover must not pass
// through; an explicit prime restores the filament instead.
func (p *Processor) recoverFirmwareRetract(out *gcode.Writer) error {
	p.pendingRecover = false

	pos := p.tracker.Position()
	e := p.settings.RetractionLength
	if !pos.IsExtruderRelative {
		e = pos.OffsetE
	}
	step := wiper.Step{Type: wiper.StepRetract, E: e, Feedrate: p.settings.RetractionFeedrate}
	if err := writeStep(out, step); err != nil {
		return err
	}
	p.logger.Debug("rewrote firmware recover as an explicit prime")
	return nil
}

// skip records a retraction that passed through unchanged.
func (p *Processor) skip(reason string) {
	p.mu.Lock()
	p.stats.WipesSkipped++
	p.mu.Unlock()
	p.wm.RecordWipeSkipped(reason)
	p.logger.Debug("retraction passed through: %s", reason)
}

// checkRetractionLength flags slicer retractions that do not match the
// configured length. The wipe consumes exactly the configured amount,
// so a mismatch shifts the filament position on relative extruder
// streams until the next absolute E move.
func (p *Processor) checkRetractionLength(t gcode.Transition) {
	if t.FirmwareRetract {
		return
	}
	actual := -t.ExtrusionDelta
	if geometry.IsEqual(actual, p.settings.RetractionLength) {
		return
	}
	if p.mismatchWarned {
		p.logger.Debug("retraction length mismatch: stream %.3fmm, configured %.3fmm",
			actual, p.settings.RetractionLength)
		return
	}
	p.mismatchWarned = true
	p.logger.Warn("stream retracts %.3fmm but retraction_length is %.3fmm; inserted wipes retract the configured amount",
		actual, p.settings.RetractionLength)
	p.wm.RecordWarning("retraction_mismatch")
}

// syncState refreshes the shared counters after each line.
func (p *Processor) syncState(out *gcode.Writer) {
	depth := p.engine.HistorySize()
	distance := p.engine.TotalDistance()

	p.mu.Lock()
	p.stats.LinesWritten = out.LinesWritten()
	p.historyDepth = depth
	p.historyDistance = distance
	p.mu.Unlock()
	p.wm.SetHistoryState(depth, distance)
}

// Stats returns a snapshot of the counters for the active or most
// recent run.
func (p *Processor) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Progress returns the byte progress and counters of the active run.
func (p *Processor) Progress() Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Progress{
		BytesRead:  p.bytesRead,
		BytesTotal: p.bytesTotal,
		Stats:      p.stats,
	}
}

// WiperState describes the wipe engine for status reporting.
type WiperState struct {
	Enabled         bool
	FullWipe        bool
	HistoryDepth    int
	HistoryDistance float64
	Settings        wiper.Settings
}

// WiperState returns a snapshot of the engine state.
func (p *Processor) WiperState() WiperState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return WiperState{
		Enabled:         p.wiping,
		FullWipe:        p.opts.Wiper.UseFullWipe,
		HistoryDepth:    p.historyDepth,
		HistoryDistance: p.historyDistance,
		Settings:        p.settings,
	}
}

func (p *Processor) reportProgress() {
	if p.progressFn != nil {
		p.progressFn(p.Progress())
	}
}

// ProcessFile processes inPath into outPath. The output is written to
// a temporary file next to the destination and renamed into place, so
// a failed run never leaves a truncated file behind. An existing
// destination is refused unless overwriting is enabled.
func (p *Processor) ProcessFile(ctx context.Context, inPath, outPath string) (Stats, error) {
	start := time.Now()
	recordError := func(size int64) {
		p.wm.RecordFile("error", time.Since(start).Seconds(), size)
	}

	fi, err := os.Stat(inPath)
	if err != nil {
		recordError(0)
		return Stats{}, errors.ProcessInputError(inPath, err)
	}
	p.SetExpectedBytes(fi.Size())

	if !p.opts.Output.Overwrite {
		if _, err := os.Stat(outPath); err == nil {
			recordError(fi.Size())
			return Stats{}, errors.New(errors.ErrProcessOutput,
				"output file already exists, enable overwrite to replace it").SetFile(outPath)
		}
	}

	in, err := os.Open(inPath)
	if err != nil {
		recordError(fi.Size())
		return Stats{}, errors.ProcessInputError(inPath, err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(outPath), filepath.Base(outPath)+".tmp*")
	if err != nil {
		recordError(fi.Size())
		return Stats{}, errors.ProcessOutputError(outPath, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	stats, err := p.Run(ctx, in, tmp)
	if cerr := tmp.Close(); err == nil && cerr != nil {
		err = errors.ProcessOutputError(outPath, cerr)
	}
	if err != nil {
		recordError(fi.Size())
		return stats, err
	}

	if err := os.Rename(tmpName, outPath); err != nil {
		recordError(fi.Size())
		return stats, errors.ProcessOutputError(outPath, err)
	}

	elapsed := time.Since(start)
	p.wm.RecordFile("ok", elapsed.Seconds(), fi.Size())
	p.logger.WithFields(log.Fields{
		"input":    inPath,
		"output":   outPath,
		"lines":    stats.LinesRead,
		"wipes":    stats.WipesInserted,
		"duration": elapsed.Round(time.Millisecond).String(),
	}).Info("file processed")
	return stats, nil
}

// OutputPath derives the default output path for an input file by
// inserting suffix before the extension.
func OutputPath(inPath, suffix string) string {
	ext := filepath.Ext(inPath)
	return strings.TrimSuffix(inPath, ext) + suffix + ext
}

func writeLine(out *gcode.Writer, line string) error {
	if err := out.WriteLine(line); err != nil {
		return errors.Wrap(err, errors.ErrProcessOutput, "writing G-code output failed")
	}
	return nil
}

func writeStep(out *gcode.Writer, step wiper.Step) error {
	if err := out.WriteStep(step); err != nil {
		return errors.Wrap(err, errors.ErrProcessOutput, "writing G-code output failed")
	}
	return nil
}
