// Wipe preprocessor metrics definitions
//
// Defines all metrics for the wipe tool including:
// - G-code stream statistics
// - Retraction and wipe insertion counts
// - Wipe path geometry distributions
// - File processing statistics
// - Go runtime metrics
//
// Copyright (C) 2026  Octolapse Go Port
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	goruntime "runtime"
	"sync"
	"time"
)

// WipeMetrics holds all wipe preprocessor metrics
type WipeMetrics struct {
	// Stream statistics
	LinesRead      *Counter
	LinesWritten   *Counter
	CommandsParsed *Counter

	// Retraction and wipe metrics
	Retractions    *Counter
	WipesInserted  *Counter
	WipesSkipped   *Counter
	WipeSteps      *Counter
	WipePathLength *Histogram

	// Wipe history state
	HistoryDepth    *Gauge
	HistoryDistance *Gauge

	// File statistics
	FilesProcessed *Counter
	ProcessingTime *Histogram
	FileBytes      *Histogram

	// Monitor connections
	MonitorClients *Gauge

	// System metrics
	Uptime        *Counter
	GoGoroutines  *Gauge
	GoMemoryHeap  *Gauge
	GoMemoryAlloc *Gauge
	GoGCCycles    *Counter

	// Error metrics
	ErrorsTotal   *Counter
	WarningsTotal *Counter

	// Internal
	startTime time.Time
	registry  *Registry
}

// NewWipeMetrics creates and registers all wipe preprocessor metrics
func NewWipeMetrics() *WipeMetrics {
	wm := &WipeMetrics{
		startTime: time.Now(),
		registry:  NewRegistry(),
	}

	// Stream statistics
	wm.LinesRead = NewCounter("octowipe_lines_read_total",
		"Total input lines read")
	wm.LinesWritten = NewCounter("octowipe_lines_written_total",
		"Total output lines written")
	wm.CommandsParsed = NewCounter("octowipe_commands_total",
		"Total G-code commands processed by command name")

	// Retraction and wipe metrics
	wm.Retractions = NewCounter("octowipe_retractions_total",
		"Total retractions detected by kind (explicit or firmware)")
	wm.WipesInserted = NewCounter("octowipe_wipes_inserted_total",
		"Total wipe sequences inserted")
	wm.WipesSkipped = NewCounter("octowipe_wipes_skipped_total",
		"Total retractions left alone by reason")
	wm.WipeSteps = NewCounter("octowipe_wipe_steps_total",
		"Total wipe steps emitted by step type")
	wm.WipePathLength = NewHistogram("octowipe_wipe_path_mm",
		"Length of reused path per inserted wipe in millimeters",
		LinearBuckets(0.5, 0.5, 10))

	// Wipe history state
	wm.HistoryDepth = NewGauge("octowipe_history_positions",
		"Positions retained in the wipe history")
	wm.HistoryDistance = NewGauge("octowipe_history_distance_mm",
		"Path length retained in the wipe history in millimeters")

	// File statistics
	wm.FilesProcessed = NewCounter("octowipe_files_processed_total",
		"Total files processed by status")
	wm.ProcessingTime = NewHistogram("octowipe_file_processing_seconds",
		"Time to process one file", DefaultBuckets())
	wm.FileBytes = NewHistogram("octowipe_file_bytes",
		"Input file sizes in bytes", ExponentialBuckets(4096, 4, 10))

	// Monitor connections
	wm.MonitorClients = NewGauge("octowipe_monitor_clients",
		"Connected websocket monitor clients")

	// System metrics
	wm.Uptime = NewCounter("octowipe_uptime_seconds_total",
		"Total process uptime in seconds")
	wm.GoGoroutines = NewGauge("octowipe_go_goroutines",
		"Number of active goroutines")
	wm.GoMemoryHeap = NewGauge("octowipe_go_memory_heap_bytes",
		"Go heap memory in use")
	wm.GoMemoryAlloc = NewGauge("octowipe_go_memory_alloc_bytes",
		"Go total memory allocated")
	wm.GoGCCycles = NewCounter("octowipe_go_gc_cycles_total",
		"Total Go garbage collection cycles")

	// Error metrics
	wm.ErrorsTotal = NewCounter("octowipe_errors_total",
		"Total errors by type")
	wm.WarningsTotal = NewCounter("octowipe_warnings_total",
		"Total warnings by type")

	wm.registerAll()

	return wm
}

// registerAll registers all metrics with the internal registry
func (wm *WipeMetrics) registerAll() {
	metrics := []Metric{
		wm.LinesRead, wm.LinesWritten, wm.CommandsParsed,
		wm.Retractions, wm.WipesInserted, wm.WipesSkipped,
		wm.WipeSteps, wm.WipePathLength,
		wm.HistoryDepth, wm.HistoryDistance,
		wm.FilesProcessed, wm.ProcessingTime, wm.FileBytes,
		wm.MonitorClients,
		wm.Uptime, wm.GoGoroutines, wm.GoMemoryHeap, wm.GoMemoryAlloc,
		wm.GoGCCycles,
		wm.ErrorsTotal, wm.WarningsTotal,
	}
	for _, m := range metrics {
		wm.registry.MustRegister(m)
	}
}

// UpdateSystemMetrics updates Go runtime metrics
func (wm *WipeMetrics) UpdateSystemMetrics() {
	var m goruntime.MemStats
	goruntime.ReadMemStats(&m)

	wm.GoGoroutines.Set(nil, float64(goruntime.NumGoroutine()))
	wm.GoMemoryHeap.Set(nil, float64(m.HeapAlloc))
	wm.GoMemoryAlloc.Set(nil, float64(m.Alloc))
	wm.GoGCCycles.Add(nil, uint64(m.NumGC)-wm.GoGCCycles.Get(nil))
	wm.Uptime.Add(nil, uint64(time.Since(wm.startTime).Seconds())-wm.Uptime.Get(nil))
}

// RecordCommand counts one parsed command by name
func (wm *WipeMetrics) RecordCommand(name string) {
	wm.LinesRead.Inc(nil)
	if name != "" {
		wm.CommandsParsed.Inc(Labels{"command": name})
	}
}

// RecordLinesWritten counts emitted output lines
func (wm *WipeMetrics) RecordLinesWritten(n uint64) {
	if n > 0 {
		wm.LinesWritten.Add(nil, n)
	}
}

// RecordRetraction counts one detected retraction
func (wm *WipeMetrics) RecordRetraction(firmware bool) {
	kind := "explicit"
	if firmware {
		kind = "firmware"
	}
	wm.Retractions.Inc(Labels{"kind": kind})
}

// RecordWipeInserted counts one inserted wipe sequence and the path
// length it reused
func (wm *WipeMetrics) RecordWipeInserted(pathLength float64) {
	wm.WipesInserted.Inc(nil)
	wm.WipePathLength.Observe(nil, pathLength)
}

// RecordWipeSkipped counts one retraction passed through unchanged
func (wm *WipeMetrics) RecordWipeSkipped(reason string) {
	wm.WipesSkipped.Inc(Labels{"reason": reason})
}

// RecordWipeStep counts one emitted wipe step by type
func (wm *WipeMetrics) RecordWipeStep(stepType string) {
	wm.WipeSteps.Inc(Labels{"type": stepType})
}

// SetHistoryState updates the wipe history gauges
func (wm *WipeMetrics) SetHistoryState(depth int, distance float64) {
	wm.HistoryDepth.Set(nil, float64(depth))
	wm.HistoryDistance.Set(nil, distance)
}

// RecordFile records one processed file
func (wm *WipeMetrics) RecordFile(status string, seconds float64, bytes int64) {
	wm.FilesProcessed.Inc(Labels{"status": status})
	wm.ProcessingTime.Observe(nil, seconds)
	if bytes > 0 {
		wm.FileBytes.Observe(nil, float64(bytes))
	}
}

// SetMonitorClients updates the connected monitor client count
func (wm *WipeMetrics) SetMonitorClients(n int) {
	wm.MonitorClients.Set(nil, float64(n))
}

// RecordError records an error
func (wm *WipeMetrics) RecordError(errorType string) {
	wm.ErrorsTotal.Inc(Labels{"type": errorType})
}

// RecordWarning records a warning
func (wm *WipeMetrics) RecordWarning(warningType string) {
	wm.WarningsTotal.Inc(Labels{"type": warningType})
}

// Gather returns all metrics in Prometheus text format
func (wm *WipeMetrics) Gather() string {
	wm.UpdateSystemMetrics()
	return wm.registry.Gather()
}

// Registry returns the internal registry
func (wm *WipeMetrics) Registry() *Registry {
	return wm.registry
}

// Global metrics instance
var globalMetrics *WipeMetrics
var globalMetricsOnce sync.Once

// GlobalMetrics returns the global wipe metrics instance
func GlobalMetrics() *WipeMetrics {
	globalMetricsOnce.Do(func() {
		globalMetrics = NewWipeMetrics()
	})
	return globalMetrics
}
