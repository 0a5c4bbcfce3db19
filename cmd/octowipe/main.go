// octowipe inserts nozzle wipe sequences into sliced G-code files.
// Around every retraction it walks the nozzle back over the path it
// just printed, hiding the ooze inside the finished extrusion instead
// of leaving a blob, then returns the nozzle to where it started.
//
// Usage:
//
//	octowipe [options] file.gcode [file2.gcode ...]
//
// Options:
//
//	-config string    INI configuration file
//	-profile string   YAML printer profiles file
//	-printer string   Profile name to apply (requires -profile)
//	-o string         Output file (single input only)
//	-suffix string    Output filename suffix (default "_wiped")
//	-enabled          Enable or disable wipe insertion
//	-full-wipe        Wipe the full distance out and back
//	-annotate         Bracket inserted wipes with comments
//	-overwrite        Replace existing output files
//	-log-level string Log level: debug, info, warn, error
//	-jobs int         Files processed concurrently (default CPU count)
//	-metrics          Serve Prometheus metrics while processing
//	-monitor          Serve the WebSocket status API while processing
//	-version          Print the version and exit
//
// Examples:
//
//	# Process one file with the built-in defaults
//	octowipe model.gcode
//
//	# Use a printer profile and write to an explicit path
//	octowipe -profile profiles.yaml -printer mk3s_petg -o out.gcode model.gcode
//
//	# Preprocess a whole directory of sliced files, four at a time
//	octowipe -config octowipe.cfg -jobs 4 prints/*.gcode
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zipper177/Octolapse/pkg/config"
	"github.com/zipper177/Octolapse/pkg/log"
	"github.com/zipper177/Octolapse/pkg/metrics"
	"github.com/zipper177/Octolapse/pkg/monitor"
	"github.com/zipper177/Octolapse/pkg/process"
	"github.com/zipper177/Octolapse/pkg/profile"
)

const version = "0.9.0"

func main() {
	os.Exit(run())
}

func run() int {
	flagConfig := flag.String("config", "", "INI configuration file")
	flagProfile := flag.String("profile", "", "YAML printer profiles file")
	flagPrinter := flag.String("printer", "", "profile name to apply (requires -profile)")
	flagOutput := flag.String("o", "", "output file (single input only)")
	flagSuffix := flag.String("suffix", "", "output filename suffix")
	flagEnabled := flag.Bool("enabled", true, "enable wipe insertion")
	flagFullWipe := flag.Bool("full-wipe", true, "wipe the full distance out and back")
	flagAnnotate := flag.Bool("annotate", false, "bracket inserted wipes with comments")
	flagOverwrite := flag.Bool("overwrite", false, "replace existing output files")
	flagLogLevel := flag.String("log-level", "", "log level: debug, info, warn, error")
	flagJobs := flag.Int("jobs", runtime.NumCPU(), "files processed concurrently")
	flagMetrics := flag.Bool("metrics", false, "serve Prometheus metrics while processing")
	flagMonitor := flag.Bool("monitor", false, "serve the WebSocket status API while processing")
	flagVersion := flag.Bool("version", false, "print the version and exit")

	flag.Parse()

	if *flagVersion {
		fmt.Printf("octowipe %s\n", version)
		return 0
	}

	inputs := flag.Args()
	if len(inputs) == 0 {
		fmt.Fprintf(os.Stderr, "Error: no input files\n")
		flag.Usage()
		return 2
	}
	if *flagOutput != "" && len(inputs) > 1 {
		fmt.Fprintf(os.Stderr, "Error: -o only works with a single input file\n")
		return 2
	}
	if *flagPrinter != "" && *flagProfile == "" {
		fmt.Fprintf(os.Stderr, "Error: -printer requires -profile\n")
		return 2
	}
	if *flagJobs < 1 {
		fmt.Fprintf(os.Stderr, "Error: -jobs must be at least 1\n")
		return 2
	}

	// Which flags were given explicitly. Flags override the config
	// file and the profile, but only when actually passed.
	setFlags := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })

	// Resolution order: built-in defaults, then the config file, then
	// the printer profile, then explicit flags.
	opts := config.DefaultOptions()
	var cfg *config.Config
	if *flagConfig != "" {
		var err error
		cfg, err = config.Load(*flagConfig)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading config: %v\n", err)
			return 1
		}
		if opts, err = config.LoadOptions(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error in config: %v\n", err)
			return 1
		}
	}

	if *flagPrinter != "" {
		pf, err := profile.Load(*flagProfile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading profiles: %v\n", err)
			return 1
		}
		preset, err := pf.Get(*flagPrinter)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		preset.Apply(&opts.Wiper)
	}

	if setFlags["enabled"] {
		opts.Wiper.Enabled = *flagEnabled
	}
	if setFlags["full-wipe"] {
		opts.Wiper.UseFullWipe = *flagFullWipe
	}
	if setFlags["suffix"] {
		opts.Output.Suffix = *flagSuffix
	}
	if setFlags["annotate"] {
		opts.Output.Annotate = *flagAnnotate
	}
	if setFlags["overwrite"] {
		opts.Output.Overwrite = *flagOverwrite
	}
	if setFlags["log-level"] {
		opts.Logging.Level = *flagLogLevel
	}
	if setFlags["metrics"] {
		opts.Metrics.Enabled = *flagMetrics
	}
	if setFlags["monitor"] {
		opts.Monitor.Enabled = *flagMonitor
	}

	logger, cleanup, err := buildLogger(opts.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening log file: %v\n", err)
		return 1
	}
	if cleanup != nil {
		defer cleanup()
	}
	log.SetDefaultLogger(logger)

	// Report config typos once the option loaders have claimed
	// everything they know.
	if cfg != nil {
		for _, sec := range cfg.GetUnusedSections() {
			logger.Warn("config section [%s] is not recognized", sec)
		}
		for sec, unused := range cfg.UnusedOptions() {
			logger.Warn("unrecognized options in [%s]: %s", sec, strings.Join(unused, ", "))
		}
	}

	logger.WithFields(log.Fields{
		"version":   version,
		"files":     len(inputs),
		"jobs":      *flagJobs,
		"enabled":   opts.Wiper.Enabled,
		"full_wipe": opts.Wiper.UseFullWipe,
	}).Info("octowipe starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Optional servers. Both watch the shared metrics bundle and the
	// most recently started run.
	var hist *monitor.JobHistory
	mux := newProcessorMux(opts)

	if opts.Metrics.Enabled {
		ms := metrics.NewMetricsServerWithConfig(metrics.GlobalMetrics(), metrics.MetricsServerConfig{
			Address:      opts.Metrics.Listen,
			Username:     opts.Metrics.Username,
			Password:     opts.Metrics.Password,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		})
		errCh := ms.StartAsync()
		go func() {
			if err := <-errCh; err != nil {
				logger.Error("metrics server: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = ms.Shutdown(shutdownCtx)
		}()
		logger.Info("metrics listening on http://%s/metrics", opts.Metrics.Listen)

		go func() {
			ticker := time.NewTicker(5 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					metrics.GlobalMetrics().UpdateSystemMetrics()
				}
			}
		}()
	}

	if opts.Monitor.Enabled {
		adapter := monitor.NewPipelineAdapter(mux)
		adapter.SetStateGetter(mux.state)
		srv := monitor.New(monitor.Config{
			Addr:           opts.Monitor.Listen,
			Processor:      adapter,
			UpdateInterval: time.Duration(opts.Monitor.UpdateInterval * float64(time.Second)),
		})
		errCh := srv.StartAsync()
		go func() {
			if err := <-errCh; err != nil {
				logger.Error("monitor server: %v", err)
			}
		}()
		defer func() { _ = srv.Stop() }()
		hist = srv.History()
		logger.Info("monitor listening on ws://%s/websocket", opts.Monitor.Listen)
	}

	results := processAll(ctx, mux, hist, opts, inputs, *flagOutput, *flagJobs)

	printSummary(os.Stdout, results)

	if ctx.Err() != nil {
		logger.Warn("interrupted, partial results above")
		return 1
	}
	for _, r := range results {
		if r.err != nil {
			return 1
		}
	}
	return 0
}

// buildLogger assembles the root logger from the logging options. When
// a log file is configured, output goes to both stderr and the
// rotating file.
func buildLogger(lo config.LoggingOptions) (*log.Logger, func(), error) {
	logger := log.New("octowipe")
	logger.SetLevel(log.ParseLevel(lo.Level))
	if lo.Format == "json" {
		logger.SetFormat(log.FormatJSON)
	}
	logger.SetCaller(lo.ReportCaller)

	var cleanup func()
	if lo.File != "" {
		writer, err := log.NewRotatingFileWriter(log.RotationConfig{
			Filename:   lo.File,
			MaxSize:    lo.MaxSize,
			MaxBackups: lo.MaxBackups,
			Compress:   lo.Compress,
		})
		if err != nil {
			return nil, nil, err
		}
		logger.SetWriter(log.NewMultiWriter(os.Stderr, writer))
		logger.SetColorize(false)
		cleanup = func() { _ = writer.Close() }
	}

	// Environment variables still win over the config file.
	log.ConfigureFromEnv(logger)

	return logger, cleanup, nil
}

// fileResult is one processed file in the summary table.
type fileResult struct {
	input   string
	output  string
	stats   process.Stats
	err     error
	elapsed time.Duration
}

// processAll runs every input through the pipeline, at most jobs at a
// time. A failing file does not stop the others; its error lands in
// the result row and flips the exit code.
func processAll(ctx context.Context, mux *processorMux, hist *monitor.JobHistory,
	opts *config.Options, inputs []string, output string, jobs int) []fileResult {

	logger := log.GetLogger("octowipe")
	results := make([]fileResult, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)

	mux.setState("processing")
	for i, input := range inputs {
		g.Go(func() error {
			outPath := output
			if outPath == "" {
				outPath = process.OutputPath(input, opts.Output.Suffix)
			}

			p := process.New(process.Options{
				Wiper:  opts.Wiper,
				Output: opts.Output,
			})
			mux.setActive(p)

			var jobID string
			if hist != nil {
				jobID = hist.StartJob(filepath.Base(input), filepath.Base(outPath)).JobID
			}

			start := time.Now()
			stats, err := p.ProcessFile(gctx, input, outPath)
			results[i] = fileResult{
				input:   input,
				output:  outPath,
				stats:   stats,
				err:     err,
				elapsed: time.Since(start),
			}

			if hist != nil {
				status := "completed"
				if err != nil {
					status = "error"
				}
				hist.FinishJobByID(jobID, status, stats)
			}
			if err != nil {
				logger.WithError(err).WithField("input", input).Error("processing failed")
			}
			return nil
		})
	}
	_ = g.Wait()

	failed := false
	for _, r := range results {
		if r.err != nil {
			failed = true
		}
	}
	if failed {
		mux.setState("error")
	} else {
		mux.setState("done")
	}

	return results
}

// printSummary writes the per-file stats table and, for batches, an
// aggregate line.
func printSummary(w *os.File, results []fileResult) {
	tw := tabwriter.NewWriter(w, 2, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tLINES\tRETRACTS\tWIPES\tSKIPPED\tPATH MM\tTIME\tSTATUS")

	var total process.Stats
	failed := 0
	for _, r := range results {
		status := "ok"
		if r.err != nil {
			status = "error"
			failed++
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%.1f\t%s\t%s\n",
			filepath.Base(r.input), r.stats.LinesRead, r.stats.Retractions,
			r.stats.WipesInserted, r.stats.WipesSkipped, r.stats.PathReused,
			r.elapsed.Round(time.Millisecond), status)
		total.Add(r.stats)
	}

	if len(results) > 1 {
		fmt.Fprintf(tw, "TOTAL\t%d\t%d\t%d\t%d\t%.1f\t\t%d/%d ok\n",
			total.LinesRead, total.Retractions, total.WipesInserted,
			total.WipesSkipped, total.PathReused, len(results)-failed, len(results))
	}
	tw.Flush()
}

// processorMux points the monitor at the most recently started run.
// With concurrent jobs only one run is watched live; the job history
// still records every file.
type processorMux struct {
	mu      sync.RWMutex
	active  *process.Processor
	current string
}

func newProcessorMux(opts *config.Options) *processorMux {
	// An idle pipeline so the monitor can show the configured wipe
	// geometry before the first file starts.
	return &processorMux{
		active: process.New(process.Options{
			Wiper:  opts.Wiper,
			Output: opts.Output,
		}),
		current: "idle",
	}
}

func (m *processorMux) setActive(p *process.Processor) {
	m.mu.Lock()
	m.active = p
	m.mu.Unlock()
}

func (m *processorMux) setState(state string) {
	m.mu.Lock()
	m.current = state
	m.mu.Unlock()
}

func (m *processorMux) state() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

func (m *processorMux) Stats() process.Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active.Stats()
}

func (m *processorMux) Progress() process.Progress {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active.Progress()
}

func (m *processorMux) WiperState() process.WiperState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active.WiperState()
}
