package config

// Typed runtime options assembled from the config sections. Every
// section is optional; missing sections and options fall back to the
// defaults below.

// WiperOptions configures the wipe engine and the G-code interpreter.
// Lengths are in millimeters, feedrates in millimeters per minute.
type WiperOptions struct {
	// Enabled turns wipe insertion on. Disabled, the tool copies its
	// input through unchanged, which is useful for checking the rest
	// of the setup.
	Enabled bool

	RetractionLength         float64
	RetractBeforeWipePercent float64
	RetractAfterWipePercent  float64
	RetractionFeedrate       float64
	WipeFeedrate             float64
	XYTravelSpeed            float64

	// UseFullWipe selects the full out-and-back wipe; disabled, the
	// wipe turns around at half the wipe distance.
	UseFullWipe bool

	// MinimumHistory is the fewest retained path positions a wipe may
	// be built from. Retractions reached with less history pass
	// through unchanged.
	MinimumHistory int

	// G90InfluencesExtruder makes G90/G91 switch the extruder mode as
	// Marlin does.
	G90InfluencesExtruder bool

	// ReplaceFirmwareRetracts rewrites G10 retractions as wipe
	// sequences too.
	ReplaceFirmwareRetracts bool
}

// OutputOptions configures how processed files are written.
type OutputOptions struct {
	// Suffix is appended to the input filename stem when no explicit
	// output path is given.
	Suffix string

	// Overwrite permits replacing an existing output file.
	Overwrite bool

	// Annotate brackets every inserted wipe sequence with comment
	// lines, useful when inspecting the processed file.
	Annotate bool
}

// LoggingOptions configures the logger.
type LoggingOptions struct {
	Level        string
	Format       string
	File         string // empty logs to stderr only
	MaxSize      int    // megabytes per log file before rotation
	MaxBackups   int
	Compress     bool
	ReportCaller bool
}

// MetricsOptions configures the Prometheus metrics endpoint.
type MetricsOptions struct {
	Enabled bool
	Listen  string

	// Username and Password enable HTTP basic auth on the endpoint
	// when both are set.
	Username string
	Password string
}

// MonitorOptions configures the websocket status server.
type MonitorOptions struct {
	Enabled        bool
	Listen         string
	UpdateInterval float64 // seconds between status broadcasts
}

// Options collects every tool option.
type Options struct {
	Wiper   WiperOptions
	Output  OutputOptions
	Logging LoggingOptions
	Metrics MetricsOptions
	Monitor MonitorOptions
}

// DefaultOptions returns the built-in defaults. The wipe geometry
// matches a common direct drive setup: 2mm retraction at 30mm/s, wipes
// at 60mm/s, travels at 100mm/s.
func DefaultOptions() *Options {
	return &Options{
		Wiper: WiperOptions{
			Enabled:                  true,
			RetractionLength:         2.0,
			RetractBeforeWipePercent: 0.2,
			RetractAfterWipePercent:  0.2,
			RetractionFeedrate:       1800,
			WipeFeedrate:             3600,
			XYTravelSpeed:            6000,
			UseFullWipe:              true,
			MinimumHistory:           1,
		},
		Output: OutputOptions{
			Suffix: "_wiped",
		},
		Logging: LoggingOptions{
			Level:      "info",
			Format:     "text",
			MaxSize:    10,
			MaxBackups: 5,
		},
		Metrics: MetricsOptions{
			Listen: "127.0.0.1:9090",
		},
		Monitor: MonitorOptions{
			Listen:         "127.0.0.1:7125",
			UpdateInterval: 1.0,
		},
	}
}

// LoadOptions builds Options from a parsed Config, validating values as
// it goes.
func LoadOptions(cfg *Config) (*Options, error) {
	o := DefaultOptions()

	if err := o.loadWiper(cfg.GetSectionOptional("wiper")); err != nil {
		return nil, err
	}
	if err := o.loadOutput(cfg.GetSectionOptional("output")); err != nil {
		return nil, err
	}
	if err := o.loadLogging(cfg.GetSectionOptional("logging")); err != nil {
		return nil, err
	}
	if err := o.loadMetrics(cfg.GetSectionOptional("metrics")); err != nil {
		return nil, err
	}
	if err := o.loadMonitor(cfg.GetSectionOptional("monitor")); err != nil {
		return nil, err
	}

	return o, nil
}

func (o *Options) loadWiper(sec *Section) error {
	if sec == nil {
		return nil
	}
	w := &o.Wiper

	var err error
	if w.Enabled, err = sec.GetBool("enabled", w.Enabled); err != nil {
		return err
	}
	if w.RetractionLength, err = sec.GetFloatWithBounds("retraction_length",
		FloatBounds{MinVal: fptr(0)}, w.RetractionLength); err != nil {
		return err
	}
	// Percents outside [0, 1] are legal: the engine clamps negatives
	// and rescales oversized sums.
	if w.RetractBeforeWipePercent, err = sec.GetFloat("retract_before_wipe_percent",
		w.RetractBeforeWipePercent); err != nil {
		return err
	}
	if w.RetractAfterWipePercent, err = sec.GetFloat("retract_after_wipe_percent",
		w.RetractAfterWipePercent); err != nil {
		return err
	}
	if w.RetractionFeedrate, err = sec.GetFloatWithBounds("retraction_feedrate",
		FloatBounds{Above: fptr(0)}, w.RetractionFeedrate); err != nil {
		return err
	}
	if w.WipeFeedrate, err = sec.GetFloatWithBounds("wipe_feedrate",
		FloatBounds{Above: fptr(0)}, w.WipeFeedrate); err != nil {
		return err
	}
	if w.XYTravelSpeed, err = sec.GetFloatWithBounds("x_y_travel_speed",
		FloatBounds{Above: fptr(0)}, w.XYTravelSpeed); err != nil {
		return err
	}
	if w.UseFullWipe, err = sec.GetBool("use_full_wipe", w.UseFullWipe); err != nil {
		return err
	}
	one := 1
	if w.MinimumHistory, err = sec.GetIntWithBounds("minimum_history",
		&one, nil, w.MinimumHistory); err != nil {
		return err
	}
	if w.G90InfluencesExtruder, err = sec.GetBool("g90_influences_extruder",
		w.G90InfluencesExtruder); err != nil {
		return err
	}
	if w.ReplaceFirmwareRetracts, err = sec.GetBool("replace_firmware_retracts",
		w.ReplaceFirmwareRetracts); err != nil {
		return err
	}
	return nil
}

func (o *Options) loadOutput(sec *Section) error {
	if sec == nil {
		return nil
	}
	out := &o.Output

	var err error
	if out.Suffix, err = sec.Get("suffix", out.Suffix); err != nil {
		return err
	}
	if out.Overwrite, err = sec.GetBool("overwrite", out.Overwrite); err != nil {
		return err
	}
	if out.Annotate, err = sec.GetBool("annotate", out.Annotate); err != nil {
		return err
	}
	return nil
}

func (o *Options) loadLogging(sec *Section) error {
	if sec == nil {
		return nil
	}
	l := &o.Logging

	var err error
	if l.Level, err = sec.GetChoice("level",
		[]string{"debug", "info", "warn", "error"}, l.Level); err != nil {
		return err
	}
	if l.Format, err = sec.GetChoice("format",
		[]string{"text", "json"}, l.Format); err != nil {
		return err
	}
	if l.File, err = sec.Get("file", l.File); err != nil {
		return err
	}
	one := 1
	if l.MaxSize, err = sec.GetIntWithBounds("max_size", &one, nil, l.MaxSize); err != nil {
		return err
	}
	if l.MaxBackups, err = sec.GetIntWithBounds("max_backups", &one, nil, l.MaxBackups); err != nil {
		return err
	}
	if l.Compress, err = sec.GetBool("compress", l.Compress); err != nil {
		return err
	}
	if l.ReportCaller, err = sec.GetBool("report_caller", l.ReportCaller); err != nil {
		return err
	}
	return nil
}

func (o *Options) loadMetrics(sec *Section) error {
	if sec == nil {
		return nil
	}
	m := &o.Metrics

	var err error
	if m.Enabled, err = sec.GetBool("enabled", m.Enabled); err != nil {
		return err
	}
	if m.Listen, err = sec.Get("listen", m.Listen); err != nil {
		return err
	}
	if m.Username, err = sec.Get("username", m.Username); err != nil {
		return err
	}
	if m.Password, err = sec.Get("password", m.Password); err != nil {
		return err
	}
	return nil
}

func (o *Options) loadMonitor(sec *Section) error {
	if sec == nil {
		return nil
	}
	m := &o.Monitor

	var err error
	if m.Enabled, err = sec.GetBool("enabled", m.Enabled); err != nil {
		return err
	}
	if m.Listen, err = sec.Get("listen", m.Listen); err != nil {
		return err
	}
	if m.UpdateInterval, err = sec.GetFloatWithBounds("update_interval",
		FloatBounds{Above: fptr(0)}, m.UpdateInterval); err != nil {
		return err
	}
	return nil
}

func fptr(v float64) *float64 {
	return &v
}
