package config

import (
	"testing"
)

func TestDefaultOptions(t *testing.T) {
	o := DefaultOptions()

	if !o.Wiper.Enabled {
		t.Error("expected wiping enabled by default")
	}
	if o.Wiper.RetractionLength != 2.0 {
		t.Errorf("expected default retraction length 2.0, got %v", o.Wiper.RetractionLength)
	}
	if !o.Wiper.UseFullWipe {
		t.Error("expected full wipe by default")
	}
	if o.Wiper.MinimumHistory != 1 {
		t.Errorf("expected default minimum history 1, got %v", o.Wiper.MinimumHistory)
	}
	if o.Output.Suffix != "_wiped" {
		t.Errorf("expected default suffix '_wiped', got %q", o.Output.Suffix)
	}
	if o.Logging.Level != "info" {
		t.Errorf("expected default level 'info', got %q", o.Logging.Level)
	}
	if o.Metrics.Enabled || o.Monitor.Enabled {
		t.Error("expected metrics and monitor disabled by default")
	}
}

func TestLoadOptionsEmptyConfig(t *testing.T) {
	cfg, err := LoadString("")
	if err != nil {
		t.Fatalf("LoadString failed: %v", err)
	}

	o, err := LoadOptions(cfg)
	if err != nil {
		t.Fatalf("LoadOptions failed: %v", err)
	}

	want := DefaultOptions()
	if *o != *want {
		t.Errorf("expected defaults for an empty config, got %+v", o)
	}
}

func TestLoadOptionsFull(t *testing.T) {
	data := `
[wiper]
enabled: false
retraction_length: 1.5
retract_before_wipe_percent: 0.1
retract_after_wipe_percent: 0.3
retraction_feedrate: 2100
wipe_feedrate: 4200
x_y_travel_speed: 9000
use_full_wipe: false
minimum_history: 3
g90_influences_extruder: true
replace_firmware_retracts: true

[output]
suffix: _clean
overwrite: true
annotate: true

[logging]
level: debug
format: json
file: /tmp/octowipe.log
max_size: 20
max_backups: 3
compress: true
report_caller: true

[metrics]
enabled: true
listen: 0.0.0.0:9100
username: prom
password: secret

[monitor]
enabled: true
listen: 0.0.0.0:7125
update_interval: 0.5
`

	cfg, err := LoadString(data)
	if err != nil {
		t.Fatalf("LoadString failed: %v", err)
	}

	o, err := LoadOptions(cfg)
	if err != nil {
		t.Fatalf("LoadOptions failed: %v", err)
	}

	w := o.Wiper
	if w.Enabled {
		t.Error("expected wiping disabled")
	}
	if w.RetractionLength != 1.5 || w.RetractBeforeWipePercent != 0.1 || w.RetractAfterWipePercent != 0.3 {
		t.Errorf("unexpected wipe geometry: %+v", w)
	}
	if w.RetractionFeedrate != 2100 || w.WipeFeedrate != 4200 || w.XYTravelSpeed != 9000 {
		t.Errorf("unexpected feedrates: %+v", w)
	}
	if w.UseFullWipe {
		t.Error("expected half wipe")
	}
	if w.MinimumHistory != 3 {
		t.Errorf("expected minimum history 3, got %v", w.MinimumHistory)
	}
	if !w.G90InfluencesExtruder || !w.ReplaceFirmwareRetracts {
		t.Error("expected interpreter flags enabled")
	}

	if o.Output.Suffix != "_clean" || !o.Output.Overwrite || !o.Output.Annotate {
		t.Errorf("unexpected output options: %+v", o.Output)
	}

	l := o.Logging
	if l.Level != "debug" || l.Format != "json" || l.File != "/tmp/octowipe.log" {
		t.Errorf("unexpected logging options: %+v", l)
	}
	if l.MaxSize != 20 || l.MaxBackups != 3 || !l.Compress || !l.ReportCaller {
		t.Errorf("unexpected rotation options: %+v", l)
	}

	if !o.Metrics.Enabled || o.Metrics.Listen != "0.0.0.0:9100" {
		t.Errorf("unexpected metrics options: %+v", o.Metrics)
	}
	if o.Metrics.Username != "prom" || o.Metrics.Password != "secret" {
		t.Errorf("unexpected metrics auth options: %+v", o.Metrics)
	}
	if !o.Monitor.Enabled || o.Monitor.Listen != "0.0.0.0:7125" || o.Monitor.UpdateInterval != 0.5 {
		t.Errorf("unexpected monitor options: %+v", o.Monitor)
	}

	// Everything above was consumed; nothing should be left over.
	if unused := cfg.UnusedOptions(); len(unused) != 0 {
		t.Errorf("expected no unused options, got %v", unused)
	}
	if unused := cfg.GetUnusedSections(); len(unused) != 0 {
		t.Errorf("expected no unused sections, got %v", unused)
	}
}

func TestLoadOptionsValidation(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{
			name: "negative retraction length",
			data: "[wiper]\nretraction_length: -1\n",
		},
		{
			name: "zero wipe feedrate",
			data: "[wiper]\nwipe_feedrate: 0\n",
		},
		{
			name: "bad boolean",
			data: "[wiper]\nuse_full_wipe: maybe\n",
		},
		{
			name: "bad log level",
			data: "[logging]\nlevel: verbose\n",
		},
		{
			name: "bad log format",
			data: "[logging]\nformat: xml\n",
		},
		{
			name: "zero rotation size",
			data: "[logging]\nmax_size: 0\n",
		},
		{
			name: "zero minimum history",
			data: "[wiper]\nminimum_history: 0\n",
		},
		{
			name: "zero update interval",
			data: "[monitor]\nupdate_interval: 0\n",
		},
		{
			name: "unparsable float",
			data: "[wiper]\nretraction_length: two\n",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := LoadString(tc.data)
			if err != nil {
				t.Fatalf("LoadString failed: %v", err)
			}
			if _, err := LoadOptions(cfg); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadOptionsReportsTypos(t *testing.T) {
	data := `
[wiper]
retraction_length: 2.0
retraction_lenght: 3.0

[wiperr]
retraction_length: 4.0
`

	cfg, err := LoadString(data)
	if err != nil {
		t.Fatalf("LoadString failed: %v", err)
	}
	if _, err := LoadOptions(cfg); err != nil {
		t.Fatalf("LoadOptions failed: %v", err)
	}

	unused := cfg.UnusedOptions()
	if got := unused["wiper"]; len(got) != 1 || got[0] != "retraction_lenght" {
		t.Errorf("expected the misspelled option to be flagged, got %v", unused)
	}

	sections := cfg.GetUnusedSections()
	if len(sections) != 1 || sections[0] != "wiperr" {
		t.Errorf("expected the misspelled section to be flagged, got %v", sections)
	}
}
