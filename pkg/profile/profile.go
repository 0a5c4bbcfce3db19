// Package profile loads named wipe presets from YAML files. A preset
// bundles the wipe geometry for one material or printer so users can
// switch between them without editing the main config.
package profile

import (
	"bytes"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/zipper177/Octolapse/pkg/config"
)

// Profile is one named wipe preset. Lengths are in millimeters,
// feedrates in millimeters per minute. The geometry fields are
// required; use_full_wipe is optional and defaults to the main config
// value when omitted.
type Profile struct {
	Description string `yaml:"description,omitempty"`

	RetractionLength         float64 `yaml:"retraction_length"`
	RetractBeforeWipePercent float64 `yaml:"retract_before_wipe_percent"`
	RetractAfterWipePercent  float64 `yaml:"retract_after_wipe_percent"`
	RetractionFeedrate       float64 `yaml:"retraction_feedrate"`
	WipeFeedrate             float64 `yaml:"wipe_feedrate"`
	XYTravelSpeed            float64 `yaml:"x_y_travel_speed"`

	UseFullWipe *bool `yaml:"use_full_wipe,omitempty"`
}

// File is a parsed profiles file.
type File struct {
	Profiles map[string]Profile `yaml:"profiles"`
}

// Load reads and parses a profiles file. Unknown fields are rejected to
// catch typos, and only a single YAML document is allowed.
func Load(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profiles file: %w", err)
	}
	return Parse(b)
}

// Parse parses profiles from YAML bytes.
func Parse(b []byte) (*File, error) {
	var f File

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode profiles yaml: %w", err)
	}
	// Only whitespace and comments may follow the document.
	if err := dec.Decode(&struct{}{}); err == nil {
		return nil, fmt.Errorf("decode profiles yaml: unexpected trailing document")
	}

	if len(f.Profiles) == 0 {
		return nil, fmt.Errorf("profiles file defines no profiles")
	}
	for name, p := range f.Profiles {
		if err := p.validate(name); err != nil {
			return nil, err
		}
	}

	return &f, nil
}

// Names returns the profile names in sorted order.
func (f *File) Names() []string {
	names := make([]string, 0, len(f.Profiles))
	for name := range f.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns the named profile.
func (f *File) Get(name string) (Profile, error) {
	p, ok := f.Profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("profile %q not found (available: %v)", name, f.Names())
	}
	return p, nil
}

// validate checks one profile's invariants and returns a user-friendly
// error naming the offending field.
func (p Profile) validate(name string) error {
	if p.RetractionLength <= 0 {
		return fmt.Errorf("profiles.%s.retraction_length must be > 0", name)
	}
	if p.RetractionFeedrate <= 0 {
		return fmt.Errorf("profiles.%s.retraction_feedrate must be > 0", name)
	}
	if p.WipeFeedrate <= 0 {
		return fmt.Errorf("profiles.%s.wipe_feedrate must be > 0", name)
	}
	if p.XYTravelSpeed <= 0 {
		return fmt.Errorf("profiles.%s.x_y_travel_speed must be > 0", name)
	}
	// Percents outside [0, 1] are tolerated by the engine, which clamps
	// negatives and rescales oversized sums; no bounds here.
	return nil
}

// Apply overlays the preset's wipe geometry onto the given options.
// Interpreter flags in the options are left alone.
func (p Profile) Apply(opts *config.WiperOptions) {
	opts.RetractionLength = p.RetractionLength
	opts.RetractBeforeWipePercent = p.RetractBeforeWipePercent
	opts.RetractAfterWipePercent = p.RetractAfterWipePercent
	opts.RetractionFeedrate = p.RetractionFeedrate
	opts.WipeFeedrate = p.WipeFeedrate
	opts.XYTravelSpeed = p.XYTravelSpeed
	if p.UseFullWipe != nil {
		opts.UseFullWipe = *p.UseFullWipe
	}
}
