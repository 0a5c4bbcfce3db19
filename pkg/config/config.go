package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Config provides access to a parsed configuration file. Section and
// option reads are tracked so unknown leftovers, usually typos, can be
// reported after startup.
type Config struct {
	mu       sync.Mutex
	sections map[string]*Section
	order    []string // preserves file order

	accessedSections map[string]struct{}
}

// New creates a new empty Config.
func New() *Config {
	return &Config{
		sections:         make(map[string]*Section),
		accessedSections: make(map[string]struct{}),
	}
}

// Load reads a configuration file. [include path] directives pull in
// other files relative to the including file; glob patterns are allowed
// and expand in sorted order.
func Load(path string) (*Config, error) {
	c := New()
	visited := make(map[string]bool)
	if err := c.parseFile(path, visited); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadString parses a configuration from a string. Include directives
// are not available without a base directory and return an error.
func LoadString(data string) (*Config, error) {
	c := New()
	if err := c.parseLines(strings.Split(data, "\n"), "", "", nil); err != nil {
		return nil, err
	}
	return c, nil
}

// parseFile parses one file, following includes through visited to
// reject cycles.
func (c *Config) parseFile(path string, visited map[string]bool) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config: invalid path %s: %w", path, err)
	}
	if visited[abs] {
		return fmt.Errorf("config: recursive include: %s", path)
	}
	visited[abs] = true
	defer func() { visited[abs] = false }()

	f, err := os.Open(abs)
	if err != nil {
		return fmt.Errorf("config: unable to open %s: %w", path, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("config: error reading %s: %w", path, err)
	}

	return c.parseLines(lines, path, filepath.Dir(abs), visited)
}

// parseLines runs the actual INI parse. source names the file for error
// messages; includeDir is empty when includes are not allowed.
func (c *Config) parseLines(lines []string, source, includeDir string, visited map[string]bool) error {
	var currentSection string
	var currentOptions map[string]string

	flush := func() {
		if currentSection != "" {
			c.addSection(currentSection, currentOptions)
		}
	}

	for i, rawLine := range lines {
		lineNum := i + 1
		line := stripComment(rawLine)
		if line == "" {
			continue
		}

		// Section header.
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			flush()
			currentSection = ""
			currentOptions = nil

			header := strings.TrimSpace(line[1 : len(line)-1])
			if header == "" {
				return fmt.Errorf("config: empty section header at %s", lineRef(source, lineNum))
			}

			if spec, ok := strings.CutPrefix(header, "include "); ok {
				if includeDir == "" {
					return fmt.Errorf("config: include directive not allowed at %s", lineRef(source, lineNum))
				}
				spec = strings.TrimSpace(spec)
				if spec == "" {
					return fmt.Errorf("config: empty include at %s", lineRef(source, lineNum))
				}
				if err := c.include(filepath.Join(includeDir, spec), visited); err != nil {
					return err
				}
				continue
			}

			currentSection = header
			currentOptions = make(map[string]string)
			continue
		}

		// Options before the first section header have nowhere to go.
		if currentSection == "" {
			continue
		}

		key, value, ok := splitOption(line)
		if !ok || key == "" {
			continue
		}
		currentOptions[key] = value
	}

	flush()
	return nil
}

// include expands one include pattern and parses every match.
func (c *Config) include(pattern string, visited map[string]bool) error {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return fmt.Errorf("config: invalid include pattern %q: %w", pattern, err)
	}
	if len(matches) == 0 && !strings.ContainsAny(pattern, "*?[") {
		return fmt.Errorf("config: include file does not exist: %s", pattern)
	}
	sort.Strings(matches)
	for _, m := range matches {
		if err := c.parseFile(m, visited); err != nil {
			return err
		}
	}
	return nil
}

// stripComment removes a trailing ';' or '#' comment and surrounding
// whitespace.
func stripComment(line string) string {
	if idx := strings.IndexAny(line, ";#"); idx >= 0 {
		line = line[:idx]
	}
	return strings.TrimSpace(line)
}

// splitOption splits "key: value" or "key = value".
func splitOption(line string) (key, value string, ok bool) {
	idx := strings.IndexAny(line, ":=")
	if idx < 0 {
		return "", "", false
	}
	return strings.TrimSpace(line[:idx]), strings.TrimSpace(line[idx+1:]), true
}

// lineRef formats a line reference for error messages.
func lineRef(source string, lineNum int) string {
	if source == "" {
		return fmt.Sprintf("line %d", lineNum)
	}
	return fmt.Sprintf("line %d in %s", lineNum, source)
}

// addSection adds a section, merging options when the section already
// exists so later includes can override earlier values.
func (c *Config) addSection(name string, options map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.sections[name]; ok {
		for k, v := range options {
			existing.options[strings.ToLower(k)] = v
		}
		return
	}

	c.sections[name] = newSection(name, options)
	c.order = append(c.order, name)
}

// GetSection returns a Section by name, or an error when missing.
func (c *Config) GetSection(name string) (*Section, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sec, ok := c.sections[name]
	if !ok {
		return nil, ErrMissingSection(name)
	}
	c.accessedSections[name] = struct{}{}
	return sec, nil
}

// GetSectionOptional returns a Section if it exists, or nil.
func (c *Config) GetSectionOptional(name string) *Section {
	c.mu.Lock()
	defer c.mu.Unlock()

	sec, ok := c.sections[name]
	if ok {
		c.accessedSections[name] = struct{}{}
	}
	return sec
}

// HasSection checks if a section exists.
func (c *Config) HasSection(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.sections[name]
	return ok
}

// GetSections returns all sections in file order.
func (c *Config) GetSections() []*Section {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := make([]*Section, 0, len(c.sections))
	for _, name := range c.order {
		result = append(result, c.sections[name])
	}
	return result
}

// GetSectionNames returns all section names in file order.
func (c *Config) GetSectionNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := make([]string, len(c.order))
	copy(result, c.order)
	return result
}

// GetUnusedSections returns the sections never read through GetSection.
func (c *Config) GetUnusedSections() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var result []string
	for name := range c.sections {
		if _, ok := c.accessedSections[name]; !ok {
			result = append(result, name)
		}
	}
	sort.Strings(result)
	return result
}

// UnusedOptions collects, per section, the options that were present in
// the file but never read. The result maps section names to sorted
// option names and is empty when everything was consumed.
func (c *Config) UnusedOptions() map[string][]string {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := make(map[string][]string)
	for name, sec := range c.sections {
		unused := sec.GetUnusedOptions()
		if len(unused) > 0 {
			sort.Strings(unused)
			result[name] = unused
		}
	}
	return result
}

// Merge combines another Config into this one. Sections and options
// from other take precedence.
func (c *Config) Merge(other *Config) {
	for _, otherSec := range other.GetSections() {
		c.addSection(otherSec.GetName(), otherSec.RawOptions())
	}
}
