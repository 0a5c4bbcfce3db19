// Prometheus-style metrics primitives for the wipe preprocessor.
//
// Three metric kinds are provided. Counters only go up, gauges move
// both ways, histograms bucket observations. Every kind supports an
// optional label set per series and renders itself in the Prometheus
// text exposition format.
//
// Copyright (C) 2026  Octolapse Go Port
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MetricType identifies the metric kind for the TYPE exposition line.
type MetricType int

const (
	TypeCounter MetricType = iota
	TypeGauge
	TypeHistogram
)

var typeNames = [...]string{"counter", "gauge", "histogram"}

func (t MetricType) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return "unknown"
	}
	return typeNames[t]
}

// Labels attaches dimension values to a metric series. A nil map and
// an empty map address the same unlabeled series.
type Labels map[string]string

// Key returns a canonical series key, stable across map iteration order.
func (l Labels) Key() string {
	if len(l) == 0 {
		return ""
	}
	names := make([]string, 0, len(l))
	for name := range l {
		names = append(names, name)
	}
	sort.Strings(names)
	var sb strings.Builder
	for i, name := range names {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(name)
		sb.WriteByte('=')
		sb.WriteString(l[name])
	}
	return sb.String()
}

// String renders the labels the way they appear in exposition output.
func (l Labels) String() string {
	return "{" + l.pairs() + "}"
}

// Clone returns an independent copy. Cloning an empty set yields nil.
func (l Labels) Clone() Labels {
	if len(l) == 0 {
		return nil
	}
	out := make(Labels, len(l))
	for k, v := range l {
		out[k] = v
	}
	return out
}

// labelEscaper covers the characters the text format requires escaping
// in label values.
var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

// pairs renders sorted, escaped name="value" pairs without braces.
func (l Labels) pairs() string {
	if len(l) == 0 {
		return ""
	}
	names := make([]string, 0, len(l))
	for name := range l {
		names = append(names, name)
	}
	sort.Strings(names)
	var sb strings.Builder
	for i, name := range names {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(name)
		sb.WriteString(`="`)
		sb.WriteString(labelEscaper.Replace(l[name]))
		sb.WriteByte('"')
	}
	return sb.String()
}

// suffix renders the label block for a sample line, empty for the
// unlabeled series.
func (l Labels) suffix() string {
	p := l.pairs()
	if p == "" {
		return ""
	}
	return "{" + p + "}"
}

// bucketSuffix renders the label block for a histogram bucket line
// with the le bound appended after the series labels.
func (l Labels) bucketSuffix(le string) string {
	p := l.pairs()
	if p == "" {
		return `{le="` + le + `"}`
	}
	return "{" + p + `,le="` + le + `"}`
}

// Metric is implemented by every metric kind. Write appends the HELP
// and TYPE header plus one line per series to the builder.
type Metric interface {
	Name() string
	Help() string
	Type() MetricType
	Write(sb *strings.Builder)
}

func writeHeader(sb *strings.Builder, name, help string, t MetricType) {
	fmt.Fprintf(sb, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, t)
}

// formatValue renders a float sample the way Prometheus expects,
// shortest representation, "+Inf" for the infinite bound.
func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Counter is a monotonically increasing metric. Each label set gets
// its own independently counted series.
type Counter struct {
	name   string
	help   string
	mu     sync.RWMutex
	series map[string]*counterSeries
}

type counterSeries struct {
	labels Labels
	n      atomic.Uint64
}

// NewCounter creates a counter metric.
func NewCounter(name, help string) *Counter {
	return &Counter{name: name, help: help, series: make(map[string]*counterSeries)}
}

func (c *Counter) Name() string     { return c.name }
func (c *Counter) Help() string     { return c.help }
func (c *Counter) Type() MetricType { return TypeCounter }

// Inc adds 1 to the series for labels.
func (c *Counter) Inc(labels Labels) {
	c.Add(labels, 1)
}

// Add adds delta to the series for labels, creating it on first use.
func (c *Counter) Add(labels Labels, delta uint64) {
	c.fetch(labels).n.Add(delta)
}

// Get reports the series value, 0 when the series was never touched.
func (c *Counter) Get(labels Labels) uint64 {
	c.mu.RLock()
	s := c.series[labels.Key()]
	c.mu.RUnlock()
	if s == nil {
		return 0
	}
	return s.n.Load()
}

func (c *Counter) fetch(labels Labels) *counterSeries {
	key := labels.Key()
	c.mu.RLock()
	s := c.series[key]
	c.mu.RUnlock()
	if s != nil {
		return s
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if s = c.series[key]; s == nil {
		if c.series == nil {
			c.series = make(map[string]*counterSeries)
		}
		s = &counterSeries{labels: labels.Clone()}
		c.series[key] = s
	}
	return s
}

func (c *Counter) Write(sb *strings.Builder) {
	writeHeader(sb, c.name, c.help, TypeCounter)
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.series))
	for k := range c.series {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		s := c.series[key]
		fmt.Fprintf(sb, "%s%s %d\n", c.name, s.labels.suffix(), s.n.Load())
	}
}

// Gauge is a metric that moves in both directions.
type Gauge struct {
	name   string
	help   string
	mu     sync.RWMutex
	series map[string]*gaugeSeries
}

// gaugeSeries keeps the value as raw float bits so reads and writes
// stay atomic without a per-series lock.
type gaugeSeries struct {
	labels Labels
	bits   atomic.Uint64
}

func (s *gaugeSeries) load() float64 {
	return math.Float64frombits(s.bits.Load())
}

func (s *gaugeSeries) store(v float64) {
	s.bits.Store(math.Float64bits(v))
}

func (s *gaugeSeries) add(delta float64) {
	for {
		old := s.bits.Load()
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if s.bits.CompareAndSwap(old, next) {
			return
		}
	}
}

// NewGauge creates a gauge metric.
func NewGauge(name, help string) *Gauge {
	return &Gauge{name: name, help: help, series: make(map[string]*gaugeSeries)}
}

func (g *Gauge) Name() string     { return g.name }
func (g *Gauge) Help() string     { return g.help }
func (g *Gauge) Type() MetricType { return TypeGauge }

// Set replaces the series value.
func (g *Gauge) Set(labels Labels, value float64) {
	g.fetch(labels).store(value)
}

// Inc adds 1 to the series value.
func (g *Gauge) Inc(labels Labels) {
	g.Add(labels, 1)
}

// Dec subtracts 1 from the series value.
func (g *Gauge) Dec(labels Labels) {
	g.Add(labels, -1)
}

// Add shifts the series value by delta.
func (g *Gauge) Add(labels Labels, delta float64) {
	g.fetch(labels).add(delta)
}

// Get reports the series value, 0 when the series was never touched.
func (g *Gauge) Get(labels Labels) float64 {
	g.mu.RLock()
	s := g.series[labels.Key()]
	g.mu.RUnlock()
	if s == nil {
		return 0
	}
	return s.load()
}

func (g *Gauge) fetch(labels Labels) *gaugeSeries {
	key := labels.Key()
	g.mu.RLock()
	s := g.series[key]
	g.mu.RUnlock()
	if s != nil {
		return s
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if s = g.series[key]; s == nil {
		if g.series == nil {
			g.series = make(map[string]*gaugeSeries)
		}
		s = &gaugeSeries{labels: labels.Clone()}
		g.series[key] = s
	}
	return s
}

func (g *Gauge) Write(sb *strings.Builder) {
	writeHeader(sb, g.name, g.help, TypeGauge)
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, key := range sortedSeriesKeys(len(g.series), func(f func(string)) {
		for k := range g.series {
			f(k)
		}
	}) {
		s := g.series[key]
		fmt.Fprintf(sb, "%s%s %s\n", g.name, s.labels.suffix(), formatValue(s.load()))
	}
}

// Histogram buckets observed values by upper bound. Bucket slots hold
// per-bound counts; cumulative totals are computed at render time.
type Histogram struct {
	name   string
	help   string
	bounds []float64
	mu     sync.RWMutex
	series map[string]*histogramSeries
}

type histogramSeries struct {
	labels Labels
	mu     sync.Mutex
	slots  []uint64
	sum    float64
	count  uint64
}

// NewHistogram creates a histogram with the given bucket upper bounds.
// Bounds are sorted; the +Inf bucket is implicit.
func NewHistogram(name, help string, buckets []float64) *Histogram {
	bounds := make([]float64, len(buckets))
	copy(bounds, buckets)
	sort.Float64s(bounds)
	return &Histogram{
		name:   name,
		help:   help,
		bounds: bounds,
		series: make(map[string]*histogramSeries),
	}
}

func (h *Histogram) Name() string     { return h.name }
func (h *Histogram) Help() string     { return h.help }
func (h *Histogram) Type() MetricType { return TypeHistogram }

// Observe records one value.
func (h *Histogram) Observe(labels Labels, value float64) {
	s := h.fetch(labels)
	idx := sort.SearchFloat64s(h.bounds, value)
	s.mu.Lock()
	if idx < len(s.slots) {
		s.slots[idx]++
	}
	s.sum += value
	s.count++
	s.mu.Unlock()
}

// Timer starts a clock and returns a function that records the elapsed
// seconds when called. Intended for defer.
func (h *Histogram) Timer(labels Labels) func() {
	start := time.Now()
	return func() {
		h.Observe(labels, time.Since(start).Seconds())
	}
}

func (h *Histogram) fetch(labels Labels) *histogramSeries {
	key := labels.Key()
	h.mu.RLock()
	s := h.series[key]
	h.mu.RUnlock()
	if s != nil {
		return s
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if s = h.series[key]; s == nil {
		if h.series == nil {
			h.series = make(map[string]*histogramSeries)
		}
		s = &histogramSeries{labels: labels.Clone(), slots: make([]uint64, len(h.bounds))}
		h.series[key] = s
	}
	return s
}

func (h *Histogram) Write(sb *strings.Builder) {
	writeHeader(sb, h.name, h.help, TypeHistogram)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, key := range sortedSeriesKeys(len(h.series), func(f func(string)) {
		for k := range h.series {
			f(k)
		}
	}) {
		s := h.series[key]
		s.mu.Lock()
		slots := make([]uint64, len(s.slots))
		copy(slots, s.slots)
		sum, count := s.sum, s.count
		s.mu.Unlock()

		var cum uint64
		for i, bound := range h.bounds {
			cum += slots[i]
			fmt.Fprintf(sb, "%s_bucket%s %d\n", h.name, s.labels.bucketSuffix(formatValue(bound)), cum)
		}
		fmt.Fprintf(sb, "%s_bucket%s %d\n", h.name, s.labels.bucketSuffix("+Inf"), count)
		fmt.Fprintf(sb, "%s_sum%s %s\n", h.name, s.labels.suffix(), formatValue(sum))
		fmt.Fprintf(sb, "%s_count%s %d\n", h.name, s.labels.suffix(), count)
	}
}

// HistogramSnapshot is a point-in-time view of one histogram series.
// Buckets maps each upper bound to its cumulative count.
type HistogramSnapshot struct {
	Count   uint64
	Sum     float64
	Buckets map[float64]uint64
}

// GetSnapshot captures the series for labels. An untouched series
// yields a zero snapshot with an empty bucket map.
func (h *Histogram) GetSnapshot(labels Labels) HistogramSnapshot {
	h.mu.RLock()
	s := h.series[labels.Key()]
	h.mu.RUnlock()
	if s == nil {
		return HistogramSnapshot{Buckets: make(map[float64]uint64)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	snap := HistogramSnapshot{
		Count:   s.count,
		Sum:     s.sum,
		Buckets: make(map[float64]uint64, len(h.bounds)),
	}
	var cum uint64
	for i, bound := range h.bounds {
		cum += s.slots[i]
		snap.Buckets[bound] = cum
	}
	return snap
}

// DefaultBuckets returns bounds suited to sub-second latencies.
func DefaultBuckets() []float64 {
	return []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
}

// LinearBuckets returns count bounds spaced width apart from start.
func LinearBuckets(start, width float64, count int) []float64 {
	bounds := make([]float64, count)
	for i := range bounds {
		bounds[i] = start + float64(i)*width
	}
	return bounds
}

// ExponentialBuckets returns count bounds growing by factor from start.
func ExponentialBuckets(start, factor float64, count int) []float64 {
	bounds := make([]float64, count)
	v := start
	for i := range bounds {
		bounds[i] = v
		v *= factor
	}
	return bounds
}

// sortedSeriesKeys collects keys from a map iteration callback and
// sorts them so exposition output is stable between scrapes.
func sortedSeriesKeys(n int, each func(func(string))) []string {
	keys := make([]string, 0, n)
	each(func(k string) { keys = append(keys, k) })
	sort.Strings(keys)
	return keys
}

// Registry holds named metrics and renders them in registration order.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Metric
	names   []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Metric)}
}

// Register adds a metric. Names must be unique within a registry.
func (r *Registry) Register(m Metric) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := m.Name()
	if _, dup := r.entries[name]; dup {
		return fmt.Errorf("metric %q already registered", name)
	}
	r.entries[name] = m
	r.names = append(r.names, name)
	return nil
}

// MustRegister adds a metric and panics on a duplicate name.
func (r *Registry) MustRegister(m Metric) {
	if err := r.Register(m); err != nil {
		panic(err)
	}
}

// Get returns the metric registered under name, nil when absent.
func (r *Registry) Get(name string) Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[name]
}

// Gather renders every registered metric in Prometheus text format.
func (r *Registry) Gather() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var sb strings.Builder
	for _, name := range r.names {
		r.entries[name].Write(&sb)
	}
	return sb.String()
}
