// Package metrics holds the process metrics registry and its Prometheus text
// exposition.
//
// A Registry is created once at startup and handed to every component that
// records or exports metrics. Counters and histograms are keyed by name; asking
// for an existing name returns the already registered metric.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/rs/zerolog"
)

// ContentType is the media type of the text exposition format served by Handler.
const ContentType = "text/plain; version=" + expfmt.TextVersion + "; charset=utf-8"

// DefaultBuckets are the latency bucket upper bounds in seconds used when a
// histogram is created without explicit buckets.
var DefaultBuckets = prometheus.DefBuckets

// Registry owns every counter and histogram of the process and renders them
// for scrapers. Create one with NewRegistry and share it.
type Registry struct {
	reg    *prometheus.Registry
	logger *zerolog.Logger

	mu         sync.Mutex
	counters   map[string]*Counter
	histograms map[string]*Histogram
}

// Option configures a Registry at construction.
type Option func(*Registry)

// WithRuntimeCollectors adds the Go runtime and process collectors. Their values
// change between scrapes, so Export is no longer stable across calls.
func WithRuntimeCollectors() Option {
	return func(r *Registry) {
		r.reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
}

// WithLogger sets the logger used to report exposition errors.
func WithLogger(logger *zerolog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry returns an empty registry with no runtime collectors unless
// WithRuntimeCollectors is given.
func NewRegistry(opts ...Option) *Registry {
	nop := zerolog.Nop()
	r := &Registry{
		reg:        prometheus.NewRegistry(),
		logger:     &nop,
		counters:   make(map[string]*Counter),
		histograms: make(map[string]*Histogram),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Counter returns the counter registered under name, creating it on first use.
// Requesting an existing name with different label names panics.
func (r *Registry) Counter(name, help string, labelNames ...string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.counters[name]; ok {
		mustMatchLabels(name, c.labelNames, labelNames)
		return c
	}
	if _, ok := r.histograms[name]; ok {
		panic(fmt.Sprintf("metrics: %q is already registered as a histogram", name))
	}

	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: name,
		Help: helpOrName(help, name),
	}, labelNames)
	r.reg.MustRegister(vec)

	c := &Counter{name: name, labelNames: slices.Clone(labelNames), vec: vec}
	r.counters[name] = c
	return c
}

// Histogram returns the histogram registered under name, creating it on first
// use. Empty buckets mean DefaultBuckets. Requesting an existing name with
// different label names panics; buckets of an existing histogram are kept.
func (r *Registry) Histogram(name, help string, buckets []float64, labelNames ...string) *Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.histograms[name]; ok {
		mustMatchLabels(name, h.labelNames, labelNames)
		return h
	}
	if _, ok := r.counters[name]; ok {
		panic(fmt.Sprintf("metrics: %q is already registered as a counter", name))
	}

	if len(buckets) == 0 {
		buckets = DefaultBuckets
	}

	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    name,
		Help:    helpOrName(help, name),
		Buckets: slices.Clone(buckets),
	}, labelNames)
	r.reg.MustRegister(vec)

	h := &Histogram{name: name, labelNames: slices.Clone(labelNames), vec: vec}
	r.histograms[name] = h
	return h
}

// Increment adds one to c for the given label values.
func (r *Registry) Increment(c *Counter, labelValues ...string) {
	c.Inc(labelValues...)
}

// Observe records value into h for the given label values.
func (r *Registry) Observe(h *Histogram, value float64, labelValues ...string) {
	h.Observe(value, labelValues...)
}

// Export renders every registered metric in the text exposition format. Output
// is sorted by metric name and then by label values, so two calls with no
// recording in between return the same text.
func (r *Registry) Export() string {
	var sb strings.Builder
	if _, err := r.WriteTo(&sb); err != nil {
		r.logger.Error().Err(err).Msg("export metrics")
	}
	return sb.String()
}

// WriteTo streams the exposition to w. Families that gathered cleanly are
// written even when Gather reports an error.
func (r *Registry) WriteTo(w io.Writer) (int64, error) {
	families, gatherErr := r.reg.Gather()

	var total int64
	for _, mf := range families {
		n, err := expfmt.MetricFamilyToText(w, mf)
		total += int64(n)
		if err != nil {
			return total, fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}
	if gatherErr != nil {
		return total, fmt.Errorf("gather metrics: %w", gatherErr)
	}
	return total, nil
}

// Handler serves Export for scrapers.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		body := r.Export()
		w.Header().Set("Content-Type", ContentType)
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, body)
	})
}

// Gatherer exposes the underlying registry, e.g. for promhttp or testutil.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Counter is a labeled, monotonically increasing metric.
type Counter struct {
	name       string
	labelNames []string
	vec        *prometheus.CounterVec
}

func (c *Counter) Name() string { return c.name }

func (c *Counter) Inc(labelValues ...string) {
	c.vec.WithLabelValues(validLabelValues(labelValues)...).Inc()
}

// Value returns the current count for one label tuple, zero if it was never
// incremented. Reading does not create the tuple.
func (c *Counter) Value(labelValues ...string) float64 {
	for _, m := range collect(c.vec) {
		if labelsMatch(m, c.labelNames, labelValues) {
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

// Total sums the counter across all label tuples.
func (c *Counter) Total() float64 {
	var sum float64
	for _, m := range collect(c.vec) {
		sum += m.GetCounter().GetValue()
	}
	return sum
}

// Histogram is a labeled distribution with cumulative buckets.
type Histogram struct {
	name       string
	labelNames []string
	vec        *prometheus.HistogramVec
}

func (h *Histogram) Name() string { return h.name }

func (h *Histogram) Observe(value float64, labelValues ...string) {
	h.vec.WithLabelValues(validLabelValues(labelValues)...).Observe(value)
}

// SampleCount returns the number of observations for one label tuple.
func (h *Histogram) SampleCount(labelValues ...string) uint64 {
	for _, m := range collect(h.vec) {
		if labelsMatch(m, h.labelNames, labelValues) {
			return m.GetHistogram().GetSampleCount()
		}
	}
	return 0
}

// SampleSum returns the sum of observations for one label tuple.
func (h *Histogram) SampleSum(labelValues ...string) float64 {
	for _, m := range collect(h.vec) {
		if labelsMatch(m, h.labelNames, labelValues) {
			return m.GetHistogram().GetSampleSum()
		}
	}
	return 0
}

func collect(c prometheus.Collector) []*dto.Metric {
	ch := make(chan prometheus.Metric)
	go func() {
		c.Collect(ch)
		close(ch)
	}()

	var out []*dto.Metric
	for metric := range ch {
		m := &dto.Metric{}
		if err := metric.Write(m); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out
}

func labelsMatch(m *dto.Metric, names, values []string) bool {
	values = validLabelValues(values)
	if len(names) != len(values) || len(m.GetLabel()) != len(names) {
		return false
	}
	got := make(map[string]string, len(m.GetLabel()))
	for _, lp := range m.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for i, name := range names {
		if v, ok := got[name]; !ok || v != values[i] {
			return false
		}
	}
	return true
}

// validLabelValues replaces invalid UTF-8 sequences with U+FFFD, which the
// exposition format requires. Valid values are returned unchanged.
func validLabelValues(values []string) []string {
	for i, v := range values {
		if utf8.ValidString(v) {
			continue
		}
		fixed := slices.Clone(values)
		for j := i; j < len(fixed); j++ {
			fixed[j] = strings.ToValidUTF8(fixed[j], "\uFFFD")
		}
		return fixed
	}
	return values
}

func mustMatchLabels(name string, have, want []string) {
	if !slices.Equal(have, want) {
		panic(fmt.Sprintf("metrics: %q registered with labels %v, requested with %v", name, have, want))
	}
}

func helpOrName(help, name string) string {
	if help == "" {
		return name
	}
	return help
}
