package observability

import (
	"errors"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace prefixes every metric created by a PrometheusFactory.
const DefaultNamespace = "xraph"

// PrometheusFactory is a MetricFactory backed by client_golang. Dotted
// metric names are flattened to underscores; counters get a _total suffix.
// Asking for the same name twice returns the same collector, also across
// factories sharing a registerer.
type PrometheusFactory struct {
	namespace  string
	registerer prometheus.Registerer
	buckets    []float64

	mu         sync.Mutex
	counters   map[string]prometheus.Counter
	histograms map[string]prometheus.Histogram
}

// PrometheusOption configures a PrometheusFactory.
type PrometheusOption func(*PrometheusFactory)

// WithNamespace overrides DefaultNamespace.
func WithNamespace(ns string) PrometheusOption {
	return func(f *PrometheusFactory) { f.namespace = ns }
}

// WithRegisterer registers collectors somewhere other than the default registry.
func WithRegisterer(r prometheus.Registerer) PrometheusOption {
	return func(f *PrometheusFactory) { f.registerer = r }
}

// WithBuckets sets histogram buckets. Amounts are base units, so the default
// is exponential from 1 to 10^12.
func WithBuckets(b []float64) PrometheusOption {
	return func(f *PrometheusFactory) { f.buckets = b }
}

// NewPrometheusFactory returns a factory registering on prometheus.DefaultRegisterer.
func NewPrometheusFactory(opts ...PrometheusOption) *PrometheusFactory {
	f := &PrometheusFactory{
		namespace:  DefaultNamespace,
		registerer: prometheus.DefaultRegisterer,
		buckets:    prometheus.ExponentialBuckets(1, 10, 13),
		counters:   make(map[string]prometheus.Counter),
		histograms: make(map[string]prometheus.Histogram),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Counter implements MetricFactory.
func (f *PrometheusFactory) Counter(name string) Counter {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.counters[name]; ok {
		return c
	}
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: f.namespace,
		Name:      metricName(name) + "_total",
		Help:      "Count of " + name + " events.",
	})
	c = register(f.registerer, c)
	f.counters[name] = c
	return c
}

// Histogram implements MetricFactory.
func (f *PrometheusFactory) Histogram(name string) Histogram {
	f.mu.Lock()
	defer f.mu.Unlock()
	if h, ok := f.histograms[name]; ok {
		return h
	}
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: f.namespace,
		Name:      metricName(name),
		Help:      "Distribution of " + name + ".",
		Buckets:   f.buckets,
	})
	h = register(f.registerer, h)
	f.histograms[name] = h
	return h
}

// register adds c to r, returning the collector already registered under the
// same descriptor when another factory got there first.
func register[C prometheus.Collector](r prometheus.Registerer, c C) C {
	err := r.Register(c)
	if err == nil {
		return c
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing
		}
	}
	panic(err)
}

func metricName(name string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(name)
}
