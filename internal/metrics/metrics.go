// Package metrics adapts Prometheus collectors for the controller's
// per-service /metrics endpoints. It is a trimmed generalization of
// pkg/metrics.Recorder: one registry, lazily-registered
// counters/gauges/histograms keyed by name, no per-domain globals — the
// controller's metric names are declared once per component instead of one
// giant shared file, since unlike a single oracle-network binary, each
// controller component owns its own /metrics port.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "volteria"

// Registry holds one component's Prometheus collectors.
type Registry struct {
	reg *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// New builds a Registry pre-populated with the standard process/Go
// collectors, matching pkg/metrics.init()'s wiring.
func New(subsystem string) *Registry {
	r := prometheus.NewRegistry()
	r.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return &Registry{
		reg:        r,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

// Handler returns the promhttp handler for this registry, mounted at
// /metrics on the component's health port.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Counter increments a named counter, lazily registering it with labels on
// first use.
func (r *Registry) Counter(name, help string, labels map[string]string) {
	names, values := split(labels)
	r.counterVec(name, help, names).WithLabelValues(values...).Inc()
}

// Gauge sets a named gauge to value, lazily registering it on first use.
func (r *Registry) Gauge(name, help string, labels map[string]string, value float64) {
	names, values := split(labels)
	r.gaugeVec(name, help, names).WithLabelValues(values...).Set(value)
}

// Observe records a sample into a named histogram, lazily registering it.
func (r *Registry) Observe(name, help string, labels map[string]string, value float64) {
	names, values := split(labels)
	r.histogramVec(name, help, names).WithLabelValues(values...).Observe(value)
}

func (r *Registry) counterVec(name, help string, labelNames []string) *prometheus.CounterVec {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.counters[name]; ok {
		return v
	}
	v := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: name, Help: help,
	}, labelNames)
	r.reg.MustRegister(v)
	r.counters[name] = v
	return v
}

func (r *Registry) gaugeVec(name, help string, labelNames []string) *prometheus.GaugeVec {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.gauges[name]; ok {
		return v
	}
	v := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Name: name, Help: help,
	}, labelNames)
	r.reg.MustRegister(v)
	r.gauges[name] = v
	return v
}

func (r *Registry) histogramVec(name, help string, labelNames []string) *prometheus.HistogramVec {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.histograms[name]; ok {
		return v
	}
	v := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Name: name, Help: help,
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
	}, labelNames)
	r.reg.MustRegister(v)
	r.histograms[name] = v
	return v
}

func split(labels map[string]string) ([]string, []string) {
	if len(labels) == 0 {
		return nil, nil
	}
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	values := make([]string, len(names))
	for i, k := range names {
		values[i] = labels[k]
	}
	return names, values
}
