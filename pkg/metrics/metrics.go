// Package metrics provides metrics collection for the caserisk pipeline.
// It defines a small Collector interface, the standard pipeline metrics,
// and a Prometheus-backed implementation for the watch loop's listen
// endpoint.
package metrics

import (
	"net/http"
	"sync"
	"time"
)

// =============================================================================
// Metrics Interface
// =============================================================================

// Collector is the interface for collecting and reporting metrics.
// Implement this interface to use a different metrics backend.
type Collector interface {
	// Counter operations
	CounterInc(name string, labels ...string)
	CounterAdd(name string, value float64, labels ...string)

	// Gauge operations
	GaugeSet(name string, value float64, labels ...string)
	GaugeInc(name string, labels ...string)
	GaugeDec(name string, labels ...string)

	// Histogram operations
	HistogramObserve(name string, value float64, labels ...string)

	// Handler returns an HTTP handler for the metrics endpoint
	Handler() http.Handler

	// Reset clears all metrics (for testing)
	Reset()
}

// =============================================================================
// Metric Types
// =============================================================================

// MetricType represents the type of metric.
type MetricType string

const (
	MetricTypeCounter   MetricType = "counter"
	MetricTypeGauge     MetricType = "gauge"
	MetricTypeHistogram MetricType = "histogram"
)

// MetricDefinition defines a metric with its metadata.
type MetricDefinition struct {
	Name    string     `json:"name"`
	Type    MetricType `json:"type"`
	Help    string     `json:"help"`
	Labels  []string   `json:"labels,omitempty"`
	Buckets []float64  `json:"buckets,omitempty"` // For histograms
}

// =============================================================================
// Default Metrics - Standard metrics for the scoring pipeline
// =============================================================================

var (
	// Scoring metrics
	CasesTotal = MetricDefinition{
		Name:   "caserisk_cases_total",
		Type:   MetricTypeCounter,
		Help:   "Total scoring passes by disposition (scored, cached, skipped)",
		Labels: []string{"disposition"},
	}
	ScoreDuration = MetricDefinition{
		Name:    "caserisk_score_duration_seconds",
		Type:    MetricTypeHistogram,
		Help:    "Duration of one per-case scoring pass in seconds",
		Labels:  []string{},
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}
	ReportsPostedTotal = MetricDefinition{
		Name:   "caserisk_reports_posted_total",
		Type:   MetricTypeCounter,
		Help:   "Total reports posted to the case store",
		Labels: []string{"profile", "severity"},
	}
	EscalationsTotal = MetricDefinition{
		Name:   "caserisk_escalations_total",
		Type:   MetricTypeCounter,
		Help:   "Total escalation issues filed for severe cases",
		Labels: []string{"notifier", "status"},
	}

	// Watch loop metrics
	WatchUp = MetricDefinition{
		Name:   "caserisk_watch_up",
		Type:   MetricTypeGauge,
		Help:   "1 while the polling loop is running",
		Labels: []string{},
	}
	WatchPassesTotal = MetricDefinition{
		Name:   "caserisk_watch_passes_total",
		Type:   MetricTypeCounter,
		Help:   "Total polling passes executed",
		Labels: []string{"status"},
	}
	WatchPassDuration = MetricDefinition{
		Name:    "caserisk_watch_pass_duration_seconds",
		Type:    MetricTypeHistogram,
		Help:    "Duration of a full polling pass in seconds",
		Labels:  []string{},
		Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}
	WatchOpenCases = MetricDefinition{
		Name:   "caserisk_watch_open_cases",
		Type:   MetricTypeGauge,
		Help:   "Candidate cases returned by the last listing",
		Labels: []string{},
	}
	WatchInFlight = MetricDefinition{
		Name:   "caserisk_watch_in_flight",
		Type:   MetricTypeGauge,
		Help:   "Cases being scored right now",
		Labels: []string{},
	}

	// Collaborator client metrics
	CollaboratorRequestsTotal = MetricDefinition{
		Name:   "caserisk_collaborator_requests_total",
		Type:   MetricTypeCounter,
		Help:   "Total HTTP requests to collaborators",
		Labels: []string{"collaborator", "status"},
	}
	CollaboratorRequestDuration = MetricDefinition{
		Name:    "caserisk_collaborator_request_duration_seconds",
		Type:    MetricTypeHistogram,
		Help:    "Duration of collaborator HTTP requests in seconds",
		Labels:  []string{"collaborator"},
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}

	// Record store metrics
	RecordedCases = MetricDefinition{
		Name:   "caserisk_recorded_cases",
		Type:   MetricTypeGauge,
		Help:   "Cases with a scoring record on file",
		Labels: []string{},
	}
)

// =============================================================================
// NopCollector - No-operation implementation
// =============================================================================

// NopCollector discards all metrics. The safe default when no listen
// endpoint is configured.
type NopCollector struct{}

func (c *NopCollector) CounterInc(name string, labels ...string)                      {}
func (c *NopCollector) CounterAdd(name string, value float64, labels ...string)       {}
func (c *NopCollector) GaugeSet(name string, value float64, labels ...string)         {}
func (c *NopCollector) GaugeInc(name string, labels ...string)                        {}
func (c *NopCollector) GaugeDec(name string, labels ...string)                        {}
func (c *NopCollector) HistogramObserve(name string, value float64, labels ...string) {}
func (c *NopCollector) Handler() http.Handler                                         { return http.NotFoundHandler() }
func (c *NopCollector) Reset()                                                        {}

// =============================================================================
// InMemoryCollector - Simple in-memory implementation for testing
// =============================================================================

// InMemoryCollector stores metrics in memory for testing purposes.
type InMemoryCollector struct {
	mu         sync.RWMutex
	counters   map[string]float64
	gauges     map[string]float64
	histograms map[string][]float64
}

// NewInMemoryCollector creates a new in-memory metrics collector.
func NewInMemoryCollector() *InMemoryCollector {
	return &InMemoryCollector{
		counters:   make(map[string]float64),
		gauges:     make(map[string]float64),
		histograms: make(map[string][]float64),
	}
}

func (c *InMemoryCollector) key(name string, labels []string) string {
	key := name
	for i := 0; i < len(labels); i += 2 {
		if i+1 < len(labels) {
			key += "," + labels[i] + "=" + labels[i+1]
		}
	}
	return key
}

func (c *InMemoryCollector) CounterInc(name string, labels ...string) {
	c.CounterAdd(name, 1, labels...)
}

func (c *InMemoryCollector) CounterAdd(name string, value float64, labels ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[c.key(name, labels)] += value
}

func (c *InMemoryCollector) GaugeSet(name string, value float64, labels ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gauges[c.key(name, labels)] = value
}

func (c *InMemoryCollector) GaugeInc(name string, labels ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gauges[c.key(name, labels)]++
}

func (c *InMemoryCollector) GaugeDec(name string, labels ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gauges[c.key(name, labels)]--
}

func (c *InMemoryCollector) HistogramObserve(name string, value float64, labels ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := c.key(name, labels)
	c.histograms[key] = append(c.histograms[key], value)
}

func (c *InMemoryCollector) Handler() http.Handler {
	return http.NotFoundHandler()
}

func (c *InMemoryCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters = make(map[string]float64)
	c.gauges = make(map[string]float64)
	c.histograms = make(map[string][]float64)
}

// GetCounter returns the value of a counter.
func (c *InMemoryCollector) GetCounter(name string, labels ...string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counters[c.key(name, labels)]
}

// GetGauge returns the value of a gauge.
func (c *InMemoryCollector) GetGauge(name string, labels ...string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gauges[c.key(name, labels)]
}

// GetHistogram returns all observations of a histogram.
func (c *InMemoryCollector) GetHistogram(name string, labels ...string) []float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.histograms[c.key(name, labels)]
}

// =============================================================================
// Timer - Helper for timing operations
// =============================================================================

// Timer is a helper for timing operations and recording to histograms.
type Timer struct {
	start     time.Time
	collector Collector
	name      string
	labels    []string
}

// NewTimer creates a new timer that will record to the given histogram.
func NewTimer(collector Collector, name string, labels ...string) *Timer {
	return &Timer{
		start:     time.Now(),
		collector: collector,
		name:      name,
		labels:    labels,
	}
}

// ObserveDuration records the duration since the timer was created.
func (t *Timer) ObserveDuration() time.Duration {
	d := time.Since(t.start)
	t.collector.HistogramObserve(t.name, d.Seconds(), t.labels...)
	return d
}

// =============================================================================
// Interface compliance
// =============================================================================

var (
	_ Collector = (*NopCollector)(nil)
	_ Collector = (*InMemoryCollector)(nil)
)
