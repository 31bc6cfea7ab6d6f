// Package metrics bundles the Prometheus collectors shared by the fetch, scrape and orchestration layers.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors on a dedicated registry. A nil *Metrics is a no-op.
type Metrics struct {
	Registry         *prometheus.Registry
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  prometheus.Histogram
	RetriesTotal     prometheus.Counter
	RotationsTotal   prometheus.Counter
	BrowserRenders   *prometheus.CounterVec
	ErrorsTotal      *prometheus.CounterVec
	ItemsTotal       *prometheus.CounterVec
	TasksTotal       *prometheus.CounterVec
	TaskDuration     *prometheus.HistogramVec
	CacheLookups     *prometheus.CounterVec
	MatchGroupsTotal prometheus.Counter
}

// New constructs and registers all metrics on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricecompare_requests_total",
			Help: "Outbound page requests by outcome.",
		},
		[]string{"outcome"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pricecompare_request_duration_seconds",
			Help:    "Latency of single outbound page requests.",
			Buckets: prometheus.DefBuckets,
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pricecompare_retries_total",
			Help: "Request attempts beyond the first.",
		},
	)
	rotations := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pricecompare_session_rotations_total",
			Help: "Client identities discarded after a blocking response.",
		},
	)
	renders := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricecompare_browser_renders_total",
			Help: "Headless browser renders by result.",
		},
		[]string{"result"},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricecompare_errors_total",
			Help: "Fetch errors by type.",
		},
		[]string{"error_type"},
	)
	items := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricecompare_items_scraped_total",
			Help: "Listings extracted per source.",
		},
		[]string{"source"},
	)
	tasks := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricecompare_source_tasks_total",
			Help: "Per-source orchestration tasks by outcome.",
		},
		[]string{"source", "outcome"},
	)
	taskDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pricecompare_source_task_duration_seconds",
			Help:    "Wall time of per-source orchestration tasks.",
			Buckets: []float64{1, 2.5, 5, 10, 20, 30, 45, 60, 90},
		},
		[]string{"source"},
	)
	cacheLookups := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricecompare_cache_lookups_total",
			Help: "Search result cache lookups by result.",
		},
		[]string{"result"},
	)
	groups := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pricecompare_match_groups_total",
			Help: "Match groups produced by comparisons.",
		},
	)

	registry.MustRegister(requests, requestDuration, retries, rotations, renders, errorsTotal,
		items, tasks, taskDuration, cacheLookups, groups)

	return &Metrics{
		Registry:         registry,
		RequestsTotal:    requests,
		RequestDuration:  requestDuration,
		RetriesTotal:     retries,
		RotationsTotal:   rotations,
		BrowserRenders:   renders,
		ErrorsTotal:      errorsTotal,
		ItemsTotal:       items,
		TasksTotal:       tasks,
		TaskDuration:     taskDuration,
		CacheLookups:     cacheLookups,
		MatchGroupsTotal: groups,
	}
}

// IncRequest increments the requests counter for an outcome label.
func (m *Metrics) IncRequest(outcome string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveDuration records an outbound request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncRotation increments the session rotation counter.
func (m *Metrics) IncRotation() {
	if m == nil {
		return
	}
	m.RotationsTotal.Inc()
}

// IncRender records a browser render result ("ok" or "error").
func (m *Metrics) IncRender(result string) {
	if m == nil {
		return
	}
	m.BrowserRenders.WithLabelValues(result).Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// AddItems adds extracted listings for a source.
func (m *Metrics) AddItems(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ItemsTotal.WithLabelValues(source).Add(float64(n))
}

// ObserveTask records the outcome and duration of a source task.
func (m *Metrics) ObserveTask(source, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.TasksTotal.WithLabelValues(source, outcome).Inc()
	m.TaskDuration.WithLabelValues(source).Observe(d.Seconds())
}

// IncCache records a cache lookup result ("hit", "miss" or "error").
func (m *Metrics) IncCache(result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// AddGroups adds produced match groups.
func (m *Metrics) AddGroups(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.MatchGroupsTotal.Add(float64(n))
}
