// Package metrics holds the Prometheus collectors shared by the API, the
// marketplace pager, the dispatcher and the transfer poller.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "puzzlr"

// Metrics is a registry of puzzlr collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	pageListings *prometheus.CounterVec
	pageDuration *prometheus.HistogramVec

	dispatches    *prometheus.CounterVec
	resubmits     *prometheus.CounterVec
	pollTransfers *prometheus.CounterVec
	pollCursor    prometheus.Gauge
}

var (
	defaultOnce sync.Once
	defaultReg  *Metrics
)

// Default returns the process-wide registry, creating it on first use.
func Default() *Metrics {
	defaultOnce.Do(func() { defaultReg = New() })
	return defaultReg
}

// New creates an isolated registry. Tests use it to avoid sharing state.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		pageListings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "marketplace",
			Name:      "page_listings_total",
			Help:      "Listing events per view, split into raw and kept after filtering.",
		}, []string{"view", "stage"}),
		pageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "marketplace",
			Name:      "page_duration_seconds",
			Help:      "Time to assemble one listing page.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"view"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "requests_total",
			Help:      "Metatransactions by action and outcome.",
		}, []string{"action", "outcome"}),
		resubmits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "resubmits_total",
			Help:      "Replacement submissions for transactions that were not mined in time.",
		}, []string{"action", "outcome"}),
		pollTransfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "transfers_total",
			Help:      "Transfers seen by the poller, by result.",
		}, []string{"result"}),
		pollCursor: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "cursor_block",
			Help:      "Block number of the persisted poller cursor.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests, m.httpDuration,
		m.pageListings, m.pageDuration,
		m.dispatches, m.resubmits,
		m.pollTransfers, m.pollCursor,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(route, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route, method).Observe(d.Seconds())
}

// ObservePage records one assembled listing page.
func (m *Metrics) ObservePage(view string, raw, kept int, d time.Duration) {
	if m == nil {
		return
	}
	m.pageListings.WithLabelValues(view, "raw").Add(float64(raw))
	m.pageListings.WithLabelValues(view, "kept").Add(float64(kept))
	m.pageDuration.WithLabelValues(view).Observe(d.Seconds())
}

// ObserveDispatch records a metatransaction outcome such as "sent",
// "rejected" or "failed".
func (m *Metrics) ObserveDispatch(action, outcome string) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(action, outcome).Inc()
}

// ObserveResubmit records a replacement submission.
func (m *Metrics) ObserveResubmit(action, outcome string) {
	if m == nil {
		return
	}
	m.resubmits.WithLabelValues(action, outcome).Inc()
}

// ObservePoll records the transfers handled in one poller batch.
func (m *Metrics) ObservePoll(result string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.pollTransfers.WithLabelValues(result).Add(float64(n))
}

// SetCursorBlock publishes the block of the persisted poller cursor.
func (m *Metrics) SetCursorBlock(block uint64) {
	if m == nil {
		return
	}
	m.pollCursor.Set(float64(block))
}
