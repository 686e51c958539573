// Package metrics exposes Prometheus collectors for the refresh, capture,
// cache and event pipeline. Every method is safe on a nil *Metrics so
// callers never have to check whether metrics are enabled.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hyproverview"

// Metrics holds all collectors, registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	// Refresh metrics
	Refreshes       *prometheus.CounterVec
	RefreshDuration prometheus.Histogram
	Windows         prometheus.Gauge
	Visible         prometheus.Gauge

	// Capture metrics
	Captures        *prometheus.CounterVec
	CaptureDuration *prometheus.HistogramVec
	Discarded       prometheus.Counter
	LiveStale       prometheus.Counter

	// Cache metrics
	CacheEntries prometheus.Gauge
	CacheLookups *prometheus.CounterVec
	CachePruned  prometheus.Counter

	// Event metrics
	Events          *prometheus.CounterVec
	EventReconnects prometheus.Counter

	// Notification metrics
	Redraws       prometheus.Counter
	WSConnections prometheus.Gauge
}

// New creates the collectors. withRuntime adds the Go and process
// collectors.
func New(withRuntime bool) *Metrics {
	reg := prometheus.NewRegistry()
	if withRuntime {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		Refreshes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "refreshes_total",
				Help:      "Total number of state refreshes",
			},
			[]string{"status"},
		),
		RefreshDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "refresh_duration_seconds",
				Help:      "State refresh duration in seconds, captures included",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
		),
		Windows: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "windows",
				Help:      "Windows on the focused monitor after the last refresh",
			},
		),
		Visible: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "visible_workspaces",
				Help:      "Visible workspaces after the last refresh",
			},
		),

		Captures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "captures_total",
				Help:      "Total number of window captures",
			},
			[]string{"pool", "status"},
		),
		CaptureDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "capture_duration_seconds",
				Help:      "Single window capture duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"pool"},
		),
		Discarded: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "capture_results_discarded_total",
				Help:      "Refresh capture results dropped because a newer refresh replaced the window",
			},
		),
		LiveStale: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "live_results_stale_total",
				Help:      "Live preview results dropped because their cookie changed",
			},
		),

		CacheEntries: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "thumbnail_cache_entries",
				Help:      "Decoded thumbnails held in the cache",
			},
		),
		CacheLookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "thumbnail_cache_lookups_total",
				Help:      "Thumbnail cache lookups",
			},
			[]string{"result"},
		),
		CachePruned: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "thumbnail_cache_pruned_total",
				Help:      "Thumbnail cache entries evicted by generation",
			},
		),

		Events: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "compositor_events_total",
				Help:      "Compositor events read from the event socket",
			},
			[]string{"refresh"},
		),
		EventReconnects: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "event_socket_connects_total",
				Help:      "Successful event socket connections",
			},
		),

		Redraws: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "redraws_total",
				Help:      "Redraw callbacks delivered on the UI loop",
			},
		),
		WSConnections: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "websocket_connections",
				Help:      "Open event stream websocket connections",
			},
		),
	}
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRefresh records one refresh outcome.
func (m *Metrics) RecordRefresh(err error, duration time.Duration, windows, visible, discarded int) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "partial"
	}
	m.Refreshes.WithLabelValues(status).Inc()
	m.RefreshDuration.Observe(duration.Seconds())
	m.Windows.Set(float64(windows))
	m.Visible.Set(float64(visible))
	m.Discarded.Add(float64(discarded))
}

// RecordCapture records one finished capture of the named pool.
func (m *Metrics) RecordCapture(pool string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.Captures.WithLabelValues(pool, status).Inc()
	m.CaptureDuration.WithLabelValues(pool).Observe(duration.Seconds())
}

// IncLiveStale counts a discarded live result.
func (m *Metrics) IncLiveStale() {
	if m == nil {
		return
	}
	m.LiveStale.Inc()
}

// RecordCacheLookup counts a hit or a miss.
func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.CacheLookups.WithLabelValues("miss").Inc()
}

// RecordCachePrune records evictions and the remaining size.
func (m *Metrics) RecordCachePrune(evicted, remaining int) {
	if m == nil {
		return
	}
	m.CachePruned.Add(float64(evicted))
	m.CacheEntries.Set(float64(remaining))
}

// RecordEvent counts a compositor event.
func (m *Metrics) RecordEvent(refresh bool) {
	if m == nil {
		return
	}
	if refresh {
		m.Events.WithLabelValues("yes").Inc()
		return
	}
	m.Events.WithLabelValues("no").Inc()
}

// IncEventConnects counts an event socket connect.
func (m *Metrics) IncEventConnects() {
	if m == nil {
		return
	}
	m.EventReconnects.Inc()
}

// IncRedraws counts a delivered redraw.
func (m *Metrics) IncRedraws() {
	if m == nil {
		return
	}
	m.Redraws.Inc()
}

// IncWSConnections tracks a new websocket client.
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

// DecWSConnections tracks a closed websocket client.
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
}
