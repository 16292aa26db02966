// Package metrics exposes Prometheus instrumentation for the report service.
// All recording methods are safe on a nil *Metrics so components can run
// uninstrumented in tests and CLI commands.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	gatherer prometheus.Gatherer

	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	httpInFlight  prometheus.Gauge
	cacheLookups  *prometheus.CounterVec
	genDuration   *prometheus.HistogramVec
	invalidations *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	versions      *prometheus.CounterVec
	txConflicts   prometheus.Counter
	notifications *prometheus.CounterVec
}

// New registers the collectors on reg. Passing nil uses the default registry.
func New(reg *prometheus.Registry) *Metrics {
	var (
		r prometheus.Registerer = prometheus.DefaultRegisterer
		g prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if reg != nil {
		r, g = reg, reg
	}
	f := promauto.With(r)

	return &Metrics{
		gatherer: g,
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"method", "route"}),
		httpInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		}),
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ai_cache_lookups_total",
			Help: "Generated-content lookups by outcome (hit, miss, generation_failed)",
		}, []string{"content_type", "outcome"}),
		genDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ai_generation_duration_seconds",
			Help:    "Latency of content generator calls",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 20, 30, 60, 90},
		}, []string{"content_type", "outcome"}),
		invalidations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ai_cache_invalidations_total",
			Help: "Cache entries removed, by reason",
		}, []string{"reason"}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "report_status_transitions_total",
			Help: "Report workflow transitions",
		}, []string{"from", "to"}),
		versions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "report_versions_total",
			Help: "Report versions recorded, by provenance",
		}, []string{"provenance"}),
		txConflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "report_version_conflicts_total",
			Help: "Version writes that exhausted their conflict retries",
		}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Notification attempts by type and outcome (created, deduplicated, failed)",
		}, []string{"type", "outcome"}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency keyed by the route template,
// never the raw path, to keep label cardinality bounded.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			start := time.Now()
			m.httpInFlight.Inc()
			defer m.httpInFlight.Dec()

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.httpRequests.WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).Inc()
			m.httpDuration.WithLabelValues(c.Request().Method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

func (m *Metrics) CacheLookup(contentType, outcome string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(contentType, outcome).Inc()
}

func (m *Metrics) GenerationLatency(contentType, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.genDuration.WithLabelValues(contentType, outcome).Observe(d.Seconds())
}

func (m *Metrics) CacheInvalidated(reason string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.invalidations.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) VersionRecorded(provenance string) {
	if m == nil {
		return
	}
	m.versions.WithLabelValues(provenance).Inc()
}

func (m *Metrics) VersionConflict() {
	if m == nil {
		return
	}
	m.txConflicts.Inc()
}

func (m *Metrics) Notification(notificationType, outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(notificationType, outcome).Inc()
}
