package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/romanesko/http-mqtt-bridge/bridge"
)

const unmatched = "unmatched"

// Metrics owns the HTTP and correlation metrics of one server.
// Each instance has its own registry so tests can build many servers.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	sendsTotal        *prometheus.CounterVec
	sendDuration      *prometheus.HistogramVec
	pendingSlots      prometheus.Gauge
	unmatchedMessages prometheus.Counter
}

var _ bridge.MetricsCollector = (*Metrics)(nil)

// NewMetrics creates the collectors and registers them, together with the
// Go runtime and process collectors, on a fresh registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bridge_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		sendsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_sends_total",
				Help: "Finished sends by mode and outcome.",
			},
			[]string{"mode", "outcome"},
		),
		sendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bridge_send_duration_seconds",
				Help:    "Time from publish to resolution of a send.",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"mode"},
		),
		pendingSlots: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_pending_slots",
			Help: "Reply topics currently awaiting a message.",
		}),
		unmatchedMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_unmatched_messages_total",
			Help: "Inbound messages no pending request was waiting for.",
		}),
	}

	m.registry.MustRegister(
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.sendsTotal,
		m.sendDuration,
		m.pendingSlots,
		m.unmatchedMessages,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// RecordSend implements bridge.MetricsCollector
func (m *Metrics) RecordSend(mode, outcome string, duration time.Duration) {
	m.sendsTotal.WithLabelValues(mode, outcome).Inc()
	m.sendDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordUnmatched implements bridge.MetricsCollector
func (m *Metrics) RecordUnmatched() {
	m.unmatchedMessages.Inc()
}

// SetPending implements bridge.MetricsCollector
func (m *Metrics) SetPending(n int) {
	m.pendingSlots.Set(float64(n))
}

// Registry exposes the underlying registry, mostly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus exposition handler for this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// middleware records request count and duration for every HTTP request.
// Uses the chi route pattern (not the raw path) to avoid unbounded cardinality.
func (m *Metrics) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		path := routePattern(r)
		m.httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		m.httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return unmatched
}
