package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal counts HTTP requests by route, method, and status label.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	// HTTPRequestDuration records request durations by route and method.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	// ItemsEnqueuedTotal counts queue items enqueued by event kind.
	ItemsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forward_items_enqueued_total",
			Help: "Total number of queue items enqueued",
		},
		[]string{"kind"},
	)
	// ItemsFilteredTotal counts events dropped by the filter pipeline, by reason.
	ItemsFilteredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forward_items_filtered_total",
			Help: "Total number of events dropped by the filter pipeline",
		},
		[]string{"reason"},
	)
	// SendsTotal counts outbound sends by mode and outcome.
	SendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forward_sends_total",
			Help: "Total number of outbound sends by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)
	// SendDuration records outbound send durations by mode.
	SendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "forward_send_duration_seconds",
			Help:    "Outbound send duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"mode"},
	)
	// QueueDepth is a gauge of queue items by status.
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "forward_queue_depth",
			Help: "Queue items by status",
		},
		[]string{"status"},
	)
	// SessionsConnected is a gauge of open platform sessions.
	SessionsConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "platform_sessions_connected",
			Help: "Number of open platform sessions",
		},
	)
	// ThrottleLevel exports each session's anti-ban level as a numeric gauge
	// (0 safe, 1 warning, 2 critical, 3 banned).
	ThrottleLevel = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "antiban_throttle_level",
			Help: "Anti-ban level per session (0 safe, 1 warning, 2 critical, 3 banned)",
		},
		[]string{"session_id"},
	)
	// IngressOverflowTotal counts dropped updates from full ingress buffers.
	IngressOverflowTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingress_overflow_total",
			Help: "Updates dropped because a session's ingress buffer was full",
		},
		[]string{"session_id"},
	)
)

// InitMetrics registers all collectors with the default registry. Call once
// per process.
func InitMetrics() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ItemsEnqueuedTotal,
		ItemsFilteredTotal,
		SendsTotal,
		SendDuration,
		QueueDepth,
		SessionsConnected,
		ThrottleLevel,
		IngressOverflowTotal,
	)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		HTTPRequestsTotal.WithLabelValues(route, r.Method, http.StatusText(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(dur)
	})
}
