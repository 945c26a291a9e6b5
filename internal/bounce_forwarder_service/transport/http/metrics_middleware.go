package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Route labels reported on the HTTP metrics.
const (
	routeMessage   = "message"
	routeWebhook   = "webhook"
	routeHealth    = "health"
	routeMetrics   = "metrics"
	routeStatic    = "static"
	routeUnmatched = "unmatched"
)

var routeLabels = map[string]string{
	"/message": routeMessage,
	"/webhook": routeWebhook,
	"/health":  routeHealth,
	"/metrics": routeMetrics,
	"/*":       routeStatic,
}

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bounce_forwarder",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status code.",
		},
		[]string{"route", "method", "status_code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bounce_forwarder",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"route"},
	)

	httpRequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "bounce_forwarder",
		Name:      "http_requests_in_flight",
		Help:      "HTTP requests currently being served.",
	})
)

// MetricsMiddleware records request counts, latency and in-flight requests
// per service route.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := routeLabel(r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		httpRequestDurationSeconds.WithLabelValues(route).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
	})
}

// routeLabel maps the matched chi pattern to a fixed route name so unknown
// paths cannot grow label cardinality.
func routeLabel(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return routeUnmatched
	}
	if label, ok := routeLabels[rctx.RoutePattern()]; ok {
		return label
	}
	return routeUnmatched
}
