// Package metrics provides Prometheus instrumentation for the portfolio engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TradesTotal counts executed trades, partitioned by direction.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockpit_trades_total",
		Help: "Total number of trades executed",
	}, []string{"type"})

	// OrdersResolvedTotal counts standing orders reaching a terminal
	// status: filled, partially filled, cancelled, or expired.
	OrdersResolvedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockpit_orders_resolved_total",
		Help: "Standing orders resolved, by final status",
	}, []string{"status"})

	// QuoteFetchFailures counts per-ticker market data lookup failures.
	QuoteFetchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stockpit_quote_fetch_failures_total",
		Help: "Market data lookups that failed",
	})

	// SchedulerJobDuration tracks how long each scheduled job runs.
	SchedulerJobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stockpit_scheduler_job_duration_seconds",
		Help:    "Scheduled job duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
	}, []string{"job"})

	// SchedulerMisfires counts periodic runs skipped for firing too late.
	SchedulerMisfires = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockpit_scheduler_misfires_total",
		Help: "Scheduled runs skipped because they fired past the grace period",
	}, []string{"job"})

	// ActiveGames tracks the number of games currently in progress.
	ActiveGames = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stockpit_active_games",
		Help: "Number of games currently in progress",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stockpit_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockpit_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stockpit_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
