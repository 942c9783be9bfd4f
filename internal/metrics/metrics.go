// Package metrics provides Prometheus instrumentation for the trading arena.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SessionsActive tracks the number of sessions held by the registry.
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arena_sessions_active",
		Help: "Number of sessions currently held in memory",
	})

	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_sessions_created_total",
		Help: "Total sessions created",
	})

	// TicksTotal counts tick-loop iterations across all sessions.
	TicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_ticks_total",
		Help: "Total price ticks produced",
	})

	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "arena_tick_duration_seconds",
		Help:    "Time spent computing one session tick",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
	})

	// OrdersTotal counts orders by side and outcome ("accepted" or a reject reason).
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_orders_total",
		Help: "Orders processed, by side and outcome",
	}, []string{"side", "outcome"})

	ActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_actions_total",
		Help: "Inbound client actions, by type",
	}, []string{"type"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arena_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// DroppedMessages counts outbound messages dropped because a client was
	// too slow or already gone.
	DroppedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_dropped_messages_total",
		Help: "Outbound messages dropped on full or closed connections",
	})

	FeedErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_feed_errors_total",
		Help: "Failed publishes to the event mirror",
	})

	// FeedDropped counts events discarded because the mirror queue was full.
	FeedDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_feed_dropped_total",
		Help: "Events dropped on a full event mirror queue",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "arena_http_request_duration_seconds",
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

		path := routePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routePattern labels by chi route pattern so session ids don't explode
// label cardinality.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
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

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
