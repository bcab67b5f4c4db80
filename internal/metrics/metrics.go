// Package metrics provides Prometheus instrumentation for the trading core.
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
	// TradesTotal counts executed trades, partitioned by asset.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agora_trades_total",
		Help: "Total number of trades executed",
	}, []string{"asset"})

	// ActionsRejected counts actions dropped at validation (unknown asset,
	// bad price, malformed input).
	ActionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agora_actions_rejected_total",
		Help: "Actions rejected at the validation boundary",
	}, []string{"reason"})

	// SettlementFailures counts matches dropped because the acting agent
	// could not settle. Each one is a lost resting counter-order.
	SettlementFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agora_settlement_failures_total",
		Help: "Matched trades abandoned at portfolio settlement",
	}, []string{"asset", "side"})

	// NegotiationsTotal counts counter-offers produced before submission.
	NegotiationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agora_negotiations_total",
		Help: "Counter-offers produced by price negotiation",
	}, []string{"asset"})

	// LedgerWriteFailures counts failed durable writes. These are fatal to
	// the action that produced them.
	LedgerWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agora_ledger_write_failures_total",
		Help: "Failed ledger writes",
	})

	// RestingOrders tracks the current book depth per asset and side.
	RestingOrders = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "agora_resting_orders",
		Help: "Resting orders currently in the book",
	}, []string{"asset", "side"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agora_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// TickDuration tracks how long one simulation tick takes end to end.
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "agora_tick_duration_seconds",
		Help:    "Simulation tick duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agora_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agora_http_request_duration_seconds",
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
