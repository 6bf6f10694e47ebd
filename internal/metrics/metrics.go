// Package metrics provides Prometheus instrumentation for the vault engine.
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
	// OperationsTotal counts ledger mutations by operation and outcome.
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vault_operations_total",
		Help: "Total ledger operations executed",
	}, []string{"op", "outcome"})

	// OperationLatency tracks ledger operation latency by operation.
	OperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vault_operation_latency_seconds",
		Help:    "Ledger operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// PoolAmount tracks pooled collateral per asset in token units.
	PoolAmount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vault_pool_amount",
		Help: "Pooled collateral per asset",
	}, []string{"asset"})

	// ReservedAmount tracks tokens reserved against open positions per asset.
	ReservedAmount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vault_reserved_amount",
		Help: "Tokens reserved for open positions per asset",
	}, []string{"asset"})

	// DebtUnits tracks accounting-unit debt attributed per asset.
	DebtUnits = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vault_debt_units",
		Help: "Accounting-unit debt per asset",
	}, []string{"asset"})

	// Liquidations counts liquidation settlements by resulting state.
	Liquidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vault_liquidations_total",
		Help: "Liquidations executed by state",
	}, []string{"state"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vault_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vault_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vault_http_request_duration_seconds",
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
