// Package metrics provides Prometheus instrumentation for the portfolio dashboard.
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
	// FoldsTotal counts ledger folds, partitioned by the endpoint that ran them.
	FoldsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_folds_total",
		Help: "Total number of ledger folds executed",
	}, []string{"view"})

	// FoldDuration tracks fold plus valuation latency.
	FoldDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "portfolio_fold_duration_seconds",
		Help:    "Ledger fold and valuation latency in seconds",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
	}, []string{"view"})

	// LedgerEntriesFolded observes ledger size per fold.
	LedgerEntriesFolded = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "portfolio_ledger_entries_folded",
		Help:    "Number of ledger entries replayed per fold",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	})

	// DiagnosticsTotal counts data-integrity findings by kind.
	DiagnosticsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_diagnostics_total",
		Help: "Data-integrity diagnostics emitted by folds and validation",
	}, []string{"kind"})

	// LedgerWritesTotal counts ledger and balance mutations by operation.
	LedgerWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_ledger_writes_total",
		Help: "Total ledger and opening-balance writes",
	}, []string{"op"})

	// QuoteUpdatesTotal counts price updates received.
	QuoteUpdatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portfolio_quote_updates_total",
		Help: "Total quote updates received",
	})

	// FXFallbacksTotal counts views valued at the default USD/THB rate.
	FXFallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portfolio_fx_fallbacks_total",
		Help: "Times the default USD/THB rate was used because no usable rate was available",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "portfolio_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "portfolio_http_request_duration_seconds",
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
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
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

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
