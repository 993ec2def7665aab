// Package metrics provides Prometheus instrumentation for the auction engine.
package metrics

import (
	"bufio"
	"fmt"
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
	// BidsAccepted counts bids appended to the ledger, by currency.
	BidsAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auction_bids_accepted_total",
		Help: "Total number of accepted bids",
	}, []string{"currency"})

	// BidRejections counts rejected bids, by reason.
	BidRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auction_bid_rejections_total",
		Help: "Bids rejected by the ledger",
	}, []string{"reason"})

	// BidLatency tracks end-to-end bid placement latency.
	BidLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "auction_bid_latency_seconds",
		Help:    "Bid placement latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// Transitions counts lifecycle transitions, by target status.
	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auction_transitions_total",
		Help: "Auction lifecycle transitions",
	}, []string{"to"})

	// Settlements counts settled auctions, by outcome.
	Settlements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auction_settlements_total",
		Help: "Settled auctions by outcome",
	}, []string{"outcome"})

	// SweepClosures counts auctions closed by the expiry sweeper.
	SweepClosures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auction_sweep_closures_total",
		Help: "Auctions ended by the expiry sweeper",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "auction_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auction_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "auction_http_request_duration_seconds",
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
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Label by route pattern, not raw path, to keep auction IDs out of
		// the label set.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				path = p
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack passes through so WebSocket upgrades work behind the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("metrics: %T does not support hijacking", w.ResponseWriter)
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
