// Package metrics exposes Prometheus instrumentation for the gateway.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_http_requests_total",
		Help: "HTTP requests by route, method, and status code.",
	}, []string{"route", "method", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	agentDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_agent_call_duration_seconds",
		Help:    "Agent backend call latency by backend and operation.",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 90},
	}, []string{"backend", "operation"})

	agentTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_agent_timeouts_total",
		Help: "Agent backend calls that exceeded their polling budget.",
	}, []string{"backend"})

	liveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_sessions_live",
		Help: "Sessions currently held in memory.",
	})
)

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts and latency per chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		requestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(ww.Status())).Inc()
		requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveAgentCall records one backend call's duration.
func ObserveAgentCall(backend, operation string, d time.Duration) {
	agentDuration.WithLabelValues(backend, operation).Observe(d.Seconds())
}

// CountTimeout records one backend timeout.
func CountTimeout(backend string) {
	agentTimeouts.WithLabelValues(backend).Inc()
}

// SetLiveSessions updates the live session gauge.
func SetLiveSessions(n int) {
	liveSessions.Set(float64(n))
}
