package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "route"},
	)

	// Model gateway
	modelRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "model_requests_total",
			Help: "Total number of completion requests sent to the model provider",
		},
		[]string{"model", "status"},
	)

	modelRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "model_request_duration_seconds",
			Help:    "Model provider request duration in seconds",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 20, 30, 45, 60},
		},
		[]string{"model"},
	)

	// Conversation pipeline
	turnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consultation_turns_total",
			Help: "Assistant turns by classified category, or fallback when the model failed",
		},
		[]string{"category"},
	)

	extractionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diagnosis_extractions_total",
			Help: "Diagnostic extraction attempts by outcome",
		},
		[]string{"outcome"},
	)

	statusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consultation_status_transitions_total",
			Help: "Consultation status transitions",
		},
		[]string{"to_status"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts and latency labelled by chi route
// pattern, which keeps ids out of the label set.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func RecordModelRequest(model, status string, d time.Duration) {
	modelRequestsTotal.WithLabelValues(model, status).Inc()
	modelRequestDuration.WithLabelValues(model).Observe(d.Seconds())
}

func RecordTurn(category string) {
	turnsTotal.WithLabelValues(category).Inc()
}

func RecordExtraction(outcome string) {
	extractionsTotal.WithLabelValues(outcome).Inc()
}

func RecordStatusTransition(toStatus string) {
	statusTransitions.WithLabelValues(toStatus).Inc()
}
