package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Histogram: HTTP request latency in seconds, by route pattern.
	RequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"path", "method", "status_code"},
	)

	// Counter: upstream completion attempts, including retries.
	UpstreamAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_upstream_attempts_total",
			Help: "Total upstream completion attempts, retries included. Status 0 means no response.",
		},
		[]string{"status"},
	)

	// Histogram: latency of individual upstream attempts.
	UpstreamAttemptSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_upstream_attempt_seconds",
			Help:    "Latency of individual upstream completion attempts in seconds.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"status"},
	)

	// Counter: terminal generation outcomes.
	GenerationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_outcomes_total",
			Help: "Terminal flashcard generation outcomes.",
		},
		[]string{"outcome"},
	)

	// Counter: analytics events dropped because the buffer was full.
	AnalyticsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "analytics_events_dropped_total",
			Help: "Analytics events dropped instead of blocking the request path.",
		},
	)
)

// Register is called once in main() to register metrics.
func Register() {
	prometheus.MustRegister(
		RequestDurationSeconds,
		UpstreamAttemptsTotal,
		UpstreamAttemptSeconds,
		GenerationsTotal,
		AnalyticsDroppedTotal,
	)
}

// Handler exposes the /metrics endpoint for Prometheus to scrape.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveUpstreamAttempt records one upstream exchange. A zero status
// means the attempt produced no HTTP response at all.
func ObserveUpstreamAttempt(status int, d time.Duration) {
	label := strconv.Itoa(status)
	UpstreamAttemptsTotal.WithLabelValues(label).Inc()
	UpstreamAttemptSeconds.WithLabelValues(label).Observe(d.Seconds())
}

// ObserveGeneration records a terminal generation outcome.
func ObserveGeneration(outcome string) {
	GenerationsTotal.WithLabelValues(outcome).Inc()
}

// Middleware measures HTTP latency for each request. The chi route
// pattern keeps label cardinality bounded for parameterized paths.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// capture status code
		rec := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rec, r)

		duration := time.Since(start).Seconds()

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}

		RequestDurationSeconds.
			WithLabelValues(path, r.Method, strconv.Itoa(rec.statusCode)).
			Observe(duration)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush lets streaming handlers keep flushing through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
