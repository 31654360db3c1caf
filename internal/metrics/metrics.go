package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rekindle_http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rekindle_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	churnScans = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rekindle_churn_scans_total",
			Help: "Churn-recovery scans by mode (live, dry_run) and result",
		},
		[]string{"mode", "result"},
	)

	churnCandidates = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rekindle_churn_candidates",
			Help: "Candidates found by the most recent churn scan",
		},
	)

	dispatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rekindle_dispatches_total",
			Help: "Churn-recovery dispatch attempts by position and outcome",
		},
		[]string{"position", "outcome"},
	)

	reminderOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rekindle_onboarding_reminder_outcomes_total",
			Help: "Onboarding reminder job runs by outcome",
		},
		[]string{"outcome"},
	)

	jobResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rekindle_jobs_processed_total",
			Help: "Delayed jobs processed by kind and result",
		},
		[]string{"kind", "result"},
	)

	mailSendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rekindle_mail_send_duration_seconds",
			Help:    "Mail transport latency by provider and result",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10},
		},
		[]string{"provider", "result"},
	)

	rateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rekindle_rate_limit_rejections_total",
			Help: "Requests or sends rejected by a rate limiter",
		},
		[]string{"scope"},
	)

	circuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rekindle_circuit_breaker_state",
			Help: "Mail circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"name"},
	)

	circuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rekindle_circuit_breaker_transitions_total",
			Help: "Circuit breaker state changes by target state",
		},
		[]string{"name", "to"},
	)

	circuitBreakerRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rekindle_circuit_breaker_rejections_total",
			Help: "Sends refused while the breaker was open",
		},
		[]string{"name"},
	)

	dbConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rekindle_db_connections_active",
			Help: "Active database connections",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordChurnScan records a finished scan.
func RecordChurnScan(dryRun bool, result string) {
	mode := "live"
	if dryRun {
		mode = "dry_run"
	}
	churnScans.WithLabelValues(mode, result).Inc()
}

// SetChurnCandidates sets the candidate count of the latest scan
func SetChurnCandidates(count int) {
	churnCandidates.Set(float64(count))
}

// RecordDispatch records one per-user dispatch outcome (sent, failed, duplicate).
func RecordDispatch(position int, outcome string) {
	dispatches.WithLabelValues(strconv.Itoa(position), outcome).Inc()
}

// RecordReminderOutcome records an onboarding reminder job result
func RecordReminderOutcome(outcome string) {
	reminderOutcomes.WithLabelValues(outcome).Inc()
}

// RecordJobResult records how the worker settled a job (completed, retried, dead_lettered).
func RecordJobResult(kind, result string) {
	jobResults.WithLabelValues(kind, result).Inc()
}

// RecordMailSend records mail transport latency
func RecordMailSend(provider string, success bool, duration time.Duration) {
	result := "success"
	if !success {
		result = "failure"
	}
	mailSendDuration.WithLabelValues(provider, result).Observe(duration.Seconds())
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection(scope string) {
	rateLimitRejections.WithLabelValues(scope).Inc()
}

// SetCircuitState publishes a breaker's current state as its numeric value.
func SetCircuitState(name string, state int) {
	circuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordCircuitTransition records a breaker moving to state to.
func RecordCircuitTransition(name, to string) {
	circuitBreakerTransitions.WithLabelValues(name, to).Inc()
}

// RecordCircuitRejection records a call refused by an open breaker.
func RecordCircuitRejection(name string) {
	circuitBreakerRejections.WithLabelValues(name).Inc()
}

// SetDBConnections sets active database connection count
func SetDBConnections(count int) {
	dbConnectionsActive.Set(float64(count))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics.
// Paths are labelled by chi route pattern so user IDs do not explode cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		RecordRequest(r.Method, path, wrapped.status, time.Since(start))
	})
}
