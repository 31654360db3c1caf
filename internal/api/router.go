package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lalithlochan/rekindle/internal/metrics"
)

// NewRouter wires the operator API. limiter may be nil.
func NewRouter(h *Handler, limiter RateChecker, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(metrics.Middleware)
	r.Use(RequestLogger(logger))

	r.Route("/v1", func(r chi.Router) {
		r.Use(RateLimitMiddleware(limiter, logger, IPKeyFunc))

		r.Post("/users/{userID}/onboarding-reminder", h.RequestReminder)
		r.Get("/users/{userID}/lifecycle", h.GetLifecycle)
		r.Delete("/dispatches/{dispatchID}", h.TombstoneDispatch)
		r.Post("/churn-scans", h.RunChurnScan)
		r.Get("/jobs/dead-letters", h.ListDeadLetters)
	})

	r.Get("/health", h.Health)
	r.Handle("/metrics", metrics.Handler())

	return r
}
