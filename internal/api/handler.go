package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/rekindle/internal/db"
	"github.com/lalithlochan/rekindle/internal/lifecycle"
)

// ReminderRequester schedules the onboarding reminder for a user.
type ReminderRequester interface {
	Request(ctx context.Context, userID uuid.UUID) (*db.Job, error)
}

// ChurnScanner runs the churn-recovery batch.
type ChurnScanner interface {
	Run(ctx context.Context, opts lifecycle.ScanOptions) (*lifecycle.Report, error)
}

// UserReader loads the user record the engine works from.
type UserReader interface {
	GetUser(ctx context.Context, id uuid.UUID) (*db.User, error)
}

// DispatchStore reads a user's dispatch history and applies administrative
// tombstones.
type DispatchStore interface {
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*db.Dispatch, error)
	Tombstone(ctx context.Context, id int64) error
}

// ActivityReader answers the reading-activity questions behind the lifecycle view.
type ActivityReader interface {
	HasActivitySince(ctx context.Context, userID uuid.UUID, day time.Time) (bool, error)
	LatestActivityDate(ctx context.Context, userID uuid.UUID) (*time.Time, error)
}

// DeadLetterLister reads abandoned jobs.
type DeadLetterLister interface {
	ListDeadLetters(ctx context.Context, limit, offset int) ([]*db.DeadLetterJob, error)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Services are the engine components the HTTP surface exposes.
type Services struct {
	Reminders   ReminderRequester
	Scanner     ChurnScanner
	Users       UserReader
	Dispatches  DispatchStore
	Activity    ActivityReader
	DeadLetters DeadLetterLister
	Checks      map[string]HealthCheck
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// ReminderResponse is returned after scheduling an onboarding reminder.
type ReminderResponse struct {
	JobID       string    `json:"job_id"`
	UserID      string    `json:"user_id"`
	RequestedAt time.Time `json:"requested_at"`
	RunAt       time.Time `json:"run_at"`
	Deadline    time.Time `json:"deadline"`
}

// LifecycleResponse is where a user stands: the derived sequence state, the
// pending reminder marker and the full ledger history.
type LifecycleResponse struct {
	UserID              string          `json:"user_id"`
	Email               string          `json:"email"`
	OptedOut            bool            `json:"opted_out"`
	State               lifecycle.State `json:"state"`
	LastReadOn          *time.Time      `json:"last_read_on,omitempty"`
	ReminderRequestedAt *time.Time      `json:"onboarding_reminder_requested_at,omitempty"`
	Dispatches          []*db.Dispatch  `json:"dispatches"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger   *zap.Logger
	services Services
}

// NewHandler creates a new API handler
func NewHandler(logger *zap.Logger, services Services) *Handler {
	return &Handler{
		logger:   logger,
		services: services,
	}
}

// RequestReminder handles POST /v1/users/{userID}/onboarding-reminder.
// Calling it again supersedes the pending reminder.
func (h *Handler) RequestReminder(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	job, err := h.services.Reminders.Request(r.Context(), userID)
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "User not found", "")
			return
		}
		h.logger.Error("failed to request onboarding reminder",
			zap.Error(err),
			zap.String("user_id", userID.String()),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to schedule reminder", "")
		return
	}

	h.writeJSON(w, http.StatusAccepted, ReminderResponse{
		JobID:       job.ID.String(),
		UserID:      userID.String(),
		RequestedAt: job.Correlation,
		RunAt:       job.RunAt,
		Deadline:    job.Deadline,
	})
}

// GetLifecycle handles GET /v1/users/{userID}/lifecycle
func (h *Handler) GetLifecycle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	user, err := h.services.Users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "User not found", "")
			return
		}
		h.logger.Error("failed to get user", zap.Error(err), zap.String("user_id", userID.String()))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to load user", "")
		return
	}

	dispatches, err := h.services.Dispatches.ListByUser(ctx, userID)
	if err != nil {
		h.logger.Error("failed to list dispatches",
			zap.Error(err),
			zap.String("user_id", userID.String()),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list dispatches", "")
		return
	}

	var facts lifecycle.SequenceFacts
	for _, d := range dispatches {
		if !d.Tombstoned() && d.Position > facts.LastPosition {
			facts.LastPosition = d.Position
			facts.LastSentAt = d.SentAt
		}
	}
	if facts.LastPosition > 0 {
		active, err := h.services.Activity.HasActivitySince(ctx, userID, lifecycle.ReactivationDay(facts.LastSentAt))
		if err != nil {
			h.logger.Error("failed to check activity",
				zap.Error(err),
				zap.String("user_id", userID.String()),
			)
			h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to derive sequence state", "")
			return
		}
		facts.ActiveSinceLastSend = active
	}

	lastRead, err := h.services.Activity.LatestActivityDate(ctx, userID)
	if err != nil {
		h.logger.Error("failed to read latest activity", zap.Error(err), zap.String("user_id", userID.String()))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to read activity", "")
		return
	}

	if dispatches == nil {
		dispatches = []*db.Dispatch{}
	}
	h.writeJSON(w, http.StatusOK, LifecycleResponse{
		UserID:              userID.String(),
		Email:               user.Email,
		OptedOut:            user.OptedOut(),
		State:               lifecycle.DeriveState(facts),
		LastReadOn:          lastRead,
		ReminderRequestedAt: user.OnboardingReminderRequested,
		Dispatches:          dispatches,
	})
}

// TombstoneDispatch handles DELETE /v1/dispatches/{dispatchID}. It is the
// administrative correction path; the engine itself never deletes records.
func (h *Handler) TombstoneDispatch(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "dispatchID"), 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid dispatch ID", "ID must be a positive integer")
		return
	}

	if err := h.services.Dispatches.Tombstone(r.Context(), id); err != nil {
		if errors.Is(err, db.ErrDispatchNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Dispatch not found", "")
			return
		}
		h.logger.Error("failed to tombstone dispatch", zap.Error(err), zap.Int64("dispatch_id", id))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to tombstone dispatch", "")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RunChurnScan handles POST /v1/churn-scans?dry_run=true&force=true
// A scan that already ran today answers 200 with already_ran set.
func (h *Handler) RunChurnScan(w http.ResponseWriter, r *http.Request) {
	var opts lifecycle.ScanOptions
	var err error

	if opts.DryRun, err = boolParam(r, "dry_run"); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid dry_run", "dry_run must be a boolean")
		return
	}
	if opts.Force, err = boolParam(r, "force"); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid force", "force must be a boolean")
		return
	}

	report, err := h.services.Scanner.Run(r.Context(), opts)
	if err != nil {
		h.logger.Error("churn scan failed",
			zap.Error(err),
			zap.Bool("dry_run", opts.DryRun),
		)
		h.writeError(w, http.StatusInternalServerError, "scan_error", "Churn scan failed", err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, report)
}

// ListDeadLetters handles GET /v1/jobs/dead-letters?limit=20&offset=0
func (h *Handler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit := 20
	offset := 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	items, err := h.services.DeadLetters.ListDeadLetters(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("failed to list dead letters", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list dead letters", "")
		return
	}
	if items == nil {
		items = []*db.DeadLetterJob{}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":   items,
		"limit":  limit,
		"offset": offset,
		"count":  len(items),
	})
}

// Health handles GET /health. Every registered check must pass.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(h.services.Checks))
	for name, check := range h.services.Checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	h.writeJSON(w, status, map[string]interface{}{
		"status": http.StatusText(status),
		"checks": checks,
	})
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid user ID", "ID must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func boolParam(r *http.Request, name string) (bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return false, nil
	}
	return strconv.ParseBool(v)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
