package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/rekindle/internal/db"
	"github.com/lalithlochan/rekindle/internal/lifecycle"
	"github.com/lalithlochan/rekindle/internal/metrics"
)

type Repository interface {
	ClaimDue(ctx context.Context, workerID string, limit int) ([]*db.Job, error)
	Complete(ctx context.Context, id uuid.UUID) error
	Reschedule(ctx context.Context, id uuid.UUID, attempts int, runAt time.Time, lastError string) error
	MoveToDeadLetter(ctx context.Context, job *db.Job, reason string) (*db.DeadLetterJob, error)
}

// Handler runs one job. ErrDeadlineExceeded is terminal, a NotYetDueError
// defers the job, and any other error is retried on the schedule.
type Handler interface {
	Handle(ctx context.Context, job *db.Job) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job *db.Job) error

func (f HandlerFunc) Handle(ctx context.Context, job *db.Job) error {
	return f(ctx, job)
}

type Worker struct {
	repo     Repository
	handlers map[string]Handler
	abandon  AbandonHandler
	config   Config
	now      func() time.Time
	logger   *zap.Logger
}

type Config struct {
	ID           string
	PollInterval time.Duration
	BatchSize    int
	Retry        RetrySchedule
}

func New(repo Repository, abandon AbandonHandler, cfg Config, logger *zap.Logger) *Worker {
	if cfg.ID == "" {
		cfg.ID = "worker-" + uuid.NewString()[:8]
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if len(cfg.Retry) == 0 {
		cfg.Retry = DefaultRetrySchedule
	}

	return &Worker{
		repo:     repo,
		handlers: map[string]Handler{},
		abandon:  abandon,
		config:   cfg,
		now:      time.Now,
		logger:   logger.With(zap.String("worker_id", cfg.ID)),
	}
}

// Register routes jobs of kind to h.
func (w *Worker) Register(kind string, h Handler) {
	w.handlers[kind] = h
}

// WithClock replaces the worker's time source.
func (w *Worker) WithClock(now func() time.Time) *Worker {
	w.now = now
	return w
}

func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	w.logger.Info("worker started",
		zap.Duration("poll_interval", w.config.PollInterval),
		zap.Int("batch_size", w.config.BatchSize),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopping")
			return
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				w.logger.Error("failed to claim jobs", zap.Error(err))
			}
		}
	}
}

// RunOnce claims and processes one batch, returning how many jobs it handled.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	jobs, err := w.repo.ClaimDue(ctx, w.config.ID, w.config.BatchSize)
	if err != nil {
		return 0, err
	}
	for _, job := range jobs {
		w.processJob(ctx, job)
	}
	return len(jobs), nil
}

func (w *Worker) processJob(ctx context.Context, job *db.Job) {
	log := w.logger.With(
		zap.String("job_id", job.ID.String()),
		zap.String("kind", job.Kind),
		zap.String("user_id", job.UserID.String()),
	)

	h, ok := w.handlers[job.Kind]
	if !ok {
		log.Error("no handler for job kind")
		w.deadLetter(ctx, job, fmt.Sprintf("unknown job kind %q", job.Kind))
		return
	}

	err := h.Handle(ctx, job)
	if err == nil {
		if err := w.repo.Complete(ctx, job.ID); err != nil {
			log.Error("failed to mark job complete", zap.Error(err))
			return
		}
		metrics.RecordJobResult(job.Kind, "completed")
		return
	}

	var notYetDue *lifecycle.NotYetDueError
	switch {
	case errors.Is(err, lifecycle.ErrDeadlineExceeded):
		w.deadLetter(ctx, job, err.Error())

	case errors.As(err, &notYetDue):
		if rerr := w.repo.Reschedule(ctx, job.ID, job.Attempts, notYetDue.DueAt, err.Error()); rerr != nil {
			log.Error("failed to defer job", zap.Error(rerr))
			return
		}
		log.Info("job deferred until due", zap.Time("run_at", notYetDue.DueAt))
		metrics.RecordJobResult(job.Kind, "deferred")

	default:
		attempts := job.Attempts + 1
		log.Warn("job attempt failed", zap.Error(err), zap.Int("attempt", attempts))

		next, ok := w.config.Retry.Next(attempts, w.now(), job.Deadline)
		if !ok {
			job.Attempts = attempts
			w.deadLetter(ctx, job, fmt.Sprintf("no retry fits before deadline: %v", err))
			return
		}
		if rerr := w.repo.Reschedule(ctx, job.ID, attempts, next, err.Error()); rerr != nil {
			log.Error("failed to reschedule job", zap.Error(rerr))
			return
		}
		metrics.RecordJobResult(job.Kind, "retried")
	}
}

func (w *Worker) deadLetter(ctx context.Context, job *db.Job, reason string) {
	dlq, err := w.repo.MoveToDeadLetter(ctx, job, reason)
	if err != nil {
		w.logger.Error("failed to move job to dead letter queue",
			zap.String("job_id", job.ID.String()),
			zap.Error(err),
		)
		return
	}
	metrics.RecordJobResult(job.Kind, "dead_lettered")

	if w.abandon != nil {
		w.abandon.Abandoned(ctx, job, dlq)
	}
}
