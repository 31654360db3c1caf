package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/rekindle/internal/db"
)

// MarkerStore overwrites the onboarding marker and returns the stored value.
type MarkerStore interface {
	SetReminderMarker(ctx context.Context, userID uuid.UUID, at time.Time) (time.Time, error)
}

// JobQueue accepts delayed jobs.
type JobQueue interface {
	Enqueue(ctx context.Context, job *db.Job) (bool, error)
}

// ReminderScheduler records an onboarding reminder request and queues the
// job correlated to it. A later request overwrites the marker, which makes any
// earlier job a no-op when it runs.
type ReminderScheduler struct {
	markers MarkerStore
	jobs    JobQueue
	timing  ReminderTiming
	now     func() time.Time
	logger  *zap.Logger
}

func NewReminderScheduler(markers MarkerStore, jobs JobQueue, timing ReminderTiming, logger *zap.Logger) *ReminderScheduler {
	if timing.Delay == 0 {
		timing.Delay = DefaultReminderTiming.Delay
	}
	if timing.Deadline == 0 {
		timing.Deadline = DefaultReminderTiming.Deadline
	}
	return &ReminderScheduler{
		markers: markers,
		jobs:    jobs,
		timing:  timing,
		now:     time.Now,
		logger:  logger,
	}
}

// WithClock replaces the scheduler's time source.
func (s *ReminderScheduler) WithClock(now func() time.Time) *ReminderScheduler {
	s.now = now
	return s
}

// Request sets the marker to now and enqueues the reminder job for it.
func (s *ReminderScheduler) Request(ctx context.Context, userID uuid.UUID) (*db.Job, error) {
	marker, err := s.markers.SetReminderMarker(ctx, userID, s.now())
	if err != nil {
		return nil, err
	}

	job := &db.Job{
		Kind:        db.JobKindOnboardingReminder,
		UserID:      userID,
		Correlation: marker,
		RunAt:       marker.Add(s.timing.Delay),
		Deadline:    marker.Add(s.timing.Deadline),
	}
	if _, err := s.jobs.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("enqueue onboarding reminder: %w", err)
	}

	s.logger.Info("onboarding reminder requested",
		zap.String("user_id", userID.String()),
		zap.Time("marker", marker),
		zap.Time("run_at", job.RunAt),
	)

	return job, nil
}
