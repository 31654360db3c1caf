package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/rekindle/internal/db"
	"github.com/lalithlochan/rekindle/internal/mail"
	"github.com/lalithlochan/rekindle/internal/metrics"
)

var (
	// ErrDeliveryFailed is retryable: the marker is untouched and the job may run again.
	ErrDeliveryFailed = errors.New("onboarding reminder delivery failed")

	// ErrDeadlineExceeded is terminal: the job must not run again.
	ErrDeadlineExceeded = errors.New("onboarding reminder deadline exceeded")
)

// NotYetDueError is returned when a job runs before its delay elapsed.
type NotYetDueError struct {
	DueAt time.Time
}

func (e *NotYetDueError) Error() string {
	return fmt.Sprintf("onboarding reminder not due until %s", e.DueAt.Format(time.RFC3339))
}

// ReminderOutcome is the terminal state of one job run for a (user, marker) pair.
type ReminderOutcome string

const (
	ReminderFired      ReminderOutcome = "fired"
	ReminderSuperseded ReminderOutcome = "superseded"
	ReminderSkipped    ReminderOutcome = "skipped"
	ReminderNotYetDue  ReminderOutcome = "not_yet_due"
	ReminderExpired    ReminderOutcome = "expired"
	ReminderFailed     ReminderOutcome = "failed"

	// ReminderFiredUnclean means the email went out but the marker could not
	// be cleared; the user row still carries the marker.
	ReminderFiredUnclean ReminderOutcome = "fired_unclean"
)

// LockedUser is a user row held exclusively until Commit or Rollback.
type LockedUser interface {
	User() *db.User
	HasAnyActivity(ctx context.Context) (bool, error)
	ClearReminderMarker(ctx context.Context, expected time.Time) (bool, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// UserLocker acquires the per-user lock. It blocks while another holder exists.
type UserLocker interface {
	LockUser(ctx context.Context, userID uuid.UUID) (LockedUser, error)
}

type postgresLocker struct {
	users *db.UserRepository
}

// NewPostgresLocker adapts the user repository's FOR UPDATE lock.
func NewPostgresLocker(users *db.UserRepository) UserLocker {
	return &postgresLocker{users: users}
}

func (p *postgresLocker) LockUser(ctx context.Context, userID uuid.UUID) (LockedUser, error) {
	lock, err := p.users.LockUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return lock, nil
}

// ReminderTiming is the delay before the nudge and the hard deadline, both
// measured from the marker.
type ReminderTiming struct {
	Delay    time.Duration
	Deadline time.Duration
}

// DefaultReminderTiming is a 24h delay with a 48h deadline.
var DefaultReminderTiming = ReminderTiming{
	Delay:    24 * time.Hour,
	Deadline: 48 * time.Hour,
}

// ReminderJob sends the onboarding nudge at most once per marker value.
type ReminderJob struct {
	locker    UserLocker
	renderer  *mail.Renderer
	transport mail.Transport
	timing    ReminderTiming
	now       func() time.Time
	logger    *zap.Logger
}

func NewReminderJob(locker UserLocker, renderer *mail.Renderer, transport mail.Transport, timing ReminderTiming, logger *zap.Logger) *ReminderJob {
	if timing.Delay == 0 {
		timing.Delay = DefaultReminderTiming.Delay
	}
	if timing.Deadline == 0 {
		timing.Deadline = DefaultReminderTiming.Deadline
	}
	return &ReminderJob{
		locker:    locker,
		renderer:  renderer,
		transport: transport,
		timing:    timing,
		now:       time.Now,
		logger:    logger,
	}
}

// WithClock replaces the job's time source.
func (j *ReminderJob) WithClock(now func() time.Time) *ReminderJob {
	j.now = now
	return j
}

// Run executes the check-and-act sequence for (userID, expected) under the user's row lock.
func (j *ReminderJob) Run(ctx context.Context, userID uuid.UUID, expected time.Time) (ReminderOutcome, error) {
	outcome, err := j.run(ctx, userID, expected)
	if outcome != "" {
		metrics.RecordReminderOutcome(string(outcome))
	}
	return outcome, err
}

func (j *ReminderJob) run(ctx context.Context, userID uuid.UUID, expected time.Time) (ReminderOutcome, error) {
	log := j.logger.With(
		zap.String("user_id", userID.String()),
		zap.Time("marker", expected),
	)

	lock, err := j.locker.LockUser(ctx, userID)
	if errors.Is(err, db.ErrUserNotFound) {
		log.Info("onboarding reminder skipped, user no longer exists")
		return ReminderSkipped, nil
	}
	if err != nil {
		return "", fmt.Errorf("lock user %s: %w", userID, err)
	}
	defer func() {
		if err := lock.Rollback(context.WithoutCancel(ctx)); err != nil {
			log.Warn("failed to release user lock", zap.Error(err))
		}
	}()

	u := lock.User()
	current := u.OnboardingReminderRequested
	if current == nil {
		log.Info("onboarding reminder skipped, marker already cleared")
		return ReminderSkipped, nil
	}
	if !current.Equal(expected) {
		log.Info("onboarding reminder superseded by a newer request", zap.Time("current_marker", *current))
		return ReminderSuperseded, nil
	}

	now := j.now()
	if deadline := expected.Add(j.timing.Deadline); !now.Before(deadline) {
		log.Warn("onboarding reminder expired", zap.Time("deadline", deadline))
		return ReminderExpired, ErrDeadlineExceeded
	}
	if dueAt := expected.Add(j.timing.Delay); now.Before(dueAt) {
		log.Info("onboarding reminder ran early", zap.Time("due_at", dueAt))
		return ReminderNotYetDue, &NotYetDueError{DueAt: dueAt}
	}

	eligible, why, err := j.eligible(ctx, lock)
	if err != nil {
		return "", err
	}
	if !eligible {
		if _, err := lock.ClearReminderMarker(ctx, expected); err != nil {
			return "", err
		}
		if err := lock.Commit(ctx); err != nil {
			return "", err
		}
		log.Info("onboarding reminder skipped, user no longer eligible", zap.String("reason", why))
		return ReminderSkipped, nil
	}

	msg := j.renderer.Onboarding(u.Name, u.Email)
	start := time.Now()
	err = j.transport.Send(ctx, msg)
	metrics.RecordMailSend(j.transport.Name(), err == nil, time.Since(start))
	if err != nil {
		log.Warn("onboarding reminder delivery failed", zap.Error(err))
		return ReminderFailed, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	// The email is out. From here on nothing may turn into a retry.
	if _, err := lock.ClearReminderMarker(ctx, expected); err != nil {
		log.Error("onboarding reminder sent but marker not cleared", zap.Error(err))
		return ReminderFiredUnclean, nil
	}
	if err := lock.Commit(ctx); err != nil {
		log.Error("onboarding reminder sent but commit failed", zap.Error(err))
		return ReminderFiredUnclean, nil
	}

	log.Info("onboarding reminder sent")
	return ReminderFired, nil
}

func (j *ReminderJob) eligible(ctx context.Context, lock LockedUser) (bool, string, error) {
	u := lock.User()
	if u.OptedOut() {
		return false, "opted_out", nil
	}
	if u.CelebratedFirstReadingAt != nil {
		return false, "celebrated_first_reading", nil
	}
	active, err := lock.HasAnyActivity(ctx)
	if err != nil {
		return false, "", fmt.Errorf("check activity: %w", err)
	}
	if active {
		return false, "has_activity", nil
	}
	return true, "", nil
}

// Handle runs the job for a queued onboarding reminder.
func (j *ReminderJob) Handle(ctx context.Context, job *db.Job) error {
	_, err := j.Run(ctx, job.UserID, job.Correlation)
	return err
}
