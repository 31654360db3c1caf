package db

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// User is the slice of the application's user record the lifecycle engine reads.
// Only the onboarding reminder marker is ever written by the engine.
type User struct {
	ID                          uuid.UUID  `json:"id"`
	Email                       string     `json:"email"`
	Name                        string     `json:"name"`
	MarketingOptedOutAt         *time.Time `json:"marketing_opted_out_at,omitempty"`
	OnboardingReminderRequested *time.Time `json:"onboarding_reminder_requested_at,omitempty"`
	CelebratedFirstReadingAt    *time.Time `json:"celebrated_first_reading_at,omitempty"`
	CreatedAt                   time.Time  `json:"created_at"`
}

// OptedOut reports whether the user unsubscribed from marketing email.
func (u *User) OptedOut() bool {
	return u.MarketingOptedOutAt != nil
}

// Dispatch is one lifecycle email that was actually transmitted.
// At most one non-tombstoned row exists per (UserID, Position).
type Dispatch struct {
	ID        int64      `json:"id"`
	UserID    uuid.UUID  `json:"user_id"`
	Position  int        `json:"position"`
	SentAt    time.Time  `json:"sent_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Tombstoned reports whether the row was soft-deleted by an administrator.
func (d *Dispatch) Tombstoned() bool {
	return d.DeletedAt != nil
}

// ChurnCandidate is a user matching the disengagement query, independent of send timing.
type ChurnCandidate struct {
	UserID     uuid.UUID  `json:"user_id"`
	Email      string     `json:"email"`
	Name       string     `json:"name"`
	CreatedAt  time.Time  `json:"created_at"`
	LastReadOn *time.Time `json:"last_read_on,omitempty"`
}

// Job kinds
const (
	JobKindOnboardingReminder = "onboarding_reminder"
)

// Job status constants
const (
	JobStatusPending = "pending"
	JobStatusRunning = "running"
	JobStatusDone    = "done"
	JobStatusDead    = "dead_lettered"
)

// Job is a delayed, retryable unit of work. Correlation carries the value the
// job was enqueued against; for onboarding reminders it is the marker timestamp.
type Job struct {
	ID          uuid.UUID       `json:"id"`
	Kind        string          `json:"kind"`
	UserID      uuid.UUID       `json:"user_id"`
	Correlation time.Time       `json:"correlation"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Status      string          `json:"status"`
	Attempts    int             `json:"attempts"`
	RunAt       time.Time       `json:"run_at"`
	Deadline    time.Time       `json:"deadline"`
	LockedBy    *string         `json:"locked_by,omitempty"`
	LockedAt    *time.Time      `json:"locked_at,omitempty"`
	LastError   *string         `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// DeadLetterJob is a job that stopped retrying, kept for operators.
type DeadLetterJob struct {
	ID            uuid.UUID `json:"id"`
	OriginalJobID uuid.UUID `json:"original_job_id"`
	Kind          string    `json:"kind"`
	UserID        uuid.UUID `json:"user_id"`
	Correlation   time.Time `json:"correlation"`
	Attempts      int       `json:"attempts"`
	Reason        string    `json:"reason"`
	CreatedAt     time.Time `json:"created_at"`
}
