package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

var ErrUserNotFound = errors.New("user not found")

const userColumns = `
	id, email, name, marketing_opted_out_at, onboarding_reminder_requested_at,
	celebrated_first_reading_at, created_at
`

// UserRepository reads users and owns the two reminder-related writes.
type UserRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *DB, logger *zap.Logger) *UserRepository {
	return &UserRepository{
		db:     db,
		logger: logger,
	}
}

// GetUser retrieves a user by ID
func (r *UserRepository) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := scanUser(r.db.Pool().QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return u, nil
}

// churnCandidatesQuery takes $1 = ChurnWindow.ActiveSince (date) and
// $2 = ChurnWindow.SignedUpBefore. Keep the predicates in step with ChurnWindow.Includes.
const churnCandidatesQuery = `
	SELECT u.id, u.email, u.name, u.created_at, a.last_read_on
	FROM users u
	LEFT JOIN LATERAL (
		SELECT MAX(read_on) AS last_read_on
		FROM reading_activity
		WHERE user_id = u.id
	) a ON TRUE
	WHERE u.marketing_opted_out_at IS NULL
	  AND (a.last_read_on IS NULL OR a.last_read_on < $1::date)
	  AND (a.last_read_on IS NOT NULL OR u.created_at < $2)
	ORDER BY u.created_at ASC, u.id ASC
`

// ChurnWindow is the disengagement cutoff for one scan. A reader is disengaged
// when their last reading date falls before ActiveSince; a user who never read
// qualifies once their account predates SignedUpBefore.
type ChurnWindow struct {
	ActiveSince    time.Time // UTC midnight of the cutoff date
	SignedUpBefore time.Time
}

// NewChurnWindow places the cutoff inactivity before now.
func NewChurnWindow(now time.Time, inactivity time.Duration) ChurnWindow {
	cutoff := now.Add(-inactivity).UTC()
	y, m, d := cutoff.Date()
	return ChurnWindow{
		ActiveSince:    time.Date(y, m, d, 0, 0, 0, 0, time.UTC),
		SignedUpBefore: cutoff,
	}
}

// Includes applies the window to one opted-in user.
func (w ChurnWindow) Includes(lastReadOn *time.Time, createdAt time.Time) bool {
	if lastReadOn != nil {
		y, m, d := lastReadOn.UTC().Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Before(w.ActiveSince)
	}
	return createdAt.Before(w.SignedUpBefore)
}

// ListChurnCandidates returns opted-in users without reading activity in the
// inactivity window who either read at some point or signed up before the window.
func (r *UserRepository) ListChurnCandidates(ctx context.Context, now time.Time, inactivity time.Duration) ([]*ChurnCandidate, error) {
	window := NewChurnWindow(now, inactivity)

	rows, err := r.db.Pool().Query(ctx, churnCandidatesQuery, window.ActiveSince.Format(time.DateOnly), window.SignedUpBefore)
	if err != nil {
		return nil, fmt.Errorf("query churn candidates: %w", err)
	}
	defer rows.Close()

	var candidates []*ChurnCandidate
	for rows.Next() {
		var c ChurnCandidate
		if err := rows.Scan(&c.UserID, &c.Email, &c.Name, &c.CreatedAt, &c.LastReadOn); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		candidates = append(candidates, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return candidates, nil
}

// SetReminderMarker overwrites the onboarding reminder marker. The value is
// truncated to microseconds so it compares equal after a round trip through Postgres.
func (r *UserRepository) SetReminderMarker(ctx context.Context, userID uuid.UUID, at time.Time) (time.Time, error) {
	marker := at.UTC().Truncate(time.Microsecond)

	result, err := r.db.Pool().Exec(ctx,
		`UPDATE users SET onboarding_reminder_requested_at = $1 WHERE id = $2`,
		marker, userID,
	)
	if err != nil {
		return time.Time{}, fmt.Errorf("set reminder marker: %w", err)
	}
	if result.RowsAffected() == 0 {
		return time.Time{}, ErrUserNotFound
	}

	r.logger.Info("onboarding reminder marker set",
		zap.String("user_id", userID.String()),
		zap.Time("marker", marker),
	)

	return marker, nil
}

// LockUser opens a transaction holding an exclusive row lock on the user.
// Concurrent lockers of the same user block until Commit or Rollback.
func (r *UserRepository) LockUser(ctx context.Context, userID uuid.UUID) (*UserLock, error) {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}

	u, err := scanUser(tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, userID))
	if err != nil {
		_ = tx.Rollback(ctx)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("lock user: %w", err)
	}

	return &UserLock{
		tx:       tx,
		user:     u,
		activity: &ActivityLedger{q: tx},
	}, nil
}

// UserLock is a user row held under FOR UPDATE for a check-then-act sequence.
type UserLock struct {
	tx       pgx.Tx
	user     *User
	activity *ActivityLedger
}

// User returns the row as read under the lock.
func (l *UserLock) User() *User {
	return l.user
}

// HasAnyActivity checks reading activity inside the locked transaction.
func (l *UserLock) HasAnyActivity(ctx context.Context) (bool, error) {
	return l.activity.HasAnyActivity(ctx, l.user.ID)
}

// ClearReminderMarker nulls the marker only if it still equals expected.
// It reports whether a row was changed.
func (l *UserLock) ClearReminderMarker(ctx context.Context, expected time.Time) (bool, error) {
	result, err := l.tx.Exec(ctx,
		`UPDATE users SET onboarding_reminder_requested_at = NULL
		 WHERE id = $1 AND onboarding_reminder_requested_at = $2`,
		l.user.ID, expected,
	)
	if err != nil {
		return false, fmt.Errorf("clear reminder marker: %w", err)
	}
	if result.RowsAffected() == 0 {
		return false, nil
	}
	l.user.OnboardingReminderRequested = nil
	return true, nil
}

// Commit releases the lock, keeping any writes.
func (l *UserLock) Commit(ctx context.Context) error {
	if err := l.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Rollback releases the lock and discards writes. Safe after Commit.
func (l *UserLock) Rollback(ctx context.Context) error {
	err := l.tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rollback transaction: %w", err)
	}
	return nil
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.Name,
		&u.MarketingOptedOutAt,
		&u.OnboardingReminderRequested,
		&u.CelebratedFirstReadingAt,
		&u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}
