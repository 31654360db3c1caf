package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ActivityLedger answers the read-only questions the engine asks about
// reading_activity. The table is owned by the main application.
type ActivityLedger struct {
	q querier
}

// NewActivityLedger creates a ledger reader bound to the pool.
func NewActivityLedger(db *DB) *ActivityLedger {
	return &ActivityLedger{q: db.Pool()}
}

// HasActivitySince reports whether the user read on day or later.
// Only the calendar date of day is used.
func (a *ActivityLedger) HasActivitySince(ctx context.Context, userID uuid.UUID, day time.Time) (bool, error) {
	var exists bool
	err := a.q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM reading_activity WHERE user_id = $1 AND read_on >= $2::date)`,
		userID, day.UTC().Format(time.DateOnly),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query activity since: %w", err)
	}
	return exists, nil
}

// HasAnyActivity reports whether the user ever logged a reading.
func (a *ActivityLedger) HasAnyActivity(ctx context.Context, userID uuid.UUID) (bool, error) {
	var exists bool
	err := a.q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM reading_activity WHERE user_id = $1)`,
		userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query any activity: %w", err)
	}
	return exists, nil
}

// LatestActivityDate returns the most recent read_on, or nil if the user never read.
func (a *ActivityLedger) LatestActivityDate(ctx context.Context, userID uuid.UUID) (*time.Time, error) {
	var latest *time.Time
	err := a.q.QueryRow(ctx,
		`SELECT MAX(read_on) FROM reading_activity WHERE user_id = $1`,
		userID,
	).Scan(&latest)
	if err != nil {
		return nil, fmt.Errorf("query latest activity: %w", err)
	}
	return latest, nil
}
