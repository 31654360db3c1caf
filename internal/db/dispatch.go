package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// uniqueViolation is the Postgres SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// dispatchActiveIndex is the partial unique index over non-tombstoned rows.
const dispatchActiveIndex = "uq_lifecycle_dispatches_user_position_active"

var (
	// ErrDuplicateDispatch means a non-tombstoned row for (user, position) already exists.
	ErrDuplicateDispatch = errors.New("dispatch already recorded for user and position")

	ErrDispatchNotFound = errors.New("dispatch not found")
)

// DispatchLedger is the durable record of sent lifecycle emails.
type DispatchLedger struct {
	db     *DB
	logger *zap.Logger
}

// NewDispatchLedger creates a new ledger repository
func NewDispatchLedger(db *DB, logger *zap.Logger) *DispatchLedger {
	return &DispatchLedger{
		db:     db,
		logger: logger,
	}
}

// Record appends a dispatch. It never upserts: a concurrent writer that already
// recorded (userID, position) makes this call fail with ErrDuplicateDispatch.
func (l *DispatchLedger) Record(ctx context.Context, userID uuid.UUID, position int, sentAt time.Time) (*Dispatch, error) {
	query := `
		INSERT INTO lifecycle_dispatches (user_id, position, sent_at)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at
	`

	d := &Dispatch{
		UserID:   userID,
		Position: position,
		SentAt:   sentAt,
	}

	err := l.db.Pool().QueryRow(ctx, query, userID, position, sentAt).Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == dispatchActiveIndex {
			return nil, ErrDuplicateDispatch
		}
		l.logger.Error("failed to record dispatch",
			zap.Error(err),
			zap.String("user_id", userID.String()),
			zap.Int("position", position),
		)
		return nil, fmt.Errorf("insert dispatch: %w", err)
	}

	return d, nil
}

// Latest returns the highest-position non-tombstoned dispatch, or nil if none.
func (l *DispatchLedger) Latest(ctx context.Context, userID uuid.UUID) (*Dispatch, error) {
	query := `
		SELECT id, user_id, position, sent_at, deleted_at, created_at, updated_at
		FROM lifecycle_dispatches
		WHERE user_id = $1 AND deleted_at IS NULL
		ORDER BY position DESC, sent_at DESC
		LIMIT 1
	`

	d, err := scanDispatch(l.db.Pool().QueryRow(ctx, query, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest dispatch: %w", err)
	}
	return d, nil
}

// ListByUser returns the full history for a user, tombstoned rows included.
func (l *DispatchLedger) ListByUser(ctx context.Context, userID uuid.UUID) ([]*Dispatch, error) {
	query := `
		SELECT id, user_id, position, sent_at, deleted_at, created_at, updated_at
		FROM lifecycle_dispatches
		WHERE user_id = $1
		ORDER BY sent_at ASC, id ASC
	`

	rows, err := l.db.Pool().Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query dispatches: %w", err)
	}
	defer rows.Close()

	var out []*Dispatch
	for rows.Next() {
		d, err := scanDispatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dispatch: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return out, nil
}

// Tombstone soft-deletes a dispatch. Only administrative tooling calls this;
// the engine never removes its own records.
func (l *DispatchLedger) Tombstone(ctx context.Context, id int64) error {
	result, err := l.db.Pool().Exec(ctx,
		`UPDATE lifecycle_dispatches SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`,
		id,
	)
	if err != nil {
		return fmt.Errorf("tombstone dispatch: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrDispatchNotFound
	}

	l.logger.Info("dispatch tombstoned", zap.Int64("dispatch_id", id))
	return nil
}

func scanDispatch(row pgx.Row) (*Dispatch, error) {
	var d Dispatch
	err := row.Scan(
		&d.ID,
		&d.UserID,
		&d.Position,
		&d.SentAt,
		&d.DeletedAt,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
