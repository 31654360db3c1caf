package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/lalithlochan/rekindle/internal/db"
	"github.com/lalithlochan/rekindle/internal/sqs"
)

// AbandonHandler is told about every job that stops retrying.
type AbandonHandler interface {
	Abandoned(ctx context.Context, job *db.Job, dlq *db.DeadLetterJob)
}

// Publisher forwards abandonments outside the database.
type Publisher interface {
	Publish(ctx context.Context, a sqs.Abandonment) (string, error)
}

// LoggingAbandonHandler logs the abandonment and, when a publisher is
// configured, forwards it to the SQS dead-letter queue.
type LoggingAbandonHandler struct {
	publisher Publisher
	logger    *zap.Logger
}

// NewLoggingAbandonHandler creates the terminal handler. publisher may be nil.
func NewLoggingAbandonHandler(publisher Publisher, logger *zap.Logger) *LoggingAbandonHandler {
	return &LoggingAbandonHandler{
		publisher: publisher,
		logger:    logger,
	}
}

func (h *LoggingAbandonHandler) Abandoned(ctx context.Context, job *db.Job, dlq *db.DeadLetterJob) {
	h.logger.Warn("lifecycle job abandoned",
		zap.String("job_id", job.ID.String()),
		zap.String("kind", job.Kind),
		zap.String("user_id", job.UserID.String()),
		zap.Time("correlation", job.Correlation),
		zap.Int("attempts", dlq.Attempts),
		zap.String("reason", dlq.Reason),
	)

	if h.publisher == nil {
		return
	}

	msgID, err := h.publisher.Publish(ctx, sqs.Abandonment{
		JobID:       job.ID.String(),
		DeadLetter:  dlq.ID.String(),
		Kind:        job.Kind,
		UserID:      job.UserID.String(),
		Correlation: job.Correlation,
		Attempts:    dlq.Attempts,
		Reason:      dlq.Reason,
		AbandonedAt: dlq.CreatedAt,
	})
	if err != nil {
		h.logger.Error("failed to publish abandonment", zap.Error(err), zap.String("job_id", job.ID.String()))
		return
	}
	h.logger.Debug("abandonment published", zap.String("message_id", msgID))
}
