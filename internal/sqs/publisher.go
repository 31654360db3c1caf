// Package sqs publishes abandoned lifecycle jobs to an SQS dead-letter queue
// so operators can alert on them outside the database.
package sqs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"
)

// Config holds SQS configuration.
type Config struct {
	Region string
	DLQURL string
}

// Abandonment describes a job that stopped retrying without sending.
type Abandonment struct {
	JobID       string    `json:"job_id"`
	DeadLetter  string    `json:"dead_letter_id"`
	Kind        string    `json:"kind"`
	UserID      string    `json:"user_id"`
	Correlation time.Time `json:"correlation"`
	Attempts    int       `json:"attempts"`
	Reason      string    `json:"reason"`
	AbandonedAt time.Time `json:"abandoned_at"`
}

// sqsAPI is the subset of the SQS client used here.
type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Publisher sends abandonments to the DLQ.
type Publisher struct {
	client   sqsAPI
	queueURL string
	logger   *zap.Logger
}

// NewPublisher creates a new SQS publisher.
func NewPublisher(ctx context.Context, cfg Config, logger *zap.Logger) (*Publisher, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	logger.Info("sqs abandonment publisher initialized",
		zap.String("queue_url", cfg.DLQURL),
	)

	return &Publisher{
		client:   sqs.NewFromConfig(awsCfg),
		queueURL: cfg.DLQURL,
		logger:   logger,
	}, nil
}

// Publish sends one abandonment and returns the SQS message ID.
func (p *Publisher) Publish(ctx context.Context, a Abandonment) (string, error) {
	if a.AbandonedAt.IsZero() {
		a.AbandonedAt = time.Now().UTC()
	}

	body, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("failed to marshal abandonment: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"kind": {
				DataType:    aws.String("String"),
				StringValue: aws.String(a.Kind),
			},
		},
	}

	result, err := p.client.SendMessage(ctx, input)
	if err != nil {
		p.logger.Error("failed to publish abandonment",
			zap.Error(err),
			zap.String("job_id", a.JobID),
		)
		return "", fmt.Errorf("sqs send failed: %w", err)
	}

	return aws.ToString(result.MessageId), nil
}
