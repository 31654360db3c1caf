package mail

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"
)

// sesAPI is the subset of the SES client used here.
type sesAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type SESTransport struct {
	client sesAPI
	from   string
	logger *zap.Logger
}

type SESConfig struct {
	Region    string
	FromEmail string
	FromName  string
}

func NewSESTransport(ctx context.Context, cfg SESConfig, logger *zap.Logger) (*SESTransport, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config: %w", err)
	}

	from := cfg.FromEmail
	if cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", cfg.FromName, cfg.FromEmail)
	}

	return &SESTransport{
		client: ses.NewFromConfig(awsCfg),
		from:   from,
		logger: logger,
	}, nil
}

// Send sends an email via AWS SES
func (s *SESTransport) Send(ctx context.Context, msg *Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	body := &types.Body{}
	if msg.Text != "" {
		body.Text = &types.Content{Data: aws.String(msg.Text), Charset: aws.String("UTF-8")}
	}
	if msg.HTML != "" {
		body.Html = &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")}
	}

	input := &ses.SendEmailInput{
		Source: aws.String(s.from),
		Destination: &types.Destination{
			ToAddresses: []string{msg.To},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(msg.Subject),
				Charset: aws.String("UTF-8"),
			},
			Body: body,
		},
	}
	if msg.Category != "" {
		input.Tags = []types.MessageTag{{Name: aws.String("category"), Value: aws.String(msg.Category)}}
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("ses send failed: %w", err)
	}

	s.logger.Info("email sent via SES",
		zap.String("to", msg.To),
		zap.String("category", msg.Category),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)

	return nil
}

func (s *SESTransport) Name() string {
	return "ses"
}
