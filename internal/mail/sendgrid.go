package mail

import (
	"context"
	"fmt"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
)

// sendgridAPI is the subset of the SendGrid client used here.
type sendgridAPI interface {
	SendWithContext(ctx context.Context, email *sgmail.SGMailV3) (*rest.Response, error)
}

type SendGridTransport struct {
	client    sendgridAPI
	fromEmail string
	fromName  string
	logger    *zap.Logger
}

type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

func NewSendGridTransport(cfg SendGridConfig, logger *zap.Logger) *SendGridTransport {
	return &SendGridTransport{
		client:    sendgrid.NewSendClient(cfg.APIKey),
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		logger:    logger,
	}
}

// Send sends an email through the SendGrid v3 API. Any 4xx/5xx status is a failure.
func (s *SendGridTransport) Send(ctx context.Context, msg *Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	from := sgmail.NewEmail(s.fromName, s.fromEmail)
	to := sgmail.NewEmail(msg.ToName, msg.To)
	message := sgmail.NewSingleEmail(from, msg.Subject, to, msg.Text, msg.HTML)
	if msg.Category != "" {
		message.AddCategories(msg.Category)
	}

	response, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("sendgrid send failed: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("sendgrid rejected email to %s: status %d", msg.To, response.StatusCode)
	}

	s.logger.Info("email sent via SendGrid",
		zap.String("to", msg.To),
		zap.String("category", msg.Category),
		zap.Int("status", response.StatusCode),
	)

	return nil
}

func (s *SendGridTransport) Name() string {
	return "sendgrid"
}
