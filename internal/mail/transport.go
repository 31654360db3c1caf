// Package mail is the engine's boundary to email delivery. Callers only care
// whether a message was accepted; rendering is fixed copy, not a template engine.
package mail

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrThrottled is returned when the send-rate limit denies a message.
var ErrThrottled = errors.New("mail send throttled")

// Message is a rendered email ready for a transport.
type Message struct {
	To       string
	ToName   string
	Subject  string
	Text     string
	HTML     string
	Category string // e.g. "churn-2", "onboarding"
}

// Validate checks the fields every transport needs.
func (m *Message) Validate() error {
	if m.To == "" {
		return fmt.Errorf("message missing recipient")
	}
	if m.Subject == "" {
		return fmt.Errorf("message missing subject")
	}
	if m.Text == "" && m.HTML == "" {
		return fmt.Errorf("message missing body")
	}
	return nil
}

// Transport delivers a message. A nil error means the provider accepted it.
type Transport interface {
	Send(ctx context.Context, msg *Message) error
	Name() string
}

// LogTransport logs messages instead of sending them (for development).
type LogTransport struct {
	logger *zap.Logger
}

func NewLogTransport(logger *zap.Logger) *LogTransport {
	return &LogTransport{logger: logger}
}

func (t *LogTransport) Send(ctx context.Context, msg *Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	t.logger.Info("logging email (development mode)",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("category", msg.Category),
	)
	return nil
}

func (t *LogTransport) Name() string {
	return "log"
}

// Limiter decides whether one more send is allowed for key.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// ThrottledTransport enforces a provider-wide send rate in front of another transport.
// A limiter error fails open so a Redis outage does not stop delivery.
type ThrottledTransport struct {
	next    Transport
	limiter Limiter
	key     string
	logger  *zap.Logger
}

func NewThrottledTransport(next Transport, limiter Limiter, logger *zap.Logger) *ThrottledTransport {
	return &ThrottledTransport{
		next:    next,
		limiter: limiter,
		key:     "mail:" + next.Name(),
		logger:  logger,
	}
}

func (t *ThrottledTransport) Send(ctx context.Context, msg *Message) error {
	allowed, err := t.limiter.Allow(ctx, t.key)
	if err != nil {
		t.logger.Warn("send throttle check failed, sending anyway", zap.Error(err))
	} else if !allowed {
		return fmt.Errorf("%w: %s", ErrThrottled, t.key)
	}
	return t.next.Send(ctx, msg)
}

func (t *ThrottledTransport) Name() string {
	return t.next.Name()
}
