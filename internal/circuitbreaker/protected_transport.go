package circuitbreaker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/rekindle/internal/mail"
)

// ProtectedTransport wraps a mail transport with a CircuitBreaker. While the
// breaker is open, sends fail immediately with ErrCircuitOpen, which callers
// treat like any other delivery failure.
type ProtectedTransport struct {
	next    mail.Transport
	breaker *CircuitBreaker
	logger  *zap.Logger
}

func NewProtectedTransport(next mail.Transport, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedTransport {
	return &ProtectedTransport{
		next:    next,
		breaker: breaker,
		logger:  logger,
	}
}

func (p *ProtectedTransport) Send(ctx context.Context, msg *mail.Message) error {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected send",
			zap.String("breaker", p.breaker.Name()),
			zap.String("category", msg.Category),
			zap.String("state", p.breaker.GetState().String()),
		)
		return fmt.Errorf("%w: %s transport unavailable", ErrCircuitOpen, p.breaker.Name())
	}

	if err := p.next.Send(ctx, msg); err != nil {
		p.breaker.RecordFailure()
		return err
	}

	p.breaker.RecordSuccess()
	return nil
}

func (p *ProtectedTransport) Name() string {
	return p.next.Name()
}

// Breaker exposes the breaker for the health endpoint.
func (p *ProtectedTransport) Breaker() *CircuitBreaker {
	return p.breaker
}
