package circuitbreaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/rekindle/internal/metrics"
)

// State is the breaker position.
//
//	Closed -> Open:      consecutive failures reach MaxFailures
//	Open -> HalfOpen:    RecoveryTimeout elapsed since the last failure
//	HalfOpen -> Closed:  a probe succeeds
//	HalfOpen -> Open:    a probe fails
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config holds the configuration for a CircuitBreaker.
type Config struct {
	// Name identifies the protected dependency, usually the mail provider.
	Name string

	MaxFailures         int
	RecoveryTimeout     time.Duration
	HalfOpenMaxRequests int
}

// DefaultConfig returns 5 failures, a 30s recovery window and a single probe.
func DefaultConfig(name string) Config {
	return Config{
		Name:                name,
		MaxFailures:         5,
		RecoveryTimeout:     30 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

// CircuitBreaker stops calling a mail provider that keeps failing, so a
// provider outage turns into fast, retryable failures instead of a stalled batch.
type CircuitBreaker struct {
	mu     sync.Mutex
	config Config
	logger *zap.Logger
	now    func() time.Time

	state            State
	failureCount     int
	lastFailureTime  time.Time
	lastStateChange  time.Time
	halfOpenRequests int

	totalRequests  int64
	totalFailures  int64
	totalSuccesses int64
	totalRejected  int64
}

// New creates a new CircuitBreaker with the given configuration.
func New(cfg Config, logger *zap.Logger) *CircuitBreaker {
	return NewWithClock(cfg, time.Now, logger)
}

// NewWithClock is New with an explicit time source.
func NewWithClock(cfg Config, now func() time.Time, logger *zap.Logger) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = 1
	}

	logger.Info("circuit breaker created",
		zap.String("name", cfg.Name),
		zap.Int("max_failures", cfg.MaxFailures),
		zap.Duration("recovery_timeout", cfg.RecoveryTimeout),
	)

	metrics.SetCircuitState(cfg.Name, int(StateClosed))

	return &CircuitBreaker{
		config:          cfg,
		logger:          logger,
		now:             now,
		state:           StateClosed,
		lastStateChange: now(),
	}
}

// Name returns the configured breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.config.Name
}

// Allow reports whether a call may go through right now.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalRequests++

	switch cb.state {
	case StateClosed:
		return true

	case StateOpen:
		if cb.now().Sub(cb.lastFailureTime) >= cb.config.RecoveryTimeout {
			cb.transitionTo(StateHalfOpen)
			cb.halfOpenRequests = 1
			cb.logger.Info("circuit breaker allowing probe request",
				zap.String("name", cb.config.Name),
			)
			return true
		}
		cb.totalRejected++
		metrics.RecordCircuitRejection(cb.config.Name)
		return false

	case StateHalfOpen:
		if cb.halfOpenRequests < cb.config.HalfOpenMaxRequests {
			cb.halfOpenRequests++
			return true
		}
		cb.totalRejected++
		metrics.RecordCircuitRejection(cb.config.Name)
		return false

	default:
		return false
	}
}

// RecordSuccess resets the failure streak and closes a half-open breaker.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalSuccesses++
	cb.failureCount = 0

	if cb.state == StateHalfOpen {
		cb.transitionTo(StateClosed)
		cb.logger.Info("circuit breaker closed, provider recovered",
			zap.String("name", cb.config.Name),
		)
	}
}

// RecordFailure extends the failure streak and opens the breaker when it
// reaches the threshold. A failed probe re-opens immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalFailures++
	cb.failureCount++
	cb.lastFailureTime = cb.now()

	switch cb.state {
	case StateClosed:
		if cb.failureCount >= cb.config.MaxFailures {
			cb.transitionTo(StateOpen)
			cb.logger.Warn("circuit breaker opened",
				zap.String("name", cb.config.Name),
				zap.Int("failures", cb.failureCount),
				zap.Int("threshold", cb.config.MaxFailures),
			)
		}

	case StateHalfOpen:
		cb.transitionTo(StateOpen)
		cb.logger.Warn("circuit breaker re-opened, probe failed",
			zap.String("name", cb.config.Name),
		)
	}
}

// GetState returns the current state of the circuit breaker.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats is a snapshot for the health endpoint.
type Stats struct {
	Name            string `json:"name"`
	State           string `json:"state"`
	FailureCount    int    `json:"failure_count"`
	TotalRequests   int64  `json:"total_requests"`
	TotalFailures   int64  `json:"total_failures"`
	TotalSuccesses  int64  `json:"total_successes"`
	TotalRejected   int64  `json:"total_rejected"`
	LastFailure     string `json:"last_failure,omitempty"`
	LastStateChange string `json:"last_state_change"`
}

func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s := Stats{
		Name:            cb.config.Name,
		State:           cb.state.String(),
		FailureCount:    cb.failureCount,
		TotalRequests:   cb.totalRequests,
		TotalFailures:   cb.totalFailures,
		TotalSuccesses:  cb.totalSuccesses,
		TotalRejected:   cb.totalRejected,
		LastStateChange: cb.lastStateChange.Format(time.RFC3339),
	}
	if !cb.lastFailureTime.IsZero() {
		s.LastFailure = cb.lastFailureTime.Format(time.RFC3339)
	}
	return s
}

// Reset closes the breaker and clears the failure streak.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.transitionTo(StateClosed)
	cb.failureCount = 0
	cb.halfOpenRequests = 0

	cb.logger.Info("circuit breaker manually reset",
		zap.String("name", cb.config.Name),
	)
}

// transitionTo must be called with mu held.
func (cb *CircuitBreaker) transitionTo(newState State) {
	if cb.state == newState {
		return
	}

	oldState := cb.state
	cb.state = newState
	cb.lastStateChange = cb.now()
	cb.halfOpenRequests = 0

	metrics.SetCircuitState(cb.config.Name, int(newState))
	metrics.RecordCircuitTransition(cb.config.Name, newState.String())

	cb.logger.Debug("circuit breaker state transition",
		zap.String("name", cb.config.Name),
		zap.String("from", oldState.String()),
		zap.String("to", newState.String()),
	)
}

func (cb *CircuitBreaker) String() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return fmt.Sprintf("CircuitBreaker[%s] state=%s failures=%d/%d",
		cb.config.Name, cb.state, cb.failureCount, cb.config.MaxFailures)
}
