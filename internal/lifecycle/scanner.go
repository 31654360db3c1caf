package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/rekindle/internal/db"
	"github.com/lalithlochan/rekindle/internal/mail"
	"github.com/lalithlochan/rekindle/internal/metrics"
)

// ScanJobName keys the daily run guard.
const ScanJobName = "churn-scan"

// Per-user outcomes in a scan report.
const (
	OutcomeSent      = "sent"
	OutcomeWouldSend = "would_send"
	OutcomeFailed    = "failed"
	OutcomeDuplicate = "duplicate"
	OutcomeSkipped   = "skipped"
)

// CandidateSource lists disengaged users.
type CandidateSource interface {
	ListChurnCandidates(ctx context.Context, now time.Time, inactivity time.Duration) ([]*db.ChurnCandidate, error)
}

// DispatchStore is the dispatch ledger as the scanner sees it.
type DispatchStore interface {
	Latest(ctx context.Context, userID uuid.UUID) (*db.Dispatch, error)
	Record(ctx context.Context, userID uuid.UUID, position int, sentAt time.Time) (*db.Dispatch, error)
}

// ActivitySource answers "did the user read on or after day?".
type ActivitySource interface {
	HasActivitySince(ctx context.Context, userID uuid.UUID, day time.Time) (bool, error)
}

// RunGuard remembers that a job already ran on a given day.
type RunGuard interface {
	TryAcquire(ctx context.Context, job string, day time.Time) (bool, error)
	Release(ctx context.Context, job string, day time.Time) error
}

// ScanOptions controls a single scan.
type ScanOptions struct {
	// DryRun resolves positions only; nothing is sent or recorded.
	DryRun bool
	// Force bypasses the "already ran today" guard.
	Force bool
}

// ReportEntry is the per-user line of a scan report.
type ReportEntry struct {
	UserID   uuid.UUID `json:"user_id"`
	Email    string    `json:"email"`
	Position int       `json:"position,omitempty"`
	Reason   Reason    `json:"reason"`
	Outcome  string    `json:"outcome"`
	Error    string    `json:"error,omitempty"`
}

// Report summarises one scan.
type Report struct {
	StartedAt  time.Time      `json:"started_at"`
	DryRun     bool           `json:"dry_run"`
	AlreadyRan bool           `json:"already_ran"`
	Candidates int            `json:"candidates"`
	Eligible   int            `json:"eligible"`
	Sent       int            `json:"sent"`
	Failed     int            `json:"failed"`
	Duplicates int            `json:"duplicates"`
	Skipped    map[Reason]int `json:"skipped"`
	Entries    []ReportEntry  `json:"entries"`
}

// ScannerConfig holds the timing rules of the sequence.
type ScannerConfig struct {
	Inactivity time.Duration
	Cadence    time.Duration
}

// Scanner runs the churn-recovery batch.
type Scanner struct {
	candidates CandidateSource
	ledger     DispatchStore
	activity   ActivitySource
	guard      RunGuard
	renderer   *mail.Renderer
	transport  mail.Transport
	config     ScannerConfig
	now        func() time.Time
	logger     *zap.Logger
}

// NewScanner creates a scanner. guard may be nil.
func NewScanner(
	candidates CandidateSource,
	ledger DispatchStore,
	activity ActivitySource,
	guard RunGuard,
	renderer *mail.Renderer,
	transport mail.Transport,
	cfg ScannerConfig,
	logger *zap.Logger,
) *Scanner {
	if cfg.Inactivity <= 0 {
		cfg.Inactivity = 30 * 24 * time.Hour
	}
	if cfg.Cadence <= 0 {
		cfg.Cadence = DefaultCadence
	}

	return &Scanner{
		candidates: candidates,
		ledger:     ledger,
		activity:   activity,
		guard:      guard,
		renderer:   renderer,
		transport:  transport,
		config:     cfg,
		now:        time.Now,
		logger:     logger,
	}
}

// WithClock replaces the scanner's time source.
func (s *Scanner) WithClock(now func() time.Time) *Scanner {
	s.now = now
	return s
}

// Run performs one scan. Delivery failures and ledger duplicates are recorded
// in the report; only storage errors abort the batch.
func (s *Scanner) Run(ctx context.Context, opts ScanOptions) (*Report, error) {
	now := s.now()
	report := &Report{
		StartedAt: now,
		DryRun:    opts.DryRun,
		Skipped:   map[Reason]int{},
		Entries:   []ReportEntry{},
	}

	guarded := false
	if s.guard != nil && !opts.DryRun && !opts.Force {
		acquired, err := s.guard.TryAcquire(ctx, ScanJobName, now)
		switch {
		case err != nil:
			s.logger.Warn("run guard unavailable, scanning anyway", zap.Error(err))
		case !acquired:
			s.logger.Info("churn scan already ran today, skipping", zap.Time("day", now))
			report.AlreadyRan = true
			metrics.RecordChurnScan(opts.DryRun, "already_ran")
			return report, nil
		default:
			guarded = true
		}
	}

	err := s.scan(ctx, now, opts, report)
	if err != nil {
		metrics.RecordChurnScan(opts.DryRun, "error")
		if guarded {
			// let the outer scheduler retry today
			if rerr := s.guard.Release(context.WithoutCancel(ctx), ScanJobName, now); rerr != nil {
				s.logger.Warn("failed to release run guard", zap.Error(rerr))
			}
		}
		return report, err
	}

	metrics.RecordChurnScan(opts.DryRun, "ok")
	s.logger.Info("churn scan finished",
		zap.Bool("dry_run", opts.DryRun),
		zap.Int("candidates", report.Candidates),
		zap.Int("eligible", report.Eligible),
		zap.Int("sent", report.Sent),
		zap.Int("failed", report.Failed),
		zap.Int("duplicates", report.Duplicates),
	)

	return report, nil
}

func (s *Scanner) scan(ctx context.Context, now time.Time, opts ScanOptions, report *Report) error {
	candidates, err := s.candidates.ListChurnCandidates(ctx, now, s.config.Inactivity)
	if err != nil {
		return fmt.Errorf("list churn candidates: %w", err)
	}
	report.Candidates = len(candidates)
	metrics.SetChurnCandidates(len(candidates))

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}

		decision, err := s.resolve(ctx, c.UserID, now)
		if err != nil {
			return err
		}

		entry := ReportEntry{
			UserID:   c.UserID,
			Email:    c.Email,
			Position: decision.Position,
			Reason:   decision.Reason,
		}

		if !decision.Send() {
			entry.Outcome = OutcomeSkipped
			report.Skipped[decision.Reason]++
			report.Entries = append(report.Entries, entry)
			continue
		}

		report.Eligible++
		if opts.DryRun {
			entry.Outcome = OutcomeWouldSend
			report.Entries = append(report.Entries, entry)
			continue
		}

		outcome, err := s.dispatch(ctx, c, decision.Position, now)
		entry.Outcome = outcome
		switch outcome {
		case OutcomeSent:
			report.Sent++
		case OutcomeDuplicate:
			report.Duplicates++
		case OutcomeFailed:
			report.Failed++
			entry.Error = err.Error()
			err = nil
		}
		report.Entries = append(report.Entries, entry)
		if err != nil {
			return err
		}
	}

	return nil
}

// resolve gathers the user's sequence facts and runs the resolver.
func (s *Scanner) resolve(ctx context.Context, userID uuid.UUID, now time.Time) (Decision, error) {
	latest, err := s.ledger.Latest(ctx, userID)
	if err != nil {
		return Decision{}, fmt.Errorf("latest dispatch for %s: %w", userID, err)
	}

	var facts SequenceFacts
	if latest != nil {
		facts.LastPosition = latest.Position
		facts.LastSentAt = latest.SentAt
		facts.ActiveSinceLastSend, err = s.activity.HasActivitySince(ctx, userID, ReactivationDay(latest.SentAt))
		if err != nil {
			return Decision{}, fmt.Errorf("activity for %s: %w", userID, err)
		}
	}

	return ResolveNextMessage(facts, now, s.config.Cadence), nil
}

// dispatch sends one message and records it. The returned error is the
// delivery failure for OutcomeFailed, or a storage error that must abort the scan.
func (s *Scanner) dispatch(ctx context.Context, c *db.ChurnCandidate, position int, now time.Time) (string, error) {
	log := s.logger.With(
		zap.String("user_id", c.UserID.String()),
		zap.Int("position", position),
	)

	msg, err := s.renderer.Churn(position, c.Name, c.Email)
	if err != nil {
		return "", err
	}

	start := time.Now()
	err = s.transport.Send(ctx, msg)
	metrics.RecordMailSend(s.transport.Name(), err == nil, time.Since(start))
	if err != nil {
		log.Warn("churn email not delivered, will retry next run", zap.Error(err))
		metrics.RecordDispatch(position, OutcomeFailed)
		return OutcomeFailed, err
	}

	if _, err := s.ledger.Record(ctx, c.UserID, position, now); err != nil {
		if errors.Is(err, db.ErrDuplicateDispatch) {
			log.Info("dispatch already recorded by a concurrent run")
			metrics.RecordDispatch(position, OutcomeDuplicate)
			return OutcomeDuplicate, nil
		}
		log.Error("email sent but dispatch not recorded", zap.Error(err))
		return OutcomeSent, fmt.Errorf("record dispatch for %s: %w", c.UserID, err)
	}

	log.Info("churn email sent")
	metrics.RecordDispatch(position, OutcomeSent)
	return OutcomeSent, nil
}
