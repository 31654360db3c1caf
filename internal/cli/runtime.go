package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/rekindle/internal/api"
	"github.com/lalithlochan/rekindle/internal/circuitbreaker"
	"github.com/lalithlochan/rekindle/internal/config"
	"github.com/lalithlochan/rekindle/internal/db"
	"github.com/lalithlochan/rekindle/internal/lifecycle"
	"github.com/lalithlochan/rekindle/internal/mail"
	"github.com/lalithlochan/rekindle/internal/metrics"
	"github.com/lalithlochan/rekindle/internal/observ"
	"github.com/lalithlochan/rekindle/internal/redis"
	"github.com/lalithlochan/rekindle/internal/sqs"
	"github.com/lalithlochan/rekindle/internal/worker"
)

// OpenFunc builds a Runtime.
type OpenFunc func(ctx context.Context) (*Runtime, error)

// JobRunner drains the delayed job table until ctx is cancelled.
type JobRunner interface {
	Start(ctx context.Context)
}

// Runtime is the wired engine the commands operate on.
type Runtime struct {
	Config    *config.Config
	Logger    *zap.Logger
	Scanner   api.ChurnScanner
	Reminders api.ReminderRequester
	Worker    JobRunner
	HTTP      http.Handler
	Migrate   func(ctx context.Context) (applied, skipped int, err error)

	closers []func()
}

// Close releases connections in reverse order of acquisition.
func (r *Runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

func (r *Runtime) onClose(fn func()) {
	r.closers = append(r.closers, fn)
}

// OpenRuntime loads configuration and connects every dependency. Postgres is
// required; Redis and SQS are optional and degrade to no run guard, no rate
// limits, and log-only abandonment.
func OpenRuntime(ctx context.Context) (*Runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	rt := &Runtime{Config: cfg, Logger: logger}
	rt.onClose(func() { _ = logger.Sync() })

	database, err := db.New(ctx, db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}, logger)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	rt.onClose(database.Close)
	rt.Migrate = func(ctx context.Context) (int, int, error) {
		return db.Migrate(ctx, database, logger)
	}

	users := db.NewUserRepository(database, logger)
	ledger := db.NewDispatchLedger(database, logger)
	activity := db.NewActivityLedger(database)
	jobs := db.NewJobRepository(database, logger)

	checks := map[string]api.HealthCheck{
		"postgres": func(ctx context.Context) error {
			metrics.SetDBConnections(database.Stat())
			return database.Health(ctx)
		},
	}

	var (
		guard       lifecycle.RunGuard
		apiLimiter  api.RateChecker
		mailLimiter mail.Limiter
	)
	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Warn("redis unavailable, run guard and rate limits disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	} else {
		rt.onClose(func() { _ = redisClient.Close() })
		guard = redis.NewRunGuard(redisClient, logger)
		apiLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  100,
			Window: time.Minute,
		})
		if cfg.MailRateLimit > 0 {
			mailLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
				Limit:  cfg.MailRateLimit,
				Window: time.Minute,
			})
		}
		checks["redis"] = redisClient.Ping
	}

	base, err := newTransport(ctx, cfg, logger)
	if err != nil {
		rt.Close()
		return nil, err
	}
	protected := circuitbreaker.NewProtectedTransport(base,
		circuitbreaker.New(circuitbreaker.DefaultConfig(base.Name()), logger), logger)
	checks["mail"] = func(ctx context.Context) error {
		if protected.Breaker().GetState() == circuitbreaker.StateOpen {
			return fmt.Errorf("%s circuit open", protected.Name())
		}
		return nil
	}
	var transport mail.Transport = protected
	if mailLimiter != nil {
		transport = mail.NewThrottledTransport(protected, mailLimiter, logger)
	}

	renderer := mail.NewRenderer(cfg.AppBaseURL)
	timing := lifecycle.ReminderTiming{Delay: cfg.ReminderDelay, Deadline: cfg.ReminderDeadline}

	scanner := lifecycle.NewScanner(users, ledger, activity, guard, renderer, transport, lifecycle.ScannerConfig{
		Inactivity: cfg.ChurnInactivity(),
		Cadence:    cfg.ChurnCadence(),
	}, logger)
	scheduler := lifecycle.NewReminderScheduler(users, jobs, timing, logger)
	reminders := lifecycle.NewReminderJob(lifecycle.NewPostgresLocker(users), renderer, transport, timing, logger)

	var publisher worker.Publisher
	if cfg.SQSDLQURL != "" {
		p, err := sqs.NewPublisher(ctx, sqs.Config{Region: cfg.AWSRegion, DLQURL: cfg.SQSDLQURL}, logger)
		if err != nil {
			logger.Warn("sqs publisher unavailable, abandoned jobs will only be logged", zap.Error(err))
		} else {
			publisher = p
		}
	}

	w := worker.New(jobs, worker.NewLoggingAbandonHandler(publisher, logger), worker.Config{
		PollInterval: cfg.WorkerPollInterval,
		BatchSize:    cfg.WorkerBatchSize,
	}, logger)
	w.Register(db.JobKindOnboardingReminder, reminders)

	handler := api.NewHandler(logger, api.Services{
		Reminders:   scheduler,
		Scanner:     scanner,
		Users:       users,
		Dispatches:  ledger,
		Activity:    activity,
		DeadLetters: jobs,
		Checks:      checks,
	})

	rt.Scanner = scanner
	rt.Reminders = scheduler
	rt.Worker = w
	rt.HTTP = api.NewRouter(handler, apiLimiter, logger)

	logger.Info("rekindle runtime ready",
		zap.String("env", cfg.Env),
		zap.String("mail_provider", base.Name()),
		zap.Bool("redis", redisClient != nil),
		zap.Bool("sqs_dlq", publisher != nil),
	)

	return rt, nil
}

func newTransport(ctx context.Context, cfg *config.Config, logger *zap.Logger) (mail.Transport, error) {
	switch cfg.MailProvider {
	case config.MailProviderSES:
		t, err := mail.NewSESTransport(ctx, mail.SESConfig{
			Region:    cfg.AWSRegion,
			FromEmail: cfg.MailFrom,
			FromName:  cfg.MailFromName,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create SES transport: %w", err)
		}
		return t, nil
	case config.MailProviderSendGrid:
		return mail.NewSendGridTransport(mail.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.MailFrom,
			FromName:  cfg.MailFromName,
		}, logger), nil
	case config.MailProviderLog:
		return mail.NewLogTransport(logger), nil
	default:
		return nil, errors.New("unknown mail provider " + cfg.MailProvider)
	}
}

// open runs the factory and maps its failure to a command error.
func (o *RootOptions) open(ctx context.Context) (*Runtime, error) {
	rt, err := o.Open(ctx)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to start", err)
	}
	return rt, nil
}
