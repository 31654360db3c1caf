package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Mail providers
const (
	MailProviderSES      = "ses"
	MailProviderSendGrid = "sendgrid"
	MailProviderLog      = "log"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis config (run guard + send throttle)
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// AWS Services
	AWSRegion string
	SQSDLQURL string // expired reminder jobs are published here

	// Mail transport
	MailProvider   string
	MailFrom       string
	MailFromName   string
	SendGridAPIKey string
	MailRateLimit  int // sends per minute, 0 disables throttling
	AppBaseURL     string

	// Churn recovery
	ChurnInactivityDays int
	ChurnCadenceDays    int

	// Onboarding reminder
	ReminderDelay    time.Duration
	ReminderDeadline time.Duration

	// Job runner
	WorkerPollInterval time.Duration
	WorkerBatchSize    int
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is loaded first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		DBHost:    "localhost",
		DBPort:    5432,
		DBUser:    "rekindle",
		DBName:    "rekindle",
		DBSSLMode: "disable",

		RedisHost: "localhost",
		RedisPort: 6379,

		AWSRegion: "us-east-1",

		MailProvider: MailProviderLog,
		MailFrom:     "hello@rekindle.local",
		MailFromName: "Rekindle",
		AppBaseURL:   "http://localhost:3000",

		ChurnInactivityDays: 30,
		ChurnCadenceDays:    7,

		ReminderDelay:    24 * time.Hour,
		ReminderDeadline: 48 * time.Hour,

		WorkerPollInterval: 5 * time.Second,
		WorkerBatchSize:    10,
	}

	var err error

	if cfg.Port, err = intEnv("PORT", cfg.Port); err != nil {
		return nil, err
	}
	cfg.LogLevel = stringEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.Env = stringEnv("ENV", cfg.Env)

	// Database config
	cfg.DBHost = stringEnv("DB_HOST", cfg.DBHost)
	if cfg.DBPort, err = intEnv("DB_PORT", cfg.DBPort); err != nil {
		return nil, err
	}
	cfg.DBUser = stringEnv("DB_USER", cfg.DBUser)
	cfg.DBPassword = stringEnv("DB_PASSWORD", cfg.DBPassword)
	cfg.DBName = stringEnv("DB_NAME", cfg.DBName)
	cfg.DBSSLMode = stringEnv("DB_SSLMODE", cfg.DBSSLMode)

	// Redis config
	cfg.RedisHost = stringEnv("REDIS_HOST", cfg.RedisHost)
	if cfg.RedisPort, err = intEnv("REDIS_PORT", cfg.RedisPort); err != nil {
		return nil, err
	}
	cfg.RedisPassword = stringEnv("REDIS_PASSWORD", cfg.RedisPassword)
	if cfg.RedisDB, err = intEnv("REDIS_DB", cfg.RedisDB); err != nil {
		return nil, err
	}

	cfg.AWSRegion = stringEnv("AWS_REGION", cfg.AWSRegion)
	cfg.SQSDLQURL = stringEnv("SQS_DLQ_URL", cfg.SQSDLQURL)

	// Mail config
	cfg.MailProvider = stringEnv("MAIL_PROVIDER", cfg.MailProvider)
	switch cfg.MailProvider {
	case MailProviderSES, MailProviderSendGrid, MailProviderLog:
	default:
		return nil, fmt.Errorf("invalid MAIL_PROVIDER %q: must be ses, sendgrid or log", cfg.MailProvider)
	}
	cfg.MailFrom = stringEnv("MAIL_FROM", cfg.MailFrom)
	cfg.MailFromName = stringEnv("MAIL_FROM_NAME", cfg.MailFromName)
	cfg.SendGridAPIKey = stringEnv("SENDGRID_API_KEY", cfg.SendGridAPIKey)
	if cfg.MailProvider == MailProviderSendGrid && cfg.SendGridAPIKey == "" {
		return nil, fmt.Errorf("SENDGRID_API_KEY is required when MAIL_PROVIDER=sendgrid")
	}
	if cfg.MailRateLimit, err = intEnv("MAIL_RATE_LIMIT", cfg.MailRateLimit); err != nil {
		return nil, err
	}
	if cfg.MailRateLimit < 0 {
		return nil, fmt.Errorf("invalid MAIL_RATE_LIMIT %d: must be 0 (unlimited) or more", cfg.MailRateLimit)
	}
	cfg.AppBaseURL = stringEnv("APP_BASE_URL", cfg.AppBaseURL)

	// Lifecycle tunables
	if cfg.ChurnInactivityDays, err = intEnv("CHURN_INACTIVITY_DAYS", cfg.ChurnInactivityDays); err != nil {
		return nil, err
	}
	if cfg.ChurnCadenceDays, err = intEnv("CHURN_CADENCE_DAYS", cfg.ChurnCadenceDays); err != nil {
		return nil, err
	}
	if err := positiveInt("CHURN_INACTIVITY_DAYS", cfg.ChurnInactivityDays); err != nil {
		return nil, err
	}
	if err := positiveInt("CHURN_CADENCE_DAYS", cfg.ChurnCadenceDays); err != nil {
		return nil, err
	}
	if cfg.ReminderDelay, err = durationEnv("REMINDER_DELAY", cfg.ReminderDelay); err != nil {
		return nil, err
	}
	if err := positiveDuration("REMINDER_DELAY", cfg.ReminderDelay); err != nil {
		return nil, err
	}
	if cfg.ReminderDeadline, err = durationEnv("REMINDER_DEADLINE", cfg.ReminderDeadline); err != nil {
		return nil, err
	}
	if cfg.ReminderDeadline <= cfg.ReminderDelay {
		return nil, fmt.Errorf("REMINDER_DEADLINE (%s) must be longer than REMINDER_DELAY (%s)",
			cfg.ReminderDeadline, cfg.ReminderDelay)
	}

	if cfg.WorkerPollInterval, err = durationEnv("WORKER_POLL_INTERVAL", cfg.WorkerPollInterval); err != nil {
		return nil, err
	}
	if err := positiveDuration("WORKER_POLL_INTERVAL", cfg.WorkerPollInterval); err != nil {
		return nil, err
	}
	if cfg.WorkerBatchSize, err = intEnv("WORKER_BATCH_SIZE", cfg.WorkerBatchSize); err != nil {
		return nil, err
	}
	if err := positiveInt("WORKER_BATCH_SIZE", cfg.WorkerBatchSize); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ChurnInactivity is the window without reading activity that makes a user a churn candidate.
func (c *Config) ChurnInactivity() time.Duration {
	return time.Duration(c.ChurnInactivityDays) * 24 * time.Hour
}

// ChurnCadence is the minimum gap between two churn-recovery emails to the same user.
func (c *Config) ChurnCadence() time.Duration {
	return time.Duration(c.ChurnCadenceDays) * 24 * time.Hour
}

func stringEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func positiveInt(key string, v int) error {
	if v <= 0 {
		return fmt.Errorf("invalid %s %d: must be positive", key, v)
	}
	return nil
}

func positiveDuration(key string, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("invalid %s %s: must be positive", key, d)
	}
	return nil
}
