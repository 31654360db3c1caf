package config

import (
	"testing"
	"time"
)

// clearEnv blanks every variable Load reads so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "LOG_LEVEL", "ENV",
		"DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME", "DB_SSLMODE",
		"REDIS_HOST", "REDIS_PORT", "REDIS_PASSWORD", "REDIS_DB",
		"AWS_REGION", "SQS_DLQ_URL",
		"MAIL_PROVIDER", "MAIL_FROM", "MAIL_FROM_NAME", "SENDGRID_API_KEY", "MAIL_RATE_LIMIT", "APP_BASE_URL",
		"CHURN_INACTIVITY_DAYS", "CHURN_CADENCE_DAYS", "REMINDER_DELAY", "REMINDER_DEADLINE",
		"WORKER_POLL_INTERVAL", "WORKER_BATCH_SIZE",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Port)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected log level 'info', got %s", cfg.LogLevel)
	}
	if cfg.Env != "development" {
		t.Errorf("expected env 'development', got %s", cfg.Env)
	}
	if cfg.MailProvider != MailProviderLog {
		t.Errorf("expected mail provider 'log', got %s", cfg.MailProvider)
	}
	if cfg.ChurnInactivity() != 30*24*time.Hour {
		t.Errorf("expected 30 day inactivity window, got %s", cfg.ChurnInactivity())
	}
	if cfg.ChurnCadence() != 7*24*time.Hour {
		t.Errorf("expected 7 day cadence, got %s", cfg.ChurnCadence())
	}
	if cfg.ReminderDelay != 24*time.Hour || cfg.ReminderDeadline != 48*time.Hour {
		t.Errorf("expected 24h/48h reminder timing, got %s/%s", cfg.ReminderDelay, cfg.ReminderDeadline)
	}
	if cfg.MailRateLimit != 0 {
		t.Errorf("expected throttling disabled by default, got %d", cfg.MailRateLimit)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("ENV", "production")
	t.Setenv("MAIL_PROVIDER", "sendgrid")
	t.Setenv("SENDGRID_API_KEY", "SG.test")
	t.Setenv("MAIL_RATE_LIMIT", "120")
	t.Setenv("CHURN_INACTIVITY_DAYS", "14")
	t.Setenv("REMINDER_DELAY", "1h")
	t.Setenv("REMINDER_DEADLINE", "3h")
	t.Setenv("WORKER_POLL_INTERVAL", "250ms")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Port)
	}
	if cfg.Env != "production" {
		t.Errorf("expected env 'production', got %s", cfg.Env)
	}
	if cfg.MailProvider != MailProviderSendGrid || cfg.SendGridAPIKey != "SG.test" {
		t.Errorf("unexpected mail settings: %s / %s", cfg.MailProvider, cfg.SendGridAPIKey)
	}
	if cfg.MailRateLimit != 120 {
		t.Errorf("expected rate limit 120, got %d", cfg.MailRateLimit)
	}
	if cfg.ChurnInactivity() != 14*24*time.Hour {
		t.Errorf("expected 14 day window, got %s", cfg.ChurnInactivity())
	}
	if cfg.ReminderDelay != time.Hour || cfg.ReminderDeadline != 3*time.Hour {
		t.Errorf("unexpected reminder timing %s/%s", cfg.ReminderDelay, cfg.ReminderDeadline)
	}
	if cfg.WorkerPollInterval != 250*time.Millisecond {
		t.Errorf("expected 250ms poll interval, got %s", cfg.WorkerPollInterval)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"non-numeric port", map[string]string{"PORT": "eighty"}},
		{"unknown mail provider", map[string]string{"MAIL_PROVIDER": "carrier-pigeon"}},
		{"sendgrid without key", map[string]string{"MAIL_PROVIDER": "sendgrid"}},
		{"bad duration", map[string]string{"REMINDER_DELAY": "tomorrow"}},
		{"deadline before delay", map[string]string{"REMINDER_DELAY": "48h", "REMINDER_DEADLINE": "24h"}},
		{"deadline equal to delay", map[string]string{"REMINDER_DELAY": "24h", "REMINDER_DEADLINE": "24h"}},
		{"negative cadence", map[string]string{"CHURN_CADENCE_DAYS": "-7"}},
		{"zero cadence", map[string]string{"CHURN_CADENCE_DAYS": "0"}},
		{"negative inactivity", map[string]string{"CHURN_INACTIVITY_DAYS": "-30"}},
		{"zero inactivity", map[string]string{"CHURN_INACTIVITY_DAYS": "0"}},
		{"negative reminder delay", map[string]string{"REMINDER_DELAY": "-1h"}},
		{"zero reminder delay", map[string]string{"REMINDER_DELAY": "0s"}},
		{"negative poll interval", map[string]string{"WORKER_POLL_INTERVAL": "-1s"}},
		{"zero poll interval", map[string]string{"WORKER_POLL_INTERVAL": "0s"}},
		{"zero batch size", map[string]string{"WORKER_BATCH_SIZE": "0"}},
		{"negative batch size", map[string]string{"WORKER_BATCH_SIZE": "-5"}},
		{"negative mail rate limit", map[string]string{"MAIL_RATE_LIMIT": "-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			if _, err := Load(); err == nil {
				t.Error("expected an error")
			}
		})
	}
}
