package cli

import (
	"bytes"
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/rekindle/internal/config"
	"github.com/lalithlochan/rekindle/internal/db"
	"github.com/lalithlochan/rekindle/internal/lifecycle"
)

type fakeScanner struct {
	report *lifecycle.Report
	err    error
	opts   []lifecycle.ScanOptions
}

func (f *fakeScanner) Run(ctx context.Context, opts lifecycle.ScanOptions) (*lifecycle.Report, error) {
	f.opts = append(f.opts, opts)
	if f.err != nil {
		return nil, f.err
	}
	if f.report != nil {
		return f.report, nil
	}
	return &lifecycle.Report{DryRun: opts.DryRun, Skipped: map[lifecycle.Reason]int{}}, nil
}

type fakeReminders struct {
	err   error
	users []uuid.UUID
}

func (f *fakeReminders) Request(ctx context.Context, userID uuid.UUID) (*db.Job, error) {
	f.users = append(f.users, userID)
	if f.err != nil {
		return nil, f.err
	}
	marker := time.Date(2024, 4, 1, 8, 0, 0, 0, time.UTC)
	return &db.Job{
		ID:          uuid.New(),
		Kind:        db.JobKindOnboardingReminder,
		UserID:      userID,
		Correlation: marker,
		RunAt:       marker.Add(24 * time.Hour),
		Deadline:    marker.Add(48 * time.Hour),
	}, nil
}

type fakeRunner struct {
	once    sync.Once
	started chan struct{}
}

func (f *fakeRunner) Start(ctx context.Context) {
	f.once.Do(func() { close(f.started) })
	<-ctx.Done()
}

type fakeEnv struct {
	scanner    *fakeScanner
	reminders  *fakeReminders
	runner     *fakeRunner
	opened     int
	migrated   int
	migrateErr error
}

func newFakeEnv() *fakeEnv {
	return &fakeEnv{
		scanner:   &fakeScanner{},
		reminders: &fakeReminders{},
		runner:    &fakeRunner{started: make(chan struct{})},
	}
}

func (e *fakeEnv) open(ctx context.Context) (*Runtime, error) {
	e.opened++
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return &Runtime{
		Config:    &config.Config{Port: 0},
		Logger:    zap.NewNop(),
		Scanner:   e.scanner,
		Reminders: e.reminders,
		Worker:    e.runner,
		HTTP:      mux,
		Migrate: func(ctx context.Context) (int, int, error) {
			if e.migrateErr != nil {
				return 0, 0, e.migrateErr
			}
			e.migrated++
			return 2, 1, nil
		},
	}, nil
}

// execute runs the root command with args and returns stdout.
func (e *fakeEnv) execute(args ...string) (string, error) {
	buf := &bytes.Buffer{}
	cmd := NewRootCommand(e.open)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}
