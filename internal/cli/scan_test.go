package cli

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lalithlochan/rekindle/internal/lifecycle"
)

func sampleReport() *lifecycle.Report {
	return &lifecycle.Report{
		StartedAt:  time.Date(2024, 4, 2, 6, 0, 0, 0, time.UTC),
		Candidates: 3,
		Eligible:   2,
		Sent:       2,
		Skipped:    map[lifecycle.Reason]int{lifecycle.ReasonTooSoon: 1},
		Entries: []lifecycle.ReportEntry{
			{UserID: uuid.New(), Email: "ruth@example.com", Position: 1, Reason: lifecycle.ReasonNeverContacted, Outcome: lifecycle.OutcomeSent},
			{UserID: uuid.New(), Email: "sam@example.com", Position: 2, Reason: lifecycle.ReasonDue, Outcome: lifecycle.OutcomeSent},
			{UserID: uuid.New(), Email: "tess@example.com", Reason: lifecycle.ReasonTooSoon, Outcome: lifecycle.OutcomeSkipped},
		},
	}
}

func TestScanChurn_Flags(t *testing.T) {
	tests := []struct {
		args []string
		want lifecycle.ScanOptions
	}{
		{[]string{"scan-churn"}, lifecycle.ScanOptions{}},
		{[]string{"scan-churn", "--dry-run"}, lifecycle.ScanOptions{DryRun: true}},
		{[]string{"scan-churn", "--force"}, lifecycle.ScanOptions{Force: true}},
	}

	for _, tt := range tests {
		env := newFakeEnv()
		_, err := env.execute(tt.args...)
		require.NoError(t, err)
		assert.Equal(t, []lifecycle.ScanOptions{tt.want}, env.scanner.opts, "args %v", tt.args)
	}
}

func TestScanChurn_TextReport(t *testing.T) {
	env := newFakeEnv()
	env.scanner.report = sampleReport()

	out, err := env.execute("scan-churn")
	require.NoError(t, err)

	assert.Contains(t, out, "churn scan 2024-04-02")
	assert.Contains(t, out, "(live)")
	assert.Contains(t, out, "candidates: 3  eligible: 2  sent: 2")
	assert.Contains(t, out, "skipped: too_soon=1")
	assert.Contains(t, out, "ruth@example.com #1")
	assert.Contains(t, out, "sam@example.com #2")
	assert.NotContains(t, out, "tess@example.com", "skipped users only appear in the totals")
}

func TestScanChurn_JSONReport(t *testing.T) {
	env := newFakeEnv()
	env.scanner.report = sampleReport()

	out, err := env.execute("scan-churn", "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   lifecycle.Report `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 2, resp.Data.Sent)
	assert.Len(t, resp.Data.Entries, 3)
}

func TestScanChurn_AlreadyRan(t *testing.T) {
	env := newFakeEnv()
	env.scanner.report = &lifecycle.Report{StartedAt: time.Date(2024, 4, 2, 6, 0, 0, 0, time.UTC), AlreadyRan: true}

	out, err := env.execute("scan-churn")
	require.NoError(t, err)
	assert.Contains(t, out, "already ran on 2024-04-02")
}

func TestScanChurn_DeliveryFailuresStillExitZero(t *testing.T) {
	env := newFakeEnv()
	report := sampleReport()
	report.Failed = 1
	report.Entries = append(report.Entries, lifecycle.ReportEntry{
		Email: "uma@example.com", Position: 1, Reason: lifecycle.ReasonNeverContacted,
		Outcome: lifecycle.OutcomeFailed, Error: "mailbox unavailable",
	})
	env.scanner.report = report

	out, err := env.execute("scan-churn")
	require.NoError(t, err)
	assert.Contains(t, out, "failed: 1")
	assert.Contains(t, out, "uma@example.com #1 (never_contacted): mailbox unavailable")
}

func TestScanChurn_Aborted(t *testing.T) {
	env := newFakeEnv()
	env.scanner.err = errors.New("query candidates: connection reset")

	_, err := env.execute("scan-churn")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err), "storage failures are runtime failures, not usage errors")
	assert.Contains(t, err.Error(), "connection reset")
}

func TestScanChurn_RejectsArgs(t *testing.T) {
	env := newFakeEnv()
	_, err := env.execute("scan-churn", "extra")
	assert.Error(t, err)
	assert.Zero(t, env.opened)
}
