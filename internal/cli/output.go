package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/lalithlochan/rekindle/internal/lifecycle"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // the command ran and hit a storage or infrastructure error
	ExitCommandError = 2 // the command could not run (config, database, bad arguments)
)

// ExitError carries the process exit code for a command error.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error, ExitFailure by default.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// CLIResponse is the JSON envelope for --format json.
type CLIResponse struct {
	Status string      `json:"status"`
	Data   interface{} `json:"data,omitempty"`
}

// writeJSON prints data in the JSON envelope.
func writeJSON(w io.Writer, data interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(CLIResponse{Status: "ok", Data: data})
}

// writeReportText prints a scan report for humans.
func writeReportText(w io.Writer, r *lifecycle.Report) {
	if r.AlreadyRan {
		fmt.Fprintf(w, "churn scan already ran on %s, nothing to do (use --force to run again)\n", r.StartedAt.UTC().Format("2006-01-02"))
		return
	}

	mode := "live"
	if r.DryRun {
		mode = "dry run"
	}
	fmt.Fprintf(w, "churn scan %s (%s)\n", r.StartedAt.UTC().Format("2006-01-02 15:04:05 MST"), mode)
	fmt.Fprintf(w, "  candidates: %d  eligible: %d  sent: %d  failed: %d  duplicates: %d\n",
		r.Candidates, r.Eligible, r.Sent, r.Failed, r.Duplicates)

	if len(r.Skipped) > 0 {
		reasons := make([]string, 0, len(r.Skipped))
		for reason := range r.Skipped {
			reasons = append(reasons, string(reason))
		}
		sort.Strings(reasons)
		fmt.Fprint(w, "  skipped:")
		for _, reason := range reasons {
			fmt.Fprintf(w, " %s=%d", reason, r.Skipped[lifecycle.Reason(reason)])
		}
		fmt.Fprintln(w)
	}

	for _, e := range r.Entries {
		if e.Outcome == lifecycle.OutcomeSkipped {
			continue
		}
		line := fmt.Sprintf("  %-10s %s #%d (%s)", e.Outcome, e.Email, e.Position, e.Reason)
		if e.Error != "" {
			line += ": " + e.Error
		}
		fmt.Fprintln(w, line)
	}
}
