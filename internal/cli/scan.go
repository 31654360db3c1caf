package cli

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lalithlochan/rekindle/internal/lifecycle"
)

// ScanOptions holds flags for the scan-churn command.
type ScanOptions struct {
	*RootOptions
	DryRun bool
	Force  bool
}

// NewScanChurnCommand creates the scan-churn command.
func NewScanChurnCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScanOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "scan-churn",
		Short: "Run the daily churn-recovery scan",
		Long: `Find disengaged users and send each the next churn-recovery email that
is due. Meant to run once a day; a second run on the same UTC day is a no-op
unless --force is given.

Example:
  rekindle scan-churn --dry-run
  rekindle scan-churn --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "resolve positions without sending or recording")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "run even if a scan already ran today")

	return cmd
}

func runScan(cmd *cobra.Command, opts *ScanOptions) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	rt, err := opts.open(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	report, err := rt.Scanner.Run(ctx, lifecycle.ScanOptions{DryRun: opts.DryRun, Force: opts.Force})
	if err != nil {
		return WrapExitError(ExitFailure, "churn scan aborted", err)
	}

	// Undelivered emails are retried by the next run; they do not fail the command.
	if report.Failed > 0 {
		rt.Logger.Warn("some churn emails were not delivered", zap.Int("failed", report.Failed))
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), report)
	}
	writeReportText(cmd.OutOrStdout(), report)
	return nil
}
