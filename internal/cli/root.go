// Package cli is the rekindle command line: batch entry points for cron and
// the long-running job runner.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags and the runtime factory shared by all commands.
type RootOptions struct {
	Format string // "json" | "text"

	// Open builds the engine from configuration. Tests replace it.
	Open OpenFunc
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command. open is called once per command run.
func NewRootCommand(open OpenFunc) *cobra.Command {
	opts := &RootOptions{Open: open}

	cmd := &cobra.Command{
		Use:   "rekindle",
		Short: "Lifecycle email engine",
		Long: `Rekindle sends churn-recovery and onboarding emails at most once per user.

Run scan-churn once a day from a scheduler, and keep a worker process
running to deliver delayed onboarding reminders.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewScanChurnCommand(opts))
	cmd.AddCommand(NewRequestReminderCommand(opts))
	cmd.AddCommand(NewWorkerCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
