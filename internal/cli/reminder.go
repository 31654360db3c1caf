package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/lalithlochan/rekindle/internal/db"
)

// NewRequestReminderCommand creates the request-reminder command.
func NewRequestReminderCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "request-reminder <user-id>",
		Short: "Schedule the onboarding reminder for a user",
		Long: `Record a reminder request for the user and enqueue the delayed job.
A newer request supersedes any reminder still pending for the same user.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequestReminder(cmd, rootOpts, args[0])
		},
	}
}

func runRequestReminder(cmd *cobra.Command, opts *RootOptions, arg string) error {
	userID, err := uuid.Parse(arg)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid user id", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	rt, err := opts.open(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	job, err := rt.Reminders.Request(ctx, userID)
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			return WrapExitError(ExitCommandError, "no such user", err)
		}
		return WrapExitError(ExitFailure, "failed to schedule reminder", err)
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), job)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "onboarding reminder scheduled for %s: runs at %s, expires at %s\n",
		userID, job.RunAt.UTC().Format(time.RFC3339), job.Deadline.UTC().Format(time.RFC3339))
	return nil
}
