package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			rt, err := rootOpts.open(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			applied, skipped, err := rt.Migrate(ctx)
			if err != nil {
				return WrapExitError(ExitFailure, "migration failed", err)
			}

			if rootOpts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), map[string]int{"applied": applied, "skipped": skipped})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrations: %d applied, %d already up to date\n", applied, skipped)
			return nil
		},
	}
}
