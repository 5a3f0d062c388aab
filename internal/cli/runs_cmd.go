package cli

import (
	"fmt"
	"time"

	"github.com/salutethegenius/kemiscrm-sub000/internal/app"

	"github.com/spf13/cobra"
)

func newRunsCmd(rt *cliState) *cobra.Command {
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect and repair sync runs",
	}

	var olderThan time.Duration
	reap := &cobra.Command{
		Use:   "reap",
		Short: "Mark runs still running after --older-than as failed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive, got %s", olderThan)
			}
			return rt.withApp(func(a *app.App) error {
				n, err := a.Sync.ReapStaleRuns(cmd.Context(), olderThan)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "reaped %d stale runs\n", n)
				return nil
			})
		},
	}
	reap.Flags().DurationVar(&olderThan, "older-than", time.Hour, "age after which a running run is considered stale")
	runsCmd.AddCommand(reap)

	var limit int
	list := &cobra.Command{
		Use:   "list <account-id>",
		Short: "Show the most recent sync runs of a mailbox",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.withApp(func(a *app.App) error {
				runs, err := a.Sync.ListRuns(cmd.Context(), args[0], limit)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), runs)
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "number of runs to show")
	runsCmd.AddCommand(list)

	return runsCmd
}
