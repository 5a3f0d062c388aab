package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/salutethegenius/kemiscrm-sub000/internal/app"

	"github.com/spf13/cobra"
)

func newSyncCmd(rt *cliState) *cobra.Command {
	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Run mailbox syncs from the command line",
	}

	syncCmd.AddCommand(&cobra.Command{
		Use:   "initial <account-id>",
		Short: "Backfill a mailbox over its history window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.withApp(func(a *app.App) error {
				run, err := a.Sync.InitialSync(cmd.Context(), args[0])
				if run != nil {
					if werr := writeJSON(cmd.OutOrStdout(), run); werr != nil {
						return werr
					}
				}
				return err
			})
		},
	})

	var all bool
	incremental := &cobra.Command{
		Use:   "incremental [account-id]",
		Short: "Fetch recent messages for one mailbox, or every connected one with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return errors.New("pass exactly one of <account-id> or --all")
			}
			return rt.withApp(func(a *app.App) error {
				if all {
					summary := a.Sync.IncrementalSyncAll(cmd.Context())
					if err := writeJSON(cmd.OutOrStdout(), summary); err != nil {
						return err
					}
					if summary.Failed > 0 {
						return fmt.Errorf("%d of %d syncs failed", summary.Failed, summary.Attempted)
					}
					return nil
				}

				run, err := a.Sync.IncrementalSync(cmd.Context(), args[0])
				if run != nil {
					if werr := writeJSON(cmd.OutOrStdout(), run); werr != nil {
						return werr
					}
				}
				return err
			})
		},
	}
	incremental.Flags().BoolVar(&all, "all", false, "sync every connected mailbox")
	syncCmd.AddCommand(incremental)

	return syncCmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
