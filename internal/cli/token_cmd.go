package cli

import (
	"fmt"
	"time"

	"github.com/salutethegenius/kemiscrm-sub000/internal/auth"

	"github.com/spf13/cobra"
)

func newTokenCmd(rt *cliState) *cobra.Command {
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Session token helpers for local testing",
	}

	var (
		userID string
		ttl    time.Duration
	)
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Print a bearer token for --user signed with JWT_SECRET",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := auth.IssueToken(rt.cfg.JWTSecret, userID, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	issue.Flags().StringVar(&userID, "user", "", "user id to put in the token")
	issue.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = issue.MarkFlagRequired("user")
	tokenCmd.AddCommand(issue)

	return tokenCmd
}
