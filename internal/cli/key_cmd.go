package cli

import (
	"fmt"

	"github.com/salutethegenius/kemiscrm-sub000/pkg/vault"

	"github.com/spf13/cobra"
)

func newKeyCmd() *cobra.Command {
	keyCmd := &cobra.Command{
		Use:   "key",
		Short: "Credential vault key management",
	}

	keyCmd.AddCommand(&cobra.Command{
		Use:   "generate",
		Short: "Print a new random MAILBOX_ENCRYPTION_KEY",
		Long: `Print a new base64 encoded 32 byte key for MAILBOX_ENCRYPTION_KEY.

Changing the key of a running deployment makes stored credentials unreadable;
every mailbox then has to be reconnected.`,
		Args: cobra.NoArgs,
		// Needs no configuration.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := vault.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	})
	return keyCmd
}
