package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/salutethegenius/kemiscrm-sub000/internal/app"
	"github.com/salutethegenius/kemiscrm-sub000/pkg/config"
	"github.com/salutethegenius/kemiscrm-sub000/pkg/logger"

	"github.com/spf13/cobra"
)

// OpenFunc wires the application for commands that need storage.
type OpenFunc func(cfg *config.Config, logger *slog.Logger) (*app.App, error)

type cliState struct {
	cfg    *config.Config
	logger *slog.Logger
	open   OpenFunc
}

// Execute runs the CLI; with no subcommand it serves the HTTP API.
func Execute() {
	root := newRootCmd(&cliState{open: app.New})
	if err := root.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(rt *cliState) *cobra.Command {
	root := &cobra.Command{
		Use:   "mailboxd",
		Short: "Mailbox integration service for the CRM",
		Long: `mailboxd connects Gmail and IMAP/SMTP mailboxes, syncs their messages
into the CRM database and sends mail on behalf of users.

Examples:
  mailboxd serve                          # run the HTTP API (default)
  mailboxd sync initial <account-id>      # backfill one mailbox
  mailboxd sync incremental --all         # catch up every connected mailbox
  mailboxd runs reap --older-than 1h      # fail runs left behind by a crash
  mailboxd key generate                   # print a new vault key`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return rt.load()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, rt)
		},
	}

	root.AddCommand(newServeCmd(rt))
	root.AddCommand(newSyncCmd(rt))
	root.AddCommand(newRunsCmd(rt))
	root.AddCommand(newKeyCmd())
	root.AddCommand(newTokenCmd(rt))
	return root
}

func (rt *cliState) load() error {
	if rt.cfg == nil {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		rt.cfg = cfg
	}
	if rt.logger == nil {
		rt.logger = logger.New(rt.cfg.LogLevel, rt.cfg.LogFormat)
	}
	return nil
}

// withApp opens the application for the duration of fn.
func (rt *cliState) withApp(fn func(a *app.App) error) error {
	a, err := rt.open(rt.cfg, rt.logger)
	if err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	defer a.Close()
	return fn(a)
}
