package cli

import (
	"os"
	"os/signal"
	"syscall"

	api "github.com/salutethegenius/kemiscrm-sub000/cmd/api"
	"github.com/salutethegenius/kemiscrm-sub000/internal/app"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

func newServeCmd(rt *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, scheduler and Gmail push listener",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, rt)
		},
	}
}

func runServe(cmd *cobra.Command, rt *cliState) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if rt.cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	return rt.withApp(func(a *app.App) error {
		a.ReapStaleRuns(ctx)

		sched := a.NewScheduler()
		sched.Start(ctx)
		defer sched.Stop()

		notifier, err := a.NewNotifier(ctx)
		switch {
		case err != nil:
			a.Logger.Error("failed to initialize notification service", "error", err)
		case notifier == nil:
			a.Logger.Warn("GOOGLE_PROJECT_ID or GOOGLE_PUBSUB_TOPIC not configured, push sync disabled")
		default:
			defer notifier.Close()
			go func() {
				if err := notifier.Start(ctx); err != nil {
					a.Logger.Error("notification service stopped", "error", err)
				}
			}()
		}

		return api.NewHandler(a).Start(ctx, ":"+rt.cfg.Port)
	})
}
