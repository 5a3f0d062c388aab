package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/salutethegenius/kemiscrm-sub000/internal/mailbox/adapter"
	mailboxdelivery "github.com/salutethegenius/kemiscrm-sub000/internal/mailbox/delivery"
	"github.com/salutethegenius/kemiscrm-sub000/internal/mailbox/repository"
	"github.com/salutethegenius/kemiscrm-sub000/internal/mailbox/scheduler"
	"github.com/salutethegenius/kemiscrm-sub000/internal/mailbox/usecase"
	"github.com/salutethegenius/kemiscrm-sub000/internal/notification"
	"github.com/salutethegenius/kemiscrm-sub000/pkg/config"
	"github.com/salutethegenius/kemiscrm-sub000/pkg/database"
	"github.com/salutethegenius/kemiscrm-sub000/pkg/gmail"
	"github.com/salutethegenius/kemiscrm-sub000/pkg/imap"
	"github.com/salutethegenius/kemiscrm-sub000/pkg/smtp"
	"github.com/salutethegenius/kemiscrm-sub000/pkg/vault"

	"gorm.io/gorm"
)

// App holds the wired mailbox services shared by the server and the CLI.
type App struct {
	Config *config.Config
	Logger *slog.Logger
	DB     *gorm.DB

	Accounts usecase.AccountUsecase
	Sync     usecase.SyncUsecase
	Send     usecase.SendUsecase

	MailboxHandler *mailboxdelivery.MailboxHandler
}

// New connects to the database, migrates it and wires every component.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	db, err := database.NewPostgresConnection(cfg, logger)
	if err != nil {
		return nil, err
	}

	a, err := NewWithDB(cfg, db, logger)
	if err != nil {
		closeDB(db)
		return nil, err
	}
	return a, nil
}

// NewWithDB wires the services on an already opened database.
func NewWithDB(cfg *config.Config, db *gorm.DB, logger *slog.Logger) (*App, error) {
	if err := repository.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	v, err := vault.New(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("credential vault: %w", err)
	}

	// Initialize repositories (dependency injection)
	accountRepo := repository.NewMailboxAccountRepository(db)
	messageRepo := repository.NewMailboxMessageRepository(db)
	runRepo := repository.NewSyncRunRepository(db)

	gmailService := gmail.NewService(gmail.Options{
		ClientID:          cfg.Google.ClientID,
		ClientSecret:      cfg.Google.ClientSecret,
		RedirectURL:       cfg.Google.RedirectURI,
		PageSize:          cfg.Google.PageSize,
		MaxPages:          cfg.Google.MaxPages,
		RequestsPerSecond: cfg.Google.RequestsPerSecond,
	}, logger)
	imapService := imap.NewService(cfg.Sync.IMAPDialTimeout, logger)
	smtpClient := smtp.NewClient(cfg.Sync.SMTPDialTimeout, logger)

	gmailAdapter := adapter.NewGmailAdapter(gmailService, v, accountRepo, logger)
	imapAdapter := adapter.NewIMAPSMTPAdapter(imapService, smtpClient, v, logger)
	registry := adapter.NewRegistry(gmailAdapter, imapAdapter)

	// Initialize use cases (dependency injection)
	accounts := usecase.NewAccountUsecase(accountRepo, registry, gmailAdapter, v, usecase.AccountOptions{
		VerifyOnConnect:     cfg.Sync.VerifyOnConnect,
		DefaultBackfillDays: cfg.Sync.DefaultBackfillDays,
		PubSubTopic:         pushTopic(cfg),
	}, logger)
	syncer := usecase.NewSyncUsecase(accountRepo, messageRepo, runRepo, registry, usecase.NewAccountLocker(), logger)
	sender := usecase.NewSendUsecase(accountRepo, messageRepo, registry, logger)

	return &App{
		Config:         cfg,
		Logger:         logger,
		DB:             db,
		Accounts:       accounts,
		Sync:           syncer,
		Send:           sender,
		MailboxHandler: mailboxdelivery.NewMailboxHandler(accounts, syncer, sender),
	}, nil
}

func pushTopic(cfg *config.Config) string {
	if !cfg.PushEnabled() {
		return ""
	}
	return cfg.Google.PubSubTopic
}

// NewScheduler returns the periodic sync loop; it is inert when SYNC_INTERVAL is zero.
func (a *App) NewScheduler() *scheduler.SyncScheduler {
	return scheduler.NewSyncScheduler(a.Sync, a.Config.Sync.Interval, a.Logger)
}

// NewNotifier returns the Gmail push listener, or nil when push is not configured.
func (a *App) NewNotifier(ctx context.Context) (*notification.Service, error) {
	if !a.Config.PushEnabled() {
		return nil, nil
	}
	return notification.NewService(ctx,
		a.Config.Google.ProjectID,
		a.Config.Google.PubSubTopic,
		a.Config.Google.CredentialsFile,
		a.Sync,
		a.Logger,
	)
}

// ReapStaleRuns fails runs left running by a previous process.
func (a *App) ReapStaleRuns(ctx context.Context) {
	if a.Config.Sync.StaleRunAfter <= 0 {
		return
	}
	n, err := a.Sync.ReapStaleRuns(ctx, a.Config.Sync.StaleRunAfter)
	if err != nil {
		a.Logger.Warn("failed to reap stale sync runs", "error", err)
		return
	}
	if n > 0 {
		a.Logger.Info("reaped stale sync runs", "count", n)
	}
}

func (a *App) Close() error {
	if a == nil || a.DB == nil {
		return nil
	}
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
}
