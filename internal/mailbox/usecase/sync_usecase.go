package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/salutethegenius/kemiscrm-sub000/internal/mailbox/domain"
	"github.com/salutethegenius/kemiscrm-sub000/internal/mailbox/repository"
)

const (
	defaultRunsLimit     = 20
	maxRunsLimit         = 100
	defaultMessagesLimit = 50
	maxMessagesLimit     = 200

	staleRunMessage = "interrupted"
)

type syncUsecase struct {
	accounts repository.MailboxAccountRepository
	messages repository.MailboxMessageRepository
	runs     repository.SyncRunRepository
	adapters AdapterLookup
	locker   *AccountLocker
	logger   *slog.Logger
	now      func() time.Time
}

func NewSyncUsecase(
	accounts repository.MailboxAccountRepository,
	messages repository.MailboxMessageRepository,
	runs repository.SyncRunRepository,
	adapters AdapterLookup,
	locker *AccountLocker,
	logger *slog.Logger,
) SyncUsecase {
	if locker == nil {
		locker = NewAccountLocker()
	}
	return &syncUsecase{
		accounts: accounts,
		messages: messages,
		runs:     runs,
		adapters: adapters,
		locker:   locker,
		logger:   logger.With("component", "sync_usecase"),
		now:      time.Now,
	}
}

// InitialSync backfills the account's history window.
func (u *syncUsecase) InitialSync(ctx context.Context, accountID string) (*domain.SyncRun, error) {
	account, err := u.findAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	since := u.now().AddDate(0, 0, -account.BackfillDays())
	return u.sync(ctx, account, domain.SyncTypeInitial, since)
}

// IncrementalSync fetches what arrived since the last successful sync.
func (u *syncUsecase) IncrementalSync(ctx context.Context, accountID string) (*domain.SyncRun, error) {
	account, err := u.findAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return u.sync(ctx, account, domain.SyncTypeIncremental, account.IncrementalSince(u.now()))
}

func (u *syncUsecase) findAccount(ctx context.Context, accountID string) (*domain.MailboxAccount, error) {
	account, err := u.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, domain.ErrAccountNotFound
	}
	return account, nil
}

// sync runs one attempt under the account lock. The run row always reaches
// a terminal status, even on cancellation or panic.
func (u *syncUsecase) sync(ctx context.Context, account *domain.MailboxAccount, syncType domain.SyncType, since time.Time) (*domain.SyncRun, error) {
	unlock, ok := u.locker.TryLock(account.ID)
	if !ok {
		return nil, domain.ErrSyncInProgress
	}
	defer unlock()

	started := u.now()
	run := &domain.SyncRun{
		MailboxAccountID: account.ID,
		SyncType:         syncType,
		WindowFrom:       since,
		WindowTo:         started,
		Status:           domain.SyncStatusRunning,
		StartedAt:        started,
	}
	if err := u.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("create sync run: %w", err)
	}

	log := u.logger.With("account_id", account.ID, "run_id", run.ID, "sync_type", syncType)
	log.Info("sync started", "since", since)

	defer func() {
		if p := recover(); p != nil {
			u.finish(ctx, account, run, fmt.Errorf("sync panicked: %v", p))
			panic(p)
		}
	}()

	syncErr := u.execute(ctx, account, run, since)
	u.finish(ctx, account, run, syncErr)

	if syncErr != nil {
		log.Error("sync failed", "error", syncErr, "fetched", run.MessagesFetched, "stored", run.MessagesStored)
		return run, fmt.Errorf("%w: %w", domain.ErrSyncFailed, syncErr)
	}
	log.Info("sync finished", "fetched", run.MessagesFetched, "stored", run.MessagesStored)
	return run, nil
}

func (u *syncUsecase) execute(ctx context.Context, account *domain.MailboxAccount, run *domain.SyncRun, since time.Time) error {
	adapter, err := u.adapters.Lookup(account.Provider)
	if err != nil {
		return err
	}

	refreshed, err := adapter.RefreshIfNeeded(ctx, account)
	if err != nil {
		return err
	}
	if refreshed {
		if err := u.accounts.UpdateTokens(ctx, account.ID, account.AccessTokenCipher, account.RefreshTokenCipher, account.TokenExpiresAt); err != nil {
			return fmt.Errorf("persist refreshed token: %w", err)
		}
	}

	msgs, err := adapter.ListSince(ctx, account, since)
	if err != nil {
		return err
	}
	run.MessagesFetched = len(msgs)

	for _, m := range msgs {
		if err := ctx.Err(); err != nil {
			return err
		}
		inserted, err := u.messages.Upsert(ctx, m.ToMailboxMessage(account.ID))
		if err != nil {
			return fmt.Errorf("store message %s: %w", m.ProviderMessageID, err)
		}
		if inserted {
			run.MessagesStored++
		}
	}
	return nil
}

// finish writes the terminal state of run and the account. It ignores ctx
// cancellation so an aborted sync is still recorded.
func (u *syncUsecase) finish(ctx context.Context, account *domain.MailboxAccount, run *domain.SyncRun, syncErr error) {
	ctx = context.WithoutCancel(ctx)
	finished := u.now()
	run.FinishedAt = &finished

	if syncErr == nil {
		run.Status = domain.SyncStatusSuccess
		full := run.SyncType == domain.SyncTypeInitial
		if err := u.accounts.MarkSynced(ctx, account.ID, run.WindowTo, full); err != nil {
			u.logger.Error("failed to stamp account sync time", "account_id", account.ID, "error", err)
		}
	} else {
		run.Status = domain.SyncStatusError
		run.ErrorMessage = syncErr.Error()

		status := domain.StatusError
		if domain.IsAuthError(syncErr) {
			status = domain.StatusReauthRequired
		}
		if errors.Is(syncErr, context.Canceled) || errors.Is(syncErr, context.DeadlineExceeded) {
			status = account.Status
		}
		if status != "" {
			if err := u.accounts.SetStatus(ctx, account.ID, status, syncErr.Error()); err != nil {
				u.logger.Error("failed to update account status", "account_id", account.ID, "error", err)
			}
		}
	}

	if _, err := u.runs.Finish(ctx, run); err != nil {
		u.logger.Error("failed to finish sync run", "run_id", run.ID, "error", err)
	}
}

// IncrementalSyncAll syncs every connected or errored account in turn, so a
// transient failure is retried on the next pass.
func (u *syncUsecase) IncrementalSyncAll(ctx context.Context) SyncSummary {
	accounts, err := u.accounts.ListSyncable(ctx)
	if err != nil {
		u.logger.Error("failed to list syncable mailboxes", "error", err)
		return SyncSummary{}
	}
	return u.syncEach(ctx, accounts)
}

func (u *syncUsecase) SyncAddress(ctx context.Context, provider domain.Provider, email string) SyncSummary {
	accounts, err := u.accounts.FindByEmail(ctx, provider, email)
	if err != nil {
		u.logger.Error("failed to find mailboxes by address", "provider", provider, "error", err)
		return SyncSummary{}
	}
	return u.syncEach(ctx, accounts)
}

func (u *syncUsecase) syncEach(ctx context.Context, accounts []*domain.MailboxAccount) SyncSummary {
	var summary SyncSummary
	for _, account := range accounts {
		if ctx.Err() != nil {
			break
		}
		summary.Attempted++

		_, err := u.sync(ctx, account, domain.SyncTypeIncremental, account.IncrementalSince(u.now()))
		switch {
		case err == nil:
			summary.Succeeded++
		case errors.Is(err, domain.ErrSyncInProgress):
			summary.Skipped++
		default:
			summary.Failed++
			u.logger.Warn("incremental sync failed", "account_id", account.ID, "error", err)
		}
	}
	return summary
}

func (u *syncUsecase) ListRuns(ctx context.Context, accountID string, limit int) ([]*domain.SyncRun, error) {
	if limit <= 0 {
		limit = defaultRunsLimit
	}
	if limit > maxRunsLimit {
		limit = maxRunsLimit
	}
	return u.runs.ListByAccount(ctx, accountID, limit)
}

func (u *syncUsecase) ListMessages(ctx context.Context, accountID string, limit, offset int) ([]*domain.MailboxMessage, int64, error) {
	if limit <= 0 {
		limit = defaultMessagesLimit
	}
	if limit > maxMessagesLimit {
		limit = maxMessagesLimit
	}
	if offset < 0 {
		offset = 0
	}
	return u.messages.ListByAccount(ctx, accountID, limit, offset)
}

// ReapStaleRuns fails runs left running by a process that died.
func (u *syncUsecase) ReapStaleRuns(ctx context.Context, olderThan time.Duration) (int64, error) {
	n, err := u.runs.MarkStale(ctx, u.now().Add(-olderThan), staleRunMessage)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		u.logger.Warn("marked stale sync runs as failed", "count", n, "older_than", olderThan)
	}
	return n, nil
}
