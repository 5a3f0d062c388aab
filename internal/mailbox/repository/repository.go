package repository

import (
	"context"
	"time"

	"github.com/salutethegenius/kemiscrm-sub000/internal/mailbox/domain"

	"gorm.io/gorm"
)

// MailboxAccountRepository defines data access for connected mailboxes.
// Finders return nil, nil when nothing matches.
type MailboxAccountRepository interface {
	// Create inserts a new account, assigning an id when empty
	Create(ctx context.Context, account *domain.MailboxAccount) error

	// Update saves every column of an existing account
	Update(ctx context.Context, account *domain.MailboxAccount) error

	FindByID(ctx context.Context, id string) (*domain.MailboxAccount, error)

	// FindByOwnerAndEmail finds the account a reconnect should reuse
	FindByOwnerAndEmail(ctx context.Context, userID string, provider domain.Provider, email string) (*domain.MailboxAccount, error)

	// FindByEmail finds every account of a provider bound to an address, across users
	FindByEmail(ctx context.Context, provider domain.Provider, email string) ([]*domain.MailboxAccount, error)

	ListByUser(ctx context.Context, userID string) ([]*domain.MailboxAccount, error)

	// ListSyncable returns accounts the scheduler should sync: connected ones
	// and ones whose last sync failed transiently. reauth_required is left out.
	ListSyncable(ctx context.Context) ([]*domain.MailboxAccount, error)

	// UpdateTokens stores refreshed token blobs. An empty refreshCipher keeps the stored one.
	UpdateTokens(ctx context.Context, id, accessCipher, refreshCipher string, expiresAt *time.Time) error

	// MarkSynced stamps last_sync_at, and last_history_sync_at as well when full is set.
	// It also clears any previous error.
	MarkSynced(ctx context.Context, id string, at time.Time, full bool) error

	SetStatus(ctx context.Context, id string, status domain.AccountStatus, lastError string) error

	UpdateBackfillDays(ctx context.Context, id string, days int) error
}

// MailboxMessageRepository stores normalized messages.
type MailboxMessageRepository interface {
	// Upsert inserts msg unless (mailbox_account_id, provider_message_id)
	// already exists, in which case the stored row is left untouched.
	// It reports whether a row was inserted.
	Upsert(ctx context.Context, msg *domain.MailboxMessage) (bool, error)

	// ListByAccount returns messages newest first, with the total count
	ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*domain.MailboxMessage, int64, error)

	CountByAccount(ctx context.Context, accountID string) (int64, error)
}

// SyncRunRepository stores the audit trail of sync attempts.
type SyncRunRepository interface {
	Create(ctx context.Context, run *domain.SyncRun) error

	// Finish moves a running run to a terminal status. Runs that are
	// already terminal are not touched; it reports whether a row changed.
	Finish(ctx context.Context, run *domain.SyncRun) (bool, error)

	FindByID(ctx context.Context, id string) (*domain.SyncRun, error)

	// ListByAccount returns the most recent runs first
	ListByAccount(ctx context.Context, accountID string, limit int) ([]*domain.SyncRun, error)

	// MarkStale fails runs still running that started before the cutoff
	MarkStale(ctx context.Context, startedBefore time.Time, message string) (int64, error)
}

// AutoMigrate creates or updates the mailbox tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&domain.MailboxAccount{}, &domain.MailboxMessage{}, &domain.SyncRun{})
}
