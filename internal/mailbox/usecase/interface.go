package usecase

import (
	"context"
	"time"

	"github.com/salutethegenius/kemiscrm-sub000/internal/mailbox/domain"
)

// AccountUsecase manages connected mailboxes for a user
type AccountUsecase interface {
	GmailAuthURL(userID string) (string, error)
	CompleteGmailConnect(ctx context.Context, sessionUserID, code, state string) (*domain.MailboxAccount, error)
	ConnectIMAPSMTP(ctx context.Context, userID string, input ConnectIMAPSMTPInput) (*domain.MailboxAccount, error)
	ListAccounts(ctx context.Context, userID string) ([]*domain.MailboxAccount, error)
	GetAccount(ctx context.Context, userID, accountID string) (*domain.MailboxAccount, error)
	UpdateBackfillDays(ctx context.Context, userID, accountID string, days int) (*domain.MailboxAccount, error)
}

// SyncUsecase pulls provider messages into storage and records every attempt
type SyncUsecase interface {
	InitialSync(ctx context.Context, accountID string) (*domain.SyncRun, error)
	IncrementalSync(ctx context.Context, accountID string) (*domain.SyncRun, error)
	IncrementalSyncAll(ctx context.Context) SyncSummary
	// SyncAddress runs an incremental sync for every account of provider bound to email
	SyncAddress(ctx context.Context, provider domain.Provider, email string) SyncSummary
	ListRuns(ctx context.Context, accountID string, limit int) ([]*domain.SyncRun, error)
	ListMessages(ctx context.Context, accountID string, limit, offset int) ([]*domain.MailboxMessage, int64, error)
	ReapStaleRuns(ctx context.Context, olderThan time.Duration) (int64, error)
}

// SendUsecase sends mail through a connected account and records it
type SendUsecase interface {
	SendEmail(ctx context.Context, userID, accountID string, input SendInput) (*domain.MailboxMessage, error)
}

// AdapterLookup resolves the adapter for a provider tag.
type AdapterLookup interface {
	Lookup(p domain.Provider) (domain.MailAdapter, error)
}

// GmailConnector is the OAuth side of the Gmail adapter.
type GmailConnector interface {
	AuthURL(state string) (string, error)
	Exchange(ctx context.Context, code string) (*domain.OAuthGrant, error)
	Watch(ctx context.Context, account *domain.MailboxAccount, topic string) (uint64, error)
}

// CredentialSealer encrypts secrets before they are stored.
type CredentialSealer interface {
	Encrypt(plaintext string) (string, error)
}

type ConnectIMAPSMTPInput struct {
	Email        string
	DisplayName  string
	IMAPHost     string
	IMAPPort     int
	IMAPTLS      *bool
	SMTPHost     string
	SMTPPort     int
	SMTPTLS      *bool
	Username     string
	Password     string
	BackfillDays int
}

type SendInput struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// SyncSummary counts the outcome of a batch of syncs.
type SyncSummary struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}
