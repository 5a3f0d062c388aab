package domain

import "time"

type Provider string

const (
	ProviderGmail    Provider = "gmail"
	ProviderIMAPSMTP Provider = "imap_smtp"
)

type AccountStatus string

const (
	StatusConnected      AccountStatus = "connected"
	StatusError          AccountStatus = "error"
	StatusReauthRequired AccountStatus = "reauth_required"
)

const DefaultBackfillDays = 30

// MailboxAccount is one connected inbox. Credential fields hold vault blobs
// and are never serialized.
type MailboxAccount struct {
	ID              string   `json:"id" gorm:"primaryKey"`
	UserID          string   `json:"user_id" gorm:"not null;index:idx_mailbox_owner"`
	Provider        Provider `json:"provider" gorm:"type:varchar(20);not null;index:idx_mailbox_owner"`
	EmailAddress    string   `json:"email_address" gorm:"not null;index:idx_mailbox_owner"`
	DisplayName     string   `json:"display_name"`
	ProviderSubject string   `json:"-"`

	AccessTokenCipher  string `json:"-" gorm:"type:text"`
	RefreshTokenCipher string `json:"-" gorm:"type:text"`
	UsernameCipher     string `json:"-" gorm:"type:text"`
	PasswordCipher     string `json:"-" gorm:"type:text"`

	IMAPHost string `json:"imap_host,omitempty" gorm:"column:imap_host"`
	IMAPPort int    `json:"imap_port,omitempty" gorm:"column:imap_port"`
	IMAPTLS  bool   `json:"imap_tls" gorm:"column:imap_tls"`
	SMTPHost string `json:"smtp_host,omitempty" gorm:"column:smtp_host"`
	SMTPPort int    `json:"smtp_port,omitempty" gorm:"column:smtp_port"`
	SMTPTLS  bool   `json:"smtp_tls" gorm:"column:smtp_tls"`

	Status              AccountStatus `json:"status" gorm:"type:varchar(20);not null;default:connected"`
	LastError           string        `json:"last_error,omitempty" gorm:"type:text"`
	TokenExpiresAt      *time.Time    `json:"token_expires_at,omitempty"`
	LastHistorySyncAt   *time.Time    `json:"last_history_sync_at,omitempty"`
	LastSyncAt          *time.Time    `json:"last_sync_at,omitempty"`
	HistoryBackfillDays int           `json:"history_backfill_days" gorm:"not null;default:30"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BackfillDays returns the configured history window, falling back to the default.
func (a *MailboxAccount) BackfillDays() int {
	if a.HistoryBackfillDays <= 0 {
		return DefaultBackfillDays
	}
	return a.HistoryBackfillDays
}

// HasUsableAccessToken reports whether the cached access token is still good
// for at least skew past now. A token without a recorded expiry is trusted.
func (a *MailboxAccount) HasUsableAccessToken(now time.Time, skew time.Duration) bool {
	if a.AccessTokenCipher == "" {
		return false
	}
	if a.TokenExpiresAt == nil {
		return true
	}
	return a.TokenExpiresAt.After(now.Add(skew))
}

// IncrementalSince picks the lower bound for a delta sync.
func (a *MailboxAccount) IncrementalSince(now time.Time) time.Time {
	switch {
	case a.LastSyncAt != nil:
		return *a.LastSyncAt
	case a.LastHistorySyncAt != nil:
		return *a.LastHistorySyncAt
	default:
		return now.AddDate(0, 0, -a.BackfillDays())
	}
}
