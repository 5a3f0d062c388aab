package domain

import (
	"context"
	"time"
)

// MailAdapter is the capability every provider implements. The sync engine
// and send path pick one by the account's Provider tag and never branch on
// provider themselves.
type MailAdapter interface {
	Provider() Provider

	// RefreshIfNeeded makes sure the account carries a usable credential,
	// refreshing and persisting tokens when required. It reports whether a
	// refresh happened.
	RefreshIfNeeded(ctx context.Context, account *MailboxAccount) (bool, error)

	ListSince(ctx context.Context, account *MailboxAccount, since time.Time) ([]*NormalizedMessage, error)

	Send(ctx context.Context, account *MailboxAccount, msg *OutgoingMessage) (*NormalizedMessage, error)

	// Verify opens and closes one authenticated session.
	Verify(ctx context.Context, account *MailboxAccount) error
}

// OAuthGrant is the result of a completed authorization code exchange.
// Tokens are vault blobs.
type OAuthGrant struct {
	AccessTokenCipher  string
	RefreshTokenCipher string
	ExpiresAt          time.Time
	Email              string
	Subject            string
}
