package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/salutethegenius/kemiscrm-sub000/internal/mailbox/domain"
	"github.com/salutethegenius/kemiscrm-sub000/pkg/gmail"
	"github.com/salutethegenius/kemiscrm-sub000/pkg/mailmsg"
	"github.com/salutethegenius/kemiscrm-sub000/pkg/vault"

	"golang.org/x/oauth2"
)

// refreshSkew is how close to expiry an access token may get before it is refreshed.
const refreshSkew = time.Minute

// TokenStore persists tokens refreshed in the middle of a provider call.
type TokenStore interface {
	UpdateTokens(ctx context.Context, id, accessCipher, refreshCipher string, expiresAt *time.Time) error
}

// RefreshedToken holds vault blobs from a refresh. RefreshTokenCipher is
// empty unless Google rotated the refresh token.
type RefreshedToken struct {
	AccessTokenCipher  string
	RefreshTokenCipher string
	ExpiresAt          time.Time
}

type GmailAdapter struct {
	gmail  *gmail.Service
	vault  *vault.Vault
	tokens TokenStore
	logger *slog.Logger
}

func NewGmailAdapter(svc *gmail.Service, v *vault.Vault, tokens TokenStore, logger *slog.Logger) *GmailAdapter {
	return &GmailAdapter{
		gmail:  svc,
		vault:  v,
		tokens: tokens,
		logger: logger.With("component", "gmail_adapter"),
	}
}

func (a *GmailAdapter) Provider() domain.Provider {
	return domain.ProviderGmail
}

func (a *GmailAdapter) AuthURL(state string) (string, error) {
	return a.gmail.AuthCodeURL(state)
}

// Exchange completes the OAuth code flow and returns encrypted tokens with
// the mailbox identity.
func (a *GmailAdapter) Exchange(ctx context.Context, code string) (*domain.OAuthGrant, error) {
	res, err := a.gmail.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}

	email := res.Email
	if email == "" {
		email, err = a.gmail.Profile(ctx, gmail.Credentials{
			AccessToken:  res.Token.AccessToken,
			RefreshToken: res.Token.RefreshToken,
			Expiry:       res.Token.Expiry,
		}, nil)
		if err != nil {
			return nil, fmt.Errorf("resolve mailbox address: %w", err)
		}
	}

	accessCipher, err := a.vault.Encrypt(res.Token.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("encrypt access token: %w", err)
	}
	refreshCipher, err := a.vault.Encrypt(res.Token.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("encrypt refresh token: %w", err)
	}

	return &domain.OAuthGrant{
		AccessTokenCipher:  accessCipher,
		RefreshTokenCipher: refreshCipher,
		ExpiresAt:          res.Token.Expiry,
		Email:              email,
		Subject:            res.Subject,
	}, nil
}

// RefreshAccessToken decrypts refreshCipher and asks Google for a new access token.
func (a *GmailAdapter) RefreshAccessToken(ctx context.Context, refreshCipher string) (*RefreshedToken, error) {
	refreshToken, err := a.decrypt(refreshCipher)
	if err != nil {
		return nil, err
	}

	token, err := a.gmail.RefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	out := &RefreshedToken{ExpiresAt: token.Expiry}
	if out.AccessTokenCipher, err = a.vault.Encrypt(token.AccessToken); err != nil {
		return nil, fmt.Errorf("encrypt access token: %w", err)
	}
	if token.RefreshToken != "" && token.RefreshToken != refreshToken {
		if out.RefreshTokenCipher, err = a.vault.Encrypt(token.RefreshToken); err != nil {
			return nil, fmt.Errorf("encrypt refresh token: %w", err)
		}
	}
	return out, nil
}

func (a *GmailAdapter) RefreshIfNeeded(ctx context.Context, account *domain.MailboxAccount) (bool, error) {
	if account.HasUsableAccessToken(time.Now(), refreshSkew) {
		return false, nil
	}
	if account.RefreshTokenCipher == "" {
		return false, domain.ErrReauthRequired
	}

	refreshed, err := a.RefreshAccessToken(ctx, account.RefreshTokenCipher)
	if err != nil {
		return false, err
	}

	account.AccessTokenCipher = refreshed.AccessTokenCipher
	if refreshed.RefreshTokenCipher != "" {
		account.RefreshTokenCipher = refreshed.RefreshTokenCipher
	}
	if !refreshed.ExpiresAt.IsZero() {
		expiresAt := refreshed.ExpiresAt
		account.TokenExpiresAt = &expiresAt
	}

	a.logger.Info("access token refreshed", "account_id", account.ID)
	return true, nil
}

func (a *GmailAdapter) ListSince(ctx context.Context, account *domain.MailboxAccount, since time.Time) ([]*domain.NormalizedMessage, error) {
	creds, err := a.credentials(account)
	if err != nil {
		return nil, err
	}

	msgs, err := a.gmail.ListSince(ctx, creds, since, a.tokenCallback(ctx, account.ID))
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		m.Direction = domain.DirectionFor(account.EmailAddress, m.From)
	}
	return msgs, nil
}

func (a *GmailAdapter) Send(ctx context.Context, account *domain.MailboxAccount, msg *domain.OutgoingMessage) (*domain.NormalizedMessage, error) {
	creds, err := a.credentials(account)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	composed, err := mailmsg.Compose(&mailmsg.Message{
		FromName: account.DisplayName,
		From:     account.EmailAddress,
		To:       msg.To,
		Subject:  msg.Subject,
		Text:     msg.Text,
		HTML:     msg.HTML,
		Date:     now,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	sent, err := a.gmail.SendRaw(ctx, creds, composed.Raw, a.tokenCallback(ctx, account.ID))
	if err != nil {
		return nil, err
	}

	return &domain.NormalizedMessage{
		ProviderMessageID: sent.Id,
		ThreadID:          sent.ThreadId,
		From:              mailmsg.FormatAddress(account.DisplayName, account.EmailAddress),
		To:                msg.To,
		Subject:           msg.Subject,
		Snippet:           mailmsg.Snippet(msg.Text, msg.HTML),
		ReceivedAt:        now,
		Direction:         domain.DirectionOutgoing,
	}, nil
}

func (a *GmailAdapter) Verify(ctx context.Context, account *domain.MailboxAccount) error {
	creds, err := a.credentials(account)
	if err != nil {
		return err
	}
	_, err = a.gmail.Profile(ctx, creds, a.tokenCallback(ctx, account.ID))
	return err
}

// Watch subscribes the mailbox's INBOX to push notifications on topic.
func (a *GmailAdapter) Watch(ctx context.Context, account *domain.MailboxAccount, topic string) (uint64, error) {
	creds, err := a.credentials(account)
	if err != nil {
		return 0, err
	}
	return a.gmail.Watch(ctx, creds, topic, a.tokenCallback(ctx, account.ID))
}

func (a *GmailAdapter) credentials(account *domain.MailboxAccount) (gmail.Credentials, error) {
	accessToken, err := a.decrypt(account.AccessTokenCipher)
	if err != nil {
		return gmail.Credentials{}, err
	}
	refreshToken, err := a.decrypt(account.RefreshTokenCipher)
	if err != nil {
		return gmail.Credentials{}, err
	}
	if accessToken == "" && refreshToken == "" {
		return gmail.Credentials{}, domain.ErrReauthRequired
	}

	creds := gmail.Credentials{AccessToken: accessToken, RefreshToken: refreshToken}
	if account.TokenExpiresAt != nil {
		creds.Expiry = *account.TokenExpiresAt
	}
	return creds, nil
}

func (a *GmailAdapter) decrypt(blob string) (string, error) {
	plain, err := a.vault.Decrypt(blob)
	if err != nil {
		return "", &domain.AuthError{Provider: domain.ProviderGmail, Err: err}
	}
	return plain, nil
}

// tokenCallback persists tokens the HTTP client refreshes on its own.
func (a *GmailAdapter) tokenCallback(ctx context.Context, accountID string) gmail.TokenUpdateFunc {
	if a.tokens == nil {
		return nil
	}
	return func(token *oauth2.Token) error {
		accessCipher, err := a.vault.Encrypt(token.AccessToken)
		if err != nil {
			return err
		}
		refreshCipher, err := a.vault.Encrypt(token.RefreshToken)
		if err != nil {
			return err
		}

		var expiresAt *time.Time
		if !token.Expiry.IsZero() {
			expiry := token.Expiry
			expiresAt = &expiry
		}
		return a.tokens.UpdateTokens(context.WithoutCancel(ctx), accountID, accessCipher, refreshCipher, expiresAt)
	}
}
