package adapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/salutethegenius/kemiscrm-sub000/internal/mailbox/domain"
	"github.com/salutethegenius/kemiscrm-sub000/pkg/imap"
	"github.com/salutethegenius/kemiscrm-sub000/pkg/mailmsg"
	"github.com/salutethegenius/kemiscrm-sub000/pkg/smtp"
	"github.com/salutethegenius/kemiscrm-sub000/pkg/vault"
)

var errEmptyCredentials = errors.New("stored credentials are empty")

// IMAPSMTPAdapter reads over IMAP and sends over SMTP with one set of
// stored credentials.
type IMAPSMTPAdapter struct {
	imap   *imap.Service
	smtp   *smtp.Client
	vault  *vault.Vault
	logger *slog.Logger
}

func NewIMAPSMTPAdapter(imapSvc *imap.Service, smtpClient *smtp.Client, v *vault.Vault, logger *slog.Logger) *IMAPSMTPAdapter {
	return &IMAPSMTPAdapter{
		imap:   imapSvc,
		smtp:   smtpClient,
		vault:  v,
		logger: logger.With("component", "imap_smtp_adapter"),
	}
}

func (a *IMAPSMTPAdapter) Provider() domain.Provider {
	return domain.ProviderIMAPSMTP
}

// RefreshIfNeeded is a no-op; password credentials do not expire.
func (a *IMAPSMTPAdapter) RefreshIfNeeded(context.Context, *domain.MailboxAccount) (bool, error) {
	return false, nil
}

func (a *IMAPSMTPAdapter) ListSince(ctx context.Context, account *domain.MailboxAccount, since time.Time) ([]*domain.NormalizedMessage, error) {
	username, password, err := a.credentials(account)
	if err != nil {
		return nil, err
	}

	msgs, err := a.imap.FetchSince(ctx, imap.ConnConfig{
		Host:     account.IMAPHost,
		Port:     account.IMAPPort,
		TLS:      account.IMAPTLS,
		Username: username,
		Password: password,
	}, since)
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		m.Direction = domain.DirectionFor(account.EmailAddress, m.From)
	}
	return msgs, nil
}

// Send composes and submits one message. The generated Message-ID is the
// provider id of the stored outgoing row.
func (a *IMAPSMTPAdapter) Send(ctx context.Context, account *domain.MailboxAccount, msg *domain.OutgoingMessage) (*domain.NormalizedMessage, error) {
	username, password, err := a.credentials(account)
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

	cfg := smtp.ConnConfig{
		Host:     account.SMTPHost,
		Port:     account.SMTPPort,
		TLS:      account.SMTPTLS,
		Username: username,
		Password: password,
	}
	if err := a.smtp.Send(ctx, cfg, account.EmailAddress, composed.Recipients, composed.Raw); err != nil {
		return nil, err
	}

	return &domain.NormalizedMessage{
		ProviderMessageID: composed.MessageID,
		From:              mailmsg.FormatAddress(account.DisplayName, account.EmailAddress),
		To:                msg.To,
		Subject:           msg.Subject,
		Snippet:           mailmsg.Snippet(msg.Text, msg.HTML),
		ReceivedAt:        now,
		Direction:         domain.DirectionOutgoing,
	}, nil
}

// Verify checks the IMAP login only.
func (a *IMAPSMTPAdapter) Verify(ctx context.Context, account *domain.MailboxAccount) error {
	username, password, err := a.credentials(account)
	if err != nil {
		return err
	}
	return a.imap.Verify(ctx, imap.ConnConfig{
		Host:     account.IMAPHost,
		Port:     account.IMAPPort,
		TLS:      account.IMAPTLS,
		Username: username,
		Password: password,
	})
}

func (a *IMAPSMTPAdapter) credentials(account *domain.MailboxAccount) (string, string, error) {
	username, err := a.vault.Decrypt(account.UsernameCipher)
	if err != nil {
		return "", "", &domain.AuthError{Provider: domain.ProviderIMAPSMTP, Err: err}
	}
	password, err := a.vault.Decrypt(account.PasswordCipher)
	if err != nil {
		return "", "", &domain.AuthError{Provider: domain.ProviderIMAPSMTP, Err: err}
	}
	if username == "" || password == "" {
		return "", "", &domain.AuthError{Provider: domain.ProviderIMAPSMTP, Err: errEmptyCredentials}
	}
	return username, password, nil
}
