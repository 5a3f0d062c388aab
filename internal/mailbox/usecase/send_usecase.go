package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/salutethegenius/kemiscrm-sub000/internal/mailbox/domain"
	"github.com/salutethegenius/kemiscrm-sub000/internal/mailbox/repository"
	"github.com/salutethegenius/kemiscrm-sub000/pkg/mailmsg"
)

type sendUsecase struct {
	accounts repository.MailboxAccountRepository
	messages repository.MailboxMessageRepository
	adapters AdapterLookup
	logger   *slog.Logger
}

func NewSendUsecase(
	accounts repository.MailboxAccountRepository,
	messages repository.MailboxMessageRepository,
	adapters AdapterLookup,
	logger *slog.Logger,
) SendUsecase {
	return &sendUsecase{
		accounts: accounts,
		messages: messages,
		adapters: adapters,
		logger:   logger.With("component", "send_usecase"),
	}
}

// SendEmail sends through the account's provider and stores the result as
// an outgoing message.
func (u *sendUsecase) SendEmail(ctx context.Context, userID, accountID string, input SendInput) (*domain.MailboxMessage, error) {
	input.To = strings.TrimSpace(input.To)
	input.Subject = strings.TrimSpace(input.Subject)
	if input.To == "" || input.Subject == "" {
		return nil, fmt.Errorf("%w: to and subject are required", domain.ErrInvalidInput)
	}
	if _, err := mailmsg.ParseAddressList(input.To); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	account, err := u.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil || account.UserID != userID {
		return nil, domain.ErrAccountNotFound
	}

	adapter, err := u.adapters.Lookup(account.Provider)
	if err != nil {
		return nil, err
	}

	refreshed, err := adapter.RefreshIfNeeded(ctx, account)
	if err != nil {
		u.markAuthFailure(ctx, account, err)
		return nil, fmt.Errorf("%w: %w", domain.ErrSendFailed, err)
	}
	if refreshed {
		if err := u.accounts.UpdateTokens(ctx, account.ID, account.AccessTokenCipher, account.RefreshTokenCipher, account.TokenExpiresAt); err != nil {
			u.logger.Warn("failed to persist refreshed token", "account_id", account.ID, "error", err)
		}
	}

	sent, err := adapter.Send(ctx, account, &domain.OutgoingMessage{
		To:      input.To,
		Subject: input.Subject,
		HTML:    input.HTML,
		Text:    input.Text,
	})
	if err != nil {
		u.markAuthFailure(ctx, account, err)
		return nil, fmt.Errorf("%w: %w", domain.ErrSendFailed, err)
	}

	msg := sent.ToMailboxMessage(account.ID)
	msg.Direction = domain.DirectionOutgoing
	// The mail is already out; a storage failure must not turn this into a send error.
	if _, err := u.messages.Upsert(context.WithoutCancel(ctx), msg); err != nil {
		u.logger.Error("failed to record sent message", "account_id", account.ID, "provider_message_id", msg.ProviderMessageID, "error", err)
	}

	u.logger.Info("email sent", "account_id", account.ID, "provider", account.Provider, "provider_message_id", msg.ProviderMessageID)
	return msg, nil
}

func (u *sendUsecase) markAuthFailure(ctx context.Context, account *domain.MailboxAccount, err error) {
	if !domain.IsAuthError(err) {
		return
	}
	if serr := u.accounts.SetStatus(context.WithoutCancel(ctx), account.ID, domain.StatusReauthRequired, err.Error()); serr != nil {
		u.logger.Error("failed to update account status", "account_id", account.ID, "error", serr)
	}
}
