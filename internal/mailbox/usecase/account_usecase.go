package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/salutethegenius/kemiscrm-sub000/internal/mailbox/domain"
	"github.com/salutethegenius/kemiscrm-sub000/internal/mailbox/repository"

	"github.com/emersion/go-message/mail"
)

const (
	defaultIMAPPort = 993
	defaultSMTPPort = 465
	maxBackfillDays = 365
)

type AccountOptions struct {
	VerifyOnConnect     bool
	DefaultBackfillDays int
	// PubSubTopic enables Gmail push registration after connect when set.
	PubSubTopic string
}

type accountUsecase struct {
	accounts repository.MailboxAccountRepository
	adapters AdapterLookup
	gmail    GmailConnector
	sealer   CredentialSealer
	opts     AccountOptions
	logger   *slog.Logger
}

func NewAccountUsecase(
	accounts repository.MailboxAccountRepository,
	adapters AdapterLookup,
	gmail GmailConnector,
	sealer CredentialSealer,
	opts AccountOptions,
	logger *slog.Logger,
) AccountUsecase {
	if opts.DefaultBackfillDays <= 0 {
		opts.DefaultBackfillDays = domain.DefaultBackfillDays
	}
	return &accountUsecase{
		accounts: accounts,
		adapters: adapters,
		gmail:    gmail,
		sealer:   sealer,
		opts:     opts,
		logger:   logger.With("component", "account_usecase"),
	}
}

// GmailAuthURL binds the OAuth state to the requesting user.
func (u *accountUsecase) GmailAuthURL(userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("%w: user id is required", domain.ErrInvalidInput)
	}
	return u.gmail.AuthURL(userID)
}

func (u *accountUsecase) CompleteGmailConnect(ctx context.Context, sessionUserID, code, state string) (*domain.MailboxAccount, error) {
	if sessionUserID == "" || state != sessionUserID {
		return nil, domain.ErrStateMismatch
	}
	if code == "" {
		return nil, domain.ErrMissingAuthCode
	}

	grant, err := u.gmail.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	email := strings.ToLower(strings.TrimSpace(grant.Email))
	if email == "" {
		return nil, fmt.Errorf("%w: provider did not return a mailbox address", domain.ErrInvalidInput)
	}

	expiresAt := grant.ExpiresAt
	account, err := u.accounts.FindByOwnerAndEmail(ctx, sessionUserID, domain.ProviderGmail, email)
	if err != nil {
		return nil, fmt.Errorf("find existing mailbox: %w", err)
	}

	if account == nil {
		account = &domain.MailboxAccount{
			UserID:              sessionUserID,
			Provider:            domain.ProviderGmail,
			EmailAddress:        email,
			HistoryBackfillDays: u.opts.DefaultBackfillDays,
		}
	}
	account.ProviderSubject = grant.Subject
	account.AccessTokenCipher = grant.AccessTokenCipher
	account.RefreshTokenCipher = grant.RefreshTokenCipher
	account.TokenExpiresAt = nil
	if !expiresAt.IsZero() {
		account.TokenExpiresAt = &expiresAt
	}
	account.Status = domain.StatusConnected
	account.LastError = ""

	if account.ID == "" {
		err = u.accounts.Create(ctx, account)
	} else {
		err = u.accounts.Update(ctx, account)
	}
	if err != nil {
		return nil, fmt.Errorf("save mailbox: %w", err)
	}

	u.logger.Info("gmail mailbox connected", "account_id", account.ID, "user_id", sessionUserID)

	if u.opts.PubSubTopic != "" {
		if _, err := u.gmail.Watch(ctx, account, u.opts.PubSubTopic); err != nil {
			u.logger.Warn("failed to start gmail watch", "account_id", account.ID, "error", err)
		}
	}
	return account, nil
}

func (u *accountUsecase) ConnectIMAPSMTP(ctx context.Context, userID string, input ConnectIMAPSMTPInput) (*domain.MailboxAccount, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrInvalidInput)
	}
	// Zero leaves a reconnected account's window alone.
	keepBackfill := input.BackfillDays == 0
	input, err := u.normalizeIMAPInput(input)
	if err != nil {
		return nil, err
	}

	usernameCipher, err := u.sealer.Encrypt(input.Username)
	if err != nil {
		return nil, fmt.Errorf("encrypt username: %w", err)
	}
	passwordCipher, err := u.sealer.Encrypt(input.Password)
	if err != nil {
		return nil, fmt.Errorf("encrypt password: %w", err)
	}

	account, err := u.accounts.FindByOwnerAndEmail(ctx, userID, domain.ProviderIMAPSMTP, input.Email)
	if err != nil {
		return nil, fmt.Errorf("find existing mailbox: %w", err)
	}
	if account == nil {
		account = &domain.MailboxAccount{
			UserID:       userID,
			Provider:     domain.ProviderIMAPSMTP,
			EmailAddress: input.Email,
		}
	}
	account.DisplayName = input.DisplayName
	account.UsernameCipher = usernameCipher
	account.PasswordCipher = passwordCipher
	account.IMAPHost = input.IMAPHost
	account.IMAPPort = input.IMAPPort
	account.IMAPTLS = *input.IMAPTLS
	account.SMTPHost = input.SMTPHost
	account.SMTPPort = input.SMTPPort
	account.SMTPTLS = *input.SMTPTLS
	if account.ID == "" || !keepBackfill {
		account.HistoryBackfillDays = input.BackfillDays
	}
	account.Status = domain.StatusConnected
	account.LastError = ""

	if u.opts.VerifyOnConnect {
		a, err := u.adapters.Lookup(domain.ProviderIMAPSMTP)
		if err != nil {
			return nil, err
		}
		if err := a.Verify(ctx, account); err != nil {
			u.logger.Warn("imap verification failed", "user_id", userID, "host", input.IMAPHost, "error", err)
			return nil, fmt.Errorf("%w: %w", domain.ErrConnectionFailed, err)
		}
	}

	if account.ID == "" {
		err = u.accounts.Create(ctx, account)
	} else {
		err = u.accounts.Update(ctx, account)
	}
	if err != nil {
		return nil, fmt.Errorf("save mailbox: %w", err)
	}

	u.logger.Info("imap mailbox connected", "account_id", account.ID, "user_id", userID)
	return account, nil
}

func (u *accountUsecase) normalizeIMAPInput(in ConnectIMAPSMTPInput) (ConnectIMAPSMTPInput, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.IMAPHost = strings.TrimSpace(in.IMAPHost)
	in.SMTPHost = strings.TrimSpace(in.SMTPHost)
	in.Username = strings.TrimSpace(in.Username)

	if in.IMAPPort == 0 {
		in.IMAPPort = defaultIMAPPort
	}
	if in.SMTPPort == 0 {
		in.SMTPPort = defaultSMTPPort
	}
	if in.IMAPTLS == nil {
		on := true
		in.IMAPTLS = &on
	}
	if in.SMTPTLS == nil {
		on := true
		in.SMTPTLS = &on
	}
	if in.BackfillDays == 0 {
		in.BackfillDays = u.opts.DefaultBackfillDays
	}

	var problems []error
	if _, err := mail.ParseAddress(in.Email); in.Email == "" || err != nil {
		problems = append(problems, errors.New("a valid email is required"))
	}
	if in.IMAPHost == "" {
		problems = append(problems, errors.New("imap host is required"))
	}
	if in.SMTPHost == "" {
		problems = append(problems, errors.New("smtp host is required"))
	}
	if in.IMAPPort < 1 || in.IMAPPort > 65535 {
		problems = append(problems, fmt.Errorf("imap port %d is out of range", in.IMAPPort))
	}
	if in.SMTPPort < 1 || in.SMTPPort > 65535 {
		problems = append(problems, fmt.Errorf("smtp port %d is out of range", in.SMTPPort))
	}
	if in.Username == "" {
		problems = append(problems, errors.New("username is required"))
	}
	if in.Password == "" {
		problems = append(problems, errors.New("password is required"))
	}
	if in.BackfillDays < 1 || in.BackfillDays > maxBackfillDays {
		problems = append(problems, fmt.Errorf("backfill days must be between 1 and %d", maxBackfillDays))
	}

	if len(problems) > 0 {
		return in, fmt.Errorf("%w: %w", domain.ErrInvalidInput, errors.Join(problems...))
	}
	return in, nil
}

func (u *accountUsecase) ListAccounts(ctx context.Context, userID string) ([]*domain.MailboxAccount, error) {
	return u.accounts.ListByUser(ctx, userID)
}

// GetAccount hides accounts owned by other users behind ErrAccountNotFound.
func (u *accountUsecase) GetAccount(ctx context.Context, userID, accountID string) (*domain.MailboxAccount, error) {
	account, err := u.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil || account.UserID != userID {
		return nil, domain.ErrAccountNotFound
	}
	return account, nil
}

func (u *accountUsecase) UpdateBackfillDays(ctx context.Context, userID, accountID string, days int) (*domain.MailboxAccount, error) {
	if days < 1 || days > maxBackfillDays {
		return nil, fmt.Errorf("%w: backfill days must be between 1 and %d", domain.ErrInvalidInput, maxBackfillDays)
	}

	account, err := u.GetAccount(ctx, userID, accountID)
	if err != nil {
		return nil, err
	}
	if err := u.accounts.UpdateBackfillDays(ctx, account.ID, days); err != nil {
		return nil, err
	}
	account.HistoryBackfillDays = days
	return account, nil
}
