package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/salutethegenius/kemiscrm-sub000/internal/mailbox/adapter"
	"github.com/salutethegenius/kemiscrm-sub000/internal/mailbox/domain"
	"github.com/salutethegenius/kemiscrm-sub000/pkg/logger"
)

func newAccounts(r repos, g *fakeGmail, imapFake *fakeAdapter, opts AccountOptions) AccountUsecase {
	return NewAccountUsecase(r.accounts, adapter.NewRegistry(imapFake), g, plainSealer{}, opts, logger.Discard())
}

func testGrant() *domain.OAuthGrant {
	return &domain.OAuthGrant{
		AccessTokenCipher:  "access-cipher",
		RefreshTokenCipher: "refresh-cipher",
		ExpiresAt:          time.Now().Add(time.Hour),
		Email:              "Owner@Gmail.com",
		Subject:            "sub-1",
	}
}

func TestGmailAuthURL_CarriesUserAsState(t *testing.T) {
	uc := newAccounts(newRepos(t), &fakeGmail{}, &fakeAdapter{provider: domain.ProviderIMAPSMTP}, AccountOptions{})

	got, err := uc.GmailAuthURL("user-1")
	if err != nil {
		t.Fatalf("GmailAuthURL() error = %v", err)
	}
	if !strings.Contains(got, "state=user-1") {
		t.Errorf("GmailAuthURL() = %q", got)
	}
}

func TestCompleteGmailConnect_StateMismatchWritesNothing(t *testing.T) {
	ctx := context.Background()
	r := newRepos(t)
	g := &fakeGmail{grant: testGrant()}
	uc := newAccounts(r, g, &fakeAdapter{provider: domain.ProviderIMAPSMTP}, AccountOptions{})

	_, err := uc.CompleteGmailConnect(ctx, "user-1", "code", "user-2")
	if !errors.Is(err, domain.ErrStateMismatch) {
		t.Fatalf("CompleteGmailConnect() error = %v, want ErrStateMismatch", err)
	}
	if g.exchanges != 0 {
		t.Errorf("code exchanged %d times on state mismatch", g.exchanges)
	}
	for _, user := range []string{"user-1", "user-2"} {
		accounts, _ := r.accounts.ListByUser(ctx, user)
		if len(accounts) != 0 {
			t.Errorf("%s has %d accounts, want 0", user, len(accounts))
		}
	}
}

func TestCompleteGmailConnect_MissingCode(t *testing.T) {
	uc := newAccounts(newRepos(t), &fakeGmail{grant: testGrant()}, &fakeAdapter{provider: domain.ProviderIMAPSMTP}, AccountOptions{})
	if _, err := uc.CompleteGmailConnect(context.Background(), "user-1", "", "user-1"); !errors.Is(err, domain.ErrMissingAuthCode) {
		t.Fatalf("CompleteGmailConnect() error = %v, want ErrMissingAuthCode", err)
	}
}

func TestCompleteGmailConnect_CreatesThenReuses(t *testing.T) {
	ctx := context.Background()
	r := newRepos(t)
	g := &fakeGmail{grant: testGrant()}
	uc := newAccounts(r, g, &fakeAdapter{provider: domain.ProviderIMAPSMTP}, AccountOptions{PubSubTopic: "projects/p/topics/gmail"})

	first, err := uc.CompleteGmailConnect(ctx, "user-1", "code-1", "user-1")
	if err != nil {
		t.Fatalf("CompleteGmailConnect() error = %v", err)
	}
	if first.EmailAddress != "owner@gmail.com" || first.Status != domain.StatusConnected {
		t.Errorf("account = %+v", first)
	}
	if first.HistoryBackfillDays != domain.DefaultBackfillDays {
		t.Errorf("backfill days = %d", first.HistoryBackfillDays)
	}
	if len(g.watched) != 1 {
		t.Errorf("watch started %d times, want 1", len(g.watched))
	}

	if err := r.accounts.SetStatus(ctx, first.ID, domain.StatusReauthRequired, "revoked"); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}
	g.grant.AccessTokenCipher = "access-cipher-2"

	second, err := uc.CompleteGmailConnect(ctx, "user-1", "code-2", "user-1")
	if err != nil {
		t.Fatalf("reconnect error = %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("reconnect created a new account %s, want %s", second.ID, first.ID)
	}

	stored, _ := r.accounts.FindByID(ctx, first.ID)
	if stored.Status != domain.StatusConnected || stored.LastError != "" {
		t.Errorf("status after reconnect = %s (%q)", stored.Status, stored.LastError)
	}
	if stored.AccessTokenCipher != "access-cipher-2" {
		t.Errorf("access cipher = %q", stored.AccessTokenCipher)
	}
	accounts, _ := uc.ListAccounts(ctx, "user-1")
	if len(accounts) != 1 {
		t.Errorf("ListAccounts() = %d, want 1", len(accounts))
	}
}

func validIMAPInput() ConnectIMAPSMTPInput {
	return ConnectIMAPSMTPInput{
		Email:    "me@example.com",
		IMAPHost: "imap.example.com",
		SMTPHost: "smtp.example.com",
		Username: "me",
		Password: "secret",
	}
}

func TestConnectIMAPSMTP_Defaults(t *testing.T) {
	ctx := context.Background()
	r := newRepos(t)
	uc := newAccounts(r, &fakeGmail{}, &fakeAdapter{provider: domain.ProviderIMAPSMTP}, AccountOptions{VerifyOnConnect: true})

	account, err := uc.ConnectIMAPSMTP(ctx, "user-1", validIMAPInput())
	if err != nil {
		t.Fatalf("ConnectIMAPSMTP() error = %v", err)
	}
	if account.IMAPPort != 993 || account.SMTPPort != 465 || !account.IMAPTLS || !account.SMTPTLS {
		t.Errorf("defaults not applied: %+v", account)
	}
	if account.UsernameCipher != "sealed:me" || account.PasswordCipher != "sealed:secret" {
		t.Errorf("credentials not sealed: %q %q", account.UsernameCipher, account.PasswordCipher)
	}
}

func TestConnectIMAPSMTP_ReconnectKeepsBackfillDays(t *testing.T) {
	ctx := context.Background()
	r := newRepos(t)
	uc := newAccounts(r, &fakeGmail{}, &fakeAdapter{provider: domain.ProviderIMAPSMTP}, AccountOptions{})

	first, err := uc.ConnectIMAPSMTP(ctx, "user-1", validIMAPInput())
	if err != nil {
		t.Fatalf("ConnectIMAPSMTP() error = %v", err)
	}
	if _, err := uc.UpdateBackfillDays(ctx, "user-1", first.ID, 90); err != nil {
		t.Fatalf("UpdateBackfillDays() error = %v", err)
	}

	in := validIMAPInput()
	in.Password = "rotated"
	second, err := uc.ConnectIMAPSMTP(ctx, "user-1", in)
	if err != nil {
		t.Fatalf("reconnect error = %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("reconnect created a new account %s, want %s", second.ID, first.ID)
	}
	stored, _ := r.accounts.FindByID(ctx, first.ID)
	if stored.HistoryBackfillDays != 90 {
		t.Errorf("backfill days after reconnect = %d, want 90", stored.HistoryBackfillDays)
	}
	if stored.PasswordCipher != "sealed:rotated" {
		t.Errorf("password cipher = %q", stored.PasswordCipher)
	}

	in.BackfillDays = 14
	if _, err := uc.ConnectIMAPSMTP(ctx, "user-1", in); err != nil {
		t.Fatalf("reconnect with backfill error = %v", err)
	}
	stored, _ = r.accounts.FindByID(ctx, first.ID)
	if stored.HistoryBackfillDays != 14 {
		t.Errorf("explicit backfill days = %d, want 14", stored.HistoryBackfillDays)
	}
}

func TestConnectIMAPSMTP_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ConnectIMAPSMTPInput)
	}{
		{"bad email", func(in *ConnectIMAPSMTPInput) { in.Email = "not-an-email" }},
		{"missing imap host", func(in *ConnectIMAPSMTPInput) { in.IMAPHost = " " }},
		{"missing smtp host", func(in *ConnectIMAPSMTPInput) { in.SMTPHost = "" }},
		{"port too high", func(in *ConnectIMAPSMTPInput) { in.IMAPPort = 70000 }},
		{"negative port", func(in *ConnectIMAPSMTPInput) { in.SMTPPort = -1 }},
		{"missing username", func(in *ConnectIMAPSMTPInput) { in.Username = "" }},
		{"missing password", func(in *ConnectIMAPSMTPInput) { in.Password = "" }},
		{"backfill too long", func(in *ConnectIMAPSMTPInput) { in.BackfillDays = 400 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uc := newAccounts(newRepos(t), &fakeGmail{}, &fakeAdapter{provider: domain.ProviderIMAPSMTP}, AccountOptions{})
			in := validIMAPInput()
			tt.mutate(&in)
			if _, err := uc.ConnectIMAPSMTP(context.Background(), "user-1", in); !errors.Is(err, domain.ErrInvalidInput) {
				t.Fatalf("ConnectIMAPSMTP() error = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestConnectIMAPSMTP_VerificationFailureStoresNothing(t *testing.T) {
	ctx := context.Background()
	r := newRepos(t)
	imapFake := &fakeAdapter{
		provider:  domain.ProviderIMAPSMTP,
		verifyErr: &domain.AuthError{Provider: domain.ProviderIMAPSMTP, Err: errors.New("bad password")},
	}
	uc := newAccounts(r, &fakeGmail{}, imapFake, AccountOptions{VerifyOnConnect: true})

	_, err := uc.ConnectIMAPSMTP(ctx, "user-1", validIMAPInput())
	if !errors.Is(err, domain.ErrConnectionFailed) {
		t.Fatalf("ConnectIMAPSMTP() error = %v, want ErrConnectionFailed", err)
	}
	accounts, _ := r.accounts.ListByUser(ctx, "user-1")
	if len(accounts) != 0 {
		t.Errorf("stored %d accounts after failed verification", len(accounts))
	}

	// Skipping verification stores the account as given.
	uc = newAccounts(r, &fakeGmail{}, imapFake, AccountOptions{VerifyOnConnect: false})
	if _, err := uc.ConnectIMAPSMTP(ctx, "user-1", validIMAPInput()); err != nil {
		t.Fatalf("ConnectIMAPSMTP() without verification error = %v", err)
	}
}

func TestGetAccount_Ownership(t *testing.T) {
	ctx := context.Background()
	r := newRepos(t)
	account := seedAccount(t, r, domain.ProviderGmail)
	uc := newAccounts(r, &fakeGmail{}, &fakeAdapter{provider: domain.ProviderIMAPSMTP}, AccountOptions{})

	if _, err := uc.GetAccount(ctx, "user-1", account.ID); err != nil {
		t.Fatalf("GetAccount() by owner error = %v", err)
	}
	if _, err := uc.GetAccount(ctx, "intruder", account.ID); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Fatalf("GetAccount() by other user error = %v, want ErrAccountNotFound", err)
	}
}

func TestUpdateBackfillDays(t *testing.T) {
	ctx := context.Background()
	r := newRepos(t)
	account := seedAccount(t, r, domain.ProviderGmail)
	uc := newAccounts(r, &fakeGmail{}, &fakeAdapter{provider: domain.ProviderIMAPSMTP}, AccountOptions{})

	for _, days := range []int{0, 366} {
		if _, err := uc.UpdateBackfillDays(ctx, "user-1", account.ID, days); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("UpdateBackfillDays(%d) error = %v, want ErrInvalidInput", days, err)
		}
	}

	updated, err := uc.UpdateBackfillDays(ctx, "user-1", account.ID, 90)
	if err != nil {
		t.Fatalf("UpdateBackfillDays(90) error = %v", err)
	}
	if updated.HistoryBackfillDays != 90 {
		t.Errorf("HistoryBackfillDays = %d", updated.HistoryBackfillDays)
	}
	stored, _ := r.accounts.FindByID(ctx, account.ID)
	if stored.BackfillDays() != 90 {
		t.Errorf("stored backfill = %d", stored.BackfillDays())
	}
}
