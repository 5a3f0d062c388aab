package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/salutethegenius/kemiscrm-sub000/internal/mailbox/adapter"
	"github.com/salutethegenius/kemiscrm-sub000/internal/mailbox/domain"
	"github.com/salutethegenius/kemiscrm-sub000/pkg/logger"
)

func newSend(r repos, adapters ...domain.MailAdapter) SendUsecase {
	return NewSendUsecase(r.accounts, r.messages, adapter.NewRegistry(adapters...), logger.Discard())
}

func TestSendEmail_RecordsOutgoingMessage(t *testing.T) {
	ctx := context.Background()
	r := newRepos(t)
	account := seedAccount(t, r, domain.ProviderIMAPSMTP)
	fa := &fakeAdapter{provider: domain.ProviderIMAPSMTP}
	uc := newSend(r, fa)

	msg, err := uc.SendEmail(ctx, "user-1", account.ID, SendInput{To: "ann@example.org", Subject: "Proposal", Text: "See attached."})
	if err != nil {
		t.Fatalf("SendEmail() error = %v", err)
	}
	if msg.Direction != domain.DirectionOutgoing || msg.ProviderMessageID != "sent-1" {
		t.Errorf("message = %+v", msg)
	}
	if len(fa.sent) != 1 || fa.sent[0].Subject != "Proposal" {
		t.Errorf("adapter sent %+v", fa.sent)
	}

	stored, total, err := r.messages.ListByAccount(ctx, account.ID, 10, 0)
	if err != nil || total != 1 {
		t.Fatalf("ListByAccount() = %d rows, %v", total, err)
	}
	if stored[0].Direction != domain.DirectionOutgoing || stored[0].FromAddress != "me@example.com" {
		t.Errorf("stored message = %+v", stored[0])
	}
}

func TestSendEmail_InvalidInput(t *testing.T) {
	r := newRepos(t)
	account := seedAccount(t, r, domain.ProviderIMAPSMTP)
	fa := &fakeAdapter{provider: domain.ProviderIMAPSMTP}
	uc := newSend(r, fa)

	inputs := []SendInput{
		{To: "", Subject: "hi"},
		{To: "ann@example.org", Subject: "  "},
		{To: "not an address", Subject: "hi"},
	}
	for _, in := range inputs {
		if _, err := uc.SendEmail(context.Background(), "user-1", account.ID, in); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("SendEmail(%+v) error = %v, want ErrInvalidInput", in, err)
		}
	}
	if len(fa.sent) != 0 {
		t.Errorf("adapter sent %d messages for invalid input", len(fa.sent))
	}
}

func TestSendEmail_OtherUsersAccount(t *testing.T) {
	r := newRepos(t)
	account := seedAccount(t, r, domain.ProviderIMAPSMTP)
	uc := newSend(r, &fakeAdapter{provider: domain.ProviderIMAPSMTP})

	_, err := uc.SendEmail(context.Background(), "intruder", account.ID, SendInput{To: "ann@example.org", Subject: "hi"})
	if !errors.Is(err, domain.ErrAccountNotFound) {
		t.Fatalf("SendEmail() error = %v, want ErrAccountNotFound", err)
	}
}

func TestSendEmail_AuthFailureFlagsAccount(t *testing.T) {
	ctx := context.Background()
	r := newRepos(t)
	account := seedAccount(t, r, domain.ProviderGmail)
	fa := &fakeAdapter{
		provider:   domain.ProviderGmail,
		refreshErr: domain.ErrReauthRequired,
	}
	uc := newSend(r, fa)

	_, err := uc.SendEmail(ctx, "user-1", account.ID, SendInput{To: "ann@example.org", Subject: "hi", Text: "x"})
	if !errors.Is(err, domain.ErrSendFailed) || !domain.IsAuthError(err) {
		t.Fatalf("SendEmail() error = %v", err)
	}

	stored, _ := r.accounts.FindByID(ctx, account.ID)
	if stored.Status != domain.StatusReauthRequired {
		t.Errorf("account status = %s", stored.Status)
	}
	count, _ := r.messages.CountByAccount(ctx, account.ID)
	if count != 0 {
		t.Errorf("stored %d messages after failed send", count)
	}
}
