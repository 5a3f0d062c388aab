package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/salutethegenius/kemiscrm-sub000/internal/mailbox/adapter"
	"github.com/salutethegenius/kemiscrm-sub000/internal/mailbox/domain"
	"github.com/salutethegenius/kemiscrm-sub000/internal/mailbox/repository"
	"github.com/salutethegenius/kemiscrm-sub000/internal/testutil"
	"github.com/salutethegenius/kemiscrm-sub000/pkg/logger"
)

type fakeAdapter struct {
	provider domain.Provider

	mu          sync.Mutex
	msgs        []*domain.NormalizedMessage
	listErr     error
	refreshErr  error
	verifyErr   error
	sendErr     error
	refreshTo   string
	panicOnList bool

	// started is closed when ListSince begins; ListSince then waits on
	// release or ctx cancellation when release is set.
	started chan struct{}
	release chan struct{}

	sinceSeen []time.Time
	sent      []*domain.OutgoingMessage
}

func (f *fakeAdapter) Provider() domain.Provider { return f.provider }

func (f *fakeAdapter) RefreshIfNeeded(_ context.Context, account *domain.MailboxAccount) (bool, error) {
	if f.refreshErr != nil {
		return false, f.refreshErr
	}
	if f.refreshTo == "" {
		return false, nil
	}
	account.AccessTokenCipher = f.refreshTo
	expires := time.Now().Add(time.Hour)
	account.TokenExpiresAt = &expires
	return true, nil
}

func (f *fakeAdapter) ListSince(ctx context.Context, _ *domain.MailboxAccount, since time.Time) ([]*domain.NormalizedMessage, error) {
	f.mu.Lock()
	f.sinceSeen = append(f.sinceSeen, since)
	f.mu.Unlock()

	if f.started != nil {
		close(f.started)
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.panicOnList {
		panic("adapter exploded")
	}
	if f.listErr != nil {
		return nil, f.listErr
	}

	out := make([]*domain.NormalizedMessage, len(f.msgs))
	for i, m := range f.msgs {
		cp := *m
		out[i] = &cp
	}
	return out, nil
}

func (f *fakeAdapter) Send(_ context.Context, account *domain.MailboxAccount, msg *domain.OutgoingMessage) (*domain.NormalizedMessage, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	n := len(f.sent)
	f.mu.Unlock()

	return &domain.NormalizedMessage{
		ProviderMessageID: fmt.Sprintf("sent-%d", n),
		From:              account.EmailAddress,
		To:                msg.To,
		Subject:           msg.Subject,
		Snippet:           msg.Text,
		ReceivedAt:        time.Now(),
		Direction:         domain.DirectionOutgoing,
	}, nil
}

func (f *fakeAdapter) Verify(context.Context, *domain.MailboxAccount) error {
	return f.verifyErr
}

type fakeGmail struct {
	grant       *domain.OAuthGrant
	exchangeErr error
	exchanges   int
	watched     []string
}

func (g *fakeGmail) AuthURL(state string) (string, error) {
	return "https://accounts.example.com/auth?state=" + state, nil
}

func (g *fakeGmail) Exchange(context.Context, string) (*domain.OAuthGrant, error) {
	g.exchanges++
	if g.exchangeErr != nil {
		return nil, g.exchangeErr
	}
	cp := *g.grant
	return &cp, nil
}

func (g *fakeGmail) Watch(_ context.Context, account *domain.MailboxAccount, _ string) (uint64, error) {
	g.watched = append(g.watched, account.ID)
	return 1, nil
}

type plainSealer struct{}

func (plainSealer) Encrypt(s string) (string, error) { return "sealed:" + s, nil }

// failingMessages stores the first okCount messages, then fails.
type failingMessages struct {
	repository.MailboxMessageRepository
	okCount int
	calls   int
}

var errDiskFull = errors.New("disk full")

func (f *failingMessages) Upsert(ctx context.Context, msg *domain.MailboxMessage) (bool, error) {
	f.calls++
	if f.calls > f.okCount {
		return false, errDiskFull
	}
	return f.MailboxMessageRepository.Upsert(ctx, msg)
}

type repos struct {
	accounts repository.MailboxAccountRepository
	messages repository.MailboxMessageRepository
	runs     repository.SyncRunRepository
}

func newRepos(t *testing.T) repos {
	t.Helper()
	db := testutil.NewTestDB(t)
	return repos{
		accounts: repository.NewMailboxAccountRepository(db),
		messages: repository.NewMailboxMessageRepository(db),
		runs:     repository.NewSyncRunRepository(db),
	}
}

func newSync(r repos, adapters ...domain.MailAdapter) SyncUsecase {
	return NewSyncUsecase(r.accounts, r.messages, r.runs, adapter.NewRegistry(adapters...), NewAccountLocker(), logger.Discard())
}

func seedAccount(t *testing.T, r repos, provider domain.Provider) *domain.MailboxAccount {
	t.Helper()
	account := &domain.MailboxAccount{
		UserID:       "user-1",
		Provider:     provider,
		EmailAddress: "me@example.com",
		Status:       domain.StatusConnected,
	}
	if err := r.accounts.Create(context.Background(), account); err != nil {
		t.Fatalf("create account: %v", err)
	}
	return account
}

func sampleMessages(now time.Time, n int) []*domain.NormalizedMessage {
	out := make([]*domain.NormalizedMessage, n)
	for i := range out {
		out[i] = &domain.NormalizedMessage{
			ProviderMessageID: fmt.Sprintf("msg-%d", i),
			From:              "ann@example.org",
			To:                "me@example.com",
			Subject:           "hello",
			ReceivedAt:        now.Add(-time.Duration(i+1) * time.Hour),
			Direction:         domain.DirectionIncoming,
		}
	}
	return out
}
