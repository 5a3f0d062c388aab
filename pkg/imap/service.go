package imap

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/salutethegenius/kemiscrm-sub000/internal/mailbox/domain"
	"github.com/salutethegenius/kemiscrm-sub000/pkg/mailmsg"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

const inbox = "INBOX"

// ErrStartTLSRequired is returned for a plain connection to a server that
// does not offer STARTTLS.
var ErrStartTLSRequired = errors.New("server does not offer STARTTLS")

// ConnConfig holds connection settings with credentials already decrypted.
// It should live no longer than one session.
type ConnConfig struct {
	Host     string
	Port     int
	TLS      bool
	Username string
	Password string
}

func (c ConnConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// DialFunc opens an unauthenticated IMAP connection.
type DialFunc func(ctx context.Context, cfg ConnConfig, timeout time.Duration) (*client.Client, error)

type Service struct {
	dialTimeout time.Duration
	dial        DialFunc
	rootCAs     *x509.CertPool
	logger      *slog.Logger
}

type Option func(*Service)

// WithDialFunc replaces how connections are opened, e.g. to reach a local test server.
func WithDialFunc(fn DialFunc) Option {
	return func(s *Service) {
		s.dial = fn
	}
}

// WithRootCAs replaces the system roots used to verify server certificates.
func WithRootCAs(pool *x509.CertPool) Option {
	return func(s *Service) {
		s.rootCAs = pool
	}
}

func NewService(dialTimeout time.Duration, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		dialTimeout: dialTimeout,
		logger:      logger.With("component", "imap"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.dial == nil {
		s.dial = s.defaultDial
	}
	return s
}

// defaultDial uses implicit TLS when cfg.TLS is set. A plain connection must
// be upgraded through STARTTLS before LOGIN.
func (s *Service) defaultDial(_ context.Context, cfg ConnConfig, timeout time.Duration) (*client.Client, error) {
	dialer := &net.Dialer{Timeout: timeout}
	tlsConfig := &tls.Config{ServerName: cfg.Host, RootCAs: s.rootCAs}

	if cfg.TLS {
		return client.DialWithDialerTLS(dialer, cfg.Addr(), tlsConfig)
	}

	c, err := client.DialWithDialer(dialer, cfg.Addr())
	if err != nil {
		return nil, err
	}
	ok, err := c.SupportStartTLS()
	if err == nil && !ok {
		err = ErrStartTLSRequired
	}
	if err == nil {
		err = c.StartTLS(tlsConfig)
	}
	if err != nil {
		_ = c.Terminate()
		return nil, fmt.Errorf("starttls: %w", err)
	}
	return c, nil
}

// session dials, logs in and ties the connection to ctx. The returned
// release func must always be called; it logs out and detaches from ctx.
func (s *Service) session(ctx context.Context, cfg ConnConfig) (*client.Client, func(), error) {
	c, err := s.dial(ctx, cfg, s.dialTimeout)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to %s: %w", cfg.Addr(), err)
	}
	if s.dialTimeout > 0 {
		c.Timeout = s.dialTimeout * 4
	}

	stop := context.AfterFunc(ctx, func() {
		_ = c.Terminate()
	})

	release := func() {
		stop()
		if err := c.Logout(); err != nil {
			s.logger.Debug("logout failed", "host", cfg.Host, "error", err)
		}
	}

	if err := c.Login(cfg.Username, cfg.Password); err != nil {
		release()
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, nil, &domain.AuthError{Provider: domain.ProviderIMAPSMTP, Err: err}
	}
	return c, release, nil
}

// Verify logs in and out once.
func (s *Service) Verify(ctx context.Context, cfg ConnConfig) error {
	_, release, err := s.session(ctx, cfg)
	if err != nil {
		return err
	}
	release()
	return nil
}

// FetchSince returns the inbox messages whose internal date is at or after since.
func (s *Service) FetchSince(ctx context.Context, cfg ConnConfig, since time.Time) ([]*domain.NormalizedMessage, error) {
	c, release, err := s.session(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer release()

	if _, err := c.Select(inbox, true); err != nil {
		return nil, s.ctxErr(ctx, fmt.Errorf("select %s: %w", inbox, err))
	}

	criteria := imap.NewSearchCriteria()
	criteria.Since = since
	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, s.ctxErr(ctx, fmt.Errorf("search since %s: %w", since.Format(time.DateOnly), err))
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchInternalDate, imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, 32)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, items, messages)
	}()

	result := make([]*domain.NormalizedMessage, 0, len(uids))
	for msg := range messages {
		nm := convertMessage(msg, section)
		// SEARCH SINCE is day-granular; trim to the exact bound.
		if nm.ReceivedAt.Before(since) {
			continue
		}
		result = append(result, nm)
	}
	if err := <-done; err != nil {
		return nil, s.ctxErr(ctx, fmt.Errorf("fetch messages: %w", err))
	}

	s.logger.Debug("fetched messages", "host", cfg.Host, "matched", len(uids), "kept", len(result))
	return result, nil
}

func (s *Service) ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func convertMessage(msg *imap.Message, section *imap.BodySectionName) *domain.NormalizedMessage {
	nm := &domain.NormalizedMessage{
		ProviderMessageID: strconv.FormatUint(uint64(msg.Uid), 10),
		ReceivedAt:        msg.InternalDate,
		Direction:         domain.DirectionIncoming,
	}

	if env := msg.Envelope; env != nil {
		nm.Subject = env.Subject
		nm.From = joinAddresses(env.From)
		nm.To = joinAddresses(env.To)
		if nm.ReceivedAt.IsZero() {
			nm.ReceivedAt = env.Date
		}
	}

	if body := msg.GetBody(section); body != nil {
		if text, html, err := mailmsg.ExtractBodies(body); err == nil {
			nm.Snippet = mailmsg.Snippet(text, html)
		}
	}
	return nm
}

func joinAddresses(addrs []*imap.Address) string {
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a == nil {
			continue
		}
		parts = append(parts, mailmsg.FormatAddress(a.PersonalName, a.Address()))
	}
	return strings.Join(parts, ", ")
}
