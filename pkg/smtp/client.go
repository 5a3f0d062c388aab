package smtp

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/salutethegenius/kemiscrm-sub000/internal/mailbox/domain"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
)

// ConnConfig holds connection settings with credentials already decrypted.
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

// Client sends one message per connection. It never retries.
type Client struct {
	dialTimeout time.Duration
	rootCAs     *x509.CertPool
	logger      *slog.Logger
}

type Option func(*Client)

// WithRootCAs replaces the system roots used to verify server certificates.
func WithRootCAs(pool *x509.CertPool) Option {
	return func(c *Client) {
		c.rootCAs = pool
	}
}

func NewClient(dialTimeout time.Duration, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		dialTimeout: dialTimeout,
		logger:      logger.With("component", "smtp"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// dial connects with implicit TLS when cfg.TLS is set. Otherwise the plain
// connection must be upgraded through STARTTLS before AUTH; a server that
// does not offer it is rejected.
func (c *Client) dial(ctx context.Context, cfg ConnConfig) (*gosmtp.Client, error) {
	dialer := &net.Dialer{Timeout: c.dialTimeout}
	tlsConfig := &tls.Config{ServerName: cfg.Host, RootCAs: c.rootCAs}

	if cfg.TLS {
		td := &tls.Dialer{NetDialer: dialer, Config: tlsConfig}
		conn, err := td.DialContext(ctx, "tcp", cfg.Addr())
		if err != nil {
			return nil, fmt.Errorf("connect to %s: %w", cfg.Addr(), err)
		}
		return gosmtp.NewClient(conn), nil
	}

	conn, err := dialer.DialContext(ctx, "tcp", cfg.Addr())
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Addr(), err)
	}
	// NewClientStartTLS closes conn on failure.
	sc, err := gosmtp.NewClientStartTLS(conn, tlsConfig)
	if err != nil {
		return nil, fmt.Errorf("starttls with %s: %w", cfg.Addr(), err)
	}
	return sc, nil
}

func (c *Client) authenticate(sc *gosmtp.Client, cfg ConnConfig) error {
	if cfg.Username == "" {
		return nil
	}
	if ok, _ := sc.Extension("AUTH"); !ok {
		c.logger.Debug("server does not offer AUTH, sending unauthenticated", "host", cfg.Host)
		return nil
	}
	if err := sc.Auth(sasl.NewPlainClient("", cfg.Username, cfg.Password)); err != nil {
		return &domain.AuthError{Provider: domain.ProviderIMAPSMTP, Err: err}
	}
	return nil
}

// Send delivers raw to rcpts with from as the envelope sender.
func (c *Client) Send(ctx context.Context, cfg ConnConfig, from string, rcpts []string, raw []byte) error {
	sc, err := c.dial(ctx, cfg)
	if err != nil {
		return err
	}
	defer sc.Close()

	stop := context.AfterFunc(ctx, func() {
		sc.Close()
	})
	defer stop()

	if err := c.authenticate(sc, cfg); err != nil {
		return err
	}
	if err := sc.SendMail(from, rcpts, bytes.NewReader(raw)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("send mail: %w", err)
	}
	if err := sc.Quit(); err != nil {
		c.logger.Debug("quit failed after send", "host", cfg.Host, "error", err)
	}

	c.logger.Info("message sent", "host", cfg.Host, "recipients", len(rcpts))
	return nil
}

// Verify connects and authenticates without sending.
func (c *Client) Verify(ctx context.Context, cfg ConnConfig) error {
	sc, err := c.dial(ctx, cfg)
	if err != nil {
		return err
	}
	defer sc.Close()

	if err := c.authenticate(sc, cfg); err != nil {
		return err
	}
	return sc.Quit()
}
