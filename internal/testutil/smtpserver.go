package testutil

import (
	"crypto/tls"
	"crypto/x509"
	"io"
	"net"
	"sync"
	"testing"

	"github.com/emersion/go-smtp"
)

// ReceivedMail is one message accepted by SMTPServer.
type ReceivedMail struct {
	From string
	To   []string
	Data []byte
}

// SMTPServer is an in-process SMTP server that records every message.
type SMTPServer struct {
	Addr string
	// RootCAs trusts the STARTTLS certificate; nil for a plain server.
	RootCAs *x509.CertPool

	mu   sync.Mutex
	mail []ReceivedMail
}

// StartSMTPServer listens on a loopback port until the test ends and
// offers STARTTLS with a certificate trusted by RootCAs.
func StartSMTPServer(t *testing.T) *SMTPServer {
	t.Helper()
	tlsConfig, roots := LoopbackTLS(t)
	srv := startSMTPServer(t, tlsConfig)
	srv.RootCAs = roots
	return srv
}

// StartPlainSMTPServer is StartSMTPServer without STARTTLS.
func StartPlainSMTPServer(t *testing.T) *SMTPServer {
	t.Helper()
	return startSMTPServer(t, nil)
}

func startSMTPServer(t *testing.T, tlsConfig *tls.Config) *SMTPServer {
	srv := &SMTPServer{}
	s := smtp.NewServer(&smtpBackend{srv: srv})
	s.Domain = "localhost"
	s.AllowInsecureAuth = true
	s.TLSConfig = tlsConfig

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv.Addr = ln.Addr().String()
	go s.Serve(ln)

	t.Cleanup(func() {
		s.Close()
	})
	return srv
}

// Received returns a copy of the recorded messages.
func (s *SMTPServer) Received() []ReceivedMail {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ReceivedMail, len(s.mail))
	copy(out, s.mail)
	return out
}

func (s *SMTPServer) record(m ReceivedMail) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mail = append(s.mail, m)
}

type smtpBackend struct {
	srv *SMTPServer
}

func (b *smtpBackend) NewSession(_ *smtp.Conn) (smtp.Session, error) {
	return &smtpSession{srv: b.srv}, nil
}

type smtpSession struct {
	srv     *SMTPServer
	current ReceivedMail
}

func (s *smtpSession) Mail(from string, _ *smtp.MailOptions) error {
	s.current.From = from
	return nil
}

func (s *smtpSession) Rcpt(to string, _ *smtp.RcptOptions) error {
	s.current.To = append(s.current.To, to)
	return nil
}

func (s *smtpSession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.current.Data = data
	s.srv.record(s.current)
	s.current = ReceivedMail{}
	return nil
}

func (s *smtpSession) Reset() {
	s.current = ReceivedMail{}
}

func (s *smtpSession) Logout() error {
	return nil
}
