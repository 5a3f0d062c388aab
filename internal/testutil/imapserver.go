package testutil

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/emersion/go-imap/backend/memory"
	"github.com/emersion/go-imap/server"
)

const (
	IMAPUsername = "username"
	IMAPPassword = "password"
)

// IMAPServer is an in-process IMAP server backed by memory storage.
type IMAPServer struct {
	Addr  string
	Inbox *memory.Mailbox
	// RootCAs trusts the STARTTLS certificate; nil for a plain server.
	RootCAs *x509.CertPool
}

// StartIMAPServer serves an empty INBOX on a loopback port until the test
// ends. It does not offer STARTTLS.
func StartIMAPServer(t *testing.T) *IMAPServer {
	t.Helper()
	return startIMAPServer(t, nil)
}

// StartIMAPServerTLS is StartIMAPServer with STARTTLS and a certificate
// trusted by RootCAs.
func StartIMAPServerTLS(t *testing.T) *IMAPServer {
	t.Helper()
	tlsConfig, roots := LoopbackTLS(t)
	srv := startIMAPServer(t, tlsConfig)
	srv.RootCAs = roots
	return srv
}

func startIMAPServer(t *testing.T, tlsConfig *tls.Config) *IMAPServer {

	be := memory.New()
	user, err := be.Login(nil, IMAPUsername, IMAPPassword)
	if err != nil {
		t.Fatalf("memory backend login: %v", err)
	}
	mbox, err := user.GetMailbox("INBOX")
	if err != nil {
		t.Fatalf("memory backend inbox: %v", err)
	}
	inbox := mbox.(*memory.Mailbox)
	// The memory backend seeds one message; tests want an empty inbox.
	inbox.Messages = nil

	s := server.New(be)
	s.AllowInsecureAuth = true
	s.TLSConfig = tlsConfig

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go s.Serve(ln)

	t.Cleanup(func() {
		s.Close()
	})

	return &IMAPServer{Addr: ln.Addr().String(), Inbox: inbox}
}

// AddMessage appends a plain text message with the given internal date.
func (s *IMAPServer) AddMessage(t *testing.T, date time.Time, from, to, subject, body string) {
	t.Helper()

	raw := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nDate: %s\r\nMessage-ID: <%d@test.local>\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n",
		from, to, subject, date.Format(time.RFC1123Z), date.UnixNano(), body)

	if err := s.Inbox.CreateMessage([]string{}, date, bytes.NewBufferString(raw)); err != nil {
		t.Fatalf("append message: %v", err)
	}
}
