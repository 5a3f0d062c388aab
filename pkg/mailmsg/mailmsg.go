// Package mailmsg builds outgoing RFC 5322 messages and extracts short text
// previews from incoming ones.
package mailmsg

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/microcosm-cc/bluemonday"
)

const SnippetLength = 200

var ErrNoRecipients = errors.New("at least one recipient is required")

var stripPolicy = bluemonday.StrictPolicy()

type Message struct {
	FromName string
	From     string
	To       string
	Subject  string
	Text     string
	HTML     string
	Date     time.Time
}

// Composed is a ready-to-send message.
type Composed struct {
	MessageID  string
	Recipients []string
	Raw        []byte
}

// Compose renders m as a MIME message. With both bodies present it produces
// multipart/alternative; otherwise a single inline part.
func Compose(m *Message) (*Composed, error) {
	recipients, err := ParseAddressList(m.To)
	if err != nil {
		return nil, err
	}

	var h mail.Header
	date := m.Date
	if date.IsZero() {
		date = time.Now()
	}
	h.SetDate(date)
	h.SetAddressList("From", []*mail.Address{{Name: m.FromName, Address: m.From}})
	h.SetAddressList("To", recipients)
	h.SetSubject(m.Subject)
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generate message id: %w", err)
	}
	messageID, err := h.MessageID()
	if err != nil {
		return nil, fmt.Errorf("read message id: %w", err)
	}

	var buf bytes.Buffer
	switch {
	case m.Text != "" && m.HTML != "":
		if err := writeAlternative(&buf, h, m.Text, m.HTML); err != nil {
			return nil, err
		}
	case m.HTML != "":
		if err := writeSingle(&buf, h, "text/html", m.HTML); err != nil {
			return nil, err
		}
	default:
		if err := writeSingle(&buf, h, "text/plain", m.Text); err != nil {
			return nil, err
		}
	}

	addrs := make([]string, 0, len(recipients))
	for _, r := range recipients {
		addrs = append(addrs, r.Address)
	}

	return &Composed{
		MessageID:  "<" + messageID + ">",
		Recipients: addrs,
		Raw:        buf.Bytes(),
	}, nil
}

func writeSingle(w io.Writer, h mail.Header, contentType, body string) error {
	h.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	part, err := mail.CreateSingleInlineWriter(w, h)
	if err != nil {
		return fmt.Errorf("create message writer: %w", err)
	}
	if _, err := io.WriteString(part, body); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	return part.Close()
}

func writeAlternative(w io.Writer, h mail.Header, text, htmlBody string) error {
	iw, err := mail.CreateInlineWriter(w, h)
	if err != nil {
		return fmt.Errorf("create message writer: %w", err)
	}

	for _, p := range []struct{ contentType, body string }{
		{"text/plain", text},
		{"text/html", htmlBody},
	} {
		var ph mail.InlineHeader
		ph.SetContentType(p.contentType, map[string]string{"charset": "utf-8"})
		part, err := iw.CreatePart(ph)
		if err != nil {
			return fmt.Errorf("create %s part: %w", p.contentType, err)
		}
		if _, err := io.WriteString(part, p.body); err != nil {
			return fmt.Errorf("write %s part: %w", p.contentType, err)
		}
		if err := part.Close(); err != nil {
			return err
		}
	}
	return iw.Close()
}

// ParseAddressList parses a comma separated recipient list.
func ParseAddressList(s string) ([]*mail.Address, error) {
	if strings.TrimSpace(s) == "" {
		return nil, ErrNoRecipients
	}
	addrs, err := mail.ParseAddressList(s)
	if err != nil {
		return nil, fmt.Errorf("parse recipients: %w", err)
	}
	if len(addrs) == 0 {
		return nil, ErrNoRecipients
	}
	return addrs, nil
}

// FormatAddress renders a display string: `Name <addr>` or just `addr`.
func FormatAddress(name, addr string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return addr
	}
	return fmt.Sprintf("%s <%s>", name, addr)
}

// Snippet returns a short single-line preview, preferring the plain text body.
func Snippet(text, htmlBody string) string {
	source := text
	if strings.TrimSpace(source) == "" {
		source = html.UnescapeString(stripPolicy.Sanitize(htmlBody))
	}
	source = strings.Join(strings.Fields(source), " ")
	return truncate(source, SnippetLength)
}

// ExtractBodies reads a full RFC 5322 message and returns its first text/plain
// and text/html parts. Attachments are skipped.
func ExtractBodies(r io.Reader) (text, htmlBody string, err error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return "", "", fmt.Errorf("parse message: %w", err)
	}
	defer mr.Close()

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			// A broken trailing part should not hide bodies already read.
			if text != "" || htmlBody != "" {
				break
			}
			return "", "", fmt.Errorf("read part: %w", err)
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		body, err := io.ReadAll(io.LimitReader(part.Body, 64*1024))
		if err != nil {
			continue
		}
		switch {
		case contentType == "text/html" && htmlBody == "":
			htmlBody = string(body)
		case (contentType == "text/plain" || contentType == "") && text == "":
			text = string(body)
		}
	}
	return text, htmlBody, nil
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:n])) + "..."
}
