package domain

import (
	"strings"
	"time"
)

type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// MailboxMessage is a stored message. (MailboxAccountID, ProviderMessageID)
// is unique and is the conflict target for upserts.
type MailboxMessage struct {
	ID                string    `json:"id" gorm:"primaryKey"`
	MailboxAccountID  string    `json:"mailbox_account_id" gorm:"not null;uniqueIndex:idx_mailbox_provider_message,priority:1"`
	ProviderMessageID string    `json:"provider_message_id" gorm:"not null;uniqueIndex:idx_mailbox_provider_message,priority:2"`
	Direction         Direction `json:"direction" gorm:"type:varchar(10);not null"`
	ThreadID          string    `json:"thread_id,omitempty" gorm:"index"`
	FromAddress       string    `json:"from_address"`
	ToAddress         string    `json:"to_address" gorm:"type:text"`
	Subject           string    `json:"subject" gorm:"type:text"`
	Snippet           string    `json:"snippet" gorm:"type:text"`
	ReceivedAt        time.Time `json:"received_at" gorm:"index"`
	CreatedAt         time.Time `json:"created_at"`
}

// NormalizedMessage is what every adapter produces, regardless of protocol.
type NormalizedMessage struct {
	ProviderMessageID string
	ThreadID          string
	From              string
	To                string
	Subject           string
	Snippet           string
	ReceivedAt        time.Time
	Direction         Direction
}

func (m *NormalizedMessage) ToMailboxMessage(accountID string) *MailboxMessage {
	direction := m.Direction
	if direction == "" {
		direction = DirectionIncoming
	}
	return &MailboxMessage{
		MailboxAccountID:  accountID,
		ProviderMessageID: m.ProviderMessageID,
		Direction:         direction,
		ThreadID:          m.ThreadID,
		FromAddress:       m.From,
		ToAddress:         m.To,
		Subject:           m.Subject,
		Snippet:           m.Snippet,
		ReceivedAt:        m.ReceivedAt,
	}
}

// OutgoingMessage is a send request after validation.
type OutgoingMessage struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// DirectionFor classifies a listed message as outgoing when the account
// itself is the sender. from may be a display string like `Name <addr>`.
func DirectionFor(accountEmail, from string) Direction {
	if accountEmail == "" {
		return DirectionIncoming
	}
	if strings.EqualFold(bareAddress(from), strings.TrimSpace(accountEmail)) {
		return DirectionOutgoing
	}
	return DirectionIncoming
}

func bareAddress(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, "<"); i >= 0 {
		if j := strings.Index(s[i:], ">"); j > 0 {
			return strings.TrimSpace(s[i+1 : i+j])
		}
	}
	return s
}
