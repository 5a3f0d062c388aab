package dto

import (
	"github.com/salutethegenius/kemiscrm-sub000/internal/mailbox/domain"
)

type AccountsResponse struct {
	Accounts []*domain.MailboxAccount `json:"accounts"`
}

type AuthURLResponse struct {
	AuthURL string `json:"auth_url"`
}

type ConnectIMAPRequest struct {
	Email        string `json:"email" binding:"required,email"`
	DisplayName  string `json:"display_name"`
	IMAPHost     string `json:"imap_host" binding:"required"`
	IMAPPort     int    `json:"imap_port"`
	IMAPTLS      *bool  `json:"imap_tls"`
	SMTPHost     string `json:"smtp_host" binding:"required"`
	SMTPPort     int    `json:"smtp_port"`
	SMTPTLS      *bool  `json:"smtp_tls"`
	Username     string `json:"username" binding:"required"`
	Password     string `json:"password" binding:"required"`
	BackfillDays int    `json:"history_backfill_days"`
}

type UpdateBackfillRequest struct {
	Days int `json:"history_backfill_days" binding:"required"`
}

type SendEmailRequest struct {
	To      string `json:"to" binding:"required"`
	Subject string `json:"subject" binding:"required"`
	HTML    string `json:"html"`
	Text    string `json:"text"`
}

type MessagesResponse struct {
	Messages []*domain.MailboxMessage `json:"messages"`
	Limit    int                      `json:"limit"`
	Offset   int                      `json:"offset"`
	Total    int64                    `json:"total"`
}

type SyncRunsResponse struct {
	Runs []*domain.SyncRun `json:"runs"`
}
