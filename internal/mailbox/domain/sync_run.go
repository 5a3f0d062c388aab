package domain

import "time"

type SyncType string

const (
	SyncTypeInitial     SyncType = "initial"
	SyncTypeIncremental SyncType = "incremental"
)

type SyncStatus string

const (
	SyncStatusRunning SyncStatus = "running"
	SyncStatusSuccess SyncStatus = "success"
	SyncStatusError   SyncStatus = "error"
)

// SyncRun records one sync attempt. It is created running and moves to a
// terminal status exactly once.
type SyncRun struct {
	ID               string     `json:"id" gorm:"primaryKey"`
	MailboxAccountID string     `json:"mailbox_account_id" gorm:"not null;index"`
	SyncType         SyncType   `json:"sync_type" gorm:"type:varchar(20);not null"`
	WindowFrom       time.Time  `json:"window_from"`
	WindowTo         time.Time  `json:"window_to"`
	Status           SyncStatus `json:"status" gorm:"type:varchar(20);not null;index"`
	ErrorMessage     string     `json:"error_message,omitempty" gorm:"type:text"`
	MessagesFetched  int        `json:"messages_fetched"`
	MessagesStored   int        `json:"messages_stored"`
	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
}

func (r *SyncRun) Finished() bool {
	return r.Status == SyncStatusSuccess || r.Status == SyncStatusError
}
