package dto

import "time"

type PushRequest struct {
	ConnectionID   string   `json:"connection_id" validate:"required,uuid"`
	AppointmentIDs []string `json:"appointment_ids" validate:"required,min=1,dive,uuid"`
}

type PullRequest struct {
	ConnectionID string `json:"connection_id" validate:"required,uuid"`
	From         string `json:"from" validate:"required"`
	To           string `json:"to" validate:"required"`
}

type RunRequest struct {
	ConnectionID string `json:"connection_id" validate:"required,uuid"`
	From         string `json:"from" validate:"required"`
	To           string `json:"to" validate:"required"`
}

// Item outcomes for a push batch.
const (
	ItemSynced  = "synced"
	ItemSkipped = "skipped"
	ItemFailed  = "failed"
	// ItemAborted marks items never attempted because an earlier item in
	// the batch hit an authorization failure.
	ItemAborted = "aborted"
)

type ItemResult struct {
	AppointmentID string `json:"appointment_id"`
	Outcome       string `json:"outcome"`
	ExternalID    string `json:"external_id,omitempty"`
	Error         string `json:"error,omitempty"`
}

type BatchResult struct {
	Total   int          `json:"total"`
	Synced  int          `json:"synced"`
	Skipped int          `json:"skipped"`
	Failed  int          `json:"failed"`
	Aborted int          `json:"aborted"`
	Items   []ItemResult `json:"items"`
}

type PullResult struct {
	Fetched int `json:"fetched"`
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

type RunResult struct {
	Push         *BatchResult `json:"push"`
	Pull         *PullResult  `json:"pull"`
	LastSyncedAt time.Time    `json:"last_synced_at"`
}

type SyncStatusResponse struct {
	AppointmentID   string  `json:"appointment_id"`
	Synced          bool    `json:"synced"`
	ExternalEventID *string `json:"external_event_id,omitempty"`
	Direction       *string `json:"direction,omitempty"`
	LastSyncedAt    *string `json:"last_synced_at,omitempty"`
}

type EnqueueResponse struct {
	TaskID string `json:"task_id"`
	Queue  string `json:"queue"`
}
