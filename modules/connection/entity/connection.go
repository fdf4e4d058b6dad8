package entity

import (
	"time"

	"clinicsync/core/entity"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Sync states for a connection.
const (
	SyncStateRunning = "running"
	SyncStateStopped = "stopped"
	SyncStateError   = "error"
)

// Connection is one authorized link between a clinician and an external
// calendar account. At most one active connection exists per
// (clinician, provider) pair; disconnects are soft-deletes.
type Connection struct {
	entity.BaseEntity
	ClinicianID  uuid.UUID      `db:"clinician_id" json:"clinician_id"`
	Provider     string         `db:"provider" json:"provider"`
	AccountEmail string         `db:"account_email" json:"account_email"`
	Scopes       pq.StringArray `db:"scopes" json:"scopes"`
	TimeZone     string         `db:"time_zone" json:"time_zone"`
	IsActive     bool           `db:"is_active" json:"is_active"`
	SyncState    string         `db:"sync_state" json:"sync_state"`
	LastSyncedAt *time.Time     `db:"last_synced_at" json:"last_synced_at,omitempty"`
	LastError    *string        `db:"last_error" json:"last_error,omitempty"`
}

func (Connection) TableName() string {
	return "calendar_connections"
}
