package entity

import (
	"database/sql/driver"
	"encoding/json"
	"errors"

	"clinicsync/core/entity"

	"github.com/google/uuid"
)

// Notification event types delivered to the UI collaborator.
const (
	TypeConnected    = "CONNECTED"
	TypeAuthError    = "AUTH_ERROR"
	TypeSyncComplete = "SYNC_COMPLETE"
	TypeSyncError    = "SYNC_ERROR"
)

type Notification struct {
	ClinicianID  uuid.UUID  `db:"clinician_id" json:"clinician_id"`
	ConnectionID *uuid.UUID `db:"connection_id" json:"connection_id,omitempty"`
	Type         string     `db:"type" json:"type"`
	Message      string     `db:"message" json:"message"`
	Data         JSONB      `db:"data" json:"data"`
	IsRead       bool       `db:"is_read" json:"is_read"`
	entity.BaseEntity
}

func (Notification) TableName() string {
	return "notifications"
}

type JSONB map[string]interface{}

func (a JSONB) Value() (driver.Value, error) {
	return json.Marshal(a)
}

func (a *JSONB) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(b, &a)
}

type PaginatedNotificationEntity = entity.Pagination[Notification]
