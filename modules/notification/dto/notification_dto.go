package dto

import (
	"github.com/google/uuid"
)

// SyncEvent is the observer payload delivered to UI-facing consumers.
// The vocabulary is fixed: CONNECTED, AUTH_ERROR, SYNC_COMPLETE,
// SYNC_ERROR.
type SyncEvent struct {
	Type         string                 `json:"type"`
	ClinicianID  uuid.UUID              `json:"clinician_id"`
	ConnectionID *uuid.UUID             `json:"connection_id,omitempty"`
	Message      string                 `json:"message"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
}

type MarkAsReadRequest struct {
	IDs []string `json:"ids" validate:"required"`
}
