package entity

import (
	"time"

	"clinicsync/core/entity"

	"github.com/google/uuid"
)

// Appointment statuses. Only scheduled and confirmed appointments are
// eligible for push sync; personal_block marks an opaque placeholder
// imported from an unmatched external busy event.
const (
	StatusScheduled     = "scheduled"
	StatusConfirmed     = "confirmed"
	StatusCancelled     = "cancelled"
	StatusCompleted     = "completed"
	StatusNoShow        = "no_show"
	StatusPersonalBlock = "personal_block"
)

// Appointment is owned by the appointment-management collaborator. The
// sync engine reads it and writes back only the external event id, the
// last-synced timestamp, and remote-won fields on conflict. UpdatedAt
// doubles as the last-modified instant for conflict resolution.
type Appointment struct {
	entity.BaseEntity
	ClinicianID     uuid.UUID  `db:"clinician_id" json:"clinician_id"`
	Title           string     `db:"title" json:"title"`
	Notes           string     `db:"notes" json:"notes"`
	StartsAt        time.Time  `db:"starts_at" json:"starts_at"`
	EndsAt          time.Time  `db:"ends_at" json:"ends_at"`
	Status          string     `db:"status" json:"status"`
	ExternalEventID *string    `db:"external_event_id" json:"external_event_id,omitempty"`
	LastSyncedAt    *time.Time `db:"last_synced_at" json:"last_synced_at,omitempty"`
}

func (Appointment) TableName() string {
	return "appointments"
}

// PushEligible reports whether the appointment should be propagated
// outward. Ineligible appointments are skipped, not errored.
func (a *Appointment) PushEligible() bool {
	return a.Status == StatusScheduled || a.Status == StatusConfirmed
}
