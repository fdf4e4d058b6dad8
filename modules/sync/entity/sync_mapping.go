package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"clinicsync/core/entity"

	"github.com/google/uuid"
)

// Sync directions for a mapping.
const (
	DirectionInbound       = "inbound"
	DirectionOutbound      = "outbound"
	DirectionBidirectional = "bidirectional"
)

// SyncMapping links one appointment to one external event on one
// connection. The pair (connection_id, external_event_id) is unique, as
// is (connection_id, appointment_id), so repeated sync passes converge
// on the same rows instead of duplicating events.
type SyncMapping struct {
	entity.BaseEntity
	ConnectionID    uuid.UUID `db:"connection_id" json:"connection_id"`
	AppointmentID   uuid.UUID `db:"appointment_id" json:"appointment_id"`
	ExternalEventID string    `db:"external_event_id" json:"external_event_id"`
	Direction       string    `db:"direction" json:"direction"`
	// ContentHash fingerprints the last pushed payload so an unchanged
	// appointment skips the provider round-trip entirely.
	ContentHash string `db:"content_hash" json:"content_hash"`
}

func (SyncMapping) TableName() string {
	return "sync_mappings"
}

// HashContent fingerprints the fields that travel to the provider.
// Status is included because a cancellation changes push eligibility.
func HashContent(title, notes string, startsAt, endsAt time.Time, status string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%d\x00%d\x00%s",
		title, notes, startsAt.UTC().Unix(), endsAt.UTC().Unix(), status)
	return hex.EncodeToString(h.Sum(nil))
}
