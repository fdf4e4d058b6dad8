package repository

import (
	"context"
	"database/sql"
	"time"

	"clinicsync/core/database"
	"clinicsync/core/logger"
	"clinicsync/modules/appointment/entity"

	"github.com/google/uuid"
)

// AppointmentRepository is the engine's view of the appointment store.
// The store itself is owned by the practice-management side; this
// surface reads appointments and writes back sync bookkeeping only.
type AppointmentRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Appointment, error)
	ListInRange(ctx context.Context, clinicianID uuid.UUID, from, to time.Time) ([]entity.Appointment, error)
	UpdateSyncFields(ctx context.Context, id uuid.UUID, externalEventID string, syncedAt time.Time) error
	// ApplyRemote writes remote-won fields onto the appointment.
	ApplyRemote(ctx context.Context, id uuid.UUID, startsAt, endsAt time.Time, syncedAt time.Time) error
	// UpsertPersonalBlock records an unmatched external busy event as an
	// opaque placeholder, keyed by the external event id so repeated
	// pulls are idempotent.
	UpsertPersonalBlock(ctx context.Context, clinicianID uuid.UUID, externalEventID string, startsAt, endsAt time.Time) (*entity.Appointment, error)
}

type appointmentRepository struct {
	db database.IDatabase
}

func NewAppointmentRepository(db database.IDatabase) AppointmentRepository {
	return &appointmentRepository{db: db}
}

func (r *appointmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Appointment, error) {
	var appt entity.Appointment
	query := `
		SELECT id, clinician_id, title, notes, starts_at, ends_at, status,
		       external_event_id, last_synced_at, created_at, updated_at
		FROM appointments
		WHERE id = $1
	`
	err := r.db.GetContext(ctx, &appt, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		logger.Error("AppointmentRepository:GetByID:Error", "error", err, "id", id)
		return nil, err
	}
	return &appt, nil
}

func (r *appointmentRepository) ListInRange(ctx context.Context, clinicianID uuid.UUID, from, to time.Time) ([]entity.Appointment, error) {
	query := `
		SELECT id, clinician_id, title, notes, starts_at, ends_at, status,
		       external_event_id, last_synced_at, created_at, updated_at
		FROM appointments
		WHERE clinician_id = $1 AND starts_at < $3 AND ends_at > $2
		ORDER BY starts_at
	`
	var appointments []entity.Appointment
	if err := r.db.SelectContext(ctx, &appointments, query, clinicianID, from, to); err != nil {
		logger.Error("AppointmentRepository:ListInRange:Error", "error", err, "clinician_id", clinicianID)
		return nil, err
	}
	return appointments, nil
}

func (r *appointmentRepository) UpdateSyncFields(ctx context.Context, id uuid.UUID, externalEventID string, syncedAt time.Time) error {
	query := `
		UPDATE appointments
		SET external_event_id = $2, last_synced_at = $3
		WHERE id = $1
	`
	err := r.db.ExecContext(ctx, query, id, externalEventID, syncedAt)
	if err != nil {
		logger.Error("AppointmentRepository:UpdateSyncFields:Error", "error", err, "id", id)
	}
	return err
}

func (r *appointmentRepository) ApplyRemote(ctx context.Context, id uuid.UUID, startsAt, endsAt time.Time, syncedAt time.Time) error {
	query := `
		UPDATE appointments
		SET starts_at = $2, ends_at = $3, last_synced_at = $4, updated_at = NOW()
		WHERE id = $1
	`
	err := r.db.ExecContext(ctx, query, id, startsAt, endsAt, syncedAt)
	if err != nil {
		logger.Error("AppointmentRepository:ApplyRemote:Error", "error", err, "id", id)
	}
	return err
}

func (r *appointmentRepository) UpsertPersonalBlock(ctx context.Context, clinicianID uuid.UUID, externalEventID string, startsAt, endsAt time.Time) (*entity.Appointment, error) {
	// The foreign title is deliberately not stored: external events
	// without a client-record mapping surface as opaque blocks.
	appt := &entity.Appointment{
		ClinicianID: clinicianID,
		Title:       "Personal block",
		Status:      entity.StatusPersonalBlock,
		StartsAt:    startsAt,
		EndsAt:      endsAt,
	}
	appt.ExternalEventID = &externalEventID

	query := `
		INSERT INTO appointments
			(clinician_id, title, notes, starts_at, ends_at, status, external_event_id, last_synced_at)
		VALUES ($1, $2, '', $3, $4, $5, $6, NOW())
		ON CONFLICT (clinician_id, external_event_id) WHERE external_event_id IS NOT NULL
		DO UPDATE SET
			starts_at      = EXCLUDED.starts_at,
			ends_at        = EXCLUDED.ends_at,
			last_synced_at = NOW(),
			updated_at     = NOW()
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		clinicianID, appt.Title, startsAt, endsAt, entity.StatusPersonalBlock, externalEventID,
	).Scan(&appt.ID, &appt.CreatedAt, &appt.UpdatedAt)
	if err != nil {
		logger.Error("AppointmentRepository:UpsertPersonalBlock:Error", "error", err, "external_event_id", externalEventID)
		return nil, err
	}
	return appt, nil
}
