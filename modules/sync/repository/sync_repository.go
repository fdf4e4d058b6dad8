package repository

import (
	"context"
	"database/sql"

	"clinicsync/core/database"
	"clinicsync/core/logger"
	"clinicsync/modules/sync/entity"

	"github.com/google/uuid"
)

type SyncRepository interface {
	Upsert(ctx context.Context, mapping *entity.SyncMapping) (*entity.SyncMapping, error)
	GetByAppointment(ctx context.Context, connectionID, appointmentID uuid.UUID) (*entity.SyncMapping, error)
	GetByExternalID(ctx context.Context, connectionID uuid.UUID, externalEventID string) (*entity.SyncMapping, error)
	ListByConnection(ctx context.Context, connectionID uuid.UUID) ([]entity.SyncMapping, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type syncRepository struct {
	db database.IDatabase
}

func NewSyncRepository(db database.IDatabase) SyncRepository {
	return &syncRepository{db: db}
}

// Upsert converges on the row keyed by (connection, appointment) so a
// retried push never creates a second mapping for the same appointment.
func (r *syncRepository) Upsert(ctx context.Context, mapping *entity.SyncMapping) (*entity.SyncMapping, error) {
	query := `
		INSERT INTO sync_mappings (connection_id, appointment_id, external_event_id, direction, content_hash)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (connection_id, appointment_id)
		DO UPDATE SET
			external_event_id = EXCLUDED.external_event_id,
			direction         = EXCLUDED.direction,
			content_hash      = EXCLUDED.content_hash,
			updated_at        = NOW()
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		mapping.ConnectionID, mapping.AppointmentID, mapping.ExternalEventID,
		mapping.Direction, mapping.ContentHash,
	).Scan(&mapping.ID, &mapping.CreatedAt, &mapping.UpdatedAt)
	if err != nil {
		logger.Error("SyncRepository:Upsert:Error", "error", err,
			"connection_id", mapping.ConnectionID, "appointment_id", mapping.AppointmentID)
		return nil, err
	}
	return mapping, nil
}

func (r *syncRepository) GetByAppointment(ctx context.Context, connectionID, appointmentID uuid.UUID) (*entity.SyncMapping, error) {
	var mapping entity.SyncMapping
	query := `
		SELECT id, connection_id, appointment_id, external_event_id, direction, content_hash, created_at, updated_at
		FROM sync_mappings
		WHERE connection_id = $1 AND appointment_id = $2
	`
	err := r.db.GetContext(ctx, &mapping, query, connectionID, appointmentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		logger.Error("SyncRepository:GetByAppointment:Error", "error", err, "appointment_id", appointmentID)
		return nil, err
	}
	return &mapping, nil
}

func (r *syncRepository) GetByExternalID(ctx context.Context, connectionID uuid.UUID, externalEventID string) (*entity.SyncMapping, error) {
	var mapping entity.SyncMapping
	query := `
		SELECT id, connection_id, appointment_id, external_event_id, direction, content_hash, created_at, updated_at
		FROM sync_mappings
		WHERE connection_id = $1 AND external_event_id = $2
	`
	err := r.db.GetContext(ctx, &mapping, query, connectionID, externalEventID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		logger.Error("SyncRepository:GetByExternalID:Error", "error", err, "external_event_id", externalEventID)
		return nil, err
	}
	return &mapping, nil
}

func (r *syncRepository) ListByConnection(ctx context.Context, connectionID uuid.UUID) ([]entity.SyncMapping, error) {
	query := `
		SELECT id, connection_id, appointment_id, external_event_id, direction, content_hash, created_at, updated_at
		FROM sync_mappings
		WHERE connection_id = $1
		ORDER BY created_at
	`
	var mappings []entity.SyncMapping
	if err := r.db.SelectContext(ctx, &mappings, query, connectionID); err != nil {
		logger.Error("SyncRepository:ListByConnection:Error", "error", err, "connection_id", connectionID)
		return nil, err
	}
	return mappings, nil
}

func (r *syncRepository) Delete(ctx context.Context, id uuid.UUID) error {
	err := r.db.ExecContext(ctx, `DELETE FROM sync_mappings WHERE id = $1`, id)
	if err != nil {
		logger.Error("SyncRepository:Delete:Error", "error", err, "id", id)
	}
	return err
}
