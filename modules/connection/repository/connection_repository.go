package repository

import (
	"context"
	"database/sql"
	"time"

	"clinicsync/core/database"
	"clinicsync/core/logger"
	"clinicsync/modules/connection/entity"

	"github.com/google/uuid"
)

type ConnectionRepository interface {
	UpsertConnection(ctx context.Context, conn *entity.Connection) (*entity.Connection, error)
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Connection, error)
	GetActiveByClinicianAndProvider(ctx context.Context, clinicianID uuid.UUID, provider string) (*entity.Connection, error)
	GetConnectionsByClinicianID(ctx context.Context, clinicianID uuid.UUID) ([]entity.Connection, error)
	Deactivate(ctx context.Context, clinicianID uuid.UUID, provider string) error
	SetSyncState(ctx context.Context, id uuid.UUID, state string, lastError *string) error
	AdvanceLastSyncedAt(ctx context.Context, id uuid.UUID, syncedAt time.Time) error

	GetTokenRecord(ctx context.Context, connectionID uuid.UUID) (*entity.TokenRecord, error)
	SaveTokenRecord(ctx context.Context, rec *entity.TokenRecord) error
	ClearRefreshToken(ctx context.Context, connectionID uuid.UUID) error
}

type connectionRepository struct {
	db database.IDatabase
}

func NewConnectionRepository(db database.IDatabase) ConnectionRepository {
	return &connectionRepository{db: db}
}

// UpsertConnection creates or reactivates the single active connection
// for a (clinician, provider) pair.
func (r *connectionRepository) UpsertConnection(ctx context.Context, conn *entity.Connection) (*entity.Connection, error) {
	query := `
		INSERT INTO calendar_connections
			(clinician_id, provider, account_email, scopes, time_zone, is_active, sync_state)
		VALUES ($1, $2, $3, $4, $5, true, $6)
		ON CONFLICT (clinician_id, provider) WHERE is_active
		DO UPDATE SET
			account_email = EXCLUDED.account_email,
			scopes        = EXCLUDED.scopes,
			time_zone     = EXCLUDED.time_zone,
			sync_state    = EXCLUDED.sync_state,
			last_error    = NULL,
			updated_at    = NOW()
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		conn.ClinicianID, conn.Provider, conn.AccountEmail, conn.Scopes, conn.TimeZone, conn.SyncState,
	).Scan(&conn.ID, &conn.CreatedAt, &conn.UpdatedAt)
	if err != nil {
		logger.Error("ConnectionRepository:UpsertConnection:Error", "error", err, "clinician_id", conn.ClinicianID)
		return nil, err
	}
	conn.IsActive = true
	return conn, nil
}

func (r *connectionRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Connection, error) {
	var conn entity.Connection
	query := `
		SELECT id, clinician_id, provider, account_email, scopes, time_zone,
		       is_active, sync_state, last_synced_at, last_error, created_at, updated_at
		FROM calendar_connections
		WHERE id = $1
	`
	err := r.db.GetContext(ctx, &conn, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		logger.Error("ConnectionRepository:GetByID:Error", "error", err, "id", id)
		return nil, err
	}
	return &conn, nil
}

func (r *connectionRepository) GetActiveByClinicianAndProvider(ctx context.Context, clinicianID uuid.UUID, provider string) (*entity.Connection, error) {
	var conn entity.Connection
	query := `
		SELECT id, clinician_id, provider, account_email, scopes, time_zone,
		       is_active, sync_state, last_synced_at, last_error, created_at, updated_at
		FROM calendar_connections
		WHERE clinician_id = $1 AND provider = $2 AND is_active = true
	`
	err := r.db.GetContext(ctx, &conn, query, clinicianID, provider)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		logger.Error("ConnectionRepository:GetActiveByClinicianAndProvider:Error", "error", err, "clinician_id", clinicianID)
		return nil, err
	}
	return &conn, nil
}

func (r *connectionRepository) GetConnectionsByClinicianID(ctx context.Context, clinicianID uuid.UUID) ([]entity.Connection, error) {
	query := `
		SELECT id, clinician_id, provider, account_email, scopes, time_zone,
		       is_active, sync_state, last_synced_at, last_error, created_at, updated_at
		FROM calendar_connections
		WHERE clinician_id = $1 AND is_active = true
		ORDER BY created_at DESC
	`
	var connections []entity.Connection
	if err := r.db.SelectContext(ctx, &connections, query, clinicianID); err != nil {
		logger.Error("ConnectionRepository:GetConnectionsByClinicianID:Error", "error", err, "clinician_id", clinicianID)
		return nil, err
	}
	return connections, nil
}

// Deactivate soft-deletes the connection. Rows are never hard-deleted.
func (r *connectionRepository) Deactivate(ctx context.Context, clinicianID uuid.UUID, provider string) error {
	query := `
		UPDATE calendar_connections
		SET is_active = false, sync_state = $3, updated_at = NOW()
		WHERE clinician_id = $1 AND provider = $2 AND is_active = true
	`
	err := r.db.ExecContext(ctx, query, clinicianID, provider, entity.SyncStateStopped)
	if err != nil {
		logger.Error("ConnectionRepository:Deactivate:Error", "error", err, "clinician_id", clinicianID)
	}
	return err
}

func (r *connectionRepository) SetSyncState(ctx context.Context, id uuid.UUID, state string, lastError *string) error {
	query := `
		UPDATE calendar_connections
		SET sync_state = $2, last_error = $3, updated_at = NOW()
		WHERE id = $1
	`
	err := r.db.ExecContext(ctx, query, id, state, lastError)
	if err != nil {
		logger.Error("ConnectionRepository:SetSyncState:Error", "error", err, "id", id, "state", state)
	}
	return err
}

// AdvanceLastSyncedAt moves last_synced_at forward only. A sync pass
// completing out of order with an earlier logical timestamp must not
// regress a fresher value.
func (r *connectionRepository) AdvanceLastSyncedAt(ctx context.Context, id uuid.UUID, syncedAt time.Time) error {
	query := `
		UPDATE calendar_connections
		SET last_synced_at = GREATEST(COALESCE(last_synced_at, to_timestamp(0)), $2),
		    updated_at = NOW()
		WHERE id = $1
	`
	err := r.db.ExecContext(ctx, query, id, syncedAt)
	if err != nil {
		logger.Error("ConnectionRepository:AdvanceLastSyncedAt:Error", "error", err, "id", id)
	}
	return err
}

func (r *connectionRepository) GetTokenRecord(ctx context.Context, connectionID uuid.UUID) (*entity.TokenRecord, error) {
	var rec entity.TokenRecord
	query := `
		SELECT id, connection_id, access_token, refresh_token, token_type, expires_at, created_at, updated_at
		FROM token_records
		WHERE connection_id = $1
	`
	err := r.db.GetContext(ctx, &rec, query, connectionID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		logger.Error("ConnectionRepository:GetTokenRecord:Error", "error", err, "connection_id", connectionID)
		return nil, err
	}
	return &rec, nil
}

// SaveTokenRecord upserts the token record in a single statement so a
// concurrent reader observes either the old or the fully new record,
// never a half-written one.
func (r *connectionRepository) SaveTokenRecord(ctx context.Context, rec *entity.TokenRecord) error {
	query := `
		INSERT INTO token_records (connection_id, access_token, refresh_token, token_type, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (connection_id)
		DO UPDATE SET
			access_token  = EXCLUDED.access_token,
			refresh_token = COALESCE(EXCLUDED.refresh_token, token_records.refresh_token),
			token_type    = EXCLUDED.token_type,
			expires_at    = EXCLUDED.expires_at,
			updated_at    = NOW()
	`
	err := r.db.ExecContext(ctx, query,
		rec.ConnectionID, rec.AccessToken, rec.RefreshToken, rec.TokenType, rec.ExpiresAt)
	if err != nil {
		logger.Error("ConnectionRepository:SaveTokenRecord:Error", "error", err, "connection_id", rec.ConnectionID)
	}
	return err
}

func (r *connectionRepository) ClearRefreshToken(ctx context.Context, connectionID uuid.UUID) error {
	query := `
		UPDATE token_records
		SET refresh_token = NULL, updated_at = NOW()
		WHERE connection_id = $1
	`
	err := r.db.ExecContext(ctx, query, connectionID)
	if err != nil {
		logger.Error("ConnectionRepository:ClearRefreshToken:Error", "error", err, "connection_id", connectionID)
	}
	return err
}
