package service

import (
	"context"
	"time"

	"clinicsync/core/errors"
	"clinicsync/core/logger"
	"clinicsync/modules/connection/dto"
	"clinicsync/modules/connection/entity"
	"clinicsync/modules/connection/repository"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

type ConnectionService interface {
	// SaveProviderConnection creates or reactivates the connection and
	// stores the granted token set. Called by the OAuth flow on a
	// successful token exchange.
	SaveProviderConnection(ctx context.Context, clinicianID uuid.UUID, provider, accountEmail, timeZone string, scopes []string, token *oauth2.Token) (*entity.Connection, *errors.AppError)
	GetConnections(ctx context.Context, clinicianID uuid.UUID) ([]dto.ConnectionResponse, *errors.AppError)
	GetConnectionState(ctx context.Context, connectionID uuid.UUID) (*dto.ConnectionStateResponse, *errors.AppError)
	Disconnect(ctx context.Context, clinicianID uuid.UUID, provider string) *errors.AppError
}

type connectionService struct {
	repo repository.ConnectionRepository
}

func NewConnectionService(repo repository.ConnectionRepository) ConnectionService {
	return &connectionService{repo: repo}
}

func (s *connectionService) SaveProviderConnection(ctx context.Context, clinicianID uuid.UUID, provider, accountEmail, timeZone string, scopes []string, token *oauth2.Token) (*entity.Connection, *errors.AppError) {
	conn := &entity.Connection{
		ClinicianID:  clinicianID,
		Provider:     provider,
		AccountEmail: accountEmail,
		Scopes:       scopes,
		TimeZone:     timeZone,
		SyncState:    entity.SyncStateRunning,
	}

	saved, err := s.repo.UpsertConnection(ctx, conn)
	if err != nil {
		logger.Error("ConnectionService:SaveProviderConnection:Upsert:Error", "error", err, "clinician_id", clinicianID)
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to save connection", err)
	}

	rec := &entity.TokenRecord{
		ConnectionID: saved.ID,
		AccessToken:  token.AccessToken,
		TokenType:    token.TokenType,
		ExpiresAt:    token.Expiry,
	}
	if token.RefreshToken != "" {
		rec.RefreshToken = &token.RefreshToken
	}
	if err := s.repo.SaveTokenRecord(ctx, rec); err != nil {
		logger.Error("ConnectionService:SaveProviderConnection:SaveTokenRecord:Error", "error", err, "connection_id", saved.ID)
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to save credentials", err)
	}

	logger.Info("ConnectionService:SaveProviderConnection:Success",
		"connection_id", saved.ID,
		"clinician_id", clinicianID,
		"account_email", accountEmail,
		"has_refresh_token", token.RefreshToken != "")
	return saved, nil
}

func (s *connectionService) GetConnections(ctx context.Context, clinicianID uuid.UUID) ([]dto.ConnectionResponse, *errors.AppError) {
	connections, err := s.repo.GetConnectionsByClinicianID(ctx, clinicianID)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to get connections", err)
	}

	result := make([]dto.ConnectionResponse, 0, len(connections))
	for _, conn := range connections {
		result = append(result, toConnectionResponse(&conn))
	}
	return result, nil
}

func (s *connectionService) GetConnectionState(ctx context.Context, connectionID uuid.UUID) (*dto.ConnectionStateResponse, *errors.AppError) {
	conn, err := s.repo.GetByID(ctx, connectionID)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to get connection", err)
	}
	if conn == nil {
		return nil, errors.NewAppError(errors.ErrNotFound, "connection not found", nil)
	}

	resp := &dto.ConnectionStateResponse{
		ConnectionID: conn.ID.String(),
		SyncState:    conn.SyncState,
		IsActive:     conn.IsActive,
	}
	if conn.LastSyncedAt != nil {
		formatted := conn.LastSyncedAt.Format(time.RFC3339)
		resp.LastSyncedAt = &formatted
	}
	resp.LastError = conn.LastError
	return resp, nil
}

func (s *connectionService) Disconnect(ctx context.Context, clinicianID uuid.UUID, provider string) *errors.AppError {
	existing, err := s.repo.GetActiveByClinicianAndProvider(ctx, clinicianID, provider)
	if err != nil {
		return errors.NewAppError(errors.ErrInternalServer, "failed to look up connection", err)
	}
	if existing == nil {
		return errors.NewAppError(errors.ErrNotFound, "no active connection for provider", nil)
	}

	if err := s.repo.Deactivate(ctx, clinicianID, provider); err != nil {
		return errors.NewAppError(errors.ErrInternalServer, "failed to disconnect", err)
	}

	logger.Info("ConnectionService:Disconnect:Success", "clinician_id", clinicianID, "provider", provider)
	return nil
}

func toConnectionResponse(conn *entity.Connection) dto.ConnectionResponse {
	resp := dto.ConnectionResponse{
		ID:           conn.ID.String(),
		Provider:     conn.Provider,
		AccountEmail: conn.AccountEmail,
		TimeZone:     conn.TimeZone,
		IsActive:     conn.IsActive,
		SyncState:    conn.SyncState,
		ConnectedAt:  conn.CreatedAt.Format(time.RFC3339),
	}
	if conn.LastSyncedAt != nil {
		formatted := conn.LastSyncedAt.Format(time.RFC3339)
		resp.LastSyncedAt = &formatted
	}
	resp.LastError = conn.LastError
	return resp
}
