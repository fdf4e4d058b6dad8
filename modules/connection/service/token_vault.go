package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"clinicsync/core/config"
	"clinicsync/core/constants"
	"clinicsync/core/errors"
	"clinicsync/core/logger"
	"clinicsync/modules/connection/entity"
	"clinicsync/modules/connection/repository"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// TokenVault owns the OAuth credentials for every connection. It hands
// out access tokens that are guaranteed valid past the expiry skew,
// refreshing transparently when needed.
type TokenVault interface {
	GetValidAccessToken(ctx context.Context, connectionID uuid.UUID) (string, *errors.AppError)
	// ForceRefresh bypasses the expiry check. Used by the provider
	// client when the provider rejects a token the vault still
	// considers valid.
	ForceRefresh(ctx context.Context, connectionID uuid.UUID) (string, *errors.AppError)
}

// TokenRefresher exchanges a refresh token for a new token set.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

type tokenVault struct {
	repo      repository.ConnectionRepository
	refresher TokenRefresher

	// Refresh-and-persist for a single connection is serialized: an
	// in-progress refresh must not race a second refresh triggered by
	// an overlapping sync call.
	locks sync.Map // uuid.UUID -> *sync.Mutex
}

func NewTokenVault(repo repository.ConnectionRepository, refresher TokenRefresher) TokenVault {
	if refresher == nil {
		refresher = &oauthRefresher{}
	}
	return &tokenVault{repo: repo, refresher: refresher}
}

func (v *tokenVault) GetValidAccessToken(ctx context.Context, connectionID uuid.UUID) (string, *errors.AppError) {
	rec, err := v.repo.GetTokenRecord(ctx, connectionID)
	if err != nil {
		return "", errors.NewAppError(errors.ErrInternalServer, "failed to load token record", err)
	}
	if rec == nil {
		return "", reauthorizationRequired("no credentials stored for connection")
	}

	if v.isFresh(rec) {
		return rec.AccessToken, nil
	}
	return v.refreshLocked(ctx, connectionID)
}

func (v *tokenVault) ForceRefresh(ctx context.Context, connectionID uuid.UUID) (string, *errors.AppError) {
	mu := v.lockFor(connectionID)
	mu.Lock()
	defer mu.Unlock()

	rec, err := v.repo.GetTokenRecord(ctx, connectionID)
	if err != nil {
		return "", errors.NewAppError(errors.ErrInternalServer, "failed to load token record", err)
	}
	if rec == nil {
		return "", reauthorizationRequired("no credentials stored for connection")
	}
	return v.refresh(ctx, connectionID, rec)
}

func (v *tokenVault) refreshLocked(ctx context.Context, connectionID uuid.UUID) (string, *errors.AppError) {
	mu := v.lockFor(connectionID)
	mu.Lock()
	defer mu.Unlock()

	// Re-read under the lock: a concurrent caller may have refreshed
	// while this one was waiting.
	rec, err := v.repo.GetTokenRecord(ctx, connectionID)
	if err != nil {
		return "", errors.NewAppError(errors.ErrInternalServer, "failed to load token record", err)
	}
	if rec == nil {
		return "", reauthorizationRequired("no credentials stored for connection")
	}
	if v.isFresh(rec) {
		return rec.AccessToken, nil
	}
	return v.refresh(ctx, connectionID, rec)
}

func (v *tokenVault) refresh(ctx context.Context, connectionID uuid.UUID, rec *entity.TokenRecord) (string, *errors.AppError) {
	if rec.RefreshToken == nil || *rec.RefreshToken == "" {
		// No network call is worth making: the grant is gone.
		return "", reauthorizationRequired("access token expired and no refresh token stored")
	}

	logger.Info("TokenVault:Refresh:Start", "connection_id", connectionID)

	newToken, err := v.refresher.Refresh(ctx, *rec.RefreshToken)
	if err != nil {
		if isRefreshRejected(err) {
			// The provider revoked the grant. Automated sync halts
			// for this connection until the interactive flow runs
			// again.
			logger.Warn("TokenVault:Refresh:Rejected", "connection_id", connectionID, "error", err)
			if clearErr := v.repo.ClearRefreshToken(ctx, connectionID); clearErr != nil {
				logger.Error("TokenVault:Refresh:ClearRefreshToken:Error", "error", clearErr)
			}
			msg := "calendar access was revoked; reconnect the account"
			if stateErr := v.repo.SetSyncState(ctx, connectionID, entity.SyncStateError, &msg); stateErr != nil {
				logger.Error("TokenVault:Refresh:SetSyncState:Error", "error", stateErr)
			}
			return "", reauthorizationRequired("provider rejected the refresh token")
		}
		logger.Error("TokenVault:Refresh:Error", "connection_id", connectionID, "error", err)
		return "", errors.NewAppError(errors.ErrProviderUnavailable, "token refresh failed", err)
	}

	updated := &entity.TokenRecord{
		ConnectionID: connectionID,
		AccessToken:  newToken.AccessToken,
		TokenType:    newToken.TokenType,
		ExpiresAt:    newToken.Expiry,
	}
	if newToken.RefreshToken != "" {
		updated.RefreshToken = &newToken.RefreshToken
	} else {
		updated.RefreshToken = rec.RefreshToken
	}

	if err := v.repo.SaveTokenRecord(ctx, updated); err != nil {
		return "", errors.NewAppError(errors.ErrInternalServer, "failed to persist refreshed token", err)
	}

	logger.Info("TokenVault:Refresh:Success", "connection_id", connectionID, "expires_at", updated.ExpiresAt)
	return updated.AccessToken, nil
}

func (v *tokenVault) isFresh(rec *entity.TokenRecord) bool {
	return time.Now().Before(rec.ExpiresAt.Add(-constants.TokenExpirySkew))
}

func (v *tokenVault) lockFor(connectionID uuid.UUID) *sync.Mutex {
	mu, _ := v.locks.LoadOrStore(connectionID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func reauthorizationRequired(message string) *errors.AppError {
	return errors.NewAppErrorWithHint(errors.ErrReauthorizationRequired, message,
		"reconnect the calendar account to resume sync", nil)
}

// isRefreshRejected distinguishes the provider refusing the refresh
// token (invalid_grant and friends) from a transient transport failure.
func isRefreshRejected(err error) bool {
	var retrieveErr *oauth2.RetrieveError
	if stderrors.As(err, &retrieveErr) {
		switch retrieveErr.Response.StatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
			return true
		}
	}
	return false
}

// oauthRefresher is the production TokenRefresher backed by the
// configured provider token endpoint.
type oauthRefresher struct{}

func (o *oauthRefresher) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	cfg, ok := config.GetSafe()
	if !ok {
		return nil, fmt.Errorf("config not initialized")
	}

	oauthConfig := &oauth2.Config{
		ClientID:     cfg.Provider.ClientID,
		ClientSecret: cfg.Provider.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  cfg.Provider.AuthURL,
			TokenURL: cfg.Provider.TokenURL,
		},
	}

	tokenSource := oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	return tokenSource.Token()
}
