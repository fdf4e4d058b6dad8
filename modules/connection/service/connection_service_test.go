package service

import (
	"context"
	"testing"
	"time"

	"clinicsync/core/errors"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestSaveProviderConnectionPersistsTokens(t *testing.T) {
	store := &fakeTokenStore{}
	svc := NewConnectionService(store)
	clinicianID := uuid.New()

	token := &oauth2.Token{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour),
	}

	conn, appErr := svc.SaveProviderConnection(context.Background(), clinicianID,
		"google", "dr.rivera@example.com", "America/Chicago",
		[]string{"calendar.events"}, token)
	require.Nil(t, appErr)
	assert.Equal(t, clinicianID, conn.ClinicianID)
	assert.Equal(t, "running", conn.SyncState)

	require.NotNil(t, store.record)
	assert.Equal(t, "access-1", store.record.AccessToken)
	require.NotNil(t, store.record.RefreshToken)
	assert.Equal(t, "refresh-1", *store.record.RefreshToken)
}

func TestSaveProviderConnectionWithoutRefreshToken(t *testing.T) {
	store := &fakeTokenStore{}
	svc := NewConnectionService(store)

	token := &oauth2.Token{
		AccessToken: "access-1",
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(time.Hour),
	}

	_, appErr := svc.SaveProviderConnection(context.Background(), uuid.New(),
		"google", "dr.rivera@example.com", "America/Chicago", nil, token)
	require.Nil(t, appErr)
	require.NotNil(t, store.record)
	assert.Nil(t, store.record.RefreshToken)
}

func TestDisconnectUnknownProvider(t *testing.T) {
	store := &fakeTokenStore{}
	svc := NewConnectionService(store)

	appErr := svc.Disconnect(context.Background(), uuid.New(), "google")
	require.NotNil(t, appErr)
	assert.Equal(t, errors.ErrNotFound, appErr.Code)
}
