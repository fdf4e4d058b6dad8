package service

import (
	"context"
	stderrors "errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"clinicsync/core/errors"
	"clinicsync/modules/connection/entity"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type fakeTokenStore struct {
	mu         sync.Mutex
	record     *entity.TokenRecord
	syncStates []string
	cleared    bool
}

func (s *fakeTokenStore) UpsertConnection(ctx context.Context, conn *entity.Connection) (*entity.Connection, error) {
	return conn, nil
}

func (s *fakeTokenStore) GetByID(ctx context.Context, id uuid.UUID) (*entity.Connection, error) {
	return nil, nil
}

func (s *fakeTokenStore) GetActiveByClinicianAndProvider(ctx context.Context, clinicianID uuid.UUID, provider string) (*entity.Connection, error) {
	return nil, nil
}

func (s *fakeTokenStore) GetConnectionsByClinicianID(ctx context.Context, clinicianID uuid.UUID) ([]entity.Connection, error) {
	return nil, nil
}

func (s *fakeTokenStore) Deactivate(ctx context.Context, clinicianID uuid.UUID, provider string) error {
	return nil
}

func (s *fakeTokenStore) SetSyncState(ctx context.Context, id uuid.UUID, state string, lastError *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncStates = append(s.syncStates, state)
	return nil
}

func (s *fakeTokenStore) AdvanceLastSyncedAt(ctx context.Context, id uuid.UUID, syncedAt time.Time) error {
	return nil
}

func (s *fakeTokenStore) GetTokenRecord(ctx context.Context, connectionID uuid.UUID) (*entity.TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.record == nil {
		return nil, nil
	}
	copied := *s.record
	return &copied, nil
}

func (s *fakeTokenStore) SaveTokenRecord(ctx context.Context, rec *entity.TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.RefreshToken == nil && s.record != nil {
		rec.RefreshToken = s.record.RefreshToken
	}
	s.record = rec
	return nil
}

func (s *fakeTokenStore) ClearRefreshToken(ctx context.Context, connectionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleared = true
	if s.record != nil {
		s.record.RefreshToken = nil
	}
	return nil
}

type fakeRefresher struct {
	calls int32
	delay time.Duration
	token *oauth2.Token
	err   error
}

func (r *fakeRefresher) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	atomic.AddInt32(&r.calls, 1)
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if r.err != nil {
		return nil, r.err
	}
	return r.token, nil
}

func recordWith(refreshToken string, expiresAt time.Time) *entity.TokenRecord {
	rec := &entity.TokenRecord{
		ConnectionID: uuid.New(),
		AccessToken:  "old-access",
		TokenType:    "Bearer",
		ExpiresAt:    expiresAt,
	}
	if refreshToken != "" {
		rec.RefreshToken = &refreshToken
	}
	return rec
}

func TestGetValidAccessTokenReturnsFreshTokenWithoutRefresh(t *testing.T) {
	store := &fakeTokenStore{record: recordWith("refresh-1", time.Now().Add(time.Hour))}
	refresher := &fakeRefresher{}
	vault := NewTokenVault(store, refresher)

	token, appErr := vault.GetValidAccessToken(context.Background(), store.record.ConnectionID)
	require.Nil(t, appErr)
	assert.Equal(t, "old-access", token)
	assert.Zero(t, atomic.LoadInt32(&refresher.calls))
}

func TestGetValidAccessTokenRefreshesInsideExpirySkew(t *testing.T) {
	// Expiry two minutes out is inside the five minute skew; the vault
	// must never hand out a token that could expire mid-request.
	store := &fakeTokenStore{record: recordWith("refresh-1", time.Now().Add(2*time.Minute))}
	refresher := &fakeRefresher{token: &oauth2.Token{
		AccessToken: "new-access",
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(time.Hour),
	}}
	vault := NewTokenVault(store, refresher)

	token, appErr := vault.GetValidAccessToken(context.Background(), store.record.ConnectionID)
	require.Nil(t, appErr)
	assert.Equal(t, "new-access", token)
	assert.Equal(t, int32(1), atomic.LoadInt32(&refresher.calls))

	// The rotated record keeps the old refresh token when the provider
	// does not send a new one.
	require.NotNil(t, store.record.RefreshToken)
	assert.Equal(t, "refresh-1", *store.record.RefreshToken)
}

func TestGetValidAccessTokenNoRecord(t *testing.T) {
	store := &fakeTokenStore{}
	vault := NewTokenVault(store, &fakeRefresher{})

	_, appErr := vault.GetValidAccessToken(context.Background(), uuid.New())
	require.NotNil(t, appErr)
	assert.Equal(t, errors.ErrReauthorizationRequired, appErr.Code)
}

func TestGetValidAccessTokenExpiredWithoutRefreshToken(t *testing.T) {
	store := &fakeTokenStore{record: recordWith("", time.Now().Add(-time.Minute))}
	refresher := &fakeRefresher{}
	vault := NewTokenVault(store, refresher)

	_, appErr := vault.GetValidAccessToken(context.Background(), store.record.ConnectionID)
	require.NotNil(t, appErr)
	assert.Equal(t, errors.ErrReauthorizationRequired, appErr.Code)
	// No network call is made for a grant that is already gone.
	assert.Zero(t, atomic.LoadInt32(&refresher.calls))
}

func TestRefreshRejectedClearsGrantAndHaltsSync(t *testing.T) {
	store := &fakeTokenStore{record: recordWith("refresh-1", time.Now().Add(-time.Minute))}
	refresher := &fakeRefresher{err: &oauth2.RetrieveError{
		Response: &http.Response{StatusCode: http.StatusBadRequest},
		Body:     []byte(`{"error":"invalid_grant"}`),
	}}
	vault := NewTokenVault(store, refresher)

	_, appErr := vault.GetValidAccessToken(context.Background(), store.record.ConnectionID)
	require.NotNil(t, appErr)
	assert.Equal(t, errors.ErrReauthorizationRequired, appErr.Code)
	assert.True(t, store.cleared)
	assert.Contains(t, store.syncStates, entity.SyncStateError)
}

func TestRefreshTransientFailureIsRetryable(t *testing.T) {
	store := &fakeTokenStore{record: recordWith("refresh-1", time.Now().Add(-time.Minute))}
	refresher := &fakeRefresher{err: stderrors.New("dial tcp: connection refused")}
	vault := NewTokenVault(store, refresher)

	_, appErr := vault.GetValidAccessToken(context.Background(), store.record.ConnectionID)
	require.NotNil(t, appErr)
	assert.Equal(t, errors.ErrProviderUnavailable, appErr.Code)
	// The grant survives a transient failure.
	assert.False(t, store.cleared)
}

func TestConcurrentCallersShareOneRefresh(t *testing.T) {
	store := &fakeTokenStore{record: recordWith("refresh-1", time.Now().Add(-time.Minute))}
	refresher := &fakeRefresher{
		delay: 20 * time.Millisecond,
		token: &oauth2.Token{
			AccessToken: "new-access",
			TokenType:   "Bearer",
			Expiry:      time.Now().Add(time.Hour),
		},
	}
	vault := NewTokenVault(store, refresher)
	connectionID := store.record.ConnectionID

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, appErr := vault.GetValidAccessToken(context.Background(), connectionID)
			assert.Nil(t, appErr)
			assert.Equal(t, "new-access", token)
		}()
	}
	wg.Wait()

	// Waiters re-read under the per-connection lock and find the token
	// already rotated.
	assert.Equal(t, int32(1), atomic.LoadInt32(&refresher.calls))
}

func TestForceRefreshBypassesFreshnessCheck(t *testing.T) {
	store := &fakeTokenStore{record: recordWith("refresh-1", time.Now().Add(time.Hour))}
	refresher := &fakeRefresher{token: &oauth2.Token{
		AccessToken: "rotated",
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(time.Hour),
	}}
	vault := NewTokenVault(store, refresher)

	token, appErr := vault.ForceRefresh(context.Background(), store.record.ConnectionID)
	require.Nil(t, appErr)
	assert.Equal(t, "rotated", token)
	assert.Equal(t, int32(1), atomic.LoadInt32(&refresher.calls))
}
