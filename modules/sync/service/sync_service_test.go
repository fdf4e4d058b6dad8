package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"clinicsync/core/config"
	"clinicsync/core/errors"
	apptEntity "clinicsync/modules/appointment/entity"
	connEntity "clinicsync/modules/connection/entity"
	providerDto "clinicsync/modules/provider/dto"
	"clinicsync/modules/sync/dto"
	syncEntity "clinicsync/modules/sync/entity"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastSyncConfig() {
	config.Set(&config.Config{
		Sync: config.SyncConfig{
			PushWorkers:   3,
			MaxRetries:    1,
			BatchDelay:    time.Millisecond,
			RetryBaseWait: time.Millisecond,
		},
	})
}

type fakeApptRepo struct {
	mu     sync.Mutex
	appts  map[uuid.UUID]*apptEntity.Appointment
	blocks map[string]*apptEntity.Appointment
}

func newFakeApptRepo() *fakeApptRepo {
	return &fakeApptRepo{
		appts:  make(map[uuid.UUID]*apptEntity.Appointment),
		blocks: make(map[string]*apptEntity.Appointment),
	}
}

func (r *fakeApptRepo) add(appt *apptEntity.Appointment) *apptEntity.Appointment {
	r.mu.Lock()
	defer r.mu.Unlock()
	if appt.ID == uuid.Nil {
		appt.ID = uuid.New()
	}
	r.appts[appt.ID] = appt
	return appt
}

func (r *fakeApptRepo) GetByID(ctx context.Context, id uuid.UUID) (*apptEntity.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	appt, ok := r.appts[id]
	if !ok {
		return nil, nil
	}
	copied := *appt
	return &copied, nil
}

func (r *fakeApptRepo) ListInRange(ctx context.Context, clinicianID uuid.UUID, from, to time.Time) ([]apptEntity.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []apptEntity.Appointment
	for _, appt := range r.appts {
		if appt.ClinicianID == clinicianID && appt.StartsAt.Before(to) && appt.EndsAt.After(from) {
			out = append(out, *appt)
		}
	}
	return out, nil
}

func (r *fakeApptRepo) UpdateSyncFields(ctx context.Context, id uuid.UUID, externalEventID string, syncedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	appt, ok := r.appts[id]
	if !ok {
		return fmt.Errorf("appointment %s not found", id)
	}
	appt.ExternalEventID = &externalEventID
	appt.LastSyncedAt = &syncedAt
	return nil
}

func (r *fakeApptRepo) ApplyRemote(ctx context.Context, id uuid.UUID, startsAt, endsAt time.Time, syncedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	appt, ok := r.appts[id]
	if !ok {
		return fmt.Errorf("appointment %s not found", id)
	}
	appt.StartsAt = startsAt
	appt.EndsAt = endsAt
	appt.LastSyncedAt = &syncedAt
	appt.UpdatedAt = time.Now()
	return nil
}

func (r *fakeApptRepo) UpsertPersonalBlock(ctx context.Context, clinicianID uuid.UUID, externalEventID string, startsAt, endsAt time.Time) (*apptEntity.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.blocks[externalEventID]; ok {
		existing.StartsAt = startsAt
		existing.EndsAt = endsAt
		copied := *existing
		return &copied, nil
	}
	appt := &apptEntity.Appointment{
		ClinicianID: clinicianID,
		Title:       "Personal block",
		Status:      apptEntity.StatusPersonalBlock,
		StartsAt:    startsAt,
		EndsAt:      endsAt,
	}
	appt.ID = uuid.New()
	appt.ExternalEventID = &externalEventID
	r.appts[appt.ID] = appt
	r.blocks[externalEventID] = appt
	copied := *appt
	return &copied, nil
}

type fakeConnRepo struct {
	mu          sync.Mutex
	conn        *connEntity.Connection
	syncStates  []string
	lastSynced  *time.Time
	tokenRecord *connEntity.TokenRecord
}

func (r *fakeConnRepo) UpsertConnection(ctx context.Context, conn *connEntity.Connection) (*connEntity.Connection, error) {
	r.conn = conn
	return conn, nil
}

func (r *fakeConnRepo) GetByID(ctx context.Context, id uuid.UUID) (*connEntity.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil || r.conn.ID != id {
		return nil, nil
	}
	copied := *r.conn
	return &copied, nil
}

func (r *fakeConnRepo) GetActiveByClinicianAndProvider(ctx context.Context, clinicianID uuid.UUID, provider string) (*connEntity.Connection, error) {
	return r.conn, nil
}

func (r *fakeConnRepo) GetConnectionsByClinicianID(ctx context.Context, clinicianID uuid.UUID) ([]connEntity.Connection, error) {
	if r.conn == nil {
		return nil, nil
	}
	return []connEntity.Connection{*r.conn}, nil
}

func (r *fakeConnRepo) Deactivate(ctx context.Context, clinicianID uuid.UUID, provider string) error {
	return nil
}

func (r *fakeConnRepo) SetSyncState(ctx context.Context, id uuid.UUID, state string, lastError *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.syncStates = append(r.syncStates, state)
	if r.conn != nil {
		r.conn.SyncState = state
		r.conn.LastError = lastError
	}
	return nil
}

// AdvanceLastSyncedAt mirrors the GREATEST semantics of the real query.
func (r *fakeConnRepo) AdvanceLastSyncedAt(ctx context.Context, id uuid.UUID, syncedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastSynced == nil || syncedAt.After(*r.lastSynced) {
		r.lastSynced = &syncedAt
	}
	return nil
}

func (r *fakeConnRepo) GetTokenRecord(ctx context.Context, connectionID uuid.UUID) (*connEntity.TokenRecord, error) {
	return r.tokenRecord, nil
}

func (r *fakeConnRepo) SaveTokenRecord(ctx context.Context, rec *connEntity.TokenRecord) error {
	r.tokenRecord = rec
	return nil
}

func (r *fakeConnRepo) ClearRefreshToken(ctx context.Context, connectionID uuid.UUID) error {
	if r.tokenRecord != nil {
		r.tokenRecord.RefreshToken = nil
	}
	return nil
}

type fakeSyncRepo struct {
	mu       sync.Mutex
	mappings map[string]*syncEntity.SyncMapping
}

func newFakeSyncRepo() *fakeSyncRepo {
	return &fakeSyncRepo{mappings: make(map[string]*syncEntity.SyncMapping)}
}

func mappingKey(connectionID, appointmentID uuid.UUID) string {
	return connectionID.String() + "/" + appointmentID.String()
}

func (r *fakeSyncRepo) Upsert(ctx context.Context, mapping *syncEntity.SyncMapping) (*syncEntity.SyncMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := mappingKey(mapping.ConnectionID, mapping.AppointmentID)
	if existing, ok := r.mappings[key]; ok {
		existing.ExternalEventID = mapping.ExternalEventID
		existing.Direction = mapping.Direction
		existing.ContentHash = mapping.ContentHash
		existing.UpdatedAt = time.Now()
		*mapping = *existing
		return mapping, nil
	}
	mapping.ID = uuid.New()
	mapping.CreatedAt = time.Now()
	mapping.UpdatedAt = mapping.CreatedAt
	copied := *mapping
	r.mappings[key] = &copied
	return mapping, nil
}

func (r *fakeSyncRepo) GetByAppointment(ctx context.Context, connectionID, appointmentID uuid.UUID) (*syncEntity.SyncMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mapping, ok := r.mappings[mappingKey(connectionID, appointmentID)]
	if !ok {
		return nil, nil
	}
	copied := *mapping
	return &copied, nil
}

func (r *fakeSyncRepo) GetByExternalID(ctx context.Context, connectionID uuid.UUID, externalEventID string) (*syncEntity.SyncMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, mapping := range r.mappings {
		if mapping.ConnectionID == connectionID && mapping.ExternalEventID == externalEventID {
			copied := *mapping
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeSyncRepo) ListByConnection(ctx context.Context, connectionID uuid.UUID) ([]syncEntity.SyncMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []syncEntity.SyncMapping
	for _, mapping := range r.mappings {
		if mapping.ConnectionID == connectionID {
			out = append(out, *mapping)
		}
	}
	return out, nil
}

func (r *fakeSyncRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, mapping := range r.mappings {
		if mapping.ID == id {
			delete(r.mappings, key)
			return nil
		}
	}
	return nil
}

// fakeProviderClient scripts per-appointment outcomes and counts calls.
type fakeProviderClient struct {
	mu          sync.Mutex
	creates     int
	updates     int
	lists       int
	events      []providerDto.ExternalEvent
	listErr     *errors.AppError
	failWith    map[uuid.UUID]*errors.AppError
	createdIDs  map[uuid.UUID]string
	nextEventID int
}

func newFakeProviderClient() *fakeProviderClient {
	return &fakeProviderClient{
		failWith:   make(map[uuid.UUID]*errors.AppError),
		createdIDs: make(map[uuid.UUID]string),
	}
}

func (c *fakeProviderClient) ListBusyEvents(ctx context.Context, connectionID uuid.UUID, from, to time.Time) ([]providerDto.ExternalEvent, *errors.AppError) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lists++
	if c.listErr != nil {
		return nil, c.listErr
	}
	return c.events, nil
}

func (c *fakeProviderClient) CreateEvent(ctx context.Context, connectionID uuid.UUID, appt *apptEntity.Appointment) (string, *errors.AppError) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if appErr, ok := c.failWith[appt.ID]; ok {
		return "", appErr
	}
	c.creates++
	c.nextEventID++
	id := fmt.Sprintf("evt-%d", c.nextEventID)
	c.createdIDs[appt.ID] = id
	return id, nil
}

func (c *fakeProviderClient) UpdateEvent(ctx context.Context, connectionID uuid.UUID, externalID string, appt *apptEntity.Appointment) *errors.AppError {
	c.mu.Lock()
	defer c.mu.Unlock()
	if appErr, ok := c.failWith[appt.ID]; ok {
		return appErr
	}
	c.updates++
	return nil
}

type syncFixture struct {
	service  SyncService
	apptRepo *fakeApptRepo
	connRepo *fakeConnRepo
	syncRepo *fakeSyncRepo
	client   *fakeProviderClient
	conn     *connEntity.Connection
}

func newSyncFixture(t *testing.T) *syncFixture {
	t.Helper()
	fastSyncConfig()

	conn := &connEntity.Connection{
		ClinicianID: uuid.New(),
		Provider:    "google",
		TimeZone:    "America/Chicago",
		IsActive:    true,
		SyncState:   connEntity.SyncStateRunning,
	}
	conn.ID = uuid.New()

	f := &syncFixture{
		apptRepo: newFakeApptRepo(),
		connRepo: &fakeConnRepo{conn: conn},
		syncRepo: newFakeSyncRepo(),
		client:   newFakeProviderClient(),
		conn:     conn,
	}
	f.service = NewSyncService(f.apptRepo, f.connRepo, f.syncRepo, f.client, nil)
	return f
}

func (f *syncFixture) addAppointment(status string, offsetHours int) *apptEntity.Appointment {
	start := time.Date(2025, 6, 16, 9, 0, 0, 0, time.UTC).Add(time.Duration(offsetHours) * time.Hour)
	return f.apptRepo.add(&apptEntity.Appointment{
		ClinicianID: f.conn.ClinicianID,
		Title:       "Therapy session",
		StartsAt:    start,
		EndsAt:      start.Add(time.Hour),
		Status:      status,
	})
}

func TestPushOneCreatesMappingAndIsIdempotent(t *testing.T) {
	f := newSyncFixture(t)
	appt := f.addAppointment(apptEntity.StatusScheduled, 0)

	item, appErr := f.service.PushOne(context.Background(), f.conn.ID, appt.ID)
	require.Nil(t, appErr)
	assert.Equal(t, dto.ItemSynced, item.Outcome)
	assert.Equal(t, "evt-1", item.ExternalID)
	assert.Equal(t, 1, f.client.creates)

	mapping, err := f.syncRepo.GetByAppointment(context.Background(), f.conn.ID, appt.ID)
	require.NoError(t, err)
	require.NotNil(t, mapping)
	assert.Equal(t, "evt-1", mapping.ExternalEventID)
	assert.Equal(t, syncEntity.DirectionOutbound, mapping.Direction)

	stored, err := f.apptRepo.GetByID(context.Background(), appt.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ExternalEventID)
	assert.Equal(t, "evt-1", *stored.ExternalEventID)
	require.NotNil(t, stored.LastSyncedAt)

	// Retried push with the mapping present and unchanged content is a
	// no-op, never a second create.
	item, appErr = f.service.PushOne(context.Background(), f.conn.ID, appt.ID)
	require.Nil(t, appErr)
	assert.Equal(t, dto.ItemSkipped, item.Outcome)
	assert.Equal(t, 1, f.client.creates)
	assert.Equal(t, 0, f.client.updates)
}

func TestPushOneUpdatesAfterLocalEdit(t *testing.T) {
	f := newSyncFixture(t)
	appt := f.addAppointment(apptEntity.StatusScheduled, 0)

	_, appErr := f.service.PushOne(context.Background(), f.conn.ID, appt.ID)
	require.Nil(t, appErr)

	f.apptRepo.mu.Lock()
	f.apptRepo.appts[appt.ID].Title = "Rescheduled session"
	f.apptRepo.mu.Unlock()

	item, appErr := f.service.PushOne(context.Background(), f.conn.ID, appt.ID)
	require.Nil(t, appErr)
	assert.Equal(t, dto.ItemSynced, item.Outcome)
	assert.Equal(t, 1, f.client.creates)
	assert.Equal(t, 1, f.client.updates)
}

func TestPushOneSkipsIneligibleStatuses(t *testing.T) {
	f := newSyncFixture(t)

	for _, status := range []string{
		apptEntity.StatusCancelled,
		apptEntity.StatusCompleted,
		apptEntity.StatusNoShow,
		apptEntity.StatusPersonalBlock,
	} {
		appt := f.addAppointment(status, 0)
		item, appErr := f.service.PushOne(context.Background(), f.conn.ID, appt.ID)
		require.Nil(t, appErr, "status %s", status)
		assert.Equal(t, dto.ItemSkipped, item.Outcome, "status %s", status)
	}
	assert.Equal(t, 0, f.client.creates)
}

func TestPushBatchAbortsRemainingOnAuthFailure(t *testing.T) {
	f := newSyncFixture(t)

	ids := make([]uuid.UUID, 10)
	for i := range ids {
		appt := f.addAppointment(apptEntity.StatusScheduled, i)
		ids[i] = appt.ID
	}
	// Item 3 hits an irrecoverable token failure.
	f.client.failWith[ids[2]] = errors.NewAppError(errors.ErrAuthExpired, "token revoked", nil)

	result, appErr := f.service.PushBatch(context.Background(), f.conn.ID, ids)
	require.NotNil(t, appErr)
	assert.Equal(t, errors.ErrAuthExpired, appErr.Code)

	require.Len(t, result.Items, 10)
	assert.Equal(t, dto.ItemSynced, result.Items[0].Outcome)
	assert.Equal(t, dto.ItemSynced, result.Items[1].Outcome)
	assert.Equal(t, dto.ItemFailed, result.Items[2].Outcome)
	for i := 3; i < 10; i++ {
		assert.Equal(t, dto.ItemAborted, result.Items[i].Outcome, "item %d", i+1)
	}
	assert.Equal(t, 2, result.Synced)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 7, result.Aborted)

	// The connection is flipped into error state for the UI to surface.
	assert.Contains(t, f.connRepo.syncStates, connEntity.SyncStateError)
}

func TestPushBatchRecordsNonAuthFailuresAndContinues(t *testing.T) {
	f := newSyncFixture(t)

	ids := make([]uuid.UUID, 5)
	for i := range ids {
		appt := f.addAppointment(apptEntity.StatusScheduled, i)
		ids[i] = appt.ID
	}
	f.client.failWith[ids[1]] = errors.NewAppError(errors.ErrProviderRejected, "event payload rejected", nil)

	result, appErr := f.service.PushBatch(context.Background(), f.conn.ID, ids)
	require.Nil(t, appErr)
	assert.Equal(t, 4, result.Synced)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 0, result.Aborted)
}

func TestPullRangeCreatesPersonalBlockForUnmatchedEvent(t *testing.T) {
	f := newSyncFixture(t)
	start := time.Date(2025, 6, 16, 13, 0, 0, 0, time.UTC)
	f.client.events = []providerDto.ExternalEvent{{
		ExternalID: "foreign-1",
		Title:      "Board meeting with external partners",
		StartsAt:   start,
		EndsAt:     start.Add(time.Hour),
	}}

	result, appErr := f.service.PullRange(context.Background(), f.conn.ID, start.Add(-time.Hour), start.Add(2*time.Hour))
	require.Nil(t, appErr)
	assert.Equal(t, 1, result.Created)

	block, ok := f.apptRepo.blocks["foreign-1"]
	require.True(t, ok)
	// The foreign title never lands locally.
	assert.Equal(t, "Personal block", block.Title)
	assert.Equal(t, apptEntity.StatusPersonalBlock, block.Status)

	mapping, err := f.syncRepo.GetByExternalID(context.Background(), f.conn.ID, "foreign-1")
	require.NoError(t, err)
	require.NotNil(t, mapping)
	assert.Equal(t, syncEntity.DirectionInbound, mapping.Direction)

	// Re-pulling the same event converges instead of duplicating.
	result, appErr = f.service.PullRange(context.Background(), f.conn.ID, start.Add(-time.Hour), start.Add(2*time.Hour))
	require.Nil(t, appErr)
	assert.Equal(t, 0, result.Created)
}

func TestPullRangeRemoteWinsOverwritesLocal(t *testing.T) {
	f := newSyncFixture(t)
	appt := f.addAppointment(apptEntity.StatusScheduled, 0)

	_, appErr := f.service.PushOne(context.Background(), f.conn.ID, appt.ID)
	require.Nil(t, appErr)

	remoteStart := appt.StartsAt.Add(2 * time.Hour)
	updated := time.Now().Add(time.Hour)
	f.client.events = []providerDto.ExternalEvent{{
		ExternalID: "evt-1",
		StartsAt:   remoteStart,
		EndsAt:     remoteStart.Add(time.Hour),
		Updated:    &updated,
	}}

	result, appErr := f.service.PullRange(context.Background(), f.conn.ID, appt.StartsAt.Add(-time.Hour), appt.EndsAt.Add(4*time.Hour))
	require.Nil(t, appErr)
	assert.Equal(t, 1, result.Updated)

	stored, err := f.apptRepo.GetByID(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.True(t, stored.StartsAt.Equal(remoteStart))
}

func TestPullRangeLocalWinsPushesOutward(t *testing.T) {
	f := newSyncFixture(t)
	appt := f.addAppointment(apptEntity.StatusScheduled, 0)

	_, appErr := f.service.PushOne(context.Background(), f.conn.ID, appt.ID)
	require.Nil(t, appErr)

	// Remote copy is stale and the local title changed since the push.
	f.apptRepo.mu.Lock()
	f.apptRepo.appts[appt.ID].Title = "Moved earlier per client request"
	f.apptRepo.mu.Unlock()

	stale := time.Now().Add(-24 * time.Hour)
	f.client.events = []providerDto.ExternalEvent{{
		ExternalID: "evt-1",
		StartsAt:   appt.StartsAt,
		EndsAt:     appt.EndsAt,
		Updated:    &stale,
	}}

	result, appErr := f.service.PullRange(context.Background(), f.conn.ID, appt.StartsAt.Add(-time.Hour), appt.EndsAt.Add(time.Hour))
	require.Nil(t, appErr)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, 1, f.client.updates)
}

func TestPullRangeAuthFailureHaltsPass(t *testing.T) {
	f := newSyncFixture(t)
	f.client.listErr = errors.NewAppError(errors.ErrReauthorizationRequired, "refresh token revoked", nil)

	from := time.Date(2025, 6, 16, 0, 0, 0, 0, time.UTC)
	_, appErr := f.service.PullRange(context.Background(), f.conn.ID, from, from.Add(24*time.Hour))
	require.NotNil(t, appErr)
	assert.Equal(t, errors.ErrReauthorizationRequired, appErr.Code)
	assert.Contains(t, f.connRepo.syncStates, connEntity.SyncStateError)
}

func TestBidirectionalSyncAdvancesWatermark(t *testing.T) {
	f := newSyncFixture(t)
	f.addAppointment(apptEntity.StatusScheduled, 0)
	f.addAppointment(apptEntity.StatusConfirmed, 1)

	before := time.Now()
	from := time.Date(2025, 6, 16, 0, 0, 0, 0, time.UTC)
	result, appErr := f.service.BidirectionalSync(context.Background(), f.conn.ID, from, from.Add(24*time.Hour))
	require.Nil(t, appErr)

	assert.Equal(t, 2, result.Push.Synced)
	require.NotNil(t, f.connRepo.lastSynced)
	assert.False(t, f.connRepo.lastSynced.Before(before.Add(-time.Second)))
	assert.Equal(t, connEntity.SyncStateRunning, f.conn.SyncState)

	// A stale pass completing later must not regress the watermark.
	fresh := *f.connRepo.lastSynced
	require.NoError(t, f.connRepo.AdvanceLastSyncedAt(context.Background(), f.conn.ID, fresh.Add(-time.Hour)))
	assert.True(t, f.connRepo.lastSynced.Equal(fresh))
}

func TestGetSyncStatus(t *testing.T) {
	f := newSyncFixture(t)
	appt := f.addAppointment(apptEntity.StatusScheduled, 0)

	status, appErr := f.service.GetSyncStatus(context.Background(), f.conn.ID, appt.ID)
	require.Nil(t, appErr)
	assert.False(t, status.Synced)
	assert.Nil(t, status.ExternalEventID)

	_, appErr = f.service.PushOne(context.Background(), f.conn.ID, appt.ID)
	require.Nil(t, appErr)

	status, appErr = f.service.GetSyncStatus(context.Background(), f.conn.ID, appt.ID)
	require.Nil(t, appErr)
	assert.True(t, status.Synced)
	require.NotNil(t, status.ExternalEventID)
	assert.Equal(t, "evt-1", *status.ExternalEventID)
	require.NotNil(t, status.Direction)
	assert.Equal(t, syncEntity.DirectionOutbound, *status.Direction)
}

func TestWithRetryExhaustsTransientErrors(t *testing.T) {
	f := newSyncFixture(t)
	appt := f.addAppointment(apptEntity.StatusScheduled, 0)
	f.client.failWith[appt.ID] = errors.NewAppError(errors.ErrProviderUnavailable, "upstream 503", nil)

	item, appErr := f.service.PushOne(context.Background(), f.conn.ID, appt.ID)
	require.NotNil(t, appErr)
	assert.Equal(t, errors.ErrProviderUnavailable, appErr.Code)
	assert.Equal(t, dto.ItemFailed, item.Outcome)
}
