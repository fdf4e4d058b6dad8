package service

import (
	"context"
	"sync"
	"time"

	"clinicsync/core/config"
	"clinicsync/core/constants"
	"clinicsync/core/errors"
	"clinicsync/core/logger"
	"clinicsync/core/utils"
	apptEntity "clinicsync/modules/appointment/entity"
	apptRepository "clinicsync/modules/appointment/repository"
	connEntity "clinicsync/modules/connection/entity"
	connRepository "clinicsync/modules/connection/repository"
	notifDto "clinicsync/modules/notification/dto"
	notifEntity "clinicsync/modules/notification/entity"
	"clinicsync/modules/provider"
	providerDto "clinicsync/modules/provider/dto"
	"clinicsync/modules/sync/dto"
	syncEntity "clinicsync/modules/sync/entity"
	syncRepository "clinicsync/modules/sync/repository"

	"github.com/google/uuid"
)

// SyncService runs push and pull passes between the local appointment
// store and the external calendar.
type SyncService interface {
	PushOne(ctx context.Context, connectionID, appointmentID uuid.UUID) (*dto.ItemResult, *errors.AppError)
	PushBatch(ctx context.Context, connectionID uuid.UUID, appointmentIDs []uuid.UUID) (*dto.BatchResult, *errors.AppError)
	PullRange(ctx context.Context, connectionID uuid.UUID, from, to time.Time) (*dto.PullResult, *errors.AppError)
	BidirectionalSync(ctx context.Context, connectionID uuid.UUID, from, to time.Time) (*dto.RunResult, *errors.AppError)
	GetSyncStatus(ctx context.Context, connectionID, appointmentID uuid.UUID) (*dto.SyncStatusResponse, *errors.AppError)
}

// EventPublisher delivers sync outcomes to the UI-facing notification
// module.
type EventPublisher interface {
	Publish(ctx context.Context, event notifDto.SyncEvent) error
}

type syncService struct {
	apptRepo apptRepository.AppointmentRepository
	connRepo connRepository.ConnectionRepository
	syncRepo syncRepository.SyncRepository
	client   provider.Client
	notifier EventPublisher

	workers       int
	maxRetries    int
	batchDelay    time.Duration
	retryBaseWait time.Duration
}

func NewSyncService(
	apptRepo apptRepository.AppointmentRepository,
	connRepo connRepository.ConnectionRepository,
	syncRepo syncRepository.SyncRepository,
	client provider.Client,
	notifier EventPublisher,
) SyncService {
	s := &syncService{
		apptRepo:      apptRepo,
		connRepo:      connRepo,
		syncRepo:      syncRepo,
		client:        client,
		notifier:      notifier,
		workers:       constants.DefaultPushWorkers,
		maxRetries:    constants.DefaultMaxRetries,
		batchDelay:    constants.DefaultBatchDelay,
		retryBaseWait: constants.DefaultRetryBaseWait,
	}
	if cfg, ok := config.GetSafe(); ok {
		if cfg.Sync.PushWorkers > 0 {
			s.workers = cfg.Sync.PushWorkers
		}
		if cfg.Sync.MaxRetries > 0 {
			s.maxRetries = cfg.Sync.MaxRetries
		}
		if cfg.Sync.BatchDelay > 0 {
			s.batchDelay = cfg.Sync.BatchDelay
		}
		if cfg.Sync.RetryBaseWait > 0 {
			s.retryBaseWait = cfg.Sync.RetryBaseWait
		}
	}
	return s
}

func (s *syncService) PushOne(ctx context.Context, connectionID, appointmentID uuid.UUID) (*dto.ItemResult, *errors.AppError) {
	result, appErr := s.pushOne(ctx, connectionID, appointmentID)
	if appErr != nil && errors.IsAuthError(appErr) {
		s.markAuthFailure(ctx, connectionID, appErr)
	}
	return &result, appErr
}

// pushOne propagates a single appointment outward. Ineligible
// appointments and appointments unchanged since the last push are
// skipped. A retried push with the mapping already present is an
// update, never a second create.
func (s *syncService) pushOne(ctx context.Context, connectionID, appointmentID uuid.UUID) (dto.ItemResult, *errors.AppError) {
	item := dto.ItemResult{AppointmentID: appointmentID.String()}

	appt, err := s.apptRepo.GetByID(ctx, appointmentID)
	if err != nil {
		appErr := errors.NewAppError(errors.ErrInternalServer, "failed to load appointment", err)
		item.Outcome, item.Error = dto.ItemFailed, appErr.Message
		return item, appErr
	}
	if appt == nil {
		appErr := errors.NewAppError(errors.ErrNotFound, "appointment not found", nil)
		item.Outcome, item.Error = dto.ItemFailed, appErr.Message
		return item, appErr
	}
	if !appt.PushEligible() {
		item.Outcome = dto.ItemSkipped
		return item, nil
	}

	mapping, err := s.syncRepo.GetByAppointment(ctx, connectionID, appointmentID)
	if err != nil {
		appErr := errors.NewAppError(errors.ErrInternalServer, "failed to load sync mapping", err)
		item.Outcome, item.Error = dto.ItemFailed, appErr.Message
		return item, appErr
	}

	hash := syncEntity.HashContent(appt.Title, appt.Notes, appt.StartsAt, appt.EndsAt, appt.Status)
	if mapping != nil && mapping.ContentHash == hash {
		item.Outcome = dto.ItemSkipped
		item.ExternalID = mapping.ExternalEventID
		return item, nil
	}

	var externalID string
	var appErr *errors.AppError
	if mapping != nil {
		externalID = mapping.ExternalEventID
		appErr = s.withRetry(ctx, func() *errors.AppError {
			return s.client.UpdateEvent(ctx, connectionID, externalID, appt)
		})
	} else {
		appErr = s.withRetry(ctx, func() *errors.AppError {
			var e *errors.AppError
			externalID, e = s.client.CreateEvent(ctx, connectionID, appt)
			return e
		})
	}
	if appErr != nil {
		item.Outcome, item.Error = dto.ItemFailed, appErr.Message
		return item, appErr
	}

	syncedAt := time.Now().UTC()
	if _, err := s.syncRepo.Upsert(ctx, &syncEntity.SyncMapping{
		ConnectionID:    connectionID,
		AppointmentID:   appointmentID,
		ExternalEventID: externalID,
		Direction:       syncEntity.DirectionOutbound,
		ContentHash:     hash,
	}); err != nil {
		appErr := errors.NewAppError(errors.ErrInternalServer, "failed to persist sync mapping", err)
		item.Outcome, item.Error = dto.ItemFailed, appErr.Message
		return item, appErr
	}
	if err := s.apptRepo.UpdateSyncFields(ctx, appointmentID, externalID, syncedAt); err != nil {
		appErr := errors.NewAppError(errors.ErrInternalServer, "failed to record sync fields", err)
		item.Outcome, item.Error = dto.ItemFailed, appErr.Message
		return item, appErr
	}

	item.Outcome = dto.ItemSynced
	item.ExternalID = externalID
	return item, nil
}

// PushBatch processes the appointments in concurrency windows of the
// configured worker count with a fixed delay between windows. The first
// authorization failure aborts everything not yet attempted; all other
// failures are recorded per item and the batch continues.
func (s *syncService) PushBatch(ctx context.Context, connectionID uuid.UUID, appointmentIDs []uuid.UUID) (*dto.BatchResult, *errors.AppError) {
	result := &dto.BatchResult{
		Total: len(appointmentIDs),
		Items: make([]dto.ItemResult, len(appointmentIDs)),
	}

	var authErr *errors.AppError
	var mu sync.Mutex

	for windowStart := 0; windowStart < len(appointmentIDs); windowStart += s.workers {
		mu.Lock()
		aborted := authErr != nil
		mu.Unlock()
		if aborted || ctx.Err() != nil {
			for i := windowStart; i < len(appointmentIDs); i++ {
				result.Items[i] = dto.ItemResult{
					AppointmentID: appointmentIDs[i].String(),
					Outcome:       dto.ItemAborted,
				}
			}
			break
		}

		if windowStart > 0 && s.batchDelay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(s.batchDelay):
			}
		}

		windowEnd := windowStart + s.workers
		if windowEnd > len(appointmentIDs) {
			windowEnd = len(appointmentIDs)
		}

		var wg sync.WaitGroup
		for i := windowStart; i < windowEnd; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				item, appErr := s.pushOne(ctx, connectionID, appointmentIDs[idx])
				if appErr != nil && errors.IsAuthError(appErr) {
					mu.Lock()
					if authErr == nil {
						authErr = appErr
					}
					mu.Unlock()
				}
				result.Items[idx] = item
			}(i)
		}
		wg.Wait()
	}

	for _, item := range result.Items {
		switch item.Outcome {
		case dto.ItemSynced:
			result.Synced++
		case dto.ItemSkipped:
			result.Skipped++
		case dto.ItemAborted:
			result.Aborted++
		default:
			result.Failed++
		}
	}

	logger.Info("SyncService:PushBatch:Complete",
		"connection_id", connectionID,
		"total", result.Total, "synced", result.Synced,
		"skipped", result.Skipped, "failed", result.Failed, "aborted", result.Aborted)

	if authErr != nil {
		s.markAuthFailure(ctx, connectionID, authErr)
		return result, authErr
	}
	return result, nil
}

// PullRange fetches remote busy events and reconciles them against the
// local store. Matched pairs go through conflict resolution; unmatched
// remote events become opaque personal blocks rather than real
// appointments.
func (s *syncService) PullRange(ctx context.Context, connectionID uuid.UUID, from, to time.Time) (*dto.PullResult, *errors.AppError) {
	conn, err := s.connRepo.GetByID(ctx, connectionID)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to load connection", err)
	}
	if conn == nil {
		return nil, errors.NewAppError(errors.ErrNotFound, "connection not found", nil)
	}

	result := &dto.PullResult{}

	var events []providerDto.ExternalEvent
	appErr := s.withRetry(ctx, func() *errors.AppError {
		var e *errors.AppError
		events, e = s.client.ListBusyEvents(ctx, connectionID, from, to)
		return e
	})
	if appErr != nil {
		if errors.IsAuthError(appErr) {
			s.markAuthFailure(ctx, connectionID, appErr)
		}
		return result, appErr
	}
	result.Fetched = len(events)

	for i := range events {
		event := &events[i]
		if ctx.Err() != nil {
			break
		}
		if appErr := s.reconcileRemote(ctx, conn, event, result); appErr != nil {
			if errors.IsAuthError(appErr) {
				s.markAuthFailure(ctx, connectionID, appErr)
				return result, appErr
			}
			result.Errors++
			logger.Warn("SyncService:PullRange:ItemError",
				"connection_id", connectionID, "external_id", event.ExternalID, "error", appErr)
		}
	}

	logger.Info("SyncService:PullRange:Complete",
		"connection_id", connectionID, "fetched", result.Fetched,
		"created", result.Created, "updated", result.Updated,
		"skipped", result.Skipped, "errors", result.Errors)
	return result, nil
}

func (s *syncService) reconcileRemote(ctx context.Context, conn *connEntity.Connection, event *providerDto.ExternalEvent, result *dto.PullResult) *errors.AppError {
	mapping, err := s.syncRepo.GetByExternalID(ctx, conn.ID, event.ExternalID)
	if err != nil {
		return errors.NewAppError(errors.ErrInternalServer, "failed to load sync mapping", err)
	}

	if mapping == nil {
		// First sighting of a foreign event. Auto-creating real
		// appointments from foreign titles is disabled; the busy time is
		// held as an opaque placeholder instead.
		appt, err := s.apptRepo.UpsertPersonalBlock(ctx, conn.ClinicianID, event.ExternalID, event.StartsAt, event.EndsAt)
		if err != nil {
			return errors.NewAppError(errors.ErrInternalServer, "failed to record personal block", err)
		}
		if _, err := s.syncRepo.Upsert(ctx, &syncEntity.SyncMapping{
			ConnectionID:    conn.ID,
			AppointmentID:   appt.ID,
			ExternalEventID: event.ExternalID,
			Direction:       syncEntity.DirectionInbound,
		}); err != nil {
			return errors.NewAppError(errors.ErrInternalServer, "failed to persist sync mapping", err)
		}
		result.Created++
		return nil
	}

	appt, err := s.apptRepo.GetByID(ctx, mapping.AppointmentID)
	if err != nil {
		return errors.NewAppError(errors.ErrInternalServer, "failed to load appointment", err)
	}
	if appt == nil {
		// The mapped appointment is gone locally. Keep the mapping so
		// the remote event is not re-imported as a new personal block.
		result.Skipped++
		return nil
	}

	switch Resolve(appt, event, mapping) {
	case WinnerRemote:
		syncedAt := time.Now().UTC()
		if err := s.apptRepo.ApplyRemote(ctx, appt.ID, event.StartsAt, event.EndsAt, syncedAt); err != nil {
			return errors.NewAppError(errors.ErrInternalServer, "failed to apply remote fields", err)
		}
		mapping.ContentHash = syncEntity.HashContent(appt.Title, appt.Notes, event.StartsAt, event.EndsAt, appt.Status)
		if _, err := s.syncRepo.Upsert(ctx, mapping); err != nil {
			return errors.NewAppError(errors.ErrInternalServer, "failed to persist sync mapping", err)
		}
		result.Updated++
	case WinnerLocal:
		if !appt.PushEligible() {
			result.Skipped++
			return nil
		}
		item, appErr := s.pushOne(ctx, conn.ID, appt.ID)
		if appErr != nil {
			return appErr
		}
		if item.Outcome == dto.ItemSynced {
			result.Updated++
		} else {
			result.Skipped++
		}
	}
	return nil
}

// BidirectionalSync runs one full pass: push every eligible appointment
// in the window, then pull the remote view of the same window. The
// connection's last-synced watermark is advanced to the pass start so a
// later pass never re-covers reconciled ground, and never moved
// backwards by an out-of-order completion.
func (s *syncService) BidirectionalSync(ctx context.Context, connectionID uuid.UUID, from, to time.Time) (*dto.RunResult, *errors.AppError) {
	passStart := time.Now().UTC()
	runID := utils.GenerateID()
	logger.Info("SyncService:BidirectionalSync:Start", "run_id", runID, "connection_id", connectionID, "from", from, "to", to)

	conn, err := s.connRepo.GetByID(ctx, connectionID)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to load connection", err)
	}
	if conn == nil {
		return nil, errors.NewAppError(errors.ErrNotFound, "connection not found", nil)
	}
	if !conn.IsActive {
		return nil, errors.NewAppError(errors.ErrInvalidInput, "connection is disconnected", nil)
	}

	appointments, err := s.apptRepo.ListInRange(ctx, conn.ClinicianID, from, to)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to list appointments", err)
	}
	ids := make([]uuid.UUID, 0, len(appointments))
	for _, appt := range appointments {
		if appt.Status == apptEntity.StatusPersonalBlock {
			continue
		}
		ids = append(ids, appt.ID)
	}

	result := &dto.RunResult{}

	pushResult, pushErr := s.PushBatch(ctx, connectionID, ids)
	result.Push = pushResult
	if pushErr != nil && errors.IsAuthError(pushErr) {
		s.publishSyncEvent(ctx, conn, notifEntity.TypeSyncError, pushErr.Message, result)
		return result, pushErr
	}

	pullResult, pullErr := s.PullRange(ctx, connectionID, from, to)
	result.Pull = pullResult
	if pullErr != nil && errors.IsAuthError(pullErr) {
		s.publishSyncEvent(ctx, conn, notifEntity.TypeSyncError, pullErr.Message, result)
		return result, pullErr
	}

	if err := s.connRepo.AdvanceLastSyncedAt(ctx, connectionID, passStart); err != nil {
		logger.Error("SyncService:BidirectionalSync:AdvanceLastSyncedAt:Error", "error", err, "connection_id", connectionID)
	}
	if err := s.connRepo.SetSyncState(ctx, connectionID, connEntity.SyncStateRunning, nil); err != nil {
		logger.Error("SyncService:BidirectionalSync:SetSyncState:Error", "error", err, "connection_id", connectionID)
	}
	result.LastSyncedAt = passStart

	if pushErr != nil {
		s.publishSyncEvent(ctx, conn, notifEntity.TypeSyncError, pushErr.Message, result)
		return result, pushErr
	}
	if pullErr != nil {
		s.publishSyncEvent(ctx, conn, notifEntity.TypeSyncError, pullErr.Message, result)
		return result, pullErr
	}

	logger.Info("SyncService:BidirectionalSync:Complete", "run_id", runID, "connection_id", connectionID)
	s.publishSyncEvent(ctx, conn, notifEntity.TypeSyncComplete, "Calendar sync completed", result)
	return result, nil
}

func (s *syncService) GetSyncStatus(ctx context.Context, connectionID, appointmentID uuid.UUID) (*dto.SyncStatusResponse, *errors.AppError) {
	appt, err := s.apptRepo.GetByID(ctx, appointmentID)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to load appointment", err)
	}
	if appt == nil {
		return nil, errors.NewAppError(errors.ErrNotFound, "appointment not found", nil)
	}

	resp := &dto.SyncStatusResponse{
		AppointmentID:   appointmentID.String(),
		Synced:          appt.ExternalEventID != nil,
		ExternalEventID: appt.ExternalEventID,
	}
	if appt.LastSyncedAt != nil {
		formatted := appt.LastSyncedAt.Format(time.RFC3339)
		resp.LastSyncedAt = &formatted
	}

	mapping, err := s.syncRepo.GetByAppointment(ctx, connectionID, appointmentID)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to load sync mapping", err)
	}
	if mapping != nil {
		direction := mapping.Direction
		resp.Direction = &direction
	}
	return resp, nil
}

// withRetry retries transient failures with exponential backoff.
// Authorization failures and provider rejections surface on the first
// attempt.
func (s *syncService) withRetry(ctx context.Context, fn func() *errors.AppError) *errors.AppError {
	var appErr *errors.AppError
	wait := s.retryBaseWait
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return errors.NewAppError(errors.ErrInternalServer, "sync cancelled", ctx.Err())
			case <-time.After(wait):
			}
			wait *= 2
		}
		appErr = fn()
		if appErr == nil {
			return nil
		}
		if !errors.IsRetryable(appErr) {
			return appErr
		}
		logger.Warn("SyncService:withRetry:Transient",
			"attempt", attempt+1, "max", s.maxRetries+1, "error", appErr)
	}
	return appErr
}

// markAuthFailure flips the connection into error state. The UI
// surfaces it as action-required; nothing here retries automatically.
func (s *syncService) markAuthFailure(ctx context.Context, connectionID uuid.UUID, appErr *errors.AppError) {
	msg := appErr.Message
	if err := s.connRepo.SetSyncState(ctx, connectionID, connEntity.SyncStateError, &msg); err != nil {
		logger.Error("SyncService:markAuthFailure:SetSyncState:Error", "error", err, "connection_id", connectionID)
	}
	logger.Warn("SyncService:markAuthFailure", "connection_id", connectionID, "code", appErr.Code)
}

func (s *syncService) publishSyncEvent(ctx context.Context, conn *connEntity.Connection, eventType, message string, result *dto.RunResult) {
	if s.notifier == nil {
		return
	}
	connID := conn.ID
	payload := map[string]interface{}{}
	if result.Push != nil {
		payload["push"] = map[string]interface{}{
			"total": result.Push.Total, "synced": result.Push.Synced,
			"skipped": result.Push.Skipped, "failed": result.Push.Failed,
			"aborted": result.Push.Aborted,
		}
	}
	if result.Pull != nil {
		payload["pull"] = map[string]interface{}{
			"fetched": result.Pull.Fetched, "created": result.Pull.Created,
			"updated": result.Pull.Updated, "skipped": result.Pull.Skipped,
			"errors": result.Pull.Errors,
		}
	}
	if err := s.notifier.Publish(ctx, notifDto.SyncEvent{
		Type:         eventType,
		ClinicianID:  conn.ClinicianID,
		ConnectionID: &connID,
		Message:      message,
		Payload:      payload,
	}); err != nil {
		logger.Error("SyncService:publishSyncEvent:Error", "error", err, "connection_id", conn.ID)
	}
}
