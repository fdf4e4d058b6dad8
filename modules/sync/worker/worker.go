package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"clinicsync/core/errors"
	"clinicsync/core/logger"
	"clinicsync/modules/sync/service"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	TypeBidirectionalSync = "sync:bidirectional"
	QueueDefault          = "default"
)

// BidirectionalSyncPayload is the task body for a queued full sync
// pass. Timestamps are RFC3339 so payloads stay readable in the queue
// inspector.
type BidirectionalSyncPayload struct {
	ConnectionID string `json:"connection_id"`
	From         string `json:"from"`
	To           string `json:"to"`
}

// NewBidirectionalSyncTask builds the task for a full sync pass over
// [from, to).
func NewBidirectionalSyncTask(connectionID uuid.UUID, from, to time.Time) (*asynq.Task, error) {
	payload, err := json.Marshal(BidirectionalSyncPayload{
		ConnectionID: connectionID.String(),
		From:         from.UTC().Format(time.RFC3339),
		To:           to.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeBidirectionalSync, payload, asynq.Queue(QueueDefault), asynq.MaxRetry(1)), nil
}

type SyncWorker struct {
	service service.SyncService
}

func NewSyncWorker(service service.SyncService) *SyncWorker {
	return &SyncWorker{service: service}
}

func (w *SyncWorker) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeBidirectionalSync, w.HandleBidirectionalSync)
}

func (w *SyncWorker) HandleBidirectionalSync(ctx context.Context, task *asynq.Task) error {
	var payload BidirectionalSyncPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	connectionID, err := uuid.Parse(payload.ConnectionID)
	if err != nil {
		return fmt.Errorf("invalid connection id: %v: %w", err, asynq.SkipRetry)
	}
	from, err := time.Parse(time.RFC3339, payload.From)
	if err != nil {
		return fmt.Errorf("invalid from timestamp: %v: %w", err, asynq.SkipRetry)
	}
	to, err := time.Parse(time.RFC3339, payload.To)
	if err != nil {
		return fmt.Errorf("invalid to timestamp: %v: %w", err, asynq.SkipRetry)
	}

	logger.Info("SyncWorker:HandleBidirectionalSync:Start", "connection_id", connectionID)

	result, appErr := w.service.BidirectionalSync(ctx, connectionID, from, to)
	if appErr != nil {
		logger.Error("SyncWorker:HandleBidirectionalSync:Error",
			"connection_id", connectionID, "code", appErr.Code, "error", appErr)
		if errors.IsRetryable(appErr) {
			return appErr
		}
		// Auth failures already flipped the connection into error state;
		// retrying the task would only fail again.
		return fmt.Errorf("%s: %w", appErr.Error(), asynq.SkipRetry)
	}

	logger.Info("SyncWorker:HandleBidirectionalSync:Complete",
		"connection_id", connectionID,
		"push_synced", result.Push.Synced,
		"pull_created", result.Pull.Created,
		"pull_updated", result.Pull.Updated)
	return nil
}
