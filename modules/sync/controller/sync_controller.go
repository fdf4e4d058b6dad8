package controller

import (
	"time"

	"clinicsync/core/controller"
	"clinicsync/core/errors"
	"clinicsync/core/logger"
	"clinicsync/core/middleware"
	"clinicsync/modules/sync/dto"
	"clinicsync/modules/sync/service"
	"clinicsync/modules/sync/worker"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"
)

type SyncController struct {
	service     service.SyncService
	asynqClient *asynq.Client
	controller.BaseController
}

func NewSyncController(service service.SyncService, asynqClient *asynq.Client) *SyncController {
	return &SyncController{
		service:        service,
		asynqClient:    asynqClient,
		BaseController: controller.NewBaseController(),
	}
}

// Push runs a synchronous push batch for the given appointments
// POST /api/v1/private/sync/push
func (c *SyncController) Push(ctx echo.Context) error {
	if _, ok := clinicianIDFromContext(ctx); !ok {
		return c.Unauthorized(errors.ErrUnauthorized, "Invalid user")
	}

	var req dto.PushRequest
	if err := ctx.Bind(&req); err != nil {
		return c.BadRequest(errors.ErrInvalidRequestData, "Invalid request body")
	}

	connectionID, err := uuid.Parse(req.ConnectionID)
	if err != nil {
		return c.BadRequest(errors.ErrInvalidInput, "Invalid connection id")
	}
	if len(req.AppointmentIDs) == 0 {
		return c.BadRequest(errors.ErrInvalidInput, "No appointments to push")
	}
	ids := make([]uuid.UUID, 0, len(req.AppointmentIDs))
	for _, raw := range req.AppointmentIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return c.BadRequest(errors.ErrInvalidInput, "Invalid appointment id: "+raw)
		}
		ids = append(ids, id)
	}

	result, appErr := c.service.PushBatch(ctx.Request().Context(), connectionID, ids)
	if appErr != nil {
		// Partial results still matter to the caller; auth failures
		// surface through the batch outcome rather than a bare error.
		if result != nil {
			return c.SuccessResponse(ctx, result, "Push completed with errors")
		}
		return c.ErrorResponse(ctx, appErr)
	}

	return c.SuccessResponse(ctx, result, "Push completed")
}

// Pull reconciles remote busy events in the given window
// POST /api/v1/private/sync/pull
func (c *SyncController) Pull(ctx echo.Context) error {
	if _, ok := clinicianIDFromContext(ctx); !ok {
		return c.Unauthorized(errors.ErrUnauthorized, "Invalid user")
	}

	connectionID, from, to, appErr := bindRangeRequest(ctx)
	if appErr != nil {
		return c.ErrorResponse(ctx, appErr)
	}

	result, appErr := c.service.PullRange(ctx.Request().Context(), connectionID, from, to)
	if appErr != nil {
		if result != nil && result.Fetched > 0 {
			return c.SuccessResponse(ctx, result, "Pull completed with errors")
		}
		return c.ErrorResponse(ctx, appErr)
	}

	return c.SuccessResponse(ctx, result, "Pull completed")
}

// Run enqueues a full bidirectional sync pass
// POST /api/v1/private/sync/run
func (c *SyncController) Run(ctx echo.Context) error {
	if _, ok := clinicianIDFromContext(ctx); !ok {
		return c.Unauthorized(errors.ErrUnauthorized, "Invalid user")
	}

	connectionID, from, to, appErr := bindRangeRequest(ctx)
	if appErr != nil {
		return c.ErrorResponse(ctx, appErr)
	}

	task, err := worker.NewBidirectionalSyncTask(connectionID, from, to)
	if err != nil {
		return c.ErrorResponse(ctx, errors.NewAppError(errors.ErrInternalServer, "failed to build sync task", err))
	}
	info, err := c.asynqClient.EnqueueContext(ctx.Request().Context(), task)
	if err != nil {
		return c.ErrorResponse(ctx, errors.NewAppError(errors.ErrInternalServer, "failed to enqueue sync task", err))
	}

	logger.Info("SyncController:Run:Enqueued", "task_id", info.ID, "connection_id", connectionID)
	return c.SuccessResponse(ctx, dto.EnqueueResponse{TaskID: info.ID, Queue: info.Queue}, "Sync scheduled")
}

// Status reports whether one appointment is linked to a remote event
// GET /api/v1/private/sync/status/:appointmentId
func (c *SyncController) Status(ctx echo.Context) error {
	if _, ok := clinicianIDFromContext(ctx); !ok {
		return c.Unauthorized(errors.ErrUnauthorized, "Invalid user")
	}

	appointmentID, err := uuid.Parse(ctx.Param("appointmentId"))
	if err != nil {
		return c.BadRequest(errors.ErrInvalidInput, "Invalid appointment id")
	}
	connectionID, err := uuid.Parse(ctx.QueryParam("connection_id"))
	if err != nil {
		return c.BadRequest(errors.ErrInvalidInput, "Invalid connection id")
	}

	status, appErr := c.service.GetSyncStatus(ctx.Request().Context(), connectionID, appointmentID)
	if appErr != nil {
		return c.ErrorResponse(ctx, appErr)
	}

	return c.SuccessResponse(ctx, status, "Sync status retrieved")
}

func bindRangeRequest(ctx echo.Context) (uuid.UUID, time.Time, time.Time, *errors.AppError) {
	var req dto.PullRequest
	if err := ctx.Bind(&req); err != nil {
		return uuid.Nil, time.Time{}, time.Time{}, errors.NewAppError(errors.ErrInvalidRequestData, "Invalid request body", err)
	}

	connectionID, err := uuid.Parse(req.ConnectionID)
	if err != nil {
		return uuid.Nil, time.Time{}, time.Time{}, errors.NewAppError(errors.ErrInvalidInput, "Invalid connection id", err)
	}
	from, err := time.Parse(time.RFC3339, req.From)
	if err != nil {
		return uuid.Nil, time.Time{}, time.Time{}, errors.NewAppError(errors.ErrInvalidInput, "Invalid from timestamp", err)
	}
	to, err := time.Parse(time.RFC3339, req.To)
	if err != nil {
		return uuid.Nil, time.Time{}, time.Time{}, errors.NewAppError(errors.ErrInvalidInput, "Invalid to timestamp", err)
	}
	if !from.Before(to) {
		return uuid.Nil, time.Time{}, time.Time{}, errors.NewAppError(errors.ErrInvalidInput, "Range start must precede end", nil)
	}
	return connectionID, from.UTC(), to.UTC(), nil
}

func clinicianIDFromContext(ctx echo.Context) (uuid.UUID, bool) {
	id, ok := ctx.Get(middleware.ContextKeyUserID).(uuid.UUID)
	return id, ok
}
