package controller

import (
	"clinicsync/core/constants"
	"clinicsync/core/controller"
	"clinicsync/core/errors"
	"clinicsync/core/middleware"
	"clinicsync/modules/connection/dto"
	"clinicsync/modules/connection/service"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type ConnectionController struct {
	service service.ConnectionService
	controller.BaseController
}

func NewConnectionController(service service.ConnectionService) *ConnectionController {
	return &ConnectionController{
		service:        service,
		BaseController: controller.NewBaseController(),
	}
}

// GetConnections returns all calendar connections for the current clinician
// GET /api/v1/private/calendar/connections
func (c *ConnectionController) GetConnections(ctx echo.Context) error {
	clinicianID, ok := clinicianIDFromContext(ctx)
	if !ok {
		return c.Unauthorized(errors.ErrUnauthorized, "Invalid user")
	}

	connections, err := c.service.GetConnections(ctx.Request().Context(), clinicianID)
	if err != nil {
		return c.ErrorResponse(ctx, err)
	}

	return c.SuccessResponse(ctx, dto.ConnectionListResponse{Connections: connections}, "Connections retrieved successfully")
}

// DisconnectCalendar soft-deletes the connection and stops sync
// DELETE /api/v1/private/calendar/connections/:provider
func (c *ConnectionController) DisconnectCalendar(ctx echo.Context) error {
	clinicianID, ok := clinicianIDFromContext(ctx)
	if !ok {
		return c.Unauthorized(errors.ErrUnauthorized, "Invalid user")
	}

	provider := ctx.Param("provider")
	if provider != constants.ProviderGoogle {
		return c.BadRequest(errors.ErrInvalidInput, "Invalid provider")
	}

	if err := c.service.Disconnect(ctx.Request().Context(), clinicianID, provider); err != nil {
		return c.ErrorResponse(ctx, err)
	}

	return c.SuccessResponse(ctx, nil, "Disconnected successfully")
}

// GetConnectionState returns the sync state for one connection
// GET /api/v1/private/calendar/connections/:id/state
func (c *ConnectionController) GetConnectionState(ctx echo.Context) error {
	if _, ok := clinicianIDFromContext(ctx); !ok {
		return c.Unauthorized(errors.ErrUnauthorized, "Invalid user")
	}

	connectionID, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		return c.BadRequest(errors.ErrInvalidInput, "Invalid connection id")
	}

	state, appErr := c.service.GetConnectionState(ctx.Request().Context(), connectionID)
	if appErr != nil {
		return c.ErrorResponse(ctx, appErr)
	}

	return c.SuccessResponse(ctx, state, "Connection state retrieved")
}

func clinicianIDFromContext(ctx echo.Context) (uuid.UUID, bool) {
	id, ok := ctx.Get(middleware.ContextKeyUserID).(uuid.UUID)
	return id, ok
}
