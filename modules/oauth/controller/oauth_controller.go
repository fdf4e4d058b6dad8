package controller

import (
	"net/http"

	"clinicsync/core/controller"
	"clinicsync/core/errors"
	"clinicsync/core/middleware"
	"clinicsync/modules/oauth/service"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type OAuthController struct {
	service service.FlowService
	controller.BaseController
}

func NewOAuthController(service service.FlowService) *OAuthController {
	return &OAuthController{
		service:        service,
		BaseController: controller.NewBaseController(),
	}
}

// Authorize starts the calendar authorization flow and returns the
// provider consent URL for the frontend to open
// GET /api/v1/private/oauth/:provider/authorize
func (c *OAuthController) Authorize(ctx echo.Context) error {
	clinicianID, ok := ctx.Get(middleware.ContextKeyUserID).(uuid.UUID)
	if !ok {
		return c.Unauthorized(errors.ErrUnauthorized, "Invalid user")
	}

	resp, appErr := c.service.BeginAuthorization(ctx.Request().Context(), clinicianID)
	if appErr != nil {
		return c.ErrorResponse(ctx, appErr)
	}

	return c.SuccessResponse(ctx, resp, "Authorization URL created")
}

// Callback handles the provider redirect after user consent
// GET /api/v1/public/oauth/callback
func (c *OAuthController) Callback(ctx echo.Context) error {
	state := ctx.QueryParam("state")
	code := ctx.QueryParam("code")
	providerErr := ctx.QueryParam("error")

	if state == "" {
		return c.BadRequest(errors.ErrInvalidInput, "Missing state parameter")
	}
	if code == "" && providerErr == "" {
		return c.BadRequest(errors.ErrInvalidInput, "Missing code parameter")
	}

	result, appErr := c.service.CompleteAuthorization(ctx.Request().Context(), state, code, providerErr)
	if appErr != nil {
		return c.ErrorResponse(ctx, appErr)
	}

	return ctx.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Calendar connected successfully",
		"data":    result,
	})
}
