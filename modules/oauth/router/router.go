package router

import (
	"clinicsync/core/middleware"
	"clinicsync/modules/oauth/controller"

	"github.com/labstack/echo/v4"
)

type OAuthRouter struct {
	controller *controller.OAuthController
}

func NewOAuthRouter(controller *controller.OAuthController) *OAuthRouter {
	return &OAuthRouter{controller: controller}
}

func (r *OAuthRouter) Setup(e *echo.Echo, mw *middleware.Middleware) {
	v1 := e.Group("/api/v1")

	private := v1.Group("/private/oauth")
	private.Use(mw.AuthMiddleware())
	private.GET("/:provider/authorize", r.controller.Authorize)

	// Callback arrives from the provider redirect, not from our frontend,
	// so it carries no bearer token.
	v1.GET("/public/oauth/callback", r.controller.Callback)
}
