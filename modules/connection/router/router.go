package router

import (
	"clinicsync/core/middleware"
	"clinicsync/modules/connection/controller"

	"github.com/labstack/echo/v4"
)

type ConnectionRouter struct {
	controller *controller.ConnectionController
}

func NewConnectionRouter(controller *controller.ConnectionController) *ConnectionRouter {
	return &ConnectionRouter{controller: controller}
}

func (r *ConnectionRouter) Setup(e *echo.Echo, mw *middleware.Middleware) {
	v1 := e.Group("/api/v1")

	routes := v1.Group("/private/calendar/connections")
	routes.Use(mw.AuthMiddleware())

	routes.GET("", r.controller.GetConnections)
	routes.DELETE("/:provider", r.controller.DisconnectCalendar)
	routes.GET("/:id/state", r.controller.GetConnectionState)
}
