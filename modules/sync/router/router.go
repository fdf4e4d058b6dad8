package router

import (
	"clinicsync/core/middleware"
	"clinicsync/modules/sync/controller"

	"github.com/labstack/echo/v4"
)

type SyncRouter struct {
	controller *controller.SyncController
}

func NewSyncRouter(controller *controller.SyncController) *SyncRouter {
	return &SyncRouter{controller: controller}
}

func (r *SyncRouter) Setup(e *echo.Echo, mw *middleware.Middleware) {
	v1 := e.Group("/api/v1")

	routes := v1.Group("/private/sync")
	routes.Use(mw.AuthMiddleware())

	routes.POST("/push", r.controller.Push)
	routes.POST("/pull", r.controller.Pull)
	routes.POST("/run", r.controller.Run)
	routes.GET("/status/:appointmentId", r.controller.Status)
}
