package oauth

import (
	"clinicsync/core/cache"
	"clinicsync/core/middleware"
	"clinicsync/modules/connection/service"
	notifService "clinicsync/modules/notification/service"
	"clinicsync/modules/oauth/controller"
	"clinicsync/modules/oauth/router"
	oauthService "clinicsync/modules/oauth/service"

	"github.com/labstack/echo/v4"
)

func Init(e *echo.Echo, c cache.Cache, connSvc service.ConnectionService, notifier *notifService.NotificationService) {
	flowService := oauthService.NewFlowService(c, connSvc, notifier, nil, nil)
	oauthController := controller.NewOAuthController(flowService)

	mw := middleware.NewMiddleware(c)
	router.NewOAuthRouter(oauthController).Setup(e, mw)
}
