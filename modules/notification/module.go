package notification

import (
	"clinicsync/core/cache"
	"clinicsync/core/database"
	"clinicsync/core/middleware"
	"clinicsync/modules/notification/controller"
	"clinicsync/modules/notification/repository"
	"clinicsync/modules/notification/router"
	"clinicsync/modules/notification/service"

	"github.com/labstack/echo/v4"
)

func Init(e *echo.Echo, db database.Database, c cache.Cache) *service.NotificationService {
	repo := repository.NewNotificationRepository(&db)
	svc := service.NewNotificationService(repo)
	ctrl := controller.NewNotificationController(svc)

	mw := middleware.NewMiddleware(c)
	router.NewNotificationRouter(ctrl).Setup(e, mw)

	return svc
}
