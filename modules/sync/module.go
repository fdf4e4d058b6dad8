package sync

import (
	"clinicsync/core/cache"
	"clinicsync/core/database"
	"clinicsync/core/middleware"
	apptRepository "clinicsync/modules/appointment/repository"
	connRepository "clinicsync/modules/connection/repository"
	notifService "clinicsync/modules/notification/service"
	"clinicsync/modules/provider"
	"clinicsync/modules/sync/controller"
	"clinicsync/modules/sync/repository"
	"clinicsync/modules/sync/router"
	"clinicsync/modules/sync/service"
	"clinicsync/modules/sync/worker"

	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"
)

func Init(
	e *echo.Echo,
	db database.Database,
	c cache.Cache,
	asynqClient *asynq.Client,
	connRepo connRepository.ConnectionRepository,
	providerClient provider.Client,
	notifier *notifService.NotificationService,
) (service.SyncService, *worker.SyncWorker) {
	apptRepo := apptRepository.NewAppointmentRepository(&db)
	syncRepo := repository.NewSyncRepository(&db)

	syncService := service.NewSyncService(apptRepo, connRepo, syncRepo, providerClient, notifier)
	syncController := controller.NewSyncController(syncService, asynqClient)

	mw := middleware.NewMiddleware(c)
	router.NewSyncRouter(syncController).Setup(e, mw)

	return syncService, worker.NewSyncWorker(syncService)
}
