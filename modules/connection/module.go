package connection

import (
	"clinicsync/core/cache"
	"clinicsync/core/database"
	"clinicsync/core/middleware"
	"clinicsync/modules/connection/controller"
	"clinicsync/modules/connection/repository"
	"clinicsync/modules/connection/router"
	"clinicsync/modules/connection/service"

	"github.com/labstack/echo/v4"
)

func Init(e *echo.Echo, db database.Database, c cache.Cache) (service.ConnectionService, service.TokenVault, repository.ConnectionRepository) {
	repo := repository.NewConnectionRepository(&db)
	connService := service.NewConnectionService(repo)
	vault := service.NewTokenVault(repo, nil)
	connController := controller.NewConnectionController(connService)

	mw := middleware.NewMiddleware(c)
	router.NewConnectionRouter(connController).Setup(e, mw)

	return connService, vault, repo
}
