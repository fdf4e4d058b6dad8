package main

import (
	"clinicsync/core/logger"
	"clinicsync/core/server"
)

func main() {
	if err := server.Run(); err != nil {
		logger.Error("run server error", err)
	}
}
