package main

import (
	"log/slog"
	"os"
	"strings"

	cfg "newsthumb/src/configuration"
	server "newsthumb/src/server"

	"github.com/gin-gonic/gin"
)

func main() {
	config, err := cfg.ReadProperties()
	if err != nil {
		slog.Error("can not read configuration", "error", err)
		os.Exit(1)
	}
	cfg.SetupLogger(config.LogLevel)
	if !strings.EqualFold(config.LogLevel, "DEBUG") {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := server.RunServer(config); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
