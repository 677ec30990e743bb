// RoadWatch - civic incident reporting and driver score engine
package main

import (
	"context"
	"os"

	"github.com/roadwatch/roadwatch/internal/config"
	"github.com/roadwatch/roadwatch/internal/logging"
	"github.com/roadwatch/roadwatch/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	logger := logging.New("info", "text")

	logger.Info("starting roadwatch",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Rebuild the logger with the configured level
	logger = logging.New(cfg.LogLevel, "text")

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"recovery_interval", cfg.RecoveryInterval,
		"recovery_window", cfg.RecoveryWindow,
	)

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
