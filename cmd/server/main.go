// Fraudwatch - transaction risk scoring service
package main

import (
	"context"
	"os"
	"time"

	"github.com/mbd888/fraudwatch/internal/config"
	"github.com/mbd888/fraudwatch/internal/logging"
	"github.com/mbd888/fraudwatch/internal/server"
	"github.com/mbd888/fraudwatch/internal/traces"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Bootstrap logger until config is known
	logger := logging.New("info", "text")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting fraudwatch",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
		"env", cfg.Env,
	)

	ctx := context.Background()
	shutdownTracing, err := traces.Init(ctx, cfg.OTLPEndpoint, Version, logger)
	if err != nil {
		logger.Error("failed to init tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Error("tracing shutdown error", "error", err)
		}
	}()

	srv, err := server.New(cfg, server.WithLogger(logger), server.WithVersion(Version))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
