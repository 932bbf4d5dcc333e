// Commerce API for fiscal.fm premium PDF sales
package main

import (
	"context"
	"os"

	"github.com/fiscalfm/commerce/internal/config"
	"github.com/fiscalfm/commerce/internal/logging"
	"github.com/fiscalfm/commerce/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	logger := logging.New("info", "text")

	logger.Info("starting commerce",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"download_token_ttl", cfg.DownloadTokenTTL,
		"max_downloads", cfg.MaxDownloads,
	)

	srv, err := server.New(cfg, server.WithLogger(logger))
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
