package main

import (
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"livespese/internal/cli"
	apphttp "livespese/internal/http"
	applog "livespese/internal/log"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, logger := cli.LoadAndValidateConfig()

	ctx, stop := cli.SignalContext(logger)
	defer stop()

	result := cli.InitBackend(ctx, logger, cfg)
	defer cli.RunCleanup(logger, result)

	srv, err := apphttp.NewServer(":"+cfg.Port, apphttp.Options{
		Store:              result.Store,
		Collection:         cfg.Collection,
		Ping:               result.Ping,
		BaseContext:        ctx,
		Logger:             logger.WithComponent(applog.ComponentHTTP),
		SessionTTL:         cfg.SessionTTL,
		MaxSessions:        cfg.MaxSessions,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	})
	if err != nil {
		logger.Error("Failed to create HTTP server", applog.FieldError, err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx, shutdownTimeout) })

	// The mirror runs in-process when a spreadsheet is configured.
	if cfg.GoogleSpreadsheetID != "" {
		mirror, err := cli.NewMirror(ctx, logger, cfg, result.Store)
		if err != nil {
			logger.Error("Sheet mirror disabled", applog.FieldError, err)
		} else {
			g.Go(func() error {
				// Mirror failures are logged; the server keeps running.
				if err := mirror.Run(gctx); err != nil {
					logger.Error("Sheet mirror stopped", applog.FieldError, err)
				}
				return nil
			})
		}
	}

	logger.Info("Starting spese server",
		"port", cfg.Port,
		applog.FieldBackend, cfg.DataBackend,
		applog.FieldCollection, cfg.Collection)

	if err := g.Wait(); err != nil {
		logger.Error("Server stopped with error", applog.FieldError, err)
		cli.RunCleanup(logger, result)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully", applog.FieldOperation, applog.OpShutdown)
}
