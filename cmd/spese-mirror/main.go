// Command spese-mirror copies the live expense list into a Google Sheet. Run
// it next to spese when the store is shared (sqlite with AMQP, postgres or
// firestore).
package main

import (
	"context"
	"errors"
	"os"

	"golang.org/x/sync/errgroup"

	"livespese/internal/cli"
	applog "livespese/internal/log"
)

func main() {
	cfg, logger := cli.LoadAndValidateConfig()
	logger = logger.WithComponent(applog.ComponentWorker)

	if cfg.DataBackend == "memory" {
		logger.Error("The memory backend is private to one process; choose sqlite, postgres or firestore")
		os.Exit(1)
	}

	ctx, stop := cli.SignalContext(logger)
	defer stop()

	result := cli.InitBackend(ctx, logger, cfg)
	defer cli.RunCleanup(logger, result)

	mirror, err := cli.NewMirror(ctx, logger, cfg, result.Store)
	if err != nil {
		logger.Error("Failed to initialize sheet mirror", applog.FieldError, err)
		cli.RunCleanup(logger, result)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return mirror.Run(gctx) })
	if result.Ping != nil {
		g.Go(func() error {
			if err := result.Ping(gctx); err != nil {
				logger.Warn("Backend ping failed at startup", applog.FieldError, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Mirror stopped with error", applog.FieldError, err)
		cli.RunCleanup(logger, result)
		os.Exit(1)
	}
	stats := mirror.Stats()
	logger.Info("Mirror stopped",
		applog.FieldOperation, applog.OpShutdown,
		"written", stats.Written,
		"failed", stats.Failed)
}
