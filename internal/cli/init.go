// Package cli holds the bootstrap steps shared by cmd/spese and cmd/spese-mirror.
package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"livespese/internal/backend"
	"livespese/internal/config"
	applog "livespese/internal/log"
	gsheets "livespese/internal/sheets/google"
	"livespese/internal/storage"
	"livespese/internal/worker"
)

// LoadEnvFile loads .env for local development. A missing file is fine.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// SetupLogger builds the text logger for level and installs it as the slog default.
func SetupLogger(level string) *applog.Logger {
	logger := applog.New(applog.Config{Level: applog.ParseLevel(level), Component: applog.ComponentApp})
	applog.SetDefault(logger)
	return logger
}

// LoadAndValidateConfig loads configuration, exiting the process when it is invalid.
// The logger level comes from the loaded config.
func LoadAndValidateConfig() (*config.Config, *applog.Logger) {
	LoadEnvFile()
	cfg := config.Load()
	logger := SetupLogger(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", applog.FieldError, err)
		os.Exit(1)
	}
	return cfg, logger
}

// InitBackend creates the configured store, exiting the process on failure.
func InitBackend(ctx context.Context, logger *applog.Logger, cfg *config.Config) *backend.BackendResult {
	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", applog.FieldError, err)
		os.Exit(1)
	}

	result, err := backend.NewFactory(logger.WithComponent(applog.ComponentBackend).Slog()).CreateBackend(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", applog.FieldBackend, cfg.DataBackend, applog.FieldError, err)
		os.Exit(1)
	}
	return result
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(logger *applog.Logger) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		logger.Info("Shutdown requested", applog.FieldOperation, applog.OpShutdown)
	}()
	return ctx, stop
}

// RunCleanup runs a backend cleanup and logs its failure.
func RunCleanup(logger *applog.Logger, result *backend.BackendResult) {
	if result == nil || result.Cleanup == nil {
		return
	}
	if err := result.Cleanup(); err != nil {
		logger.Log(context.Background(), slog.LevelWarn, "Backend cleanup failed", applog.FieldError, err)
	}
}

// NewMirror builds the sheet mirror worker for store from the Google settings.
func NewMirror(ctx context.Context, logger *applog.Logger, cfg *config.Config, store storage.LiveQuerier) (*worker.MirrorWorker, error) {
	if err := cfg.ValidateMirror(); err != nil {
		return nil, err
	}
	writer, err := gsheets.New(ctx, gsheets.Config{
		SpreadsheetID:      cfg.GoogleSpreadsheetID,
		SheetName:          cfg.GoogleSheetName,
		ServiceAccountJSON: cfg.GoogleServiceAccountJSON,
		ServiceAccountFile: cfg.GoogleServiceAccountFile,
	}, logger.WithComponent(applog.ComponentSheets).Slog())
	if err != nil {
		return nil, err
	}
	logger.Info("Sheet mirror configured",
		"spreadsheet_id", cfg.GoogleSpreadsheetID,
		"sheet", cfg.GoogleSheetName)
	return worker.NewMirrorWorker(store, writer, cfg.Collection,
		worker.WithLogger(logger.WithComponent(applog.ComponentWorker))), nil
}
