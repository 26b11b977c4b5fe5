package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"livespese/internal/amqp"
	"livespese/internal/core"
	"livespese/internal/storage/firestore"
	"livespese/internal/storage/memory"
	"livespese/internal/storage/postgres"
	"livespese/internal/storage/sqlite"
)

type DefaultFactory struct {
	logger *slog.Logger
}

func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{logger: logger}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case MemoryBackend:
		return f.createMemoryBackend()
	case SQLiteBackend:
		return f.createSQLiteBackend(ctx, config)
	case PostgresBackend:
		return f.createPostgresBackend(config)
	case FirestoreBackend:
		return f.createFirestoreBackend(ctx, config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createMemoryBackend() (*BackendResult, error) {
	store := memory.New()
	f.logger.Info("Initialized memory backend")
	return &BackendResult{Store: store, Cleanup: store.Close}, nil
}

func (f *DefaultFactory) createSQLiteBackend(ctx context.Context, config Config) (*BackendResult, error) {
	store, err := sqlite.NewStore(config.SQLiteDBPath, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite store: %w", err)
	}

	result := &BackendResult{Store: store, Cleanup: store.Close, Ping: store.Ping}

	if config.AMQPURL == "" {
		f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath, "amqp_enabled", false)
		return result, nil
	}

	client, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, f.logger)
	if err != nil {
		// Local live updates still work; only other processes' writes go unseen
		f.logger.Warn("Failed to initialize AMQP client, continuing without change events", "error", err)
		return result, nil
	}
	store.SetPublisher(client)

	consumeCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g, gctx := errgroup.WithContext(consumeCtx)
	g.Go(func() error {
		return client.ConsumeChanges(gctx, func(ev *amqp.ChangeEvent) error {
			store.NotifyExternal(ev.Collection)
			return nil
		})
	})

	result.Cleanup = func() error {
		cancel()
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			f.logger.Warn("Change consumer stopped with error", "error", err)
		}
		return errors.Join(client.Close(), store.Close())
	}

	f.logger.Info("Initialized SQLite backend",
		"db_path", config.SQLiteDBPath,
		"amqp_enabled", true,
		"exchange", config.AMQPExchange)
	return result, nil
}

func (f *DefaultFactory) createPostgresBackend(config Config) (*BackendResult, error) {
	store, err := postgres.NewStore(config.PostgresDSN, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Postgres store: %w", err)
	}
	if err := store.UseServerTimestamp(core.FieldCreatedAt); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("configure Postgres server timestamps: %w", err)
	}
	f.logger.Info("Initialized Postgres backend", "channel", postgres.Channel)
	return &BackendResult{Store: store, Cleanup: store.Close, Ping: store.Ping}, nil
}

func (f *DefaultFactory) createFirestoreBackend(ctx context.Context, config Config) (*BackendResult, error) {
	store, err := firestore.NewStore(ctx, config.FirestoreProjectID, config.FirestoreCredentialsFile, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firestore store: %w", err)
	}
	if err := store.UseServerTimestamp(core.FieldCreatedAt); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("configure Firestore server timestamps: %w", err)
	}
	f.logger.Info("Initialized Firestore backend", "project_id", config.FirestoreProjectID)
	return &BackendResult{Store: store, Cleanup: store.Close}, nil
}
