// Package sqlite stores documents as JSON rows in a local SQLite database.
//
// Live queries are driven by the store's own writes. When several processes
// share the database file, a ChangePublisher (AMQP in production) carries
// change events between them and NotifyExternal feeds them back in.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"livespese/internal/storage"

	_ "modernc.org/sqlite"
)

// ChangePublisher announces writes to other processes.
type ChangePublisher interface {
	PublishChange(ctx context.Context, collection, op, id string) error
}

type Store struct {
	db        *sql.DB
	hub       *storage.Hub
	publisher ChangePublisher
	logger    *slog.Logger
	newID     func() string
}

var _ storage.DocumentStore = (*Store)(nil)

func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dsn); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
		newID:  uuid.NewString,
	}
	s.hub = storage.NewHub(s.query, logger)
	return s, nil
}

// SetPublisher enables cross-process change events. Call before serving traffic.
func (s *Store) SetPublisher(p ChangePublisher) {
	s.publisher = p
}

// NotifyExternal refreshes live queries after another process changed collection.
func (s *Store) NotifyExternal(collection string) {
	s.hub.Notify(collection)
}

func (s *Store) Close() error {
	s.hub.Close()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) AddRecord(ctx context.Context, collection string, fields storage.Fields) (string, error) {
	if err := storage.ValidateName(collection); err != nil {
		return "", err
	}
	data, err := storage.EncodeFields(fields)
	if err != nil {
		return "", err
	}

	id := s.newID()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, collection, data) VALUES (?, ?, ?)`,
		id, collection, string(data)); err != nil {
		return "", fmt.Errorf("insert document: %w", err)
	}

	s.logger.DebugContext(ctx, "Document saved to SQLite", "collection", collection, "id", id)

	s.changed(ctx, collection, "add", id)
	return id, nil
}

func (s *Store) DeleteRecord(ctx context.Context, collection, id string) error {
	if err := storage.ValidateName(collection); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil
	}

	s.changed(ctx, collection, "delete", id)
	return nil
}

func (s *Store) SubscribeOrderedQuery(ctx context.Context, collection, orderField string, dir storage.Direction,
	onChange storage.SnapshotFunc, onError storage.ErrorFunc) (storage.Unsubscribe, error) {
	return s.hub.Subscribe(ctx, collection, orderField, dir, onChange, onError)
}

func (s *Store) changed(ctx context.Context, collection, op, id string) {
	s.hub.Notify(collection)
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishChange(ctx, collection, op, id); err != nil {
		// The write itself succeeded; other processes catch up on their next change.
		s.logger.WarnContext(ctx, "Failed to publish change event",
			"collection", collection, "op", op, "id", id, "error", err)
	}
}

func (s *Store) query(ctx context.Context, collection, orderField string, dir storage.Direction) ([]storage.Document, error) {
	order := "ASC"
	if dir == storage.Descending {
		order = "DESC"
	}
	// orderField is validated as an identifier by the hub before it reaches here
	q := fmt.Sprintf(`SELECT id, data FROM documents
		WHERE collection = ?
		ORDER BY json_extract(data, ?) %[1]s, rowid %[1]s`, order)

	rows, err := s.db.QueryContext(ctx, q, collection, "$."+orderField)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var docs []storage.Document
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		fields, err := storage.DecodeFields([]byte(data))
		if err != nil {
			return nil, fmt.Errorf("document %s: %w", id, err)
		}
		docs = append(docs, storage.Document{ID: id, Fields: fields})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}
