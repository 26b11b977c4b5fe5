// Package postgres stores documents as JSONB rows. A trigger publishes every
// change with pg_notify and a pq.Listener turns those notifications into live
// query refreshes, so writes from any process reach every subscriber.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"livespese/internal/storage"
)

// Channel is the LISTEN/NOTIFY channel the schema trigger publishes on.
const Channel = "documents_changed"

const pingInterval = 90 * time.Second

type Store struct {
	db       *sql.DB
	hub      *storage.Hub
	listener *pq.Listener
	logger   *slog.Logger
	newID    func() string
	// serverTime is the field stamped with the database clock on insert.
	serverTime string

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

var _ storage.DocumentStore = (*Store)(nil)

func NewStore(dsn string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres database: %w", err)
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
		done:   make(chan struct{}),
	}
	s.hub = storage.NewHub(s.query, logger)

	s.listener = pq.NewListener(dsn, 10*time.Second, time.Minute, s.onListenerEvent)
	if err := s.listener.Listen(Channel); err != nil {
		s.listener.Close()
		db.Close()
		return nil, fmt.Errorf("listen on %s: %w", Channel, err)
	}

	s.wg.Add(1)
	go s.listen()

	return s, nil
}

func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.hub.Close()
		if lerr := s.listener.Close(); lerr != nil {
			s.logger.Warn("Failed to close postgres listener", "error", lerr)
		}
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// insertStamped overwrites one field with the database clock, formatted like
// storage.EncodeFields formats times so text ordering still matches time ordering.
const insertStamped = `INSERT INTO documents (id, collection, data)
VALUES ($1, $2, jsonb_set($3::jsonb, ARRAY[$4::text],
	to_jsonb(to_char(clock_timestamp() AT TIME ZONE 'UTC', 'YYYY-MM-DD"T"HH24:MI:SS.US"000Z"'))))`

// UseServerTimestamp makes AddRecord stamp field with the database clock, so
// adds from several processes order by one clock. Call it before serving traffic.
func (s *Store) UseServerTimestamp(field string) error {
	if err := storage.ValidateName(field); err != nil {
		return err
	}
	s.serverTime = field
	return nil
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

	query, args := `INSERT INTO documents (id, collection, data) VALUES ($1, $2, $3)`, []any{id, collection, string(data)}
	if _, ok := fields[s.serverTime]; s.serverTime != "" && ok {
		query, args = insertStamped, append(args, s.serverTime)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return "", fmt.Errorf("insert document: %w", err)
	}
	s.logger.DebugContext(ctx, "Document saved to Postgres", "collection", collection, "id", id)
	return id, nil
}

func (s *Store) DeleteRecord(ctx context.Context, collection, id string) error {
	if err := storage.ValidateName(collection); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

func (s *Store) SubscribeOrderedQuery(ctx context.Context, collection, orderField string, dir storage.Direction,
	onChange storage.SnapshotFunc, onError storage.ErrorFunc) (storage.Unsubscribe, error) {
	return s.hub.Subscribe(ctx, collection, orderField, dir, onChange, onError)
}

func (s *Store) listen() {
	defer s.wg.Done()
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case n, ok := <-s.listener.Notify:
			if !ok {
				return
			}
			if n == nil {
				// pq sends nil after re-establishing the connection
				s.hub.NotifyAll()
				continue
			}
			s.hub.Notify(n.Extra)
		case <-ticker.C:
			go func() {
				if err := s.listener.Ping(); err != nil {
					s.logger.Warn("Postgres listener ping failed", "error", err)
				}
			}()
		}
	}
}

func (s *Store) onListenerEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventConnected:
		s.logger.Info("Postgres listener connected", "channel", Channel)
	case pq.ListenerEventDisconnected:
		s.logger.Warn("Postgres listener disconnected", "channel", Channel, "error", err)
	case pq.ListenerEventReconnected:
		s.logger.Info("Postgres listener reconnected", "channel", Channel)
	case pq.ListenerEventConnectionAttemptFailed:
		s.logger.Error("Postgres listener reconnect failed", "channel", Channel, "error", err)
		s.hub.Fail(fmt.Errorf("postgres listener: %w", err))
	}
}

func (s *Store) query(ctx context.Context, collection, orderField string, dir storage.Direction) ([]storage.Document, error) {
	order := "ASC"
	if dir == storage.Descending {
		order = "DESC"
	}
	q := fmt.Sprintf(`SELECT id, data FROM documents
		WHERE collection = $1
		ORDER BY data -> $2 %[1]s, created_at %[1]s, id %[1]s`, order)

	rows, err := s.db.QueryContext(ctx, q, collection, orderField)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var docs []storage.Document
	for rows.Next() {
		var (
			id   string
			data []byte
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		fields, err := storage.DecodeFields(data)
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
