// Package firestore backs the document store with Cloud Firestore, whose
// query snapshots provide live updates natively.
package firestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"livespese/internal/storage"
)

type Store struct {
	client *firestore.Client
	logger *slog.Logger
	// serverTime lists fields Firestore stamps with its commit time.
	serverTime map[string]bool

	mu      sync.Mutex
	cancels map[uint64]context.CancelFunc
	nextID  uint64
	wg      sync.WaitGroup
}

var _ storage.DocumentStore = (*Store)(nil)

// NewStore connects to projectID. With an empty credentialsFile the client uses
// application default credentials, or the emulator when FIRESTORE_EMULATOR_HOST is set.
func NewStore(ctx context.Context, projectID, credentialsFile string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if projectID == "" {
		return nil, errors.New("firestore project id is required")
	}

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create firestore client: %w", err)
	}

	return &Store{
		client:  client,
		logger:  logger,
		cancels: make(map[uint64]context.CancelFunc),
	}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	for id, cancel := range s.cancels {
		cancel()
		delete(s.cancels, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
	return s.client.Close()
}

// UseServerTimestamp makes AddRecord replace field with the server's commit
// time, so adds from several processes order by one clock. Call it before
// serving traffic.
func (s *Store) UseServerTimestamp(field string) error {
	if err := storage.ValidateName(field); err != nil {
		return err
	}
	if s.serverTime == nil {
		s.serverTime = make(map[string]bool)
	}
	s.serverTime[field] = true
	return nil
}

func (s *Store) AddRecord(ctx context.Context, collection string, fields storage.Fields) (string, error) {
	if err := storage.ValidateName(collection); err != nil {
		return "", err
	}
	ref, _, err := s.client.Collection(collection).Add(ctx, toFirestore(fields, s.serverTime))
	if err != nil {
		return "", fmt.Errorf("add document: %w", err)
	}
	s.logger.DebugContext(ctx, "Document saved to Firestore", "collection", collection, "id", ref.ID)
	return ref.ID, nil
}

func (s *Store) DeleteRecord(ctx context.Context, collection, id string) error {
	if err := storage.ValidateName(collection); err != nil {
		return err
	}
	if id == "" {
		return nil
	}
	if _, err := s.client.Collection(collection).Doc(id).Delete(ctx); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

func (s *Store) SubscribeOrderedQuery(ctx context.Context, collection, orderField string, dir storage.Direction,
	onChange storage.SnapshotFunc, onError storage.ErrorFunc) (storage.Unsubscribe, error) {
	if err := storage.ValidateName(collection, orderField); err != nil {
		return nil, err
	}
	if onChange == nil {
		return nil, errors.New("onChange callback is required")
	}

	fsDir := firestore.Asc
	if dir == storage.Descending {
		fsDir = firestore.Desc
	}

	subCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.cancels[id] = cancel
	s.mu.Unlock()

	it := s.client.Collection(collection).OrderBy(orderField, fsDir).Snapshots(subCtx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer it.Stop()
		defer s.release(id)

		for {
			snap, err := it.Next()
			if err != nil {
				if subCtx.Err() != nil || errors.Is(err, iterator.Done) || status.Code(err) == codes.Canceled {
					return
				}
				s.logger.Error("Firestore snapshot listener failed", "collection", collection, "error", err)
				if onError != nil {
					onError(err)
				}
				return
			}

			refs, err := snap.Documents.GetAll()
			if err != nil {
				if subCtx.Err() != nil {
					return
				}
				s.logger.Error("Failed to read Firestore snapshot", "collection", collection, "error", err)
				if onError != nil {
					onError(err)
				}
				return
			}

			docs := make([]storage.Document, 0, len(refs))
			for _, d := range refs {
				docs = append(docs, storage.Document{ID: d.Ref.ID, Fields: storage.Fields(d.Data())})
			}
			if subCtx.Err() != nil {
				return
			}
			onChange(docs)
		}
	}()

	return func() { s.release(id) }, nil
}

func (s *Store) release(id uint64) {
	s.mu.Lock()
	cancel, ok := s.cancels[id]
	delete(s.cancels, id)
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

// toFirestore converts values Firestore cannot encode on its own and swaps
// server-stamped fields for the commit-time sentinel.
func toFirestore(fields storage.Fields, serverTime map[string]bool) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if serverTime[k] {
			out[k] = firestore.ServerTimestamp
			continue
		}
		switch val := v.(type) {
		case decimal.Decimal:
			out[k] = val.InexactFloat64()
		case json.Number:
			if f, err := val.Float64(); err == nil {
				out[k] = f
			} else {
				out[k] = val.String()
			}
		default:
			out[k] = v
		}
	}
	return out
}
