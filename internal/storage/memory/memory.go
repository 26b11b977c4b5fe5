// Package memory is an in-process document store with live queries. It backs
// local development and tests; data is lost on restart.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"livespese/internal/storage"
)

type Store struct {
	mu          sync.Mutex
	collections map[string]map[string]storage.Document
	// insertion sequence breaks ordering ties deterministically
	seq   map[string]int64
	next  int64
	hub   *storage.Hub
	newID func() string
}

var _ storage.DocumentStore = (*Store)(nil)

func New() *Store {
	s := &Store{
		collections: make(map[string]map[string]storage.Document),
		seq:         make(map[string]int64),
		newID:       uuid.NewString,
	}
	s.hub = storage.NewHub(s.query, nil)
	return s
}

// AddRecord stores a copy of fields under a fresh identifier.
func (s *Store) AddRecord(ctx context.Context, collection string, fields storage.Fields) (string, error) {
	if err := storage.ValidateName(collection); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	id := s.newID()
	docs, ok := s.collections[collection]
	if !ok {
		docs = make(map[string]storage.Document)
		s.collections[collection] = docs
	}
	docs[id] = storage.Document{ID: id, Fields: fields.Clone()}
	s.next++
	s.seq[id] = s.next
	s.mu.Unlock()

	s.hub.Notify(collection)
	return id, nil
}

// DeleteRecord removes a document; missing documents are not an error.
func (s *Store) DeleteRecord(ctx context.Context, collection, id string) error {
	if err := storage.ValidateName(collection); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	_, existed := s.collections[collection][id]
	delete(s.collections[collection], id)
	delete(s.seq, id)
	s.mu.Unlock()

	if existed {
		s.hub.Notify(collection)
	}
	return nil
}

func (s *Store) SubscribeOrderedQuery(ctx context.Context, collection, orderField string, dir storage.Direction,
	onChange storage.SnapshotFunc, onError storage.ErrorFunc) (storage.Unsubscribe, error) {
	return s.hub.Subscribe(ctx, collection, orderField, dir, onChange, onError)
}

// Close stops all live queries.
func (s *Store) Close() error {
	s.hub.Close()
	return nil
}

func (s *Store) query(_ context.Context, collection, orderField string, dir storage.Direction) ([]storage.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]storage.Document, 0, len(s.collections[collection]))
	for _, doc := range s.collections[collection] {
		out = append(out, storage.Document{ID: doc.ID, Fields: doc.Fields.Clone()})
	}
	sort.SliceStable(out, func(i, j int) bool {
		c := compareValues(out[i].Fields[orderField], out[j].Fields[orderField])
		if c == 0 {
			c = compareInt(s.seq[out[i].ID], s.seq[out[j].ID])
		}
		if dir == storage.Descending {
			return c > 0
		}
		return c < 0
	})
	return out, nil
}

// compareValues orders missing values first, then numbers, times and strings.
func compareValues(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return compareInt(int64(ra), int64(rb))
	}
	switch ra {
	case 1:
		return toDecimal(a).Cmp(toDecimal(b))
	case 2:
		ta, tb := a.(time.Time), b.(time.Time)
		switch {
		case ta.Before(tb):
			return -1
		case ta.After(tb):
			return 1
		}
		return 0
	case 3:
		return strings.Compare(a.(string), b.(string))
	}
	return 0
}

func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case int, int64, float64, float32, json.Number, decimal.Decimal:
		return 1
	case time.Time:
		return 2
	case string:
		return 3
	default:
		return 4
	}
}

func toDecimal(v any) decimal.Decimal {
	switch n := v.(type) {
	case int:
		return decimal.NewFromInt(int64(n))
	case int64:
		return decimal.NewFromInt(n)
	case float64:
		return decimal.NewFromFloat(n)
	case float32:
		return decimal.NewFromFloat32(n)
	case json.Number:
		d, _ := decimal.NewFromString(n.String())
		return d
	case decimal.Decimal:
		return n
	}
	return decimal.Zero
}

func compareInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
