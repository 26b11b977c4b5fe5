package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livespese/internal/storage"
)

func subscribe(t *testing.T, s *Store) (<-chan []storage.Document, storage.Unsubscribe) {
	t.Helper()
	ch := make(chan []storage.Document, 16)
	unsub, err := s.SubscribeOrderedQuery(context.Background(), "items", "createdAt", storage.Descending,
		func(docs []storage.Document) { ch <- docs },
		func(err error) { t.Errorf("unexpected subscription error: %v", err) })
	require.NoError(t, err)
	return ch, unsub
}

func next(t *testing.T, ch <-chan []storage.Document) []storage.Document {
	t.Helper()
	select {
	case docs := <-ch:
		return docs
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return nil
	}
}

func TestMemoryStoreLiveOrderedQuery(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	ch, unsub := subscribe(t, s)
	defer unsub()
	assert.Empty(t, next(t, ch))

	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	oldID, err := s.AddRecord(ctx, "items", storage.Fields{"name": "old", "price": 1.0, "createdAt": base})
	require.NoError(t, err)
	assert.Len(t, next(t, ch), 1)

	newID, err := s.AddRecord(ctx, "items", storage.Fields{"name": "new", "price": 2.0, "createdAt": base.Add(time.Minute)})
	require.NoError(t, err)
	docs := next(t, ch)
	require.Len(t, docs, 2)
	assert.Equal(t, newID, docs[0].ID)
	assert.Equal(t, oldID, docs[1].ID)

	require.NoError(t, s.DeleteRecord(ctx, "items", newID))
	docs = next(t, ch)
	require.Len(t, docs, 1)
	assert.Equal(t, oldID, docs[0].ID)

	require.NoError(t, s.DeleteRecord(ctx, "items", "missing"))
}

func TestMemoryStoreIsolatesStoredFields(t *testing.T) {
	s := New()
	defer s.Close()

	fields := storage.Fields{"name": "a", "createdAt": time.Now()}
	_, err := s.AddRecord(context.Background(), "items", fields)
	require.NoError(t, err)
	fields["name"] = "mutated"

	ch, unsub := subscribe(t, s)
	defer unsub()
	docs := next(t, ch)
	require.Len(t, docs, 1)
	assert.Equal(t, "a", docs[0].Fields["name"])
}

func TestMemoryStoreRejectsBadCollection(t *testing.T) {
	s := New()
	defer s.Close()
	_, err := s.AddRecord(context.Background(), "bad name", storage.Fields{})
	assert.ErrorIs(t, err, storage.ErrInvalidName)
}

func TestCompareValues(t *testing.T) {
	now := time.Now()
	assert.Equal(t, -1, compareValues(nil, 1))
	assert.Equal(t, -1, compareValues(1, 2.5))
	assert.Equal(t, 1, compareValues(now.Add(time.Second), now))
	assert.Equal(t, 0, compareValues("a", "a"))
	assert.Equal(t, -1, compareValues(3, now))
}
