package view

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livespese/internal/core"
	"livespese/internal/storage"
	"livespese/internal/storage/memory"
)

// fakeStore records calls and lets tests fire subscription callbacks by hand.
type fakeStore struct {
	mu        sync.Mutex
	adds      []storage.Fields
	deletes   []string
	addErr    error
	deleteErr error
	subErr    error

	subscribed   int
	unsubscribed int
	collection   string
	orderField   string
	dir          storage.Direction
	onChange     storage.SnapshotFunc
	onError      storage.ErrorFunc
}

func (f *fakeStore) AddRecord(_ context.Context, collection string, fields storage.Fields) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return "", f.addErr
	}
	f.adds = append(f.adds, fields)
	return "new-id", nil
}

func (f *fakeStore) DeleteRecord(_ context.Context, collection, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deletes = append(f.deletes, id)
	return nil
}

func (f *fakeStore) SubscribeOrderedQuery(_ context.Context, collection, orderField string, dir storage.Direction,
	onChange storage.SnapshotFunc, onError storage.ErrorFunc) (storage.Unsubscribe, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		return nil, f.subErr
	}
	f.subscribed++
	f.collection, f.orderField, f.dir = collection, orderField, dir
	f.onChange, f.onError = onChange, onError
	return func() {
		f.mu.Lock()
		f.unsubscribed++
		f.mu.Unlock()
	}, nil
}

func (f *fakeStore) fire(docs ...storage.Document) {
	f.mu.Lock()
	cb := f.onChange
	f.mu.Unlock()
	cb(docs)
}

func (f *fakeStore) fail(err error) {
	f.mu.Lock()
	cb := f.onError
	f.mu.Unlock()
	cb(err)
}

func (f *fakeStore) calls() (adds, deletes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.adds), len(f.deletes)
}

func doc(id, name string, price any, at time.Time) storage.Document {
	return storage.Document{ID: id, Fields: storage.Fields{
		core.FieldName:      name,
		core.FieldPrice:     price,
		core.FieldCreatedAt: at,
	}}
}

var fixedNow = time.Date(2025, 4, 1, 10, 30, 0, 0, time.UTC)

func newStarted(t *testing.T) (*Controller, *fakeStore) {
	t.Helper()
	store := &fakeStore{}
	c := New(store, "items", WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(c.Stop)
	return c, store
}

func TestStartSubscribesOnceNewestFirst(t *testing.T) {
	c, store := newStarted(t)
	require.NoError(t, c.Start(context.Background()))

	assert.Equal(t, 1, store.subscribed)
	assert.Equal(t, "items", store.collection)
	assert.Equal(t, core.FieldCreatedAt, store.orderField)
	assert.Equal(t, storage.Descending, store.dir)
	assert.False(t, c.State().Loaded)
}

func TestAddRejectsEmptyName(t *testing.T) {
	for _, name := range []string{"", " ", "\t\n  "} {
		c, store := newStarted(t)
		c.EditDraft(core.Draft{Name: name, Price: "3"})

		err := c.Add(context.Background())
		require.ErrorIs(t, err, core.ErrEmptyName)

		assert.Equal(t, MsgEmptyName, c.State().Error)
		adds, _ := store.calls()
		assert.Zero(t, adds, "no write for name %q", name)
	}
}

func TestAddRejectsEmptyPrice(t *testing.T) {
	for _, price := range []string{"", "   "} {
		c, store := newStarted(t)
		c.EditName("Lunch")
		c.EditPrice(price)

		require.ErrorIs(t, c.Add(context.Background()), core.ErrEmptyPrice)
		assert.Equal(t, MsgEmptyPrice, c.State().Error)
		adds, _ := store.calls()
		assert.Zero(t, adds)
	}
}

func TestAddRejectsNonNumericPrice(t *testing.T) {
	hugePrice := "1" + strings.Repeat("0", 400)
	for _, price := range []string{"abc", "-1", "1e3", "NaN", "1.2.3", hugePrice, "12345678901234567.89"} {
		c, store := newStarted(t)
		c.EditDraft(core.Draft{Name: "Lunch", Price: price})

		require.ErrorIs(t, c.Add(context.Background()), core.ErrInvalidPrice, "price %q", price)
		assert.Equal(t, MsgInvalidPrice, c.State().Error)
		adds, _ := store.calls()
		assert.Zero(t, adds)
	}
}

func TestAddNameCheckedBeforePrice(t *testing.T) {
	c, _ := newStarted(t)
	c.EditDraft(core.Draft{Name: " ", Price: ""})

	require.ErrorIs(t, c.Add(context.Background()), core.ErrEmptyName)
	assert.Equal(t, MsgEmptyName, c.State().Error)
}

func TestAddWritesItemAndResetsDraft(t *testing.T) {
	c, store := newStarted(t)
	c.EditDraft(core.Draft{Name: "  Coffee ", Price: "3.5"})

	require.NoError(t, c.Add(context.Background()))

	require.Len(t, store.adds, 1)
	assert.Equal(t, storage.Fields{
		core.FieldName:      "Coffee",
		core.FieldPrice:     3.5,
		core.FieldCreatedAt: fixedNow,
	}, store.adds[0])
	assert.Equal(t, core.Draft{}, c.State().Draft)
	assert.Empty(t, c.State().Error)
	assert.Empty(t, c.State().Items, "list only changes through the subscription")
}

func TestAddClearsPreviousError(t *testing.T) {
	c, _ := newStarted(t)
	require.Error(t, c.Add(context.Background()))
	require.NotEmpty(t, c.State().Error)

	c.EditDraft(core.Draft{Name: "Tea", Price: "2"})
	require.NoError(t, c.Add(context.Background()))
	assert.Empty(t, c.State().Error)
}

func TestAddFailureKeepsDraft(t *testing.T) {
	c, store := newStarted(t)
	store.addErr = errors.New("unavailable")
	c.EditDraft(core.Draft{Name: "Coffee", Price: "3.5"})

	err := c.Add(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, core.ErrInvalidPrice)

	st := c.State()
	assert.Equal(t, MsgAddFailed, st.Error)
	assert.Equal(t, core.Draft{Name: "Coffee", Price: "3.5"}, st.Draft)
}

func TestSnapshotReplacesItemsAndTotal(t *testing.T) {
	c, store := newStarted(t)

	store.fire(
		doc("b", "B", 2, fixedNow.Add(time.Minute)),
		doc("a", "A", 1.005, fixedNow),
	)

	st := c.State()
	require.Len(t, st.Items, 2)
	assert.Equal(t, "b", st.Items[0].ID)
	assert.Equal(t, "a", st.Items[1].ID)
	assert.Equal(t, "3.01", st.TotalText())
	assert.True(t, st.ShowTotal())
	assert.True(t, st.Loaded)

	store.fire(doc("c", "C", "4.25", fixedNow))
	st = c.State()
	require.Len(t, st.Items, 1)
	assert.Equal(t, "c", st.Items[0].ID)
	assert.Equal(t, "4.25", st.TotalText())
}

func TestSameSnapshotTwiceIsIdempotent(t *testing.T) {
	c, store := newStarted(t)
	docs := []storage.Document{
		doc("x", "X", 1.1, fixedNow),
		doc("y", "Y", 2.2, fixedNow.Add(-time.Hour)),
	}

	store.fire(docs...)
	first := c.State()
	store.fire(docs...)
	second := c.State()

	assert.Equal(t, first.Items, second.Items)
	assert.Equal(t, first.TotalText(), second.TotalText())
	assert.Equal(t, "3.30", second.TotalText())
}

func TestEmptySnapshotHidesTotal(t *testing.T) {
	c, store := newStarted(t)
	store.fire(doc("a", "A", 1, fixedNow))
	store.fire()

	st := c.State()
	assert.Empty(t, st.Items)
	assert.False(t, st.ShowTotal())
	assert.Equal(t, "0.00", st.TotalText())
}

func TestUndecodablePriceShownAsZero(t *testing.T) {
	c, store := newStarted(t)
	store.fire(doc("bad", "Broken", "not-a-number", fixedNow), doc("ok", "Fine", 5, fixedNow))

	st := c.State()
	require.Len(t, st.Items, 2)
	assert.True(t, st.Items[0].Price.Equal(decimal.Zero))
	assert.Equal(t, "5.00", st.TotalText())
}

func TestSubscriptionErrorRaisesAlertAndKeepsItems(t *testing.T) {
	c, store := newStarted(t)
	store.fire(doc("a", "A", 1, fixedNow))
	c.EditDraft(core.Draft{Name: "n", Price: ""})
	_ = c.Add(context.Background())
	before := c.State()

	store.fail(errors.New("permission denied"))

	st := c.State()
	assert.Equal(t, AlertSubscriptionFailed, st.Alert)
	assert.Equal(t, before.Error, st.Error, "inline error is a separate channel")
	assert.Equal(t, before.Items, st.Items)

	c.DismissAlert()
	assert.Empty(t, c.State().Alert)
}

func TestDeleteWithoutConfirmationDoesNothing(t *testing.T) {
	c, store := newStarted(t)
	store.fire(doc("a", "A", 1, fixedNow))
	before := c.State()

	require.ErrorIs(t, c.ConfirmDelete(context.Background(), "a"), ErrNotConfirmed)

	_, deletes := store.calls()
	assert.Zero(t, deletes)
	assert.Equal(t, before, c.State())
}

func TestDeleteDeclinedDoesNothing(t *testing.T) {
	c, store := newStarted(t)
	store.fire(doc("a", "A", 1, fixedNow))
	before := c.State()

	require.NoError(t, c.RequestDelete("a"))
	assert.Equal(t, "a", c.State().PendingDelete)
	c.CancelDelete()

	_, deletes := store.calls()
	assert.Zero(t, deletes)
	assert.Equal(t, before, c.State())
}

func TestDeleteConfirmed(t *testing.T) {
	c, store := newStarted(t)
	store.fire(doc("a", "A", 1, fixedNow), doc("b", "B", 2, fixedNow))

	require.NoError(t, c.RequestDelete("a"))
	require.ErrorIs(t, c.ConfirmDelete(context.Background(), "b"), ErrNotConfirmed, "confirmation is per item")
	require.NoError(t, c.ConfirmDelete(context.Background(), "a"))

	assert.Equal(t, []string{"a"}, store.deletes)
	st := c.State()
	assert.Empty(t, st.PendingDelete)
	assert.Len(t, st.Items, 2, "row stays until the next snapshot")

	store.fire(doc("b", "B", 2, fixedNow))
	assert.Len(t, c.State().Items, 1)
}

func TestDeleteFailureSetsError(t *testing.T) {
	c, store := newStarted(t)
	store.deleteErr = errors.New("unavailable")
	store.fire(doc("a", "A", 1, fixedNow))

	require.NoError(t, c.RequestDelete("a"))
	require.Error(t, c.ConfirmDelete(context.Background(), "a"))

	st := c.State()
	assert.Equal(t, MsgDeleteFailed, st.Error)
	assert.Len(t, st.Items, 1)
}

func TestRequestDeleteUnknownItem(t *testing.T) {
	c, _ := newStarted(t)
	require.ErrorIs(t, c.RequestDelete("ghost"), ErrUnknownItem)
	assert.Empty(t, c.State().PendingDelete)
}

func TestPendingDeleteClearedWhenItemVanishes(t *testing.T) {
	c, store := newStarted(t)
	store.fire(doc("a", "A", 1, fixedNow))
	require.NoError(t, c.RequestDelete("a"))

	store.fire()
	assert.Empty(t, c.State().PendingDelete)
}

func TestStopReleasesSubscriptionAndIgnoresLateSnapshots(t *testing.T) {
	store := &fakeStore{}
	c := New(store, "items")
	require.NoError(t, c.Start(context.Background()))
	watch, _ := c.Watch()

	c.Stop()
	c.Stop()

	assert.Equal(t, 1, store.unsubscribed)
	store.fire(doc("late", "Late", 1, fixedNow))
	assert.Empty(t, c.State().Items)

	_, open := <-watch
	assert.False(t, open, "watch channels close on stop")
	assert.ErrorIs(t, c.Start(context.Background()), ErrStopped)
}

func TestStartFailureRaisesAlert(t *testing.T) {
	store := &fakeStore{subErr: errors.New("offline")}
	c := New(store, "items")
	defer c.Stop()

	require.Error(t, c.Start(context.Background()))
	assert.Equal(t, AlertSubscriptionFailed, c.State().Alert)
}

func TestWatchSignalsChanges(t *testing.T) {
	c, _ := newStarted(t)
	watch, cancel := c.Watch()
	defer cancel()

	c.EditName("x")
	select {
	case <-watch:
	case <-time.After(time.Second):
		t.Fatal("no change signal")
	}
	assert.Equal(t, "x", c.State().Draft.Name)
}

func TestControllerWithMemoryStore(t *testing.T) {
	store := memory.New()
	defer store.Close()

	clock := fixedNow
	c := New(store, "items", WithClock(func() time.Time { clock = clock.Add(time.Second); return clock }))
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	for _, d := range []core.Draft{{Name: "A", Price: "1.005"}, {Name: "B", Price: "2"}} {
		c.EditDraft(d)
		require.NoError(t, c.Add(context.Background()))
	}

	require.Eventually(t, func() bool { return len(c.State().Items) == 2 }, 2*time.Second, 10*time.Millisecond)
	st := c.State()
	assert.Equal(t, "B", st.Items[0].Name)
	assert.Equal(t, "A", st.Items[1].Name)
	assert.Equal(t, "3.01", st.TotalText())

	require.NoError(t, c.RequestDelete(st.Items[0].ID))
	require.NoError(t, c.ConfirmDelete(context.Background(), st.Items[0].ID))
	require.Eventually(t, func() bool { return len(c.State().Items) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "1.01", c.State().TotalText())
}
