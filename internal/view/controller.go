package view

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"livespese/internal/core"
	applog "livespese/internal/log"
	"livespese/internal/storage"
)

var (
	ErrStopped      = errors.New("view controller stopped")
	ErrUnknownItem  = errors.New("item not in the current list")
	ErrNotConfirmed = errors.New("delete was not requested for this item")
)

// Controller owns the state of one view. Every transition goes through Reduce
// under the controller's lock; store calls are made without holding it.
type Controller struct {
	store      storage.DocumentStore
	collection string
	logger     *applog.Logger
	events     *applog.StructuredLogger
	now        func() time.Time

	mu       sync.Mutex
	state    State
	started  bool
	stopped  bool
	unsub    storage.Unsubscribe
	cancel   context.CancelFunc
	watchers map[uint64]chan struct{}
	nextID   uint64
}

type Option func(*Controller)

func WithLogger(l *applog.Logger) Option {
	return func(c *Controller) { c.logger = l.WithComponent(applog.ComponentView) }
}

// WithClock overrides the time source used for createdAt.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

func New(store storage.DocumentStore, collection string, opts ...Option) *Controller {
	c := &Controller{
		store:      store,
		collection: collection,
		now:        time.Now,
		state:      State{Items: []core.Item{}},
		watchers:   make(map[uint64]chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = applog.Default().WithComponent(applog.ComponentView)
	}
	c.events = applog.NewStructuredLogger(c.logger)
	return c
}

// Start opens the live subscription on the collection, newest first. ctx
// bounds the subscription's lifetime. Calling Start again is a no-op.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrStopped
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.mu.Unlock()

	subCtx, cancel := context.WithCancel(ctx)
	unsub, err := c.store.SubscribeOrderedQuery(subCtx, c.collection, core.FieldCreatedAt, storage.Descending,
		c.ApplySnapshot, c.subscriptionFailed)
	if err != nil {
		cancel()
		c.events.LogError(ctx, "Failed to subscribe to items", err, applog.OpSubscribe,
			applog.NewFields().WithItem(c.collection, "", ""))
		c.dispatch(RaiseAlert{Message: AlertSubscriptionFailed})
		c.mu.Lock()
		c.started = false
		c.mu.Unlock()
		return fmt.Errorf("subscribe to %s: %w", c.collection, err)
	}

	c.mu.Lock()
	if c.stopped {
		// Stop raced with the subscribe call
		c.mu.Unlock()
		unsub()
		cancel()
		return ErrStopped
	}
	c.unsub = unsub
	c.cancel = cancel
	c.mu.Unlock()

	c.logger.DebugContext(ctx, "Subscribed to items", applog.FieldCollection, c.collection)
	return nil
}

// Stop releases the subscription and closes all watch channels. Snapshots
// delivered afterwards are ignored. Stop is idempotent.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	unsub, cancel := c.unsub, c.cancel
	c.unsub, c.cancel = nil, nil
	for id, ch := range c.watchers {
		close(ch)
		delete(c.watchers, id)
	}
	c.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if cancel != nil {
		cancel()
	}
}

// State returns the current view state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Watch returns a channel that receives a signal after state changes. Bursts
// of changes may be coalesced into one signal. The channel is closed when the
// controller stops or cancel is called.
func (c *Controller) Watch() (<-chan struct{}, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan struct{}, 1)
	if c.stopped {
		close(ch)
		return ch, func() {}
	}
	c.nextID++
	id := c.nextID
	c.watchers[id] = ch

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if w, ok := c.watchers[id]; ok {
			close(w)
			delete(c.watchers, id)
		}
	}
}

// ApplySnapshot replaces the list with docs. It is the subscription callback.
func (c *Controller) ApplySnapshot(docs []storage.Document) {
	items, err := DecodeItems(docs)
	if err != nil {
		c.logger.Warn("Stored items could not be fully decoded",
			applog.FieldCollection, c.collection,
			applog.FieldError, err)
	}
	c.dispatch(ReplaceItems{Items: items})
}

func (c *Controller) subscriptionFailed(err error) {
	c.events.LogError(context.Background(), "Item subscription failed", err, applog.OpSubscribe,
		applog.NewFields().WithItem(c.collection, "", ""))
	c.dispatch(RaiseAlert{Message: AlertSubscriptionFailed})
}

func (c *Controller) EditName(v string) {
	c.dispatch(EditName{Value: v})
}

func (c *Controller) EditPrice(v string) {
	c.dispatch(EditPrice{Value: v})
}

// EditDraft replaces both draft fields at once.
func (c *Controller) EditDraft(d core.Draft) {
	c.dispatch(EditName{Value: d.Name}, EditPrice{Value: d.Price})
}

// Add validates the draft and writes it to the store. Validation failures
// return one of the core validation errors and make no store call.
func (c *Controller) Add(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrStopped
	}
	c.apply(ClearError{})
	item, err := c.state.Draft.Validate()
	if err != nil {
		c.apply(SetError{Message: validationMessage(err)})
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	id, err := c.store.AddRecord(ctx, c.collection, item.Fields(c.now().UTC()))
	if err != nil {
		c.events.LogError(ctx, "Failed to add item", err, applog.OpAdd,
			applog.NewFields().WithItem(c.collection, "", item.Name))
		c.dispatch(SetError{Message: MsgAddFailed})
		return fmt.Errorf("add item: %w", err)
	}

	c.events.LogItemAdded(ctx, c.collection, id, item.Name, core.FormatAmount(item.Price))
	c.dispatch(ResetDraft{})
	return nil
}

// RequestDelete asks for confirmation before id is deleted. Nothing is sent to
// the store until ConfirmDelete.
func (c *Controller) RequestDelete(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, it := range c.state.Items {
		if it.ID == id {
			c.apply(RequestDelete{ID: id})
			return nil
		}
	}
	return ErrUnknownItem
}

// CancelDelete declines the pending confirmation. No other state changes.
func (c *Controller) CancelDelete() {
	c.dispatch(CancelDelete{})
}

// ConfirmDelete deletes id if it is the item awaiting confirmation. The list
// itself only changes when the subscription delivers the next snapshot.
func (c *Controller) ConfirmDelete(ctx context.Context, id string) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrStopped
	}
	if id == "" || c.state.PendingDelete != id {
		c.mu.Unlock()
		return ErrNotConfirmed
	}
	c.apply(CancelDelete{})
	c.apply(ClearError{})
	c.mu.Unlock()

	if err := c.store.DeleteRecord(ctx, c.collection, id); err != nil {
		c.events.LogError(ctx, "Failed to delete item", err, applog.OpDelete,
			applog.NewFields().WithItem(c.collection, id, ""))
		c.dispatch(SetError{Message: MsgDeleteFailed})
		return fmt.Errorf("delete item %s: %w", id, err)
	}

	c.events.LogItemDeleted(ctx, c.collection, id)
	return nil
}

func (c *Controller) DismissAlert() {
	c.dispatch(DismissAlert{})
}

func (c *Controller) dispatch(actions ...Action) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	for _, a := range actions {
		c.apply(a)
	}
}

// apply must be called with c.mu held.
func (c *Controller) apply(a Action) {
	c.state = Reduce(c.state, a)
	for _, ch := range c.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func validationMessage(err error) string {
	switch {
	case errors.Is(err, core.ErrEmptyName):
		return MsgEmptyName
	case errors.Is(err, core.ErrEmptyPrice):
		return MsgEmptyPrice
	default:
		return MsgInvalidPrice
	}
}
