package storage

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Loader runs an ordered query against a backend and returns the full result set.
type Loader func(ctx context.Context, collection, orderField string, dir Direction) ([]Document, error)

// Hub turns "collection changed" signals into full-snapshot deliveries for
// backends that have no native live queries.
//
// Each subscription is served by its own goroutine, so callbacks for one
// subscriber never run concurrently. Signals are coalesced: several changes
// arriving while a query runs produce one more snapshot, not one per change.
type Hub struct {
	load   Loader
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[uint64]*subscription
	nextID uint64
	closed bool
}

type subscription struct {
	id         uint64
	collection string
	orderField string
	dir        Direction
	onChange   SnapshotFunc
	onError    ErrorFunc

	dirty    chan struct{}
	failed   chan error
	stop     chan struct{}
	stopOnce sync.Once
}

// NewHub creates a hub that queries through load.
func NewHub(load Loader, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		load:   load,
		logger: logger,
		subs:   make(map[uint64]*subscription),
	}
}

// Subscribe registers a live ordered query. The first snapshot is delivered
// asynchronously right after registration.
func (h *Hub) Subscribe(ctx context.Context, collection, orderField string, dir Direction,
	onChange SnapshotFunc, onError ErrorFunc) (Unsubscribe, error) {
	if err := ValidateName(collection, orderField); err != nil {
		return nil, err
	}
	if onChange == nil {
		return nil, errors.New("onChange callback is required")
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	h.nextID++
	sub := &subscription{
		id:         h.nextID,
		collection: collection,
		orderField: orderField,
		dir:        dir,
		onChange:   onChange,
		onError:    onError,
		dirty:      make(chan struct{}, 1),
		failed:     make(chan error, 1),
		stop:       make(chan struct{}),
	}
	sub.dirty <- struct{}{}
	h.subs[sub.id] = sub
	h.mu.Unlock()

	go h.run(ctx, sub)

	return func() { h.remove(sub.id) }, nil
}

// Notify marks every subscription on collection as stale.
func (h *Hub) Notify(collection string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		if sub.collection == collection {
			sub.signal()
		}
	}
}

// NotifyAll marks every subscription as stale, e.g. after a reconnect when
// change signals may have been missed.
func (h *Hub) NotifyAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		sub.signal()
	}
}

// Fail reports a backend failure to every subscriber.
func (h *Hub) Fail(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		select {
		case sub.failed <- err:
		default:
		}
	}
}

// Len returns the number of active subscriptions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close stops every subscription and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[uint64]*subscription)
	h.closed = true
	h.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	delete(h.subs, id)
	h.mu.Unlock()
	if ok {
		sub.close()
	}
}

func (h *Hub) run(ctx context.Context, sub *subscription) {
	for {
		select {
		case <-ctx.Done():
			h.remove(sub.id)
			return
		case <-sub.stop:
			return
		case err := <-sub.failed:
			if sub.stopped() {
				return
			}
			if sub.onError != nil {
				sub.onError(err)
			}
		case <-sub.dirty:
			docs, err := h.load(ctx, sub.collection, sub.orderField, sub.dir)
			if sub.stopped() || ctx.Err() != nil {
				continue
			}
			if err != nil {
				h.logger.ErrorContext(ctx, "Live query failed",
					"collection", sub.collection,
					"order_field", sub.orderField,
					"error", err)
				if sub.onError != nil {
					sub.onError(err)
				}
				continue
			}
			sub.onChange(docs)
		}
	}
}

func (s *subscription) signal() {
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

func (s *subscription) close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *subscription) stopped() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}
