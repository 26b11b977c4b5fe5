// Package worker runs the background jobs that follow the live expense list.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"livespese/internal/core"
	applog "livespese/internal/log"
	"livespese/internal/sheets"
	"livespese/internal/storage"
	"livespese/internal/view"
)

// DefaultRetryInterval is how long a failed write waits before it is retried
// when no newer snapshot arrives in the meantime.
const DefaultRetryInterval = 30 * time.Second

// MirrorWorker copies every snapshot of the ordered list to a SnapshotWriter.
// Snapshots that arrive while a write is in flight are coalesced, so only the
// latest one is written next.
type MirrorWorker struct {
	store         storage.LiveQuerier
	writer        sheets.SnapshotWriter
	collection    string
	logger        *applog.Logger
	now           func() time.Time
	retryInterval time.Duration

	mu      sync.Mutex
	latest  []storage.Document
	pending bool
	wake    chan struct{}

	written atomic.Int64
	failed  atomic.Int64
	skipped atomic.Int64
}

// Option configures a MirrorWorker.
type Option func(*MirrorWorker)

func WithLogger(l *applog.Logger) Option {
	return func(w *MirrorWorker) { w.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(w *MirrorWorker) { w.now = now }
}

func WithRetryInterval(d time.Duration) Option {
	return func(w *MirrorWorker) { w.retryInterval = d }
}

func NewMirrorWorker(store storage.LiveQuerier, writer sheets.SnapshotWriter, collection string, opts ...Option) *MirrorWorker {
	w := &MirrorWorker{
		store:         store,
		writer:        writer,
		collection:    collection,
		logger:        applog.Default().WithComponent(applog.ComponentWorker),
		now:           time.Now,
		retryInterval: DefaultRetryInterval,
		wake:          make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Stats counts writes since the worker started.
type Stats struct {
	Written  int64
	Failed   int64
	Coalesced int64
}

func (w *MirrorWorker) Stats() Stats {
	return Stats{Written: w.written.Load(), Failed: w.failed.Load(), Coalesced: w.skipped.Load()}
}

// Run subscribes to the list newest first and mirrors it until ctx ends.
// It returns nil on cancellation and an error only when the subscription
// cannot be opened.
func (w *MirrorWorker) Run(ctx context.Context) error {
	unsubscribe, err := w.store.SubscribeOrderedQuery(ctx, w.collection, core.FieldCreatedAt, storage.Descending,
		w.enqueue, w.subscriptionError(ctx))
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", w.collection, err)
	}
	defer unsubscribe()

	w.logger.InfoContext(ctx, "Mirror worker started",
		applog.FieldOperation, applog.OpStartup,
		applog.FieldCollection, w.collection)

	var retry <-chan time.Time
	var retryTimer *time.Timer
	defer func() {
		if retryTimer != nil {
			retryTimer.Stop()
		}
	}()

	var failedDocs []storage.Document
	for {
		select {
		case <-ctx.Done():
			w.logger.InfoContext(context.WithoutCancel(ctx), "Mirror worker stopped",
				applog.FieldOperation, applog.OpShutdown,
				"written", w.written.Load(),
				"failed", w.failed.Load())
			return nil
		case <-w.wake:
			docs, ok := w.take()
			if !ok {
				continue
			}
			failedDocs = nil
			if err := w.mirror(ctx, docs); err != nil {
				failedDocs = docs
			}
		case <-retry:
			retry = nil
			if failedDocs == nil {
				continue
			}
			docs := failedDocs
			failedDocs = nil
			if err := w.mirror(ctx, docs); err != nil {
				failedDocs = docs
			}
		}

		if failedDocs != nil && retry == nil && w.retryInterval > 0 {
			if retryTimer == nil {
				retryTimer = time.NewTimer(w.retryInterval)
			} else {
				retryTimer.Reset(w.retryInterval)
			}
			retry = retryTimer.C
		}
	}
}

// enqueue keeps only the newest snapshot and wakes the loop.
func (w *MirrorWorker) enqueue(docs []storage.Document) {
	w.mu.Lock()
	if w.pending {
		w.skipped.Add(1)
	}
	w.latest = docs
	w.pending = true
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *MirrorWorker) take() ([]storage.Document, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.pending {
		return nil, false
	}
	docs := w.latest
	w.latest, w.pending = nil, false
	return docs, true
}

func (w *MirrorWorker) mirror(ctx context.Context, docs []storage.Document) error {
	items, err := view.DecodeItems(docs)
	if err != nil {
		// Undecodable rows are still mirrored with a zero price.
		w.logger.WarnContext(ctx, "Snapshot contains undecodable items",
			applog.FieldOperation, applog.OpMirror,
			applog.FieldError, err)
	}

	snap := sheets.NewSnapshot(items, w.now().UTC())
	if err := w.writer.WriteSnapshot(ctx, snap); err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return err
		}
		w.failed.Add(1)
		w.logger.ErrorContext(ctx, "Failed to mirror snapshot",
			applog.FieldOperation, applog.OpMirror,
			applog.FieldItemCount, len(items),
			applog.FieldError, err)
		return err
	}

	w.written.Add(1)
	w.logger.InfoContext(ctx, "Snapshot mirrored",
		applog.FieldOperation, applog.OpMirror,
		applog.FieldItemCount, len(items),
		"total", core.FormatAmount(snap.Total))
	return nil
}

func (w *MirrorWorker) subscriptionError(ctx context.Context) storage.ErrorFunc {
	return func(err error) {
		w.logger.ErrorContext(ctx, "Live subscription failed",
			applog.FieldOperation, applog.OpSubscribe,
			applog.FieldCollection, w.collection,
			applog.FieldError, err)
	}
}
