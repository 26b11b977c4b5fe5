package memory

import (
	"context"
	"sync"

	"livespese/internal/sheets"
)

// Writer keeps the last written rows in memory. It backs the mirror in tests
// and when no spreadsheet is configured.
type Writer struct {
	mu     sync.Mutex
	rows   [][]any
	writes int
	err    error
}

var _ sheets.SnapshotWriter = (*Writer)(nil)

func New() *Writer {
	return &Writer{}
}

// WriteSnapshot replaces the stored rows, or returns the error set by FailWith.
func (w *Writer) WriteSnapshot(ctx context.Context, s sheets.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.rows = sheets.Rows(s)
	w.writes++
	return nil
}

// FailWith makes later writes fail with err until it is called with nil.
func (w *Writer) FailWith(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.err = err
}

// Rows returns a copy of the last written rows.
func (w *Writer) Rows() [][]any {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([][]any, len(w.rows))
	for i, r := range w.rows {
		out[i] = append([]any(nil), r...)
	}
	return out
}

// Writes counts successful writes.
func (w *Writer) Writes() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writes
}
