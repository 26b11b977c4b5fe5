// Package storage defines the document store contract the application is built
// on, plus the pieces shared by its backends.
package storage

import (
	"context"
	"errors"
	"regexp"
)

// Direction orders query results.
type Direction int

const (
	Ascending Direction = iota
	Descending
)

func (d Direction) String() string {
	if d == Descending {
		return "desc"
	}
	return "asc"
}

type (
	// Fields holds a document's stored values.
	Fields map[string]any

	// Document is one stored record with its store-assigned identifier.
	Document struct {
		ID     string
		Fields Fields
	}

	// SnapshotFunc receives the full, ordered result set every time it changes.
	SnapshotFunc func(docs []Document)

	// ErrorFunc receives persistent connectivity or permission failures.
	ErrorFunc func(err error)

	// Unsubscribe releases a live subscription. It is safe to call more than once.
	Unsubscribe func()
)

// Ports for outbound adapters.
type (
	RecordWriter interface {
		// AddRecord stores a new document and returns its identifier.
		AddRecord(ctx context.Context, collection string, fields Fields) (id string, err error)
	}

	RecordDeleter interface {
		// DeleteRecord removes a document. Deleting a missing document succeeds.
		DeleteRecord(ctx context.Context, collection, id string) error
	}

	LiveQuerier interface {
		// SubscribeOrderedQuery delivers the ordered result set once right away and
		// again after every change, until the returned Unsubscribe is called or ctx ends.
		SubscribeOrderedQuery(ctx context.Context, collection, orderField string, dir Direction,
			onChange SnapshotFunc, onError ErrorFunc) (Unsubscribe, error)
	}

	// DocumentStore is the full contract a backend implements.
	DocumentStore interface {
		RecordWriter
		RecordDeleter
		LiveQuerier
	}
)

var (
	ErrInvalidName = errors.New("invalid collection or field name")
	ErrClosed      = errors.New("store closed")
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)

// ValidateName checks collection and field names. SQL backends interpolate
// field names into JSON paths, so only plain identifiers are accepted.
func ValidateName(names ...string) error {
	for _, n := range names {
		if !identifier.MatchString(n) {
			return ErrInvalidName
		}
	}
	return nil
}

// Clone returns a shallow copy so callers cannot mutate stored fields.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}
