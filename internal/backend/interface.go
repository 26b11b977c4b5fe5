// Package backend builds the single document store handle a process uses.
package backend

import (
	"context"

	"livespese/internal/storage"
)

// CleanupFunc releases everything a backend holds.
type CleanupFunc func() error

// BackendResult contains the store handle and its cleanup function
type BackendResult struct {
	Store   storage.DocumentStore
	Cleanup CleanupFunc
	// Ping reports whether the backend is reachable. Nil for in-process stores.
	Ping func(ctx context.Context) error
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

type Config struct {
	Type BackendType

	// SQLite
	SQLiteDBPath string
	AMQPURL      string
	AMQPExchange string

	// Postgres
	PostgresDSN string

	// Firestore
	FirestoreProjectID       string
	FirestoreCredentialsFile string
}

type BackendType string

const (
	MemoryBackend    BackendType = "memory"
	SQLiteBackend    BackendType = "sqlite"
	PostgresBackend  BackendType = "postgres"
	FirestoreBackend BackendType = "firestore"
)

func (bt BackendType) String() string {
	return string(bt)
}

func (bt BackendType) IsValid() bool {
	switch bt {
	case MemoryBackend, SQLiteBackend, PostgresBackend, FirestoreBackend:
		return true
	default:
		return false
	}
}
