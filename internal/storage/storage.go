// Package storage persists the small amount of client state that must survive
// process restarts: the bearer credential and the last-login timestamp. The two
// values are stored under independent keys.
package storage

import (
	"context"
	"fmt"

	"github.com/anstrom/scanconsole/internal/config"
)

// Keys of the persisted client state.
const (
	KeyCredential = "authToken"
	KeyLastLogin  = "lastLogin"
)

// Store is a string key/value store for client state.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set creates or replaces the value for key.
	Set(ctx context.Context, key, value string) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Close releases the underlying resources.
	Close() error
}

// Open creates the store selected by the session configuration.
func Open(ctx context.Context, cfg config.SessionConfig) (Store, error) {
	switch cfg.Store {
	case config.StoreFile:
		return NewFileStore(cfg.Path), nil
	case config.StoreSQLite:
		return OpenSQL(ctx, driverSQLite, cfg.Path)
	case config.StorePostgres:
		return OpenSQL(ctx, driverPostgres, cfg.DSN)
	case config.StoreMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown session store %q", cfg.Store)
	}
}
