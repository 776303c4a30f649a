// Package blob defines the opaque keyed persistence used for sessions,
// credentials and per-user note collections.
package blob

import (
	"fmt"
	"log/slog"
)

// Store is a keyed blob store. Set overwrites the whole value.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(key string) ([]byte, bool, error)
	// Set replaces the value stored under key.
	Set(key string, value []byte) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error
	// Close releases the underlying resources.
	Close() error
}

// Drivers accepted by Open.
const (
	DriverFS     = "fs"
	DriverSQLite = "sqlite"
	DriverBadger = "badger"
	DriverMemory = "memory"
)

// Open builds the Store for driver rooted at path.
func Open(driver, path string, logger *slog.Logger) (Store, error) {
	switch driver {
	case DriverFS:
		return NewFS(path)
	case DriverSQLite:
		return OpenSQLite(path)
	case DriverBadger:
		return OpenBadger(BadgerConfig{Path: path, SyncWrites: true, Logger: logger})
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("blob: unknown driver %q", driver)
	}
}

// Verify drivers satisfy Store at compile time.
var (
	_ Store = (*FS)(nil)
	_ Store = (*SQLite)(nil)
	_ Store = (*Badger)(nil)
	_ Store = (*Memory)(nil)
)
