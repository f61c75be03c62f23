// file: internal/audit/store.go
// version: 1.3.0
// guid: 1e2f3a4b-5c6d-7e8f-9a0b-1c2d3e4f5a6b

package audit

import (
	"fmt"
	"time"
)

// Filter narrows List results. Zero values are ignored.
type Filter struct {
	SfdID    string
	UserID   string
	Action   string
	Severity string
	Status   string
	Since    time.Time
	Limit    int
}

// Store defines the persistence interface for audit records.
// This abstraction allows us to support both PebbleDB (default) and SQLite3
// (opt-in).
type Store interface {
	// Append persists one record. IDs are assumed unique (ULIDs).
	Append(rec Record) error

	// List returns records matching the filter, newest first.
	List(filter Filter) ([]Record, error)

	// Count returns how many stored records match the filter. Filter.Limit
	// is ignored.
	Count(filter Filter) (int, error)

	// Purge deletes records older than the cutoff and returns how many were
	// removed.
	Purge(olderThan time.Time) (int, error)

	// Close releases the underlying database.
	Close() error
}

// GlobalStore is the process-wide audit store, set by InitializeStore.
var GlobalStore Store

// InitializeStore opens the audit store based on configuration.
func InitializeStore(storeType, path string) error {
	var err error
	switch storeType {
	case "sqlite", "sqlite3":
		GlobalStore, err = NewSQLiteStore(path)
		if err != nil {
			return fmt.Errorf("failed to initialize SQLite audit store: %w", err)
		}
	case "pebble", "":
		// PebbleDB is the default
		GlobalStore, err = NewPebbleStore(path)
		if err != nil {
			return fmt.Errorf("failed to initialize PebbleDB audit store: %w", err)
		}
	default:
		return fmt.Errorf("unsupported audit store type: %s (supported: pebble, sqlite)", storeType)
	}
	return nil
}

// CloseStore closes the global store.
func CloseStore() error {
	if GlobalStore != nil {
		return GlobalStore.Close()
	}
	return nil
}

func matches(rec Record, f Filter) bool {
	if f.SfdID != "" && rec.SfdID != f.SfdID {
		return false
	}
	if f.UserID != "" && rec.UserID != f.UserID {
		return false
	}
	if f.Action != "" && rec.Action != f.Action {
		return false
	}
	if f.Severity != "" && rec.Severity != f.Severity {
		return false
	}
	if f.Status != "" && rec.Status != f.Status {
		return false
	}
	if !f.Since.IsZero() && rec.Timestamp.Before(f.Since) {
		return false
	}
	return true
}
