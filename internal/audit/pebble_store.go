// file: internal/audit/pebble_store.go
// version: 1.2.0
// guid: 9b0c1d2e-3f4a-5b6c-7d8e-9f0a1b2c3d4e

package audit

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/pebble/v2"
)

// PebbleStore implements the Store interface using PebbleDB (LSM key-value
// store).
//
// Key Schema:
// - audit:<ulid> -> Record JSON
//
// ULIDs sort by creation time, so iterating the audit: prefix yields records
// in append order and reverse iteration yields newest-first.
type PebbleStore struct {
	db *pebble.DB
}

const auditKeyPrefix = "audit:"

// NewPebbleStore opens (or creates) a PebbleDB audit store at path.
func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open PebbleDB: %w", err)
	}
	return &PebbleStore{db: db}, nil
}

// Close closes the database.
func (p *PebbleStore) Close() error {
	return p.db.Close()
}

// Append persists one record.
func (p *PebbleStore) Append(rec Record) error {
	rec.Normalize()
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal audit record: %w", err)
	}
	key := []byte(auditKeyPrefix + rec.ID)
	if err := p.db.Set(key, value, pebble.Sync); err != nil {
		return fmt.Errorf("failed to write audit record: %w", err)
	}
	return nil
}

func (p *PebbleStore) newPrefixIter() (*pebble.Iterator, error) {
	return p.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(auditKeyPrefix),
		UpperBound: []byte(auditKeyPrefix + "\xff"),
	})
}

// List returns records matching the filter, newest first.
func (p *PebbleStore) List(filter Filter) ([]Record, error) {
	iter, err := p.newPrefixIter()
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	var records []Record
	for valid := iter.Last(); valid; valid = iter.Prev() {
		var rec Record
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			// Skip unreadable entries rather than failing the whole listing.
			continue
		}
		if !matches(rec, filter) {
			continue
		}
		records = append(records, rec)
		if filter.Limit > 0 && len(records) >= filter.Limit {
			break
		}
	}
	return records, nil
}

// Count returns how many stored records match the filter.
func (p *PebbleStore) Count(filter Filter) (int, error) {
	iter, err := p.newPrefixIter()
	if err != nil {
		return 0, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	n := 0
	for valid := iter.First(); valid; valid = iter.Next() {
		var rec Record
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			continue
		}
		if matches(rec, filter) {
			n++
		}
	}
	return n, nil
}

// Purge deletes records older than the cutoff.
func (p *PebbleStore) Purge(olderThan time.Time) (int, error) {
	iter, err := p.newPrefixIter()
	if err != nil {
		return 0, fmt.Errorf("failed to create iterator: %w", err)
	}

	var stale [][]byte
	for valid := iter.First(); valid; valid = iter.Next() {
		var rec Record
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			continue
		}
		if rec.Timestamp.Before(olderThan) {
			key := make([]byte, len(iter.Key()))
			copy(key, iter.Key())
			stale = append(stale, key)
		}
	}
	if err := iter.Close(); err != nil {
		return 0, err
	}

	for _, key := range stale {
		if err := p.db.Delete(key, pebble.Sync); err != nil {
			return 0, fmt.Errorf("failed to delete %s: %w", strings.TrimPrefix(string(key), auditKeyPrefix), err)
		}
	}
	return len(stale), nil
}
