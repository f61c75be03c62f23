// file: internal/audit/sink_test.go
// version: 1.0.0
// guid: 7e8f9a0b-1c2d-3e4f-5a6b-7c8d9e0f1a2b

package audit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingStore always rejects appends.
type failingStore struct{}

func (failingStore) Append(Record) error           { return fmt.Errorf("disk full") }
func (failingStore) List(Filter) ([]Record, error) { return nil, nil }
func (failingStore) Count(Filter) (int, error)     { return 0, nil }
func (failingStore) Purge(time.Time) (int, error)  { return 0, nil }
func (failingStore) Close() error                  { return nil }

// memStore collects appended records.
type memStore struct {
	failingStore
	records []Record
}

func (m *memStore) Append(rec Record) error {
	m.records = append(m.records, rec)
	return nil
}

func TestStoreSinkSwallowsStoreFailure(t *testing.T) {
	sink := NewStoreSink(failingStore{})
	// Must not panic or propagate anything.
	sink.Emit(context.Background(), Record{Action: "api_call", Status: StatusSuccess})
}

func TestStoreSinkNormalizes(t *testing.T) {
	store := &memStore{}
	sink := NewStoreSink(store)
	sink.Emit(context.Background(), Record{Action: "api_call"})
	require.Len(t, store.records, 1)
	assert.NotEmpty(t, store.records[0].ID)
	assert.False(t, store.records[0].Timestamp.IsZero())
	assert.Equal(t, SeverityInfo, store.records[0].Severity)
}

func TestStoreSinkAlertHook(t *testing.T) {
	store := &memStore{}
	var alerted []Record
	sink := &StoreSink{Store: store, Alert: func(rec Record) { alerted = append(alerted, rec) }}

	sink.Emit(context.Background(), Record{Action: "a", Severity: SeverityInfo})
	sink.Emit(context.Background(), Record{Action: "b", Severity: SeverityError})
	sink.Emit(context.Background(), Record{Action: "c", Severity: SeverityCritical})

	require.Len(t, alerted, 2)
	assert.Equal(t, "b", alerted[0].Action)
	assert.Equal(t, "c", alerted[1].Action)
}

func TestStoreSinkAlertPanicSwallowed(t *testing.T) {
	sink := &StoreSink{Store: &memStore{}, Alert: func(Record) { panic("alert transport down") }}
	sink.Emit(context.Background(), Record{Action: "x", Severity: SeverityError})
}

func TestMultiSink(t *testing.T) {
	a, b := &memStore{}, &memStore{}
	multi := MultiSink{NewStoreSink(a), NewStoreSink(b), NopSink{}}
	multi.Emit(context.Background(), Record{Action: "fanout"})
	assert.Len(t, a.records, 1)
	assert.Len(t, b.records, 1)
}
