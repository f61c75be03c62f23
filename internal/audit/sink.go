// file: internal/audit/sink.go
// version: 1.1.0
// guid: 6f7a8b9c-0d1e-2f3a-4b5c-6d7e8f9a0b1c

package audit

import (
	"context"
	"encoding/json"
	"log"
)

// Sink accepts audit records on a best-effort basis. Emit never returns an
// error: a failure to record an audit event must never mask the outcome of
// the primary operation it describes.
type Sink interface {
	Emit(ctx context.Context, rec Record)
}

// AlertFunc is invoked for error- and critical-severity records so an
// external alerting path can be attached. It runs best-effort; panics are
// swallowed.
type AlertFunc func(rec Record)

// LogSink writes records to the process log.
type LogSink struct{}

// Emit logs the record. Marshal failures degrade to a plain line.
func (LogSink) Emit(_ context.Context, rec Record) {
	rec.Normalize()
	b, err := json.Marshal(rec)
	if err != nil {
		log.Printf("[AUDIT] %s %s %s sfd=%s user=%s", rec.Action, rec.Status, rec.Severity, rec.SfdID, rec.UserID)
		return
	}
	log.Printf("[AUDIT] %s", b)
}

// NopSink discards everything. Useful in tests and in library callers that
// wire their own observability.
type NopSink struct{}

func (NopSink) Emit(context.Context, Record) {}

// StoreSink persists records to a Store. Append failures are logged and
// swallowed.
type StoreSink struct {
	Store Store
	Alert AlertFunc
}

// NewStoreSink wraps a store in the best-effort sink contract.
func NewStoreSink(store Store) *StoreSink {
	return &StoreSink{Store: store}
}

// Emit persists the record and fires the alert hook for error-severity
// records. Neither path can fail the caller.
func (s *StoreSink) Emit(_ context.Context, rec Record) {
	rec.Normalize()
	if s.Store != nil {
		if err := s.Store.Append(rec); err != nil {
			log.Printf("[WARN] failed to persist audit record %s: %v", rec.ID, err)
		}
	}
	if s.Alert != nil && (rec.Severity == SeverityError || rec.Severity == SeverityCritical) {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[WARN] audit alert hook panicked: %v", r)
				}
			}()
			s.Alert(rec)
		}()
	}
}

// MultiSink fans records out to several sinks in order.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, rec Record) {
	for _, s := range m {
		s.Emit(ctx, rec)
	}
}
