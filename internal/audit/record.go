// file: internal/audit/record.go
// version: 1.0.0
// guid: 4d5e6f7a-8b9c-0d1e-2f3a-4b5c6d7e8f9a

package audit

import (
	"crypto/rand"
	"sync"
	"time"

	ulid "github.com/oklog/ulid/v2"
)

// Severity levels for audit records.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit records.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Record is a write-only log entry describing one gateway call attempt or
// administrative action. Records are appended to a sink and never read back
// by the emitting layer.
type Record struct {
	ID             string         `json:"id"`
	Timestamp      time.Time      `json:"timestamp"`
	UserID         string         `json:"user_id"`
	SfdID          string         `json:"sfd_id"`
	Action         string         `json:"action"`
	Category       string         `json:"category"`
	Severity       string         `json:"severity"`
	Status         string         `json:"status"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	TargetResource string         `json:"target_resource"`
	Details        map[string]any `json:"details,omitempty"`
}

// idEntropy is shared across NewID calls so ULIDs minted within the same
// millisecond still increase strictly. MonotonicEntropy is not safe for
// concurrent use, hence the lock.
var (
	idEntropyMu sync.Mutex
	idEntropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns a fresh ULID for a record. ULIDs sort lexicographically by
// time, which keeps the Pebble key space in append order.
func NewID() string {
	idEntropyMu.Lock()
	defer idEntropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), idEntropy).String()
}

// Normalize fills in ID and Timestamp if the caller left them zero.
func (r *Record) Normalize() {
	if r.ID == "" {
		r.ID = NewID()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	if r.Severity == "" {
		r.Severity = SeverityInfo
	}
}
