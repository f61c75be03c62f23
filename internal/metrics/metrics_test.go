// file: internal/metrics/metrics_test.go
// version: 1.1.0
// guid: 2b3c4d5e-6f7a-8b9c-0d1e-2f3a4b5c6d7f

package metrics

import (
	"testing"
	"time"
)

func TestRegisterIdempotent(t *testing.T) {
	Register()
	Register()
}

func TestRequestHelpers(t *testing.T) {
	IncRequestStarted("GET")
	IncRequestCompleted("GET")
	IncRequestFailed("POST", "server")
	ObserveRequestDuration("GET", 50*time.Millisecond)
}

func TestCacheHelpers(t *testing.T) {
	IncCacheHit()
	IncCacheMiss()
	SetCacheEntries(7)
}

func TestTokenHelpers(t *testing.T) {
	IncTokenRefresh("success")
	IncTokenRefresh("failure")
}

func TestRateLimitHelpers(t *testing.T) {
	IncRateLimited("sfd1")
}
