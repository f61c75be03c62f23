// file: internal/cache/cache_test.go
// version: 2.1.0
// guid: 7d2e4f6a-1b3c-4d5e-9f0a-2b4c6d8e0f1a

package cache

import (
	"sync"
	"testing"
	"time"
)

// fakeClock lets tests advance time without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestCache(ttl time.Duration) (*Cache, *fakeClock) {
	c := New(ttl)
	clk := newFakeClock()
	c.now = clk.Now
	return c, clk
}

func TestGetSet(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	c.Set("sfd1", "balances", "v")
	v, ok := c.Get("sfd1", "balances")
	if !ok || v != "v" {
		t.Fatalf("expected v, got %v ok=%v", v, ok)
	}
}

func TestExpiry(t *testing.T) {
	c, clk := newTestCache(time.Minute)
	c.Set("sfd1", "k", 42)
	clk.Advance(time.Minute)
	if _, ok := c.Get("sfd1", "k"); ok {
		t.Fatal("expected expired entry at exactly ttl")
	}
}

func TestDefaultTTL(t *testing.T) {
	c, clk := newTestCache(0)
	c.Set("sfd1", "k", 1)
	clk.Advance(DefaultTTL - time.Second)
	if _, ok := c.Get("sfd1", "k"); !ok {
		t.Fatal("expected entry before default ttl")
	}
	clk.Advance(2 * time.Second)
	if _, ok := c.Get("sfd1", "k"); ok {
		t.Fatal("expected miss after default ttl")
	}
}

func TestNamespaceIsolation(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	c.Set("sfdA", "loans", "a-value")
	c.Set("sfdB", "loans", "b-value")

	v, ok := c.Get("sfdA", "loans")
	if !ok || v != "a-value" {
		t.Fatalf("namespace A returned %v", v)
	}
	v, ok = c.Get("sfdB", "loans")
	if !ok || v != "b-value" {
		t.Fatalf("namespace B returned %v", v)
	}
	if _, ok := c.Get("sfdC", "loans"); ok {
		t.Fatal("unknown namespace should miss")
	}
}

func TestLazyEviction(t *testing.T) {
	c, clk := newTestCache(time.Minute)
	c.Set("sfd1", "k1", 1)
	c.Set("sfd1", "k2", 2)
	clk.Advance(2 * time.Minute)

	// Expired entries still count until looked up.
	if got := c.GetStatus().TotalEntries; got != 2 {
		t.Fatalf("expected 2 entries before lookup, got %d", got)
	}
	if _, ok := c.Get("sfd1", "k1"); ok {
		t.Fatal("expected miss")
	}
	if got := c.GetStatus().TotalEntries; got != 1 {
		t.Fatalf("expected 1 entry after lookup, got %d", got)
	}
}

func TestDelete(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	c.Set("sfd1", "a", 1)
	c.Set("sfd1", "b", 2)
	c.Delete("sfd1", "a")
	c.Delete("sfd1", "missing") // idempotent
	c.Delete("nope", "a")
	if _, ok := c.Get("sfd1", "a"); ok {
		t.Fatal("expected a deleted")
	}
	if _, ok := c.Get("sfd1", "b"); !ok {
		t.Fatal("expected b to remain")
	}
}

func TestClearSfd(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	c.Set("sfd1", "a", 1)
	c.Set("sfd2", "a", 2)
	c.ClearSfd("sfd1")
	if _, ok := c.Get("sfd1", "a"); ok {
		t.Fatal("expected sfd1 cleared")
	}
	if _, ok := c.Get("sfd2", "a"); !ok {
		t.Fatal("expected sfd2 untouched")
	}
	st := c.GetStatus()
	if _, ok := st.EntriesBySfd["sfd1"]; ok {
		t.Fatal("expected sfd1 namespace removed")
	}
}

func TestClearAll(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	c.Set("sfd1", "a", 1)
	c.Set("sfd2", "b", 2)
	c.ClearAll()
	if st := c.GetStatus(); st.TotalEntries != 0 {
		t.Fatalf("expected empty cache, got %d", st.TotalEntries)
	}
}

func TestSweep(t *testing.T) {
	c, clk := newTestCache(time.Minute)
	c.Set("sfd1", "old", 1)
	clk.Advance(2 * time.Minute)
	c.Set("sfd1", "fresh", 2)
	c.Set("sfd2", "old", 3)

	// sfd2's only entry is fresh; advance so only the first write expired.
	removed := c.Sweep()
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	st := c.GetStatus()
	if st.TotalEntries != 2 {
		t.Fatalf("expected 2 remaining, got %d", st.TotalEntries)
	}
	if _, ok := c.Get("sfd1", "fresh"); !ok {
		t.Fatal("expected fresh entry to survive sweep")
	}
}

func TestOverwriteExtendsExpiry(t *testing.T) {
	c, clk := newTestCache(time.Minute)
	c.Set("sfd1", "k", "old")
	clk.Advance(50 * time.Second)
	c.Set("sfd1", "k", "new")
	clk.Advance(30 * time.Second)
	v, ok := c.Get("sfd1", "k")
	if !ok || v != "new" {
		t.Fatalf("expected overwritten value with fresh ttl, got %v ok=%v", v, ok)
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New(time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				c.Set("sfd1", "shared", n)
				c.Get("sfd1", "shared")
				c.GetStatus()
			}
		}(i)
	}
	wg.Wait()
	if _, ok := c.Get("sfd1", "shared"); !ok {
		t.Fatal("expected value after concurrent writes")
	}
}
