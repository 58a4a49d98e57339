package activity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type trackerHarness struct {
	tracker *Tracker

	mu        sync.Mutex
	now       time.Time
	validates int
	flushes   []map[string]time.Time
	flushErr  error
	owners    map[string]string
}

func newHarness(cfg Config) *trackerHarness {
	h := &trackerHarness{
		now:    time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		owners: map[string]string{"s1": "acct-1", "s2": "acct-1"},
	}
	h.tracker = NewTracker("session", cfg,
		func(ctx context.Context, id, accountID string) (bool, error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.validates++
			return h.owners[id] == accountID, nil
		},
		func(ctx context.Context, pending map[string]time.Time) error {
			h.mu.Lock()
			defer h.mu.Unlock()
			if h.flushErr != nil {
				return h.flushErr
			}
			snapshot := make(map[string]time.Time, len(pending))
			for k, v := range pending {
				snapshot[k] = v
			}
			h.flushes = append(h.flushes, snapshot)
			return nil
		},
		nil,
	)
	h.tracker.nowF = func() time.Time {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.now
	}
	return h
}

func (h *trackerHarness) advance(d time.Duration) {
	h.mu.Lock()
	h.now = h.now.Add(d)
	h.mu.Unlock()
}

func (h *trackerHarness) nowLocked() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

func TestIsValid_CachesStoreLookup(t *testing.T) {
	h := newHarness(Config{})
	ctx := context.Background()

	if !h.tracker.IsValid(ctx, "s1", "acct-1") {
		t.Fatal("owned session should validate")
	}
	if !h.tracker.IsValid(ctx, "s1", "acct-1") {
		t.Fatal("cached session should validate")
	}
	if h.validates != 1 {
		t.Errorf("store validations = %d, want 1 (second call is a cache hit)", h.validates)
	}
}

func TestIsValid_OwnerMismatch(t *testing.T) {
	h := newHarness(Config{})
	ctx := context.Background()

	if h.tracker.IsValid(ctx, "s1", "acct-2") {
		t.Error("foreign session must not validate")
	}
	if !h.tracker.IsValid(ctx, "s1", "acct-1") {
		t.Fatal("owner should validate")
	}
	// A cached entry must still reject a different caller.
	if h.tracker.IsValid(ctx, "s1", "acct-2") {
		t.Error("cache hit must still enforce ownership")
	}
}

func TestIsValid_ExpiredEntryRevalidates(t *testing.T) {
	h := newHarness(Config{TTL: 30 * time.Second})
	ctx := context.Background()

	h.tracker.IsValid(ctx, "s1", "acct-1")
	h.advance(31 * time.Second)
	h.tracker.IsValid(ctx, "s1", "acct-1")

	if h.validates != 2 {
		t.Errorf("store validations = %d, want 2 after TTL lapse", h.validates)
	}
}

func TestQueueUpdate_Threshold(t *testing.T) {
	h := newHarness(Config{SkipThreshold: 30 * time.Second})
	ctx := context.Background()
	h.tracker.IsValid(ctx, "s1", "acct-1")

	// Flush once so lastFlushed is a known T.
	base := h.nowLocked()
	if !h.tracker.QueueUpdate("s1", base) {
		t.Fatal("first update past the zero lastFlushed should be accepted")
	}
	if err := h.tracker.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if h.tracker.QueueUpdate("s1", base.Add(10*time.Second)) {
		t.Error("T+10s must be rejected with a 30s threshold")
	}
	if !h.tracker.QueueUpdate("s1", base.Add(31*time.Second)) {
		t.Error("T+31s must be accepted with a 30s threshold")
	}
}

func TestQueueUpdate_UnvalidatedEntityRejected(t *testing.T) {
	h := newHarness(Config{})
	if h.tracker.QueueUpdate("never-seen", h.nowLocked()) {
		t.Error("updates for entities never validated must be rejected")
	}
}

func TestFlush_PersistsLatestPendingOnly(t *testing.T) {
	h := newHarness(Config{SkipThreshold: 30 * time.Second})
	ctx := context.Background()
	h.tracker.IsValid(ctx, "s1", "acct-1")

	base := h.nowLocked()
	h.tracker.QueueUpdate("s1", base.Add(31*time.Second))
	h.tracker.QueueUpdate("s1", base.Add(62*time.Second)) // supersedes

	if err := h.tracker.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(h.flushes) != 1 {
		t.Fatalf("flush batches = %d, want 1", len(h.flushes))
	}
	got := h.flushes[0]["s1"]
	if !got.Equal(base.Add(62 * time.Second)) {
		t.Errorf("flushed timestamp = %v, want the latest queued value", got)
	}

	// Nothing pending afterwards.
	if err := h.tracker.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(h.flushes) != 1 {
		t.Error("empty flush must not hit the store")
	}
}

func TestFlush_ErrorKeepsPending(t *testing.T) {
	h := newHarness(Config{})
	ctx := context.Background()
	h.tracker.IsValid(ctx, "s1", "acct-1")
	h.tracker.QueueUpdate("s1", h.nowLocked().Add(31*time.Second))

	h.mu.Lock()
	h.flushErr = errors.New("db down")
	h.mu.Unlock()
	if err := h.tracker.Flush(ctx); err == nil {
		t.Fatal("Flush should surface the store error")
	}

	h.mu.Lock()
	h.flushErr = nil
	h.mu.Unlock()
	if err := h.tracker.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(h.flushes) != 1 {
		t.Errorf("pending update should survive a failed flush, got %d batches", len(h.flushes))
	}
}

func TestSweep_EvictsExpiredEntries(t *testing.T) {
	h := newHarness(Config{TTL: 30 * time.Second})
	ctx := context.Background()
	h.tracker.IsValid(ctx, "s1", "acct-1")

	h.advance(31 * time.Second)
	h.tracker.sweep()

	if !h.tracker.IsValid(ctx, "s1", "acct-1") {
		t.Fatal("revalidation after eviction should succeed")
	}
	if h.validates != 2 {
		t.Errorf("store validations = %d, want 2 (entry was evicted)", h.validates)
	}
}

func TestShutdown_DrainsPending(t *testing.T) {
	h := newHarness(Config{FlushInterval: time.Hour, SweepInterval: time.Hour})
	ctx := context.Background()
	h.tracker.IsValid(ctx, "s1", "acct-1")
	h.tracker.QueueUpdate("s1", h.nowLocked().Add(31*time.Second))

	h.tracker.Start()
	h.tracker.Shutdown(ctx)

	if len(h.flushes) != 1 {
		t.Errorf("shutdown should perform a final flush, got %d batches", len(h.flushes))
	}
}
