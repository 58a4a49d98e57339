// Package activity coalesces high-frequency heartbeat writes: it validates
// entity ownership against a short-lived cache, suppresses low-value
// last-active updates, and batch-flushes the survivors on a timer.
package activity

import (
	"context"
	"log"
	"sync"
	"time"

	"state-sync-plane/backend/internal/telemetry"
)

// Config holds the coalescing knobs. Zero fields fall back to the defaults
// documented on each field.
type Config struct {
	// TTL is how long a validation result stays trusted (default 30s).
	TTL time.Duration
	// SkipThreshold is the minimum advance over the last persisted
	// timestamp for a queued update to be accepted (default 30s).
	SkipThreshold time.Duration
	// FlushInterval is how often pending updates are persisted (default 5s).
	FlushInterval time.Duration
	// SweepInterval is how often expired entries are evicted (default 5m).
	SweepInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = 30 * time.Second
	}
	if c.SkipThreshold <= 0 {
		c.SkipThreshold = 30 * time.Second
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 5 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 5 * time.Minute
	}
	return c
}

// ValidateFunc checks against the store that id exists and belongs to
// accountID. Called once per cache miss.
type ValidateFunc func(ctx context.Context, id, accountID string) (bool, error)

// FlushFunc persists a batch of last-active timestamps.
type FlushFunc func(ctx context.Context, pending map[string]time.Time) error

type entry struct {
	accountID   string
	expiresAt   time.Time
	lastFlushed time.Time
	pending     *time.Time
}

// Tracker is the per-kind cache (one for sessions, one for machines). It is
// safe for concurrent use.
type Tracker struct {
	kind     string
	cfg      Config
	validate ValidateFunc
	flush    FlushFunc
	metrics  *telemetry.Metrics
	nowF     func() time.Time

	mu      sync.Mutex
	entries map[string]*entry

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewTracker returns a stopped tracker; call Start to run the flush and
// sweep loops. kind labels logs and metrics. metrics may be nil.
func NewTracker(kind string, cfg Config, validate ValidateFunc, flush FlushFunc, metrics *telemetry.Metrics) *Tracker {
	return &Tracker{
		kind:     kind,
		cfg:      cfg.withDefaults(),
		validate: validate,
		flush:    flush,
		metrics:  metrics,
		nowF:     time.Now,
		entries:  make(map[string]*entry),
		stop:     make(chan struct{}),
	}
}

// IsValid reports whether id belongs to accountID. A live cache entry
// answers without touching the store and has its deadline refreshed; a miss
// queries the store once and caches a positive answer.
func (t *Tracker) IsValid(ctx context.Context, id, accountID string) bool {
	now := t.nowF()

	t.mu.Lock()
	if e, ok := t.entries[id]; ok && now.Before(e.expiresAt) {
		owned := e.accountID == accountID
		if owned {
			e.expiresAt = now.Add(t.cfg.TTL)
		}
		t.mu.Unlock()
		return owned
	}
	t.mu.Unlock()

	ok, err := t.validate(ctx, id, accountID)
	if err != nil {
		log.Printf("activity: %s validation for %s failed: %v", t.kind, id, err)
		return false
	}
	if !ok {
		return false
	}

	t.mu.Lock()
	t.entries[id] = &entry{accountID: accountID, expiresAt: now.Add(t.cfg.TTL)}
	t.mu.Unlock()
	return true
}

// QueueUpdate offers a new last-active timestamp for a previously validated
// entity. It is accepted only when it advances past the last persisted
// timestamp by more than the skip threshold; a later offer supersedes a
// still-pending one. Returns whether the update was accepted.
func (t *Tracker) QueueUpdate(id string, at time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[id]
	if !ok {
		return false
	}
	if at.Sub(e.lastFlushed) <= t.cfg.SkipThreshold {
		t.metrics.ActivitySkipped(context.Background(), t.kind)
		return false
	}
	e.pending = &at
	return true
}

// Flush persists all pending timestamps in one batch and clears the pending
// markers that were not superseded while the store write ran.
func (t *Tracker) Flush(ctx context.Context) error {
	t.mu.Lock()
	batch := make(map[string]time.Time)
	for id, e := range t.entries {
		if e.pending != nil {
			batch[id] = *e.pending
		}
	}
	t.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	if err := t.flush(ctx, batch); err != nil {
		return err
	}

	t.mu.Lock()
	for id, at := range batch {
		e, ok := t.entries[id]
		if !ok {
			continue
		}
		e.lastFlushed = at
		if e.pending != nil && e.pending.Equal(at) {
			e.pending = nil
		}
	}
	t.mu.Unlock()

	t.metrics.ActivityFlushed(ctx, t.kind, int64(len(batch)))
	return nil
}

// sweep evicts expired entries. Entries with a pending write are kept for
// the next flush and evicted on a later pass.
func (t *Tracker) sweep() {
	now := t.nowF()
	t.mu.Lock()
	for id, e := range t.entries {
		if e.pending == nil && now.After(e.expiresAt) {
			delete(t.entries, id)
		}
	}
	t.mu.Unlock()
}

// Start launches the periodic flush and sweep loops.
func (t *Tracker) Start() {
	t.wg.Add(2)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(t.cfg.FlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-t.stop:
				return
			case <-ticker.C:
				if err := t.Flush(context.Background()); err != nil {
					log.Printf("activity: %s flush failed, keeping pending: %v", t.kind, err)
				}
			}
		}
	}()
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(t.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-t.stop:
				return
			case <-ticker.C:
				t.sweep()
			}
		}
	}()
}

// Shutdown stops the loops and drains pending updates with one final flush.
// A failed final flush is logged, not retried: losing at most one interval
// of activity timestamps on shutdown is accepted.
func (t *Tracker) Shutdown(ctx context.Context) {
	close(t.stop)
	t.wg.Wait()
	if err := t.Flush(ctx); err != nil {
		log.Printf("activity: %s final flush failed (dropped): %v", t.kind, err)
	}
}
