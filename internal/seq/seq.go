// Package seq issues the per-account update sequence: a strictly increasing
// integer assigned to every Update event.
package seq

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"state-sync-plane/backend/internal/db"
)

// ErrUnknownAccount is returned when the account row does not exist.
var ErrUnknownAccount = errors.New("seq: unknown account")

// Allocator hands out the next sequence number for an account. Values are
// strictly increasing per account but not necessarily contiguous: allocation
// happens in post-commit hooks, so a number allocated for a hook that later
// fails is simply never observed by clients.
type Allocator interface {
	Next(ctx context.Context, accountID string) (int64, error)
}

// SQLAllocator increments the counter persisted on the account row with a
// single atomic read-modify-write, never a separate read then write.
type SQLAllocator struct {
	q db.Querier
}

// NewSQLAllocator returns an allocator over q (typically the *sql.DB; the
// increment does not need to join the enclosing transaction).
func NewSQLAllocator(q db.Querier) *SQLAllocator {
	return &SQLAllocator{q: q}
}

// Next increments and returns the account's update counter.
func (a *SQLAllocator) Next(ctx context.Context, accountID string) (int64, error) {
	var n int64
	err := a.q.QueryRowContext(ctx,
		`UPDATE accounts SET update_seq = update_seq + 1 WHERE id = $1 RETURNING update_seq`,
		accountID,
	).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrUnknownAccount
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

// MemoryAllocator is an in-memory Allocator for tests and seeding.
type MemoryAllocator struct {
	mu   sync.Mutex
	next map[string]int64
}

// NewMemoryAllocator returns an empty in-memory allocator.
func NewMemoryAllocator() *MemoryAllocator {
	return &MemoryAllocator{next: make(map[string]int64)}
}

// Next returns the next counter value for accountID, starting at 1.
func (a *MemoryAllocator) Next(ctx context.Context, accountID string) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.next[accountID]++
	return a.next[accountID], nil
}
