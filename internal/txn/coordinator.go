// Package txn executes units of work under serializable isolation with
// bounded retry on serialization conflicts, and runs post-commit hooks only
// after a successful commit.
package txn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"state-sync-plane/backend/internal/db"
)

// ErrRetryExhausted is returned when a unit of work keeps hitting
// serialization conflicts past the retry ceiling. The wrapped error is the
// conflict from the final attempt.
var ErrRetryExhausted = errors.New("txn: serialization retries exhausted")

// Tx is a live transaction handle. Repositories run on its Querier half;
// the coordinator owns Commit/Rollback.
type Tx interface {
	db.Querier
	Commit() error
	Rollback() error
}

// Store begins transactions. The production implementation wraps *sql.DB
// with serializable isolation; tests substitute a fake to seed conflicts.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
}

// PostCommit is a hook that runs after the transaction has durably
// committed. Hooks are best-effort: an error is logged and swallowed, never
// unwinding the committed mutation. Clients that must not miss an event
// reconcile through the seq-based catch-up pull instead.
type PostCommit func(ctx context.Context) error

// UnitOfWork applies a mutation against the transactional querier and
// returns the post-commit hooks it wants run. It may be executed several
// times when the transaction conflicts, so it must not carry side effects
// outside the querier.
type UnitOfWork func(ctx context.Context, q db.Querier) ([]PostCommit, error)

// Coordinator is the only path by which a mutation becomes visible to the
// rest of the system: an event is never emitted for a mutation that did not
// commit, and never skipped for one that did (modulo best-effort hooks).
type Coordinator struct {
	store      Store
	retryLimit int
	timeout    time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
}

// New returns a Coordinator over store. retryLimit is the number of
// additional attempts after the first (<=0 means no retries); timeout bounds
// each attempt including commit.
func New(store Store, retryLimit int, timeout time.Duration) *Coordinator {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Coordinator{
		store:      store,
		retryLimit: retryLimit,
		timeout:    timeout,
		sleep:      sleepCtx,
	}
}

// Run executes fn under serializable isolation. On a serialization conflict
// the whole unit of work is retried with a short increasing delay; any other
// error aborts immediately. On successful commit the returned hooks run in
// registration order with the caller's context.
func (c *Coordinator) Run(ctx context.Context, fn UnitOfWork) error {
	var lastErr error
	for attempt := 0; attempt <= c.retryLimit; attempt++ {
		if attempt > 0 {
			log.Printf("txn: serialization conflict, retrying (attempt %d/%d)", attempt+1, c.retryLimit+1)
			if err := c.sleep(ctx, backoffDelay(attempt)); err != nil {
				return err
			}
		}

		hooks, err := c.attempt(ctx, fn)
		if err == nil {
			runHooks(ctx, hooks)
			return nil
		}
		if !IsSerializationConflict(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, c.retryLimit+1, lastErr)
}

func (c *Coordinator) attempt(ctx context.Context, fn UnitOfWork) ([]PostCommit, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	tx, err := c.store.Begin(attemptCtx)
	if err != nil {
		return nil, err
	}

	hooks, err := fn(attemptCtx, tx)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	return hooks, nil
}

func runHooks(ctx context.Context, hooks []PostCommit) {
	for _, hook := range hooks {
		if hook == nil {
			continue
		}
		if err := hook(ctx); err != nil {
			log.Printf("txn: post-commit hook failed (dropped): %v", err)
		}
	}
}

// backoffDelay returns the wait before the given retry attempt (1-based):
// 25ms, 50ms, 100ms, capped at 200ms.
func backoffDelay(attempt int) time.Duration {
	d := 25 * time.Millisecond << uint(attempt-1)
	if d > 200*time.Millisecond {
		d = 200 * time.Millisecond
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsSerializationConflict reports whether err is a Postgres serialization
// failure (SQLSTATE 40001). Falls back to message sniffing for drivers that
// do not surface a *pgconn.PgError.
func IsSerializationConflict(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001"
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLSTATE 40001") ||
		strings.Contains(msg, "could not serialize access")
}

// SQLStore adapts *sql.DB to Store, beginning every transaction at
// serializable isolation.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore returns a Store over the given database handle.
func NewSQLStore(dbh *sql.DB) *SQLStore {
	return &SQLStore{db: dbh}
}

// Begin starts a serializable transaction.
func (s *SQLStore) Begin(ctx context.Context) (Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
}
