package txn

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"state-sync-plane/backend/internal/db"
)

type fakeTx struct {
	committed  bool
	rolledBack bool
}

func (t *fakeTx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return nil, nil
}
func (t *fakeTx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return nil, nil
}
func (t *fakeTx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return nil
}
func (t *fakeTx) Commit() error {
	t.committed = true
	return nil
}
func (t *fakeTx) Rollback() error {
	t.rolledBack = true
	return nil
}

type fakeStore struct {
	txs      []*fakeTx
	beginErr error
}

func (s *fakeStore) Begin(ctx context.Context) (Tx, error) {
	if s.beginErr != nil {
		return nil, s.beginErr
	}
	tx := &fakeTx{}
	s.txs = append(s.txs, tx)
	return tx, nil
}

func (s *fakeStore) commits() int {
	n := 0
	for _, tx := range s.txs {
		if tx.committed {
			n++
		}
	}
	return n
}

func newTestCoordinator(store Store, retryLimit int) *Coordinator {
	c := New(store, retryLimit, time.Second)
	c.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return c
}

func conflictErr() error {
	return &pgconn.PgError{Code: "40001", Message: "could not serialize access"}
}

func TestRun_RunsHooksInOrderAfterCommit(t *testing.T) {
	store := &fakeStore{}
	c := newTestCoordinator(store, 3)

	var order []string
	err := c.Run(context.Background(), func(ctx context.Context, q db.Querier) ([]PostCommit, error) {
		if store.txs[0].committed {
			t.Error("unit of work observed a committed transaction")
		}
		return []PostCommit{
			func(ctx context.Context) error { order = append(order, "first"); return nil },
			func(ctx context.Context) error { order = append(order, "second"); return nil },
		}, nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if store.commits() != 1 {
		t.Errorf("commits = %d, want 1", store.commits())
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("hook order = %v, want [first second]", order)
	}
}

func TestRun_NoHooksWhenUnitOfWorkFails(t *testing.T) {
	store := &fakeStore{}
	c := newTestCoordinator(store, 3)

	boom := errors.New("boom")
	hookRan := false
	err := c.Run(context.Background(), func(ctx context.Context, q db.Querier) ([]PostCommit, error) {
		return []PostCommit{func(ctx context.Context) error { hookRan = true; return nil }}, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Run error = %v, want %v", err, boom)
	}
	if hookRan {
		t.Error("hook ran for a failed unit of work")
	}
	if store.commits() != 0 {
		t.Errorf("commits = %d, want 0", store.commits())
	}
	if len(store.txs) != 1 {
		t.Errorf("attempts = %d, want 1 (no retry for non-conflict errors)", len(store.txs))
	}
	if !store.txs[0].rolledBack {
		t.Error("failed attempt was not rolled back")
	}
}

func TestRun_RetriesConflictsThenCommitsOnce(t *testing.T) {
	store := &fakeStore{}
	c := newTestCoordinator(store, 3)

	attempts := 0
	hookRuns := 0
	err := c.Run(context.Background(), func(ctx context.Context, q db.Querier) ([]PostCommit, error) {
		attempts++
		if attempts <= 2 {
			return nil, conflictErr()
		}
		return []PostCommit{func(ctx context.Context) error { hookRuns++; return nil }}, nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if store.commits() != 1 {
		t.Errorf("commits = %d, want exactly 1", store.commits())
	}
	if hookRuns != 1 {
		t.Errorf("hook runs = %d, want exactly 1", hookRuns)
	}
}

func TestRun_RetryExhaustion(t *testing.T) {
	store := &fakeStore{}
	c := newTestCoordinator(store, 2)

	attempts := 0
	err := c.Run(context.Background(), func(ctx context.Context, q db.Querier) ([]PostCommit, error) {
		attempts++
		return nil, conflictErr()
	})
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("Run error = %v, want ErrRetryExhausted", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3 (1 initial + 2 retries)", attempts)
	}
	if store.commits() != 0 {
		t.Errorf("commits = %d, want 0", store.commits())
	}
}

func TestRun_HookErrorIsSwallowed(t *testing.T) {
	store := &fakeStore{}
	c := newTestCoordinator(store, 0)

	secondRan := false
	err := c.Run(context.Background(), func(ctx context.Context, q db.Querier) ([]PostCommit, error) {
		return []PostCommit{
			func(ctx context.Context) error { return errors.New("notify failed") },
			func(ctx context.Context) error { secondRan = true; return nil },
		}, nil
	})
	if err != nil {
		t.Fatalf("Run should not surface hook errors, got %v", err)
	}
	if !secondRan {
		t.Error("later hooks should still run after an earlier hook fails")
	}
}

func TestRun_BeginErrorPropagates(t *testing.T) {
	boom := errors.New("connect refused")
	c := newTestCoordinator(&fakeStore{beginErr: boom}, 3)

	err := c.Run(context.Background(), func(ctx context.Context, q db.Querier) ([]PostCommit, error) {
		t.Fatal("unit of work should not run when Begin fails")
		return nil, nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Run error = %v, want %v", err, boom)
	}
}

func TestIsSerializationConflict(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"pg 40001", &pgconn.PgError{Code: "40001"}, true},
		{"pg other code", &pgconn.PgError{Code: "23505"}, false},
		{"wrapped pg 40001", errors.Join(errors.New("exec"), &pgconn.PgError{Code: "40001"}), true},
		{"message sniff", errors.New("ERROR: could not serialize access due to concurrent update"), true},
		{"sqlstate sniff", errors.New("exec failed (SQLSTATE 40001)"), true},
		{"plain error", errors.New("boom"), false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsSerializationConflict(tc.err); got != tc.want {
				t.Errorf("IsSerializationConflict(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
