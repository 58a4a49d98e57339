package repository

import (
	"context"

	"state-sync-plane/backend/internal/db"
	"state-sync-plane/backend/internal/kv/domain"
)

// Repository persists account-scoped key/value entries.
type Repository interface {
	Get(ctx context.Context, q db.Querier, accountID, key string) (*domain.Entry, error)
	List(ctx context.Context, q db.Querier, accountID string) ([]*domain.Entry, error)

	// CASPut writes value iff the stored version equals expected. An
	// expected of occ.VersionNone creates the entry at version 0.
	CASPut(ctx context.Context, q db.Querier, accountID, key string, expected int64, value string) (bool, error)

	// CASDelete removes the entry iff the stored version equals expected.
	CASDelete(ctx context.Context, q db.Querier, accountID, key string, expected int64) (bool, error)

	// ReadCurrent returns the stored value and version, or occ.VersionNone
	// when the entry does not exist.
	ReadCurrent(ctx context.Context, q db.Querier, accountID, key string) (string, int64, error)
}
