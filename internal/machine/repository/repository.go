package repository

import (
	"context"

	"state-sync-plane/backend/internal/db"
	"state-sync-plane/backend/internal/machine/domain"
)

// Repository persists machine records keyed by (account, machine id).
type Repository interface {
	GetByID(ctx context.Context, q db.Querier, accountID, id string) (*domain.Machine, error)
	ListByAccount(ctx context.Context, q db.Querier, accountID string) ([]*domain.Machine, error)

	CASMetadata(ctx context.Context, q db.Querier, accountID, id string, expected int64, value string) (bool, error)
	ReadMetadata(ctx context.Context, q db.Querier, accountID, id string) (string, int64, error)

	CASDaemonState(ctx context.Context, q db.Querier, accountID, id string, expected int64, value string) (bool, error)
	ReadDaemonState(ctx context.Context, q db.Querier, accountID, id string) (string, int64, error)

	UpdateLastActiveBatch(ctx context.Context, q db.Querier, batch []domain.Heartbeat) error
}
