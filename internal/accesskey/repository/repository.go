package repository

import (
	"context"

	"state-sync-plane/backend/internal/accesskey/domain"
	"state-sync-plane/backend/internal/db"
)

// Repository persists access keys.
type Repository interface {
	GetByID(ctx context.Context, q db.Querier, id string) (*domain.AccessKey, error)
	ListByAccount(ctx context.Context, q db.Querier, accountID string) ([]*domain.AccessKey, error)
	Create(ctx context.Context, q db.Querier, k *domain.AccessKey) error
	Delete(ctx context.Context, q db.Querier, id string) (bool, error)

	CASPayload(ctx context.Context, q db.Querier, id string, expected int64, value string) (bool, error)
	ReadPayload(ctx context.Context, q db.Querier, id string) (string, int64, error)
}
