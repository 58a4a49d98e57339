package repository

import (
	"context"

	"state-sync-plane/backend/internal/artifact/domain"
	"state-sync-plane/backend/internal/db"
)

// Repository persists artifacts.
type Repository interface {
	GetByID(ctx context.Context, q db.Querier, id string) (*domain.Artifact, error)
	ListByAccount(ctx context.Context, q db.Querier, accountID string) ([]*domain.Artifact, error)
	Create(ctx context.Context, q db.Querier, a *domain.Artifact) error
	Delete(ctx context.Context, q db.Querier, id string) (bool, error)
	BelongsTo(ctx context.Context, q db.Querier, id, accountID string) (bool, error)

	CASHeader(ctx context.Context, q db.Querier, id string, expected int64, value string) (bool, error)
	ReadHeader(ctx context.Context, q db.Querier, id string) (string, int64, error)

	CASBody(ctx context.Context, q db.Querier, id string, expected int64, value string) (bool, error)
	ReadBody(ctx context.Context, q db.Querier, id string) (string, int64, error)
}
