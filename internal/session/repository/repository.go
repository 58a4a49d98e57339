package repository

import (
	"context"
	"time"

	"state-sync-plane/backend/internal/db"
	"state-sync-plane/backend/internal/session/domain"
)

// Repository defines persistence for sessions. Methods take an explicit
// Querier so the same code runs on *sql.DB or inside a coordinator
// transaction.
type Repository interface {
	GetByID(ctx context.Context, q db.Querier, id string) (*domain.Session, error)
	ListByAccount(ctx context.Context, q db.Querier, accountID string) ([]*domain.Session, error)
	Create(ctx context.Context, q db.Querier, s *domain.Session) error
	// BelongsTo reports whether the session exists and is owned by accountID.
	BelongsTo(ctx context.Context, q db.Querier, id, accountID string) (bool, error)

	CASMetadata(ctx context.Context, q db.Querier, id string, expected int64, value string) (bool, error)
	ReadMetadata(ctx context.Context, q db.Querier, id string) (string, int64, error)
	CASAgentState(ctx context.Context, q db.Querier, id string, expected int64, value string) (bool, error)
	ReadAgentState(ctx context.Context, q db.Querier, id string) (string, int64, error)

	// UpdateLastActiveBatch persists coalesced heartbeat timestamps.
	UpdateLastActiveBatch(ctx context.Context, q db.Querier, batch map[string]time.Time) error
}
