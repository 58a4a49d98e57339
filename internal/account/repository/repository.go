package repository

import (
	"context"

	"state-sync-plane/backend/internal/account/domain"
	"state-sync-plane/backend/internal/db"
)

// Repository defines persistence for accounts. Methods take an explicit
// Querier so the same code runs on *sql.DB or inside a coordinator
// transaction.
type Repository interface {
	GetByID(ctx context.Context, q db.Querier, id string) (*domain.Account, error)
	Create(ctx context.Context, q db.Querier, a *domain.Account) error
	// CASSettings applies the settings write iff the stored version still
	// equals expected.
	CASSettings(ctx context.Context, q db.Querier, id string, expected int64, value string) (bool, error)
	// ReadSettings returns the authoritative settings value and version.
	ReadSettings(ctx context.Context, q db.Querier, id string) (string, int64, error)
}
