package repository

import (
	"context"
	"database/sql"
	"errors"

	"state-sync-plane/backend/internal/account/domain"
	"state-sync-plane/backend/internal/db"
	"state-sync-plane/backend/internal/occ"
)

type PostgresRepository struct{}

// NewPostgresRepository returns an account repository.
func NewPostgresRepository() *PostgresRepository {
	return &PostgresRepository{}
}

// GetByID returns the account for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, q db.Querier, id string) (*domain.Account, error) {
	var a domain.Account
	err := q.QueryRowContext(ctx,
		`SELECT id, settings, settings_version, update_seq, created_at, updated_at FROM accounts WHERE id = $1`,
		id,
	).Scan(&a.ID, &a.Settings, &a.SettingsVersion, &a.UpdateSeq, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

// Create persists the account. The account must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, q db.Querier, a *domain.Account) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO accounts (id, settings, settings_version, update_seq, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, now(), now())`,
		a.ID, a.Settings, a.SettingsVersion, a.UpdateSeq,
	)
	return err
}

// CASSettings applies the settings write iff the stored version still equals
// expected; the stored version advances to expected+1.
func (r *PostgresRepository) CASSettings(ctx context.Context, q db.Querier, id string, expected int64, value string) (bool, error) {
	res, err := q.ExecContext(ctx,
		`UPDATE accounts SET settings = $3, settings_version = settings_version + 1, updated_at = now()
		 WHERE id = $1 AND settings_version = $2`,
		id, expected, value,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ReadSettings returns the authoritative settings value and version, or
// occ.VersionNone when the account does not exist.
func (r *PostgresRepository) ReadSettings(ctx context.Context, q db.Querier, id string) (string, int64, error) {
	var value string
	var version int64
	err := q.QueryRowContext(ctx,
		`SELECT settings, settings_version FROM accounts WHERE id = $1`, id,
	).Scan(&value, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return "", occ.VersionNone, nil
	}
	if err != nil {
		return "", 0, err
	}
	return value, version, nil
}
