package repository

import (
	"context"
	"database/sql"
	"errors"

	"state-sync-plane/backend/internal/db"
	"state-sync-plane/backend/internal/kv/domain"
	"state-sync-plane/backend/internal/occ"
)

type PostgresRepository struct{}

// NewPostgresRepository returns a key/value repository.
func NewPostgresRepository() *PostgresRepository {
	return &PostgresRepository{}
}

// Get returns the entry for (accountID, key), or nil if not found.
func (r *PostgresRepository) Get(ctx context.Context, q db.Querier, accountID, key string) (*domain.Entry, error) {
	var e domain.Entry
	err := q.QueryRowContext(ctx,
		`SELECT account_id, key, value, version, created_at, updated_at
		 FROM kv_entries WHERE account_id = $1 AND key = $2`,
		accountID, key,
	).Scan(&e.AccountID, &e.Key, &e.Value, &e.Version, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// List returns all entries for the account ordered by key.
func (r *PostgresRepository) List(ctx context.Context, q db.Querier, accountID string) ([]*domain.Entry, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT account_id, key, value, version, created_at, updated_at
		 FROM kv_entries WHERE account_id = $1 ORDER BY key`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Entry
	for rows.Next() {
		var e domain.Entry
		if err := rows.Scan(&e.AccountID, &e.Key, &e.Value, &e.Version, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) CASPut(ctx context.Context, q db.Querier, accountID, key string, expected int64, value string) (bool, error) {
	if expected == occ.VersionNone {
		res, err := q.ExecContext(ctx,
			`INSERT INTO kv_entries (account_id, key, value, created_at, updated_at)
			 VALUES ($1, $2, $3, now(), now())
			 ON CONFLICT (account_id, key) DO NOTHING`,
			accountID, key, value,
		)
		if err != nil {
			return false, err
		}
		n, err := res.RowsAffected()
		return n == 1, err
	}
	res, err := q.ExecContext(ctx,
		`UPDATE kv_entries SET value = $4, version = version + 1, updated_at = now()
		 WHERE account_id = $1 AND key = $2 AND version = $3`,
		accountID, key, expected, value,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *PostgresRepository) CASDelete(ctx context.Context, q db.Querier, accountID, key string, expected int64) (bool, error) {
	res, err := q.ExecContext(ctx,
		`DELETE FROM kv_entries WHERE account_id = $1 AND key = $2 AND version = $3`,
		accountID, key, expected,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *PostgresRepository) ReadCurrent(ctx context.Context, q db.Querier, accountID, key string) (string, int64, error) {
	var value string
	var version int64
	err := q.QueryRowContext(ctx,
		`SELECT value, version FROM kv_entries WHERE account_id = $1 AND key = $2`,
		accountID, key,
	).Scan(&value, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return "", occ.VersionNone, nil
	}
	if err != nil {
		return "", 0, err
	}
	return value, version, nil
}
