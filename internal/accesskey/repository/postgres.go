package repository

import (
	"context"
	"database/sql"
	"errors"

	"state-sync-plane/backend/internal/accesskey/domain"
	"state-sync-plane/backend/internal/db"
	"state-sync-plane/backend/internal/occ"
)

type PostgresRepository struct{}

// NewPostgresRepository returns an access key repository.
func NewPostgresRepository() *PostgresRepository {
	return &PostgresRepository{}
}

const accessKeyColumns = `id, account_id, label, secret_hash, payload, payload_version, created_at, updated_at`

// GetByID returns the access key for id, or nil if not found. The secret
// hash is included for credential verification.
func (r *PostgresRepository) GetByID(ctx context.Context, q db.Querier, id string) (*domain.AccessKey, error) {
	var k domain.AccessKey
	err := q.QueryRowContext(ctx,
		`SELECT `+accessKeyColumns+` FROM access_keys WHERE id = $1`, id,
	).Scan(&k.ID, &k.AccountID, &k.Label, &k.SecretHash, &k.Payload, &k.PayloadVersion, &k.CreatedAt, &k.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// ListByAccount returns all access keys for the account, newest first.
func (r *PostgresRepository) ListByAccount(ctx context.Context, q db.Querier, accountID string) ([]*domain.AccessKey, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+accessKeyColumns+` FROM access_keys WHERE account_id = $1 ORDER BY created_at DESC`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.AccessKey
	for rows.Next() {
		var k domain.AccessKey
		if err := rows.Scan(&k.ID, &k.AccountID, &k.Label, &k.SecretHash, &k.Payload, &k.PayloadVersion, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &k)
	}
	return out, rows.Err()
}

// Create persists the access key. SecretHash must already be a bcrypt hash.
func (r *PostgresRepository) Create(ctx context.Context, q db.Querier, k *domain.AccessKey) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO access_keys (id, account_id, label, secret_hash, payload, payload_version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now(), now())`,
		k.ID, k.AccountID, k.Label, k.SecretHash, k.Payload, k.PayloadVersion,
	)
	return err
}

// Delete removes the access key and reports whether a row was removed.
func (r *PostgresRepository) Delete(ctx context.Context, q db.Querier, id string) (bool, error) {
	res, err := q.ExecContext(ctx, `DELETE FROM access_keys WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *PostgresRepository) CASPayload(ctx context.Context, q db.Querier, id string, expected int64, value string) (bool, error) {
	res, err := q.ExecContext(ctx,
		`UPDATE access_keys SET payload = $3, payload_version = payload_version + 1, updated_at = now()
		 WHERE id = $1 AND payload_version = $2`,
		id, expected, value,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *PostgresRepository) ReadPayload(ctx context.Context, q db.Querier, id string) (string, int64, error) {
	var value string
	var version int64
	err := q.QueryRowContext(ctx,
		`SELECT payload, payload_version FROM access_keys WHERE id = $1`, id).Scan(&value, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return "", occ.VersionNone, nil
	}
	if err != nil {
		return "", 0, err
	}
	return value, version, nil
}
