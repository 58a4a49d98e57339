package repository

import (
	"context"
	"database/sql"
	"errors"

	"state-sync-plane/backend/internal/artifact/domain"
	"state-sync-plane/backend/internal/db"
	"state-sync-plane/backend/internal/occ"
)

type PostgresRepository struct{}

// NewPostgresRepository returns an artifact repository.
func NewPostgresRepository() *PostgresRepository {
	return &PostgresRepository{}
}

const artifactColumns = `id, account_id, header, header_version, body, body_version, created_at, updated_at`

// GetByID returns the artifact for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, q db.Querier, id string) (*domain.Artifact, error) {
	var a domain.Artifact
	err := q.QueryRowContext(ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE id = $1`, id,
	).Scan(&a.ID, &a.AccountID, &a.Header, &a.HeaderVersion, &a.Body, &a.BodyVersion, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListByAccount returns all artifacts for the account, newest first.
func (r *PostgresRepository) ListByAccount(ctx context.Context, q db.Querier, accountID string) ([]*domain.Artifact, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE account_id = $1 ORDER BY created_at DESC`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Artifact
	for rows.Next() {
		var a domain.Artifact
		if err := rows.Scan(&a.ID, &a.AccountID, &a.Header, &a.HeaderVersion, &a.Body, &a.BodyVersion, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// Create persists the artifact. The artifact must have ID and AccountID set.
func (r *PostgresRepository) Create(ctx context.Context, q db.Querier, a *domain.Artifact) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO artifacts (id, account_id, header, header_version, body, body_version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now(), now())`,
		a.ID, a.AccountID, a.Header, a.HeaderVersion, a.Body, a.BodyVersion,
	)
	return err
}

// Delete removes the artifact and reports whether a row was removed.
func (r *PostgresRepository) Delete(ctx context.Context, q db.Querier, id string) (bool, error) {
	res, err := q.ExecContext(ctx, `DELETE FROM artifacts WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// BelongsTo reports whether the artifact exists and is owned by accountID.
func (r *PostgresRepository) BelongsTo(ctx context.Context, q db.Querier, id, accountID string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx,
		`SELECT 1 FROM artifacts WHERE id = $1 AND account_id = $2`, id, accountID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func casField(ctx context.Context, q db.Querier, field, id string, expected int64, value string) (bool, error) {
	res, err := q.ExecContext(ctx,
		`UPDATE artifacts SET `+field+` = $3, `+field+`_version = `+field+`_version + 1, updated_at = now()
		 WHERE id = $1 AND `+field+`_version = $2`,
		id, expected, value,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func readField(ctx context.Context, q db.Querier, field, id string) (string, int64, error) {
	var value string
	var version int64
	err := q.QueryRowContext(ctx,
		`SELECT `+field+`, `+field+`_version FROM artifacts WHERE id = $1`, id).Scan(&value, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return "", occ.VersionNone, nil
	}
	if err != nil {
		return "", 0, err
	}
	return value, version, nil
}

func (r *PostgresRepository) CASHeader(ctx context.Context, q db.Querier, id string, expected int64, value string) (bool, error) {
	return casField(ctx, q, "header", id, expected, value)
}

func (r *PostgresRepository) ReadHeader(ctx context.Context, q db.Querier, id string) (string, int64, error) {
	return readField(ctx, q, "header", id)
}

func (r *PostgresRepository) CASBody(ctx context.Context, q db.Querier, id string, expected int64, value string) (bool, error) {
	return casField(ctx, q, "body", id, expected, value)
}

func (r *PostgresRepository) ReadBody(ctx context.Context, q db.Querier, id string) (string, int64, error) {
	return readField(ctx, q, "body", id)
}
