package repository

import (
	"context"
	"database/sql"
	"errors"

	"state-sync-plane/backend/internal/db"
	"state-sync-plane/backend/internal/machine/domain"
	"state-sync-plane/backend/internal/occ"
)

type PostgresRepository struct{}

// NewPostgresRepository returns a machine repository.
func NewPostgresRepository() *PostgresRepository {
	return &PostgresRepository{}
}

const machineColumns = `account_id, id, metadata, metadata_version, daemon_state, daemon_state_version, active, last_active_at, created_at, updated_at`

// GetByID returns the machine, or nil if it has never been written to.
func (r *PostgresRepository) GetByID(ctx context.Context, q db.Querier, accountID, id string) (*domain.Machine, error) {
	var m domain.Machine
	var lastActive sql.NullTime
	err := q.QueryRowContext(ctx,
		`SELECT `+machineColumns+` FROM machines WHERE account_id = $1 AND id = $2`,
		accountID, id,
	).Scan(&m.AccountID, &m.ID, &m.Metadata, &m.MetadataVersion, &m.DaemonState, &m.DaemonStateVersion,
		&m.Active, &lastActive, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if lastActive.Valid {
		m.LastActiveAt = &lastActive.Time
	}
	return &m, nil
}

// ListByAccount returns all machines for the account ordered by id.
func (r *PostgresRepository) ListByAccount(ctx context.Context, q db.Querier, accountID string) ([]*domain.Machine, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+machineColumns+` FROM machines WHERE account_id = $1 ORDER BY id`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Machine
	for rows.Next() {
		var m domain.Machine
		var lastActive sql.NullTime
		if err := rows.Scan(&m.AccountID, &m.ID, &m.Metadata, &m.MetadataVersion, &m.DaemonState, &m.DaemonStateVersion,
			&m.Active, &lastActive, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		if lastActive.Valid {
			m.LastActiveAt = &lastActive.Time
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// casField performs a conditional write against one versioned column.
// expected == occ.VersionNone means the caller believes the machine does not
// exist yet; the row is created with the field at version 0.
func casField(ctx context.Context, q db.Querier, field, accountID, id string, expected int64, value string) (bool, error) {
	if expected == occ.VersionNone {
		res, err := q.ExecContext(ctx,
			`INSERT INTO machines (account_id, id, `+field+`, created_at, updated_at)
			 VALUES ($1, $2, $3, now(), now())
			 ON CONFLICT (account_id, id) DO NOTHING`,
			accountID, id, value,
		)
		if err != nil {
			return false, err
		}
		n, err := res.RowsAffected()
		return n == 1, err
	}
	res, err := q.ExecContext(ctx,
		`UPDATE machines SET `+field+` = $4, `+field+`_version = `+field+`_version + 1, updated_at = now()
		 WHERE account_id = $1 AND id = $2 AND `+field+`_version = $3`,
		accountID, id, expected, value,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func readField(ctx context.Context, q db.Querier, field, accountID, id string) (string, int64, error) {
	var value string
	var version int64
	err := q.QueryRowContext(ctx,
		`SELECT `+field+`, `+field+`_version FROM machines WHERE account_id = $1 AND id = $2`,
		accountID, id,
	).Scan(&value, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return "", occ.VersionNone, nil
	}
	if err != nil {
		return "", 0, err
	}
	return value, version, nil
}

func (r *PostgresRepository) CASMetadata(ctx context.Context, q db.Querier, accountID, id string, expected int64, value string) (bool, error) {
	return casField(ctx, q, "metadata", accountID, id, expected, value)
}

func (r *PostgresRepository) ReadMetadata(ctx context.Context, q db.Querier, accountID, id string) (string, int64, error) {
	return readField(ctx, q, "metadata", accountID, id)
}

func (r *PostgresRepository) CASDaemonState(ctx context.Context, q db.Querier, accountID, id string, expected int64, value string) (bool, error) {
	return casField(ctx, q, "daemon_state", accountID, id, expected, value)
}

func (r *PostgresRepository) ReadDaemonState(ctx context.Context, q db.Querier, accountID, id string) (string, int64, error) {
	return readField(ctx, q, "daemon_state", accountID, id)
}

// UpdateLastActiveBatch persists coalesced machine heartbeats. Heartbeats for
// machines that have never been written are dropped by the WHERE clause.
func (r *PostgresRepository) UpdateLastActiveBatch(ctx context.Context, q db.Querier, batch []domain.Heartbeat) error {
	for _, hb := range batch {
		if _, err := q.ExecContext(ctx,
			`UPDATE machines SET last_active_at = $3, active = TRUE, updated_at = now()
			 WHERE account_id = $1 AND id = $2`,
			hb.AccountID, hb.ID, hb.At.UTC(),
		); err != nil {
			return err
		}
	}
	return nil
}
