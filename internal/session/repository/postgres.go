package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"state-sync-plane/backend/internal/db"
	"state-sync-plane/backend/internal/occ"
	"state-sync-plane/backend/internal/session/domain"
)

type PostgresRepository struct{}

// NewPostgresRepository returns a session repository.
func NewPostgresRepository() *PostgresRepository {
	return &PostgresRepository{}
}

const sessionColumns = `id, account_id, tag, metadata, metadata_version, agent_state, agent_state_version, active, last_active_at, created_at, updated_at`

func scanSession(row *sql.Row) (*domain.Session, error) {
	var s domain.Session
	var lastActive sql.NullTime
	err := row.Scan(&s.ID, &s.AccountID, &s.Tag, &s.Metadata, &s.MetadataVersion,
		&s.AgentState, &s.AgentStateVersion, &s.Active, &lastActive, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lastActive.Valid {
		s.LastActiveAt = &lastActive.Time
	}
	return &s, nil
}

// GetByID returns the session for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, q db.Querier, id string) (*domain.Session, error) {
	s, err := scanSession(q.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// ListByAccount returns all sessions for the account, newest first.
func (r *PostgresRepository) ListByAccount(ctx context.Context, q db.Querier, accountID string) ([]*domain.Session, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE account_id = $1 ORDER BY created_at DESC`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Session
	for rows.Next() {
		var s domain.Session
		var lastActive sql.NullTime
		if err := rows.Scan(&s.ID, &s.AccountID, &s.Tag, &s.Metadata, &s.MetadataVersion,
			&s.AgentState, &s.AgentStateVersion, &s.Active, &lastActive, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		if lastActive.Valid {
			s.LastActiveAt = &lastActive.Time
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

// Create persists the session. The session must have ID and AccountID set.
func (r *PostgresRepository) Create(ctx context.Context, q db.Querier, s *domain.Session) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO sessions (id, account_id, tag, metadata, metadata_version, agent_state, agent_state_version, active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())`,
		s.ID, s.AccountID, s.Tag, s.Metadata, s.MetadataVersion, s.AgentState, s.AgentStateVersion, s.Active,
	)
	return err
}

// BelongsTo reports whether the session exists and is owned by accountID.
func (r *PostgresRepository) BelongsTo(ctx context.Context, q db.Querier, id, accountID string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx,
		`SELECT 1 FROM sessions WHERE id = $1 AND account_id = $2`, id, accountID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CASMetadata applies the metadata write iff the stored version still equals
// expected; the stored version advances to expected+1.
func (r *PostgresRepository) CASMetadata(ctx context.Context, q db.Querier, id string, expected int64, value string) (bool, error) {
	res, err := q.ExecContext(ctx,
		`UPDATE sessions SET metadata = $3, metadata_version = metadata_version + 1, updated_at = now()
		 WHERE id = $1 AND metadata_version = $2`,
		id, expected, value,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ReadMetadata returns the authoritative metadata value and version, or
// occ.VersionNone when the session does not exist.
func (r *PostgresRepository) ReadMetadata(ctx context.Context, q db.Querier, id string) (string, int64, error) {
	var value string
	var version int64
	err := q.QueryRowContext(ctx,
		`SELECT metadata, metadata_version FROM sessions WHERE id = $1`, id).Scan(&value, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return "", occ.VersionNone, nil
	}
	if err != nil {
		return "", 0, err
	}
	return value, version, nil
}

// CASAgentState applies the agent-state write iff the stored version still
// equals expected.
func (r *PostgresRepository) CASAgentState(ctx context.Context, q db.Querier, id string, expected int64, value string) (bool, error) {
	res, err := q.ExecContext(ctx,
		`UPDATE sessions SET agent_state = $3, agent_state_version = agent_state_version + 1, updated_at = now()
		 WHERE id = $1 AND agent_state_version = $2`,
		id, expected, value,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ReadAgentState returns the authoritative agent-state value and version, or
// occ.VersionNone when the session does not exist.
func (r *PostgresRepository) ReadAgentState(ctx context.Context, q db.Querier, id string) (string, int64, error) {
	var value string
	var version int64
	err := q.QueryRowContext(ctx,
		`SELECT agent_state, agent_state_version FROM sessions WHERE id = $1`, id).Scan(&value, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return "", occ.VersionNone, nil
	}
	if err != nil {
		return "", 0, err
	}
	return value, version, nil
}

// UpdateLastActiveBatch persists coalesced heartbeat timestamps. Sessions
// are marked active as a side effect.
func (r *PostgresRepository) UpdateLastActiveBatch(ctx context.Context, q db.Querier, batch map[string]time.Time) error {
	for id, at := range batch {
		if _, err := q.ExecContext(ctx,
			`UPDATE sessions SET last_active_at = $2, active = TRUE, updated_at = now() WHERE id = $1`,
			id, at.UTC(),
		); err != nil {
			return err
		}
	}
	return nil
}
