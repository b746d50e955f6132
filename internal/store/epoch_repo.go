package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/anthropics/epoch-engine/internal/domain"
)

// EpochRow is the indexed status metadata kept for one epoch. It is derived
// from EpochState on every successful transition and never diverges from it
// observably: both are written in the same transaction.
type EpochRow struct {
	EpochID       string
	CurrentPhase  domain.PhaseID
	CurrentRole   domain.RoleID
	Status        domain.EpochStatus
	StateVersion  int64
	Round         int
	BlockerCount  int
	LastError     string
	LastRecordSeq int64
	UpdatedAtUnix int64
}

// EpochRepo handles persistence for epoch status rows.
type EpochRepo struct{}

// CreateTx inserts a new epoch row within an existing transaction.
func (r *EpochRepo) CreateTx(ctx context.Context, tx *sql.Tx, row EpochRow) error {
	const q = `INSERT INTO epochs (epoch_id, current_phase, current_role, status, state_version, round, blocker_count, last_error, last_record_seq, updated_at_unix)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, q,
		row.EpochID,
		string(row.CurrentPhase),
		string(row.CurrentRole),
		string(row.Status),
		row.StateVersion,
		row.Round,
		row.BlockerCount,
		row.LastError,
		row.LastRecordSeq,
		row.UpdatedAtUnix,
	)
	if err != nil {
		return fmt.Errorf("create epoch: %w", err)
	}
	return nil
}

// UpdateTx updates an epoch row within a transaction using optimistic
// locking. The update only succeeds if the stored state_version matches the
// expected version.
func (r *EpochRepo) UpdateTx(ctx context.Context, tx *sql.Tx, row EpochRow) error {
	const q = `UPDATE epochs SET
		current_phase = ?,
		current_role = ?,
		status = ?,
		state_version = state_version + 1,
		round = ?,
		blocker_count = ?,
		last_error = ?,
		last_record_seq = ?,
		updated_at_unix = ?
	WHERE epoch_id = ? AND state_version = ?`

	res, err := tx.ExecContext(ctx, q,
		string(row.CurrentPhase),
		string(row.CurrentRole),
		string(row.Status),
		row.Round,
		row.BlockerCount,
		row.LastError,
		row.LastRecordSeq,
		row.UpdatedAtUnix,
		row.EpochID,
		row.StateVersion,
	)
	if err != nil {
		return fmt.Errorf("update epoch: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrOptimisticLock
	}
	return nil
}

// GetByID retrieves an epoch row by its ID.
func (r *EpochRepo) GetByID(ctx context.Context, db *sql.DB, epochID string) (*EpochRow, error) {
	const q = `SELECT epoch_id, current_phase, current_role, status, state_version, round, blocker_count, last_error, last_record_seq, updated_at_unix
FROM epochs WHERE epoch_id = ?`

	row := db.QueryRowContext(ctx, q, epochID)

	var e EpochRow
	var phase, role, status string
	err := row.Scan(&e.EpochID, &phase, &role, &status, &e.StateVersion, &e.Round,
		&e.BlockerCount, &e.LastError, &e.LastRecordSeq, &e.UpdatedAtUnix)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrEpochNotFound
		}
		return nil, fmt.Errorf("get epoch: %w", err)
	}
	e.CurrentPhase = domain.PhaseID(phase)
	e.CurrentRole = domain.RoleID(role)
	e.Status = domain.EpochStatus(status)
	return &e, nil
}
