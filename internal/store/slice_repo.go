package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/anthropics/epoch-engine/internal/domain"
)

// SliceRepo handles persistence for implementation slice bookkeeping.
type SliceRepo struct{}

// Create inserts a slice row.
func (r *SliceRepo) Create(ctx context.Context, db *sql.DB, s domain.SliceRef) error {
	assignment, err := json.Marshal(s.Assignment)
	if err != nil {
		return fmt.Errorf("encode assignment: %w", err)
	}
	const q = `INSERT INTO slices (slice_id, epoch_id, state, assignment_json, created_at_unix, updated_at_unix)
VALUES (?, ?, ?, ?, ?, ?)`
	_, err = db.ExecContext(ctx, q,
		s.SliceID,
		s.EpochID,
		string(s.State),
		string(assignment),
		s.CreatedAtUnix,
		s.UpdatedAtUnix,
	)
	if err != nil {
		return fmt.Errorf("create slice: %w", err)
	}
	return nil
}

// UpdateState changes a slice's lifecycle state.
func (r *SliceRepo) UpdateState(ctx context.Context, db *sql.DB, sliceID string, state domain.SliceState, updatedAt int64) error {
	const q = `UPDATE slices SET state = ?, updated_at_unix = ? WHERE slice_id = ?`
	_, err := db.ExecContext(ctx, q, string(state), updatedAt, sliceID)
	if err != nil {
		return fmt.Errorf("update slice state: %w", err)
	}
	return nil
}

// ListByEpoch returns all slices for an epoch.
func (r *SliceRepo) ListByEpoch(ctx context.Context, db *sql.DB, epochID string) ([]domain.SliceRef, error) {
	const q = `SELECT slice_id, epoch_id, state, assignment_json, created_at_unix, updated_at_unix
FROM slices
WHERE epoch_id = ?
ORDER BY created_at_unix ASC, slice_id ASC`

	rows, err := db.QueryContext(ctx, q, epochID)
	if err != nil {
		return nil, fmt.Errorf("list slices: %w", err)
	}
	defer rows.Close()

	var out []domain.SliceRef
	for rows.Next() {
		var s domain.SliceRef
		var state, assignment string
		if err := rows.Scan(&s.SliceID, &s.EpochID, &state, &assignment, &s.CreatedAtUnix, &s.UpdatedAtUnix); err != nil {
			return nil, fmt.Errorf("scan slice: %w", err)
		}
		s.State = domain.SliceState(state)
		if err := json.Unmarshal([]byte(assignment), &s.Assignment); err != nil {
			return nil, fmt.Errorf("decode assignment: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
