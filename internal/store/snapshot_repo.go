package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/anthropics/epoch-engine/internal/domain"
)

// SnapshotRepo persists serialized EpochState snapshots at transition
// boundaries for crash recovery.
type SnapshotRepo struct{}

// SaveTx inserts a snapshot within an existing transaction.
func (r *SnapshotRepo) SaveTx(ctx context.Context, tx *sql.Tx, state domain.EpochState, seqNo, createdAt int64) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	const q = `INSERT INTO state_snapshots (epoch_id, seq_no, snapshot_json, created_at)
VALUES (?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, q, state.EpochID, seqNo, string(data), createdAt); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Latest returns the most recent snapshot for an epoch, decoded. The second
// return value is false when no snapshot exists yet.
func (r *SnapshotRepo) Latest(ctx context.Context, db *sql.DB, epochID string) (domain.EpochState, bool, error) {
	const q = `SELECT snapshot_json FROM state_snapshots
WHERE epoch_id = ?
ORDER BY seq_no DESC
LIMIT 1`

	var raw string
	err := db.QueryRowContext(ctx, q, epochID).Scan(&raw)
	if err == sql.ErrNoRows {
		return domain.EpochState{}, false, nil
	}
	if err != nil {
		return domain.EpochState{}, false, fmt.Errorf("load snapshot: %w", err)
	}

	var state domain.EpochState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return domain.EpochState{}, false, domain.WrapEngineError(domain.ErrSnapshotCorrupt.Code, domain.ErrSnapshotCorrupt.Message, err)
	}
	return state, true, nil
}
