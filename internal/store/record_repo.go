package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/anthropics/epoch-engine/internal/domain"
)

// RecordRepo handles persistence for the append-only transition record trail.
type RecordRepo struct{}

// AppendTx inserts a transition record within an existing transaction.
func (r *RecordRepo) AppendTx(ctx context.Context, tx *sql.Tx, epochID string, rec domain.TransitionRecord) error {
	const q = `INSERT INTO transition_records (epoch_id, seq_no, from_phase, to_phase, triggered_by, condition_met, success, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, q,
		epochID,
		rec.SeqNo,
		string(rec.FromPhase),
		string(rec.ToPhase),
		rec.TriggeredBy,
		rec.ConditionMet,
		boolToInt(rec.Success),
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	return nil
}

// ListByEpoch returns records for an epoch with sequence numbers greater than
// sinceSeq, ordered by sequence number ascending.
func (r *RecordRepo) ListByEpoch(ctx context.Context, db *sql.DB, epochID string, sinceSeq int64) ([]domain.TransitionRecord, error) {
	const q = `SELECT seq_no, from_phase, to_phase, triggered_by, condition_met, success, created_at
FROM transition_records
WHERE epoch_id = ? AND seq_no > ?
ORDER BY seq_no ASC`

	rows, err := db.QueryContext(ctx, q, epochID, sinceSeq)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []domain.TransitionRecord
	for rows.Next() {
		var rec domain.TransitionRecord
		var from, to string
		var success int
		if err := rows.Scan(&rec.SeqNo, &from, &to, &rec.TriggeredBy, &rec.ConditionMet, &success, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.FromPhase = domain.PhaseID(from)
		rec.ToPhase = domain.PhaseID(to)
		rec.Success = success != 0
		records = append(records, rec)
	}
	return records, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
