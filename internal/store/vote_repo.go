package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/anthropics/epoch-engine/internal/domain"
)

// VoteRepo persists the audit trail of review votes. The authoritative vote
// map lives in EpochState; these rows exist so past rounds stay inspectable
// after the state machine clears the map.
type VoteRepo struct{}

// Append inserts a vote record.
func (r *VoteRepo) Append(ctx context.Context, db *sql.DB, rec domain.VoteRecord) error {
	const q = `INSERT INTO review_votes (epoch_id, round, axis, vote, reviewer, created_at)
VALUES (?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, q,
		rec.EpochID,
		rec.Round,
		rec.Axis,
		string(rec.Vote),
		rec.Reviewer,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append vote: %w", err)
	}
	return nil
}

// ListByEpoch returns all votes for an epoch ordered by insertion.
func (r *VoteRepo) ListByEpoch(ctx context.Context, db *sql.DB, epochID string) ([]domain.VoteRecord, error) {
	const q = `SELECT epoch_id, round, axis, vote, reviewer, created_at
FROM review_votes
WHERE epoch_id = ?
ORDER BY id ASC`

	rows, err := db.QueryContext(ctx, q, epochID)
	if err != nil {
		return nil, fmt.Errorf("list votes: %w", err)
	}
	defer rows.Close()

	var records []domain.VoteRecord
	for rows.Next() {
		var v domain.VoteRecord
		var vote string
		if err := rows.Scan(&v.EpochID, &v.Round, &v.Axis, &vote, &v.Reviewer, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		v.Vote = domain.VoteType(vote)
		records = append(records, v)
	}
	return records, rows.Err()
}
