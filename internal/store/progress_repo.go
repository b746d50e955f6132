package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/anthropics/epoch-engine/internal/domain"
)

// ProgressRepo persists child-progress events reported back to the
// orchestrator by slice and review children.
type ProgressRepo struct{}

// Append inserts a progress event.
func (r *ProgressRepo) Append(ctx context.Context, db *sql.DB, ev domain.ProgressEvent) error {
	const q = `INSERT INTO progress_events (epoch_id, unit_id, task_id, stage, completed, created_at)
VALUES (?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, q,
		ev.EpochID,
		ev.UnitID,
		ev.TaskID,
		ev.Stage,
		boolToInt(ev.Completed),
		ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append progress event: %w", err)
	}
	return nil
}

// ListByEpoch returns all progress events for an epoch in insertion order.
func (r *ProgressRepo) ListByEpoch(ctx context.Context, db *sql.DB, epochID string) ([]domain.ProgressEvent, error) {
	const q = `SELECT id, epoch_id, unit_id, task_id, stage, completed, created_at
FROM progress_events
WHERE epoch_id = ?
ORDER BY id ASC`

	rows, err := db.QueryContext(ctx, q, epochID)
	if err != nil {
		return nil, fmt.Errorf("list progress events: %w", err)
	}
	defer rows.Close()

	var events []domain.ProgressEvent
	for rows.Next() {
		var ev domain.ProgressEvent
		var completed int
		if err := rows.Scan(&ev.ID, &ev.EpochID, &ev.UnitID, &ev.TaskID, &ev.Stage, &completed, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan progress event: %w", err)
		}
		ev.Completed = completed != 0
		events = append(events, ev)
	}
	return events, rows.Err()
}
