// Package store provides SQLite-backed persistence for the Epoch Protocol
// Engine: indexed epoch status, the append-only transition record trail, vote
// and slice bookkeeping, child-progress events, and recovery snapshots.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/anthropics/epoch-engine/internal/domain"
)

// schemaV1 defines the initial database schema.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS epochs (
	epoch_id        TEXT PRIMARY KEY,
	current_phase   TEXT NOT NULL DEFAULT 'request',
	current_role    TEXT NOT NULL DEFAULT 'orchestrator',
	status          TEXT NOT NULL DEFAULT 'running',
	state_version   INTEGER NOT NULL DEFAULT 1,
	round           INTEGER NOT NULL DEFAULT 0,
	blocker_count   INTEGER NOT NULL DEFAULT 0,
	last_error      TEXT NOT NULL DEFAULT '',
	last_record_seq INTEGER NOT NULL DEFAULT 0,
	updated_at_unix INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS transition_records (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	epoch_id      TEXT NOT NULL,
	seq_no        INTEGER NOT NULL,
	from_phase    TEXT NOT NULL,
	to_phase      TEXT NOT NULL,
	triggered_by  TEXT NOT NULL DEFAULT '',
	condition_met TEXT NOT NULL DEFAULT '',
	success       INTEGER NOT NULL DEFAULT 0,
	created_at    INTEGER NOT NULL,
	UNIQUE(epoch_id, seq_no)
);
CREATE INDEX IF NOT EXISTS idx_records_epoch_seq ON transition_records(epoch_id, seq_no);

CREATE TABLE IF NOT EXISTS review_votes (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	epoch_id   TEXT NOT NULL,
	round      INTEGER NOT NULL DEFAULT 0,
	axis       TEXT NOT NULL,
	vote       TEXT NOT NULL,
	reviewer   TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_votes_epoch_round ON review_votes(epoch_id, round);

CREATE TABLE IF NOT EXISTS state_snapshots (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	epoch_id      TEXT NOT NULL,
	seq_no        INTEGER NOT NULL,
	snapshot_json TEXT NOT NULL DEFAULT '{}',
	created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_epoch_seq ON state_snapshots(epoch_id, seq_no);

CREATE TABLE IF NOT EXISTS slices (
	slice_id        TEXT PRIMARY KEY,
	epoch_id        TEXT NOT NULL,
	state           TEXT NOT NULL DEFAULT 'created',
	assignment_json TEXT NOT NULL DEFAULT '[]',
	created_at_unix INTEGER NOT NULL DEFAULT 0,
	updated_at_unix INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_slices_epoch ON slices(epoch_id, state);

CREATE TABLE IF NOT EXISTS progress_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	epoch_id   TEXT NOT NULL,
	unit_id    TEXT NOT NULL,
	task_id    TEXT NOT NULL DEFAULT '',
	stage      TEXT NOT NULL DEFAULT '',
	completed  INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_progress_epoch ON progress_events(epoch_id);
`

// NewDB opens a SQLite database at the given path with recommended pragmas
// and runs the V1 schema migration.
func NewDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrStoreInit.Code, "open database", err)
	}

	// Limit connections to 1 for SQLite (WAL allows concurrent reads but single writer).
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, domain.WrapEngineError(domain.ErrStoreInit.Code, "migrate schema", err)
	}

	return db, nil
}

func migrate(db *sql.DB) error {
	_, err := db.ExecContext(context.Background(), schemaV1)
	return err
}
