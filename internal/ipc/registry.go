// Package ipc exposes the orchestrator's message boundary over HTTP. Handlers
// never touch epoch state directly: inbound requests become queued commands,
// queries are answered from the orchestrator's serialized loop.
package ipc

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"

	"github.com/anthropics/epoch-engine/internal/domain"
	"github.com/anthropics/epoch-engine/internal/orchestrator"
	"github.com/anthropics/epoch-engine/internal/protocol"
	"github.com/anthropics/epoch-engine/internal/rules"
)

// Registry tracks the live orchestrator per epoch. One epoch has exactly one
// owning orchestrator for its whole lifetime.
type Registry struct {
	db      *sql.DB
	table   *protocol.Table
	ruleEng *rules.Engine
	cfg     orchestrator.Config
	log     *slog.Logger

	mu     sync.Mutex
	epochs map[string]*orchestrator.Orchestrator
}

// NewRegistry creates an empty registry.
func NewRegistry(db *sql.DB, table *protocol.Table, ruleEng *rules.Engine, cfg orchestrator.Config, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		db:      db,
		table:   table,
		ruleEng: ruleEng,
		cfg:     cfg,
		log:     log,
		epochs:  make(map[string]*orchestrator.Orchestrator),
	}
}

// Start creates a fresh epoch, registers its orchestrator, and runs its loop
// in the background.
func (r *Registry) Start(ctx context.Context, epochID string) (*orchestrator.Orchestrator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.epochs[epochID]; exists {
		return nil, domain.ErrDuplicateEpoch
	}

	o, err := orchestrator.New(ctx, r.db, r.table, r.ruleEng, epochID, r.cfg)
	if err != nil {
		return nil, err
	}
	r.epochs[epochID] = o

	go func() {
		if _, err := o.Run(context.Background()); err != nil {
			r.log.Error("epoch loop exited", "epoch_id", epochID, "err", err)
		}
	}()
	return o, nil
}

// Resume rebuilds and registers the orchestrator for a persisted epoch.
func (r *Registry) Resume(ctx context.Context, epochID string) (*orchestrator.Orchestrator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if o, exists := r.epochs[epochID]; exists {
		return o, nil
	}

	o, err := orchestrator.Resume(ctx, r.db, r.table, r.ruleEng, epochID, r.cfg)
	if err != nil {
		return nil, err
	}
	r.epochs[epochID] = o

	go func() {
		if _, err := o.Run(context.Background()); err != nil {
			r.log.Error("epoch loop exited", "epoch_id", epochID, "err", err)
		}
	}()
	return o, nil
}

// Get returns the registered orchestrator for an epoch.
func (r *Registry) Get(epochID string) (*orchestrator.Orchestrator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.epochs[epochID]
	return o, ok
}
