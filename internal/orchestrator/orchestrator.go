// Package orchestrator wraps one epoch state machine in a crash-recoverable,
// signal-driven process. External senders only enqueue commands; every
// mutation of epoch state happens inside the orchestrator's own serialized
// loop, so no locking is needed around state fields. The loop has exactly two
// side-effect boundaries: constraint checking for a candidate transition, and
// persisting records.
package orchestrator

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/epoch-engine/internal/domain"
	"github.com/anthropics/epoch-engine/internal/epoch"
	"github.com/anthropics/epoch-engine/internal/protocol"
	"github.com/anthropics/epoch-engine/internal/rules"
	"github.com/anthropics/epoch-engine/internal/store"
)

// AdvanceCommand asks the orchestrator to attempt a phase transition.
type AdvanceCommand struct {
	To           domain.PhaseID
	TriggeredBy  string
	ConditionMet string
	// HandoffDocPresent reports whether a structured handoff document exists,
	// which actor-changing edges require.
	HandoffDocPresent bool
}

// VoteCommand records one review vote.
type VoteCommand struct {
	Axis       string
	Value      domain.VoteType
	ReviewerID string
}

// Result summarizes a finished epoch run.
type Result struct {
	FinalPhase            domain.PhaseID
	TotalTransitions      int
	SuccessfulTransitions int
	ViolationsObserved    int
}

// Config holds orchestrator tunables.
type Config struct {
	QueueSize int
	// MaxParallelSlices caps how many slice children run at once. Zero or
	// negative means no cap.
	MaxParallelSlices int
	Logger            *slog.Logger
}

type advanceReq struct {
	cmd   AdvanceCommand
	reply chan error
}

type voteReq struct {
	cmd   VoteCommand
	reply chan error
}

type progressReq struct {
	ev    domain.ProgressEvent
	reply chan error
}

// Orchestrator owns one Machine and applies all commands serially.
type Orchestrator struct {
	db      *sql.DB
	table   *protocol.Table
	ruleEng *rules.Engine
	machine *epoch.Machine
	log     *slog.Logger

	maxParallelSlices int

	epochRepo    *store.EpochRepo
	recordRepo   *store.RecordRepo
	snapshotRepo *store.SnapshotRepo
	voteRepo     *store.VoteRepo
	progressRepo *store.ProgressRepo
	sliceRepo    *store.SliceRepo

	advances chan advanceReq
	votes    chan voteReq
	progress chan progressReq
	queries  chan func()

	// row mirrors the persisted epoch row; touched only inside the loop.
	row store.EpochRow

	progressLog []domain.ProgressEvent
	violations  int
	total       int
	successful  int

	// finalState is written before done closes; reads after <-done are safe.
	done       chan struct{}
	finalState domain.EpochState
}

func newOrchestrator(db *sql.DB, table *protocol.Table, ruleEng *rules.Engine, m *epoch.Machine, cfg Config) *Orchestrator {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Orchestrator{
		db:                db,
		table:             table,
		ruleEng:           ruleEng,
		machine:           m,
		log:               cfg.Logger.With("epoch_id", m.State().EpochID),
		maxParallelSlices: cfg.MaxParallelSlices,
		epochRepo:         &store.EpochRepo{},
		recordRepo:        &store.RecordRepo{},
		snapshotRepo:      &store.SnapshotRepo{},
		voteRepo:          &store.VoteRepo{},
		progressRepo:      &store.ProgressRepo{},
		sliceRepo:         &store.SliceRepo{},
		advances:          make(chan advanceReq, cfg.QueueSize),
		votes:             make(chan voteReq, cfg.QueueSize),
		progress:          make(chan progressReq, cfg.QueueSize),
		queries:           make(chan func()),
		done:              make(chan struct{}),
	}
}

// New creates an orchestrator for a fresh epoch and persists its initial row.
func New(ctx context.Context, db *sql.DB, table *protocol.Table, ruleEng *rules.Engine, epochID string, cfg Config) (*Orchestrator, error) {
	m := epoch.NewMachine(epochID, table)
	o := newOrchestrator(db, table, ruleEng, m, cfg)

	state := m.State()
	now := time.Now().Unix()
	o.row = store.EpochRow{
		EpochID:       epochID,
		CurrentPhase:  state.CurrentPhase,
		CurrentRole:   state.CurrentRole,
		Status:        domain.StatusRunning,
		StateVersion:  1,
		UpdatedAtUnix: now,
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := o.epochRepo.CreateTx(ctx, tx, o.row); err != nil {
		return nil, err
	}
	if err := o.snapshotRepo.SaveTx(ctx, tx, state, 0, now); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return o, nil
}

// Resume rebuilds an orchestrator for an existing epoch from its persisted
// row, latest snapshot, and any records appended after that snapshot.
func Resume(ctx context.Context, db *sql.DB, table *protocol.Table, ruleEng *rules.Engine, epochID string, cfg Config) (*Orchestrator, error) {
	epochRepo := &store.EpochRepo{}
	row, err := epochRepo.GetByID(ctx, db, epochID)
	if err != nil {
		return nil, err
	}

	snapshotRepo := &store.SnapshotRepo{}
	state, ok, err := snapshotRepo.Latest(ctx, db, epochID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrEpochNotFound
	}

	// Failed attempts recorded after the snapshot are replayed into the
	// history; successful transitions always carry their own snapshot.
	recordRepo := &store.RecordRepo{}
	trailing, err := recordRepo.ListByEpoch(ctx, db, epochID, int64(len(state.TransitionHistory)))
	if err != nil {
		return nil, err
	}
	for _, rec := range trailing {
		state.TransitionHistory = append(state.TransitionHistory, rec)
		if !rec.Success {
			// ConditionMet carries the display prefix; LastError holds the
			// bare summary, matching what the live machine stored.
			state.LastError = strings.TrimPrefix(rec.ConditionMet, "FAILED: ")
		}
	}

	m := epoch.Restore(state, table)
	o := newOrchestrator(db, table, ruleEng, m, cfg)
	o.row = *row

	progressRepo := &store.ProgressRepo{}
	events, err := progressRepo.ListByEpoch(ctx, db, epochID)
	if err != nil {
		return nil, err
	}
	o.progressLog = events

	o.log.Info("epoch resumed",
		"phase", state.CurrentPhase,
		"records", len(state.TransitionHistory))
	return o, nil
}

// SubmitAdvance enqueues an advance command and waits for its applied
// outcome. A full queue or a stopped orchestrator fails immediately.
func (o *Orchestrator) SubmitAdvance(ctx context.Context, cmd AdvanceCommand) error {
	req := advanceReq{cmd: cmd, reply: make(chan error, 1)}
	select {
	case o.advances <- req:
	case <-o.done:
		return domain.ErrOrchestratorStopped
	case <-ctx.Done():
		return ctx.Err()
	default:
		return domain.ErrQueueFull
	}
	return o.await(ctx, req.reply)
}

// SubmitVote enqueues a vote command and waits for its applied outcome.
func (o *Orchestrator) SubmitVote(ctx context.Context, cmd VoteCommand) error {
	req := voteReq{cmd: cmd, reply: make(chan error, 1)}
	select {
	case o.votes <- req:
	case <-o.done:
		return domain.ErrOrchestratorStopped
	case <-ctx.Done():
		return ctx.Err()
	default:
		return domain.ErrQueueFull
	}
	return o.await(ctx, req.reply)
}

// SubmitProgress enqueues a child-progress event. Callers decide whether a
// post-completion rejection matters; slice reporters swallow and log it.
func (o *Orchestrator) SubmitProgress(ctx context.Context, ev domain.ProgressEvent) error {
	req := progressReq{ev: ev, reply: make(chan error, 1)}
	select {
	case o.progress <- req:
	case <-o.done:
		return domain.ErrOrchestratorStopped
	case <-ctx.Done():
		return ctx.Err()
	default:
		return domain.ErrQueueFull
	}
	return o.await(ctx, req.reply)
}

// await waits for a command's applied outcome. The loop replies to the final
// command it services just before closing done, so a closed done still checks
// the reply channel once before reporting the orchestrator stopped.
func (o *Orchestrator) await(ctx context.Context, reply chan error) error {
	select {
	case err := <-reply:
		return err
	case <-o.done:
		select {
		case err := <-reply:
			return err
		default:
			return domain.ErrOrchestratorStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CurrentState answers with a full state snapshot.
func (o *Orchestrator) CurrentState() domain.EpochState {
	reply := make(chan domain.EpochState, 1)
	q := func() { reply <- o.machine.State() }
	select {
	case o.queries <- q:
		select {
		case s := <-reply:
			return s
		case <-o.done:
			return o.finalState
		}
	case <-o.done:
		return o.finalState
	}
}

// AvailableTransitions answers with the currently advertised edges.
func (o *Orchestrator) AvailableTransitions() []domain.Transition {
	reply := make(chan []domain.Transition, 1)
	q := func() { reply <- o.machine.AvailableTransitions() }
	select {
	case o.queries <- q:
		select {
		case ts := <-reply:
			return ts
		case <-o.done:
			return []domain.Transition{}
		}
	case <-o.done:
		return []domain.Transition{}
	}
}

// ProgressLog answers with the accumulated child-progress events in order.
func (o *Orchestrator) ProgressLog() []domain.ProgressEvent {
	reply := make(chan []domain.ProgressEvent, 1)
	q := func() { reply <- append([]domain.ProgressEvent(nil), o.progressLog...) }
	select {
	case o.queries <- q:
		select {
		case evs := <-reply:
			return evs
		case <-o.done:
			return append([]domain.ProgressEvent(nil), o.progressLog...)
		}
	case <-o.done:
		return append([]domain.ProgressEvent(nil), o.progressLog...)
	}
}

// Run drives the command loop until the epoch reaches the terminal sentinel
// or the context is cancelled. Each iteration drains queued votes and
// progress events before applying at most one advance.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	defer func() {
		o.finalState = o.machine.State()
		close(o.done)
	}()

	for !o.machine.Terminal() {
		o.drain(ctx)

		select {
		case <-ctx.Done():
			return o.result(), ctx.Err()
		case q := <-o.queries:
			q()
		case req := <-o.votes:
			req.reply <- o.applyVote(ctx, req.cmd)
		case req := <-o.progress:
			req.reply <- o.applyProgress(ctx, req.ev)
		case req := <-o.advances:
			// Votes already queued must be visible to this advance's
			// consensus check.
			o.drain(ctx)
			req.reply <- o.applyAdvance(ctx, req.cmd)
		}
	}

	res := o.result()
	o.log.Info("epoch complete",
		"final_phase", res.FinalPhase,
		"transitions", res.TotalTransitions,
		"successful", res.SuccessfulTransitions,
		"violations", res.ViolationsObserved)
	return res, nil
}

func (o *Orchestrator) result() *Result {
	return &Result{
		FinalPhase:            o.machine.CurrentPhase(),
		TotalTransitions:      o.total,
		SuccessfulTransitions: o.successful,
		ViolationsObserved:    o.violations,
	}
}

// drain services every queued vote, progress event, and query without
// blocking.
func (o *Orchestrator) drain(ctx context.Context) {
	for {
		select {
		case req := <-o.votes:
			req.reply <- o.applyVote(ctx, req.cmd)
		case req := <-o.progress:
			req.reply <- o.applyProgress(ctx, req.ev)
		case q := <-o.queries:
			q()
		default:
			return
		}
	}
}

func (o *Orchestrator) applyVote(ctx context.Context, cmd VoteCommand) error {
	if err := o.machine.RecordVote(cmd.Axis, cmd.Value); err != nil {
		o.log.Warn("vote rejected", "axis", cmd.Axis, "err", err)
		return err
	}
	state := o.machine.State()
	if err := o.voteRepo.Append(ctx, o.db, domain.VoteRecord{
		EpochID:   state.EpochID,
		Round:     state.Round,
		Axis:      cmd.Axis,
		Vote:      cmd.Value,
		Reviewer:  cmd.ReviewerID,
		CreatedAt: time.Now().Unix(),
	}); err != nil {
		o.log.Error("vote audit write failed", "err", err)
	}
	o.log.Info("vote recorded", "axis", cmd.Axis, "vote", cmd.Value, "reviewer", cmd.ReviewerID)
	return nil
}

func (o *Orchestrator) applyProgress(ctx context.Context, ev domain.ProgressEvent) error {
	ev.EpochID = o.machine.State().EpochID
	if ev.CreatedAt == 0 {
		ev.CreatedAt = time.Now().Unix()
	}
	if err := o.progressRepo.Append(ctx, o.db, ev); err != nil {
		return err
	}
	o.progressLog = append(o.progressLog, ev)
	return nil
}

// applyAdvance is the single serialized mutation point for transitions:
// re-validate through the constraint engine, attempt the machine transition,
// then persist the outcome with the status row in one transaction.
func (o *Orchestrator) applyAdvance(ctx context.Context, cmd AdvanceCommand) error {
	o.total++

	state := o.machine.State()
	violations := o.ruleEng.CheckTransition(state, cmd.To, rules.TransitionInput{
		HandoffDocPresent: cmd.HandoffDocPresent,
	})
	o.violations += len(violations)
	for _, v := range violations {
		o.log.Warn("constraint violation", "rule", v.RuleID, "msg", v.Message)
	}

	now := time.Now()
	rec, err := o.machine.Advance(cmd.To, cmd.TriggeredBy, cmd.ConditionMet, now)
	if err != nil {
		terr, ok := err.(*epoch.TransitionError)
		if !ok {
			return err
		}
		failed := o.machine.RecordFailure(cmd.To, cmd.TriggeredBy, terr.Error(), now)
		if perr := o.persistFailure(ctx, *failed); perr != nil {
			o.log.Error("persist failed attempt", "err", perr)
		}
		o.log.Warn("advance rejected", "to", cmd.To, "violations", len(terr.Violations))
		return terr
	}

	o.successful++
	if perr := o.persistSuccess(ctx, *rec); perr != nil {
		return perr
	}
	o.log.Info("phase transition", "from", rec.FromPhase, "to", rec.ToPhase, "seq", rec.SeqNo)
	return nil
}

// persistSuccess writes the record, a state snapshot, and the status row in
// one transaction so status and phase never observably diverge.
func (o *Orchestrator) persistSuccess(ctx context.Context, rec domain.TransitionRecord) error {
	state := o.machine.State()

	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := o.recordRepo.AppendTx(ctx, tx, state.EpochID, rec); err != nil {
		return err
	}
	if err := o.snapshotRepo.SaveTx(ctx, tx, state, rec.SeqNo, rec.CreatedAt); err != nil {
		return err
	}

	row := o.row
	row.CurrentPhase = state.CurrentPhase
	row.CurrentRole = state.CurrentRole
	row.Status = statusFor(o.table, state)
	row.Round = state.Round
	row.BlockerCount = state.BlockerCount
	row.LastError = ""
	row.LastRecordSeq = rec.SeqNo
	row.UpdatedAtUnix = rec.CreatedAt
	if err := o.epochRepo.UpdateTx(ctx, tx, row); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	row.StateVersion++
	o.row = row
	return nil
}

// persistFailure appends the failed-attempt record and stores the error on
// the status row without advancing the phase.
func (o *Orchestrator) persistFailure(ctx context.Context, rec domain.TransitionRecord) error {
	state := o.machine.State()

	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := o.recordRepo.AppendTx(ctx, tx, state.EpochID, rec); err != nil {
		return err
	}

	row := o.row
	row.LastError = state.LastError
	row.LastRecordSeq = rec.SeqNo
	row.UpdatedAtUnix = rec.CreatedAt
	if err := o.epochRepo.UpdateTx(ctx, tx, row); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	row.StateVersion++
	o.row = row
	return nil
}

func statusFor(table *protocol.Table, state domain.EpochState) domain.EpochStatus {
	if table.IsTerminal(state.CurrentPhase) {
		return domain.StatusDone
	}
	if state.CurrentPhase == domain.PhaseCodeReview && state.BlockerCount > 0 {
		return domain.StatusBlocked
	}
	return domain.StatusRunning
}
