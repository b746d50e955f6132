package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/anthropics/epoch-engine/internal/domain"
)

// Reporter is the externally-addressed handle a slice child uses to signal
// progress and completion back to the parent. A signal delivered after the
// parent has finished is swallowed and logged, never escalated.
type Reporter struct {
	o      *Orchestrator
	unitID string
}

// Report sends one progress event to the parent orchestrator.
func (r *Reporter) Report(ctx context.Context, taskID, stage string, completed bool) {
	err := r.o.SubmitProgress(ctx, domain.ProgressEvent{
		UnitID:    r.unitID,
		TaskID:    taskID,
		Stage:     stage,
		Completed: completed,
	})
	if err == domain.ErrOrchestratorStopped {
		r.o.log.Info("late progress signal swallowed", "unit_id", r.unitID, "stage", stage)
		return
	}
	if err != nil {
		r.o.log.Warn("progress signal dropped", "unit_id", r.unitID, "err", err)
	}
}

// SliceSpec describes one implementation slice: its disjoint file assignment
// and the work function to execute.
type SliceSpec struct {
	Name       string
	Assignment []string
	Run        func(ctx context.Context, rep *Reporter) error
}

// RunSlices starts every slice concurrently and waits with fail-fast policy:
// it resolves on all-done or first failure. On first failure the group
// context is cancelled, every still-pending sibling is awaited to drain, and
// the original error is returned.
func (o *Orchestrator) RunSlices(ctx context.Context, specs []SliceSpec) error {
	// Read through the serialized query path: RunSlices runs on the caller's
	// goroutine and must never touch the machine while the loop owns it.
	epochID := o.CurrentState().EpochID

	g, gctx := errgroup.WithContext(ctx)
	if o.maxParallelSlices > 0 {
		g.SetLimit(o.maxParallelSlices)
	}
	for _, spec := range specs {
		spec := spec
		sliceID := fmt.Sprintf("slice-%s", uuid.NewString())
		now := time.Now().Unix()
		if err := o.sliceRepo.Create(ctx, o.db, domain.SliceRef{
			SliceID:       sliceID,
			EpochID:       epochID,
			State:         domain.SliceCreated,
			Assignment:    spec.Assignment,
			CreatedAtUnix: now,
			UpdatedAtUnix: now,
		}); err != nil {
			return err
		}

		g.Go(func() error {
			o.markSlice(sliceID, domain.SliceRunning)
			rep := &Reporter{o: o, unitID: sliceID}

			err := spec.Run(gctx, rep)
			switch {
			case err == nil:
				o.markSlice(sliceID, domain.SliceDone)
				return nil
			case gctx.Err() != nil && err == gctx.Err():
				// Cancelled by a sibling's failure; unwound cleanly.
				o.markSlice(sliceID, domain.SliceCancelled)
				return err
			default:
				o.markSlice(sliceID, domain.SliceFailed)
				o.log.Error("slice failed", "slice_id", sliceID, "name", spec.Name, "err", err)
				return fmt.Errorf("slice %s: %w", spec.Name, err)
			}
		})
	}

	// Wait returns the first non-nil error after every child has unwound.
	return g.Wait()
}

// markSlice persists a slice lifecycle change; bookkeeping failures are
// logged, not escalated, so they never mask the slice's own outcome.
func (o *Orchestrator) markSlice(sliceID string, state domain.SliceState) {
	// Uses Background: slice rows must record their terminal state even when
	// the group context is already cancelled.
	if err := o.sliceRepo.UpdateState(context.Background(), o.db, sliceID, state, time.Now().Unix()); err != nil {
		o.log.Warn("slice state write failed", "slice_id", sliceID, "state", state, "err", err)
	}
}
