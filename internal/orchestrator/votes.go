package orchestrator

import (
	"context"
	"fmt"

	"github.com/anthropics/epoch-engine/internal/domain"
	"github.com/anthropics/epoch-engine/internal/protocol"
)

type axisVote struct {
	axis     string
	vote     domain.VoteType
	reviewer string
}

// VoteCollector is a review-voting child: it collects one vote per axis
// through its own handler and completes only once every axis has voted.
// Overwrite semantics apply within a round, matching the state machine.
type VoteCollector struct {
	table *protocol.Table
	ch    chan axisVote
}

// NewVoteCollector creates a collector bound to the table's fixed axis set.
func NewVoteCollector(table *protocol.Table) *VoteCollector {
	return &VoteCollector{
		table: table,
		ch:    make(chan axisVote, len(table.Axes())*2),
	}
}

// Submit delivers one vote to the collector. Axes outside the fixed set are
// rejected without being queued.
func (c *VoteCollector) Submit(ctx context.Context, axis string, vote domain.VoteType, reviewer string) error {
	if !c.table.IsAxis(axis) {
		return domain.NewEngineError(domain.ErrUnknownAxis.Code,
			fmt.Sprintf("%s: %q", domain.ErrUnknownAxis.Message, axis))
	}
	select {
	case c.ch <- axisVote{axis: axis, vote: vote, reviewer: reviewer}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Collect blocks until all axes have voted and returns the full vote map.
// Cancellation before a complete round reports the round incomplete.
func (c *VoteCollector) Collect(ctx context.Context) (map[string]domain.VoteType, error) {
	axes := c.table.Axes()
	votes := make(map[string]domain.VoteType, len(axes))

	for {
		if len(votes) == len(axes) {
			return votes, nil
		}
		select {
		case v := <-c.ch:
			votes[v.axis] = v.vote
		case <-ctx.Done():
			return nil, domain.WrapEngineError(domain.ErrVoteRoundIncomplete.Code,
				domain.ErrVoteRoundIncomplete.Message, ctx.Err())
		}
	}
}
