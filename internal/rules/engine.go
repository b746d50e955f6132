// Package rules is the stateless constraint validation engine. Every check is
// independently callable, takes explicit inputs (a state snapshot or raw
// scenario parameters), and returns a violation list without raising or
// silently dropping anything. Rule ids must exist in the protocol table's
// constraint catalog; an unknown id panics at engine construction.
package rules

import (
	"fmt"

	"github.com/anthropics/epoch-engine/internal/domain"
	"github.com/anthropics/epoch-engine/internal/protocol"
)

// Constraint ids evaluated by this engine. All of them must be present in the
// protocol table.
const (
	RuleConsensus       = "EP-001"
	RuleRevisionBack    = "EP-002"
	RuleBlockerGate     = "EP-003"
	RuleSeveritySeeded  = "EP-004"
	RuleSeverityKeys    = "EP-005"
	RuleAuditTrail      = "EP-006"
	RuleRoleOwnsPhase   = "EP-008"
	RuleRoleKnown       = "EP-009"
	RuleVoteAxes        = "EP-010"
	RuleBlockerCount    = "EP-011"
	RulePhaseKnown      = "EP-012"
	RuleTerminalQuiet   = "EP-013"
	RuleRevisionRounds  = "EP-014"
	RuleCommitMessage   = "EP-015"
	RuleSupervisorHands = "EP-016"
	RuleHandoffDocument = "EP-017"
	RuleSliceDisjoint   = "EP-018"
	RuleReviewerIndep   = "EP-019"
	RuleBranchName      = "EP-020"
	RuleTableEdge       = "EP-021"
	RuleVoteScope       = "EP-022"
	RuleCompletedOrder  = "EP-025"
)

var allRuleIDs = []string{
	RuleConsensus, RuleRevisionBack, RuleBlockerGate, RuleSeveritySeeded,
	RuleSeverityKeys, RuleAuditTrail, RuleRoleOwnsPhase, RuleRoleKnown,
	RuleVoteAxes, RuleBlockerCount, RulePhaseKnown, RuleTerminalQuiet,
	RuleRevisionRounds, RuleCommitMessage, RuleSupervisorHands,
	RuleHandoffDocument, RuleSliceDisjoint, RuleReviewerIndep, RuleBranchName,
	RuleTableEdge, RuleVoteScope, RuleCompletedOrder,
}

// Config holds tunable limits for advisory checks.
type Config struct {
	MaxRevisionRounds int
}

// Engine evaluates process constraints against explicit inputs. It holds no
// epoch state of its own.
type Engine struct {
	table  *protocol.Table
	config Config
}

// NewEngine creates an Engine bound to a protocol table. It panics if any rule
// id this engine evaluates is missing from the table: an unknown rule id is a
// programmer error and must fail loudly, never degrade silently.
func NewEngine(table *protocol.Table, cfg Config) *Engine {
	for _, id := range allRuleIDs {
		table.MustConstraint(id)
	}
	if cfg.MaxRevisionRounds == 0 {
		cfg.MaxRevisionRounds = 3
	}
	return &Engine{table: table, config: cfg}
}

// TransitionInput carries the scenario facts a transition proposal needs that
// are not visible in the state snapshot.
type TransitionInput struct {
	HandoffDocPresent bool
}

// CheckState unions every check that needs only the current state. The checks
// run in a fixed order and never short-circuit.
func (e *Engine) CheckState(state domain.EpochState) []domain.Violation {
	var out []domain.Violation
	out = append(out, e.CheckPhaseKnown(state)...)
	out = append(out, e.CheckRole(state)...)
	out = append(out, e.CheckVoteAxes(state)...)
	out = append(out, e.CheckVoteScope(state)...)
	out = append(out, e.CheckReviewConsensus(state)...)
	out = append(out, e.CheckBlockerCount(state)...)
	out = append(out, e.CheckBlockerGate(state)...)
	out = append(out, e.CheckSeverityGroups(state)...)
	out = append(out, e.CheckAuditTrail(state)...)
	out = append(out, e.CheckCompletedOrder(state)...)
	out = append(out, e.CheckTerminalQuiet(state)...)
	out = append(out, e.CheckRevisionRounds(state)...)
	return out
}

// CheckTransition unions the state checks with the transition-specific rules
// for the candidate destination.
func (e *Engine) CheckTransition(state domain.EpochState, to domain.PhaseID, input TransitionInput) []domain.Violation {
	out := e.CheckState(state)
	out = append(out, e.CheckEdgeExists(state, to)...)
	out = append(out, e.CheckConsensusForEdge(state, to)...)
	out = append(out, e.CheckBlockerForEdge(state, to)...)
	out = append(out, e.CheckHandoffForEdge(state, to, input.HandoffDocPresent)...)
	return out
}

// violate builds one violation after proving the rule id exists in the table.
func (e *Engine) violate(ruleID, msg string, ctx map[string]string) domain.Violation {
	e.table.MustConstraint(ruleID)
	return domain.Violation{RuleID: ruleID, Message: msg, Context: ctx}
}

func ctxOf(pairs ...string) map[string]string {
	ctx := make(map[string]string, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		ctx[pairs[i]] = pairs[i+1]
	}
	return ctx
}

func (e *Engine) hasConsensus(state domain.EpochState) bool {
	for _, axis := range e.table.Axes() {
		if state.ReviewVotes[axis] != domain.VoteAccept {
			return false
		}
	}
	return true
}

func phaseCompleted(state domain.EpochState, p domain.PhaseID) bool {
	if state.CurrentPhase == p {
		return true
	}
	for _, done := range state.CompletedPhases {
		if done == p {
			return true
		}
	}
	return false
}

func sprint(v interface{}) string { return fmt.Sprintf("%v", v) }
