// Package epoch implements the deterministic phase-transition state machine
// for a single epoch. The machine is pure: no I/O, no clock reads beyond the
// caller-supplied timestamp, and every failed operation leaves state untouched.
package epoch

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/anthropics/epoch-engine/internal/domain"
	"github.com/anthropics/epoch-engine/internal/protocol"
)

// Gate rule ids. Each must exist in the protocol table's constraint catalog;
// the constructor resolves them eagerly so an id drifting out of the table
// fails at startup, not mid-epoch.
const (
	ruleConsensus    = "EP-001"
	ruleRevisionBack = "EP-002"
	ruleBlockerGate  = "EP-003"
	ruleTableEdge    = "EP-021"
)

// TransitionError reports a rejected advance with its ordered violation list.
// The list is never empty.
type TransitionError struct {
	From       domain.PhaseID
	To         domain.PhaseID
	Violations []domain.Violation
}

// Error implements the error interface.
func (e *TransitionError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = fmt.Sprintf("%s: %s", v.RuleID, v.Message)
	}
	return fmt.Sprintf("transition %s -> %s rejected: %s", e.From, e.To, strings.Join(msgs, "; "))
}

// Machine owns one epoch's mutable state. It is not safe for concurrent use;
// the orchestrator serializes all access through its command loop.
type Machine struct {
	table *protocol.Table
	state domain.EpochState
}

// NewMachine creates a machine for a fresh epoch at the protocol's first
// phase with empty collections.
func NewMachine(epochID string, table *protocol.Table) *Machine {
	for _, id := range []string{ruleConsensus, ruleRevisionBack, ruleBlockerGate, ruleTableEdge} {
		table.MustConstraint(id)
	}
	first := table.FirstPhase()
	return &Machine{
		table: table,
		state: domain.EpochState{
			EpochID:      epochID,
			CurrentPhase: first,
			CurrentRole:  owningRole(table, first),
			ReviewVotes:  make(map[string]domain.VoteType),
		},
	}
}

// Restore rebuilds a machine around previously persisted state. Used by the
// orchestrator's crash-recovery path.
func Restore(state domain.EpochState, table *protocol.Table) *Machine {
	m := NewMachine(state.EpochID, table)
	m.state = cloneState(state)
	if m.state.ReviewVotes == nil {
		m.state.ReviewVotes = make(map[string]domain.VoteType)
	}
	return m
}

// State returns a deep snapshot of the epoch state.
func (m *Machine) State() domain.EpochState {
	return cloneState(m.state)
}

// CurrentPhase returns the phase the epoch currently sits at.
func (m *Machine) CurrentPhase() domain.PhaseID {
	return m.state.CurrentPhase
}

// Terminal reports whether the epoch has reached the sentinel.
func (m *Machine) Terminal() bool {
	return m.table.IsTerminal(m.state.CurrentPhase)
}

// ValidateAdvance checks a candidate transition without mutating anything.
// Order: terminality, then edge existence, then the consensus, revision, and
// blocker gates evaluated without short-circuiting, so a transition failing
// two gates reports both violations.
func (m *Machine) ValidateAdvance(to domain.PhaseID) []domain.Violation {
	from := m.state.CurrentPhase

	if m.table.IsTerminal(from) {
		return []domain.Violation{m.violation(ruleTableEdge,
			"epoch is terminal: no transitions leave the sentinel",
			map[string]string{"from": string(from), "to": string(to)})}
	}

	if !m.table.HasEdge(from, to) {
		return []domain.Violation{m.violation(ruleTableEdge,
			fmt.Sprintf("no edge %s -> %s in the protocol table", from, to),
			map[string]string{"from": string(from), "to": string(to)})}
	}

	var violations []domain.Violation

	if m.table.IsConsensusEdge(from, to) && !m.HasConsensus() {
		violations = append(violations, m.violation(ruleConsensus,
			"review consensus not reached: all three axes must hold ACCEPT",
			map[string]string{"votes": formatVotes(m.state.ReviewVotes)}))
	}

	if back, review := m.table.RevisionTarget(from); review && to != back && m.anyRevise() {
		violations = append(violations, m.violation(ruleRevisionBack,
			fmt.Sprintf("a REVISE vote stands: only the backward edge to %s is open", back),
			map[string]string{"back": string(back)}))
	}

	if m.table.IsBlockerEdge(from, to) && m.state.BlockerCount > 0 {
		violations = append(violations, m.violation(ruleBlockerGate,
			fmt.Sprintf("%d blocker finding(s) unresolved", m.state.BlockerCount),
			map[string]string{"blocker_count": fmt.Sprintf("%d", m.state.BlockerCount)}))
	}

	return violations
}

// Advance attempts the transition to the target phase. On success it moves
// the current phase, marks the old phase completed, appends a success record,
// clears the review votes and last error, and seeds the severity groups on
// first entry to code review. On failure it mutates nothing and returns a
// *TransitionError with a non-empty violation list.
func (m *Machine) Advance(to domain.PhaseID, triggeredBy, conditionMet string, at time.Time) (*domain.TransitionRecord, error) {
	if violations := m.ValidateAdvance(to); len(violations) > 0 {
		return nil, &TransitionError{From: m.state.CurrentPhase, To: to, Violations: violations}
	}

	if at.IsZero() {
		at = time.Now()
	}
	from := m.state.CurrentPhase

	rec := domain.TransitionRecord{
		SeqNo:        int64(len(m.state.TransitionHistory)) + 1,
		FromPhase:    from,
		ToPhase:      to,
		TriggeredBy:  triggeredBy,
		ConditionMet: conditionMet,
		Success:      true,
		CreatedAt:    at.Unix(),
	}

	m.markCompleted(from)
	if back, review := m.table.RevisionTarget(from); review && to == back {
		m.state.Round++
	}
	m.state.CurrentPhase = to
	m.state.CurrentRole = owningRole(m.table, to)
	m.state.ReviewVotes = make(map[string]domain.VoteType)
	m.state.LastError = ""

	// Seed severity groups only on first entry so findings survive
	// revision-loop re-entries.
	if to == domain.PhaseCodeReview && m.state.SeverityGroups == nil {
		m.state.SeverityGroups = make(map[domain.SeverityLevel]map[string]bool, 3)
		for _, sev := range domain.SeverityLevels() {
			m.state.SeverityGroups[sev] = make(map[string]bool)
		}
	}

	m.state.TransitionHistory = append(m.state.TransitionHistory, rec)
	return &rec, nil
}

// RecordFailure appends a failed-attempt record for a rejected transition and
// stores the failure summary as the last error. The "FAILED: " prefix on
// ConditionMet is for human display only; Success is the authoritative field.
func (m *Machine) RecordFailure(to domain.PhaseID, triggeredBy, summary string, at time.Time) *domain.TransitionRecord {
	if at.IsZero() {
		at = time.Now()
	}
	rec := domain.TransitionRecord{
		SeqNo:        int64(len(m.state.TransitionHistory)) + 1,
		FromPhase:    m.state.CurrentPhase,
		ToPhase:      to,
		TriggeredBy:  triggeredBy,
		ConditionMet: "FAILED: " + summary,
		Success:      false,
		CreatedAt:    at.Unix(),
	}
	m.state.TransitionHistory = append(m.state.TransitionHistory, rec)
	m.state.LastError = summary
	return &rec
}

// AvailableTransitions returns the table edges out of the current phase,
// filtered by the revision-drives-back rule and the blocker gate. Empty at
// the terminal sentinel.
func (m *Machine) AvailableTransitions() []domain.Transition {
	from := m.state.CurrentPhase
	if m.table.IsTerminal(from) {
		return []domain.Transition{}
	}

	all := m.table.Transitions(from)
	back, review := m.table.RevisionTarget(from)

	var out []domain.Transition
	for _, tr := range all {
		if review && m.anyRevise() && tr.To != back {
			continue
		}
		if m.table.IsBlockerEdge(from, tr.To) && m.state.BlockerCount > 0 {
			continue
		}
		out = append(out, tr)
	}
	if out == nil {
		out = []domain.Transition{}
	}
	return out
}

// RecordVote records a vote on one review axis with overwrite semantics.
// Axes outside the fixed set are rejected.
func (m *Machine) RecordVote(axis string, vote domain.VoteType) error {
	if !m.table.IsAxis(axis) {
		return domain.NewEngineError(domain.ErrUnknownAxis.Code,
			fmt.Sprintf("%s: %q", domain.ErrUnknownAxis.Message, axis))
	}
	m.state.ReviewVotes[axis] = vote
	return nil
}

// RecordBlocker increments the blocker count, or decrements it clamped at
// zero when resolved is true.
func (m *Machine) RecordBlocker(resolved bool) {
	if resolved {
		if m.state.BlockerCount > 0 {
			m.state.BlockerCount--
		}
		return
	}
	m.state.BlockerCount++
}

// RecordFinding files a finding id under its severity group. The groups must
// already be seeded, which happens on first entry to code review.
func (m *Machine) RecordFinding(sev domain.SeverityLevel, findingID string) error {
	if m.state.SeverityGroups == nil {
		return domain.ErrFindingsNotSeeded
	}
	group, ok := m.state.SeverityGroups[sev]
	if !ok {
		return domain.NewEngineError(domain.ErrUnknownSeverity.Code,
			fmt.Sprintf("%s: %q", domain.ErrUnknownSeverity.Message, sev))
	}
	group[findingID] = true
	return nil
}

// HasConsensus reports whether every review axis holds ACCEPT in the current
// round. Boolean, not count-based: a single missing or REVISE axis is no
// consensus.
func (m *Machine) HasConsensus() bool {
	for _, axis := range m.table.Axes() {
		if m.state.ReviewVotes[axis] != domain.VoteAccept {
			return false
		}
	}
	return true
}

func (m *Machine) anyRevise() bool {
	for _, v := range m.state.ReviewVotes {
		if v == domain.VoteRevise {
			return true
		}
	}
	return false
}

func (m *Machine) markCompleted(p domain.PhaseID) {
	for _, done := range m.state.CompletedPhases {
		if done == p {
			return
		}
	}
	m.state.CompletedPhases = append(m.state.CompletedPhases, p)
}

// violation builds a Violation after proving the rule id exists in the table.
func (m *Machine) violation(ruleID, msg string, ctx map[string]string) domain.Violation {
	m.table.MustConstraint(ruleID)
	return domain.Violation{RuleID: ruleID, Message: msg, Context: ctx}
}

func owningRole(table *protocol.Table, id domain.PhaseID) domain.RoleID {
	if p, ok := table.Phase(id); ok && len(p.Roles) > 0 {
		return p.Roles[0]
	}
	return domain.RoleOrchestrator
}

func formatVotes(votes map[string]domain.VoteType) string {
	if len(votes) == 0 {
		return "none"
	}
	parts := make([]string, 0, len(votes))
	for axis, v := range votes {
		parts = append(parts, fmt.Sprintf("%s=%s", axis, v))
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func cloneState(s domain.EpochState) domain.EpochState {
	out := s
	out.CompletedPhases = append([]domain.PhaseID(nil), s.CompletedPhases...)
	out.TransitionHistory = append([]domain.TransitionRecord(nil), s.TransitionHistory...)
	if s.ReviewVotes != nil {
		out.ReviewVotes = make(map[string]domain.VoteType, len(s.ReviewVotes))
		for k, v := range s.ReviewVotes {
			out.ReviewVotes[k] = v
		}
	}
	if s.SeverityGroups != nil {
		out.SeverityGroups = make(map[domain.SeverityLevel]map[string]bool, len(s.SeverityGroups))
		for sev, group := range s.SeverityGroups {
			cp := make(map[string]bool, len(group))
			for id := range group {
				cp[id] = true
			}
			out.SeverityGroups[sev] = cp
		}
	}
	return out
}
