package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anthropics/epoch-engine/internal/domain"
	"github.com/anthropics/epoch-engine/internal/protocol"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine(protocol.Embedded(), Config{})
}

// cleanState returns a snapshot that passes every state check.
func cleanState() domain.EpochState {
	return domain.EpochState{
		EpochID:      "epoch-1",
		CurrentPhase: domain.PhaseRequest,
		CurrentRole:  domain.RoleOrchestrator,
		ReviewVotes:  map[string]domain.VoteType{},
	}
}

func ruleIDs(violations []domain.Violation) []string {
	ids := make([]string, len(violations))
	for i, v := range violations {
		ids[i] = v.RuleID
	}
	return ids
}

func TestNewEngine_DefaultsMaxRounds(t *testing.T) {
	e := NewEngine(protocol.Embedded(), Config{})
	assert.Equal(t, 3, e.config.MaxRevisionRounds)
}

func TestCheckState_CleanSnapshotPasses(t *testing.T) {
	e := newTestEngine(t)
	assert.Empty(t, e.CheckState(cleanState()))
}

func TestCheckPhaseKnown(t *testing.T) {
	e := newTestEngine(t)

	st := cleanState()
	st.CurrentPhase = "daydreaming"
	violations := e.CheckPhaseKnown(st)
	require.Len(t, violations, 1)
	assert.Equal(t, RulePhaseKnown, violations[0].RuleID)

	st.CurrentPhase = domain.PhaseComplete
	assert.Empty(t, e.CheckPhaseKnown(st))
}

func TestCheckRole(t *testing.T) {
	e := newTestEngine(t)

	st := cleanState()
	st.CurrentRole = "intern"
	violations := e.CheckRole(st)
	require.Len(t, violations, 1)
	assert.Equal(t, RuleRoleKnown, violations[0].RuleID)

	st = cleanState()
	st.CurrentPhase = domain.PhaseParallelImplementation
	st.CurrentRole = domain.RoleReviewer
	violations = e.CheckRole(st)
	require.Len(t, violations, 1)
	assert.Equal(t, RuleRoleOwnsPhase, violations[0].RuleID)
}

func TestCheckVoteAxes(t *testing.T) {
	e := newTestEngine(t)

	st := cleanState()
	st.CurrentPhase = domain.PhasePlanReview
	st.CurrentRole = domain.RoleReviewer
	st.ReviewVotes["velocity"] = domain.VoteAccept
	st.ReviewVotes["charisma"] = domain.VoteAccept

	violations := e.CheckVoteAxes(st)
	require.Len(t, violations, 2)
	// Sorted for deterministic output.
	assert.Equal(t, "charisma", violations[0].Context["axis"])
	assert.Equal(t, "velocity", violations[1].Context["axis"])
}

func TestCheckVoteScope(t *testing.T) {
	e := newTestEngine(t)

	st := cleanState()
	st.CurrentPhase = domain.PhaseHandoff
	st.CurrentRole = domain.RoleArchitect
	st.ReviewVotes["correctness"] = domain.VoteAccept

	violations := e.CheckVoteScope(st)
	require.Len(t, violations, 1)
	assert.Equal(t, RuleVoteScope, violations[0].RuleID)

	st.CurrentPhase = domain.PhasePlanReview
	assert.Empty(t, e.CheckVoteScope(st))
}

func TestCheckReviewConsensus_Advisory(t *testing.T) {
	e := newTestEngine(t)

	st := cleanState()
	st.CurrentPhase = domain.PhasePlanReview
	st.CurrentRole = domain.RoleReviewer
	st.ReviewVotes["correctness"] = domain.VoteAccept
	st.ReviewVotes["security"] = domain.VoteRevise

	violations := e.CheckReviewConsensus(st)
	require.Len(t, violations, 1)
	assert.Contains(t, violations[0].Message, "security=REVISE")
	assert.Contains(t, violations[0].Message, "maintainability=unvoted")

	st.ReviewVotes["security"] = domain.VoteAccept
	st.ReviewVotes["maintainability"] = domain.VoteAccept
	assert.Empty(t, e.CheckReviewConsensus(st))
}

func TestCheckBlockerChecks(t *testing.T) {
	e := newTestEngine(t)

	st := cleanState()
	st.BlockerCount = -1
	violations := e.CheckBlockerCount(st)
	require.Len(t, violations, 1)
	assert.Equal(t, RuleBlockerCount, violations[0].RuleID)

	st = cleanState()
	st.CurrentPhase = domain.PhaseCodeReview
	st.CurrentRole = domain.RoleReviewer
	st.BlockerCount = 2
	violations = e.CheckBlockerGate(st)
	require.Len(t, violations, 1)
	assert.Equal(t, RuleBlockerGate, violations[0].RuleID)

	st.BlockerCount = 0
	assert.Empty(t, e.CheckBlockerGate(st))
}

func TestCheckSeverityGroups(t *testing.T) {
	e := newTestEngine(t)

	st := cleanState()
	st.CurrentPhase = domain.PhaseCodeReview
	st.CurrentRole = domain.RoleReviewer
	violations := e.CheckSeverityGroups(st)
	require.Len(t, violations, 1)
	assert.Equal(t, RuleSeveritySeeded, violations[0].RuleID)

	st.SeverityGroups = map[domain.SeverityLevel]map[string]bool{
		domain.SeverityBlocker: {},
		domain.SeverityMinor:   {},
	}
	violations = e.CheckSeverityGroups(st)
	require.Len(t, violations, 2)
	assert.Equal(t, RuleSeverityKeys, violations[0].RuleID)

	for _, sev := range domain.SeverityLevels() {
		st.SeverityGroups[sev] = map[string]bool{}
	}
	assert.Empty(t, e.CheckSeverityGroups(st))
}

func TestCheckAuditTrail(t *testing.T) {
	e := newTestEngine(t)

	st := cleanState()
	st.CurrentPhase = domain.PhaseProposal
	st.CurrentRole = domain.RoleArchitect
	st.CompletedPhases = []domain.PhaseID{domain.PhaseRequest, domain.PhaseElicitation}
	st.TransitionHistory = []domain.TransitionRecord{
		{SeqNo: 1, FromPhase: domain.PhaseRequest, ToPhase: domain.PhaseElicitation, Success: true, CreatedAt: 100},
		{SeqNo: 2, FromPhase: domain.PhaseElicitation, ToPhase: domain.PhaseProposal, Success: true, CreatedAt: 101},
	}
	assert.Empty(t, e.CheckAuditTrail(st))

	// Gap in sequence numbers.
	st.TransitionHistory[1].SeqNo = 5
	assert.Equal(t, []string{RuleAuditTrail}, ruleIDs(e.CheckAuditTrail(st)))
	st.TransitionHistory[1].SeqNo = 2

	// Timestamp regression.
	st.TransitionHistory[1].CreatedAt = 50
	assert.Equal(t, []string{RuleAuditTrail}, ruleIDs(e.CheckAuditTrail(st)))
	st.TransitionHistory[1].CreatedAt = 101

	// Broken phase chain on successful records.
	st.TransitionHistory[1].FromPhase = domain.PhaseLanding
	assert.Equal(t, []string{RuleAuditTrail}, ruleIDs(e.CheckAuditTrail(st)))
}

func TestCheckAuditTrail_FailedRecordsDoNotBreakChain(t *testing.T) {
	e := newTestEngine(t)

	st := cleanState()
	st.CurrentPhase = domain.PhaseProposal
	st.CurrentRole = domain.RoleArchitect
	st.CompletedPhases = []domain.PhaseID{domain.PhaseRequest, domain.PhaseElicitation}
	st.TransitionHistory = []domain.TransitionRecord{
		{SeqNo: 1, FromPhase: domain.PhaseRequest, ToPhase: domain.PhaseElicitation, Success: true, CreatedAt: 100},
		{SeqNo: 2, FromPhase: domain.PhaseElicitation, ToPhase: domain.PhaseLanding, Success: false, CreatedAt: 101},
		{SeqNo: 3, FromPhase: domain.PhaseElicitation, ToPhase: domain.PhaseProposal, Success: true, CreatedAt: 102},
	}
	assert.Empty(t, e.CheckAuditTrail(st))
}

func TestCheckCompletedOrder(t *testing.T) {
	e := newTestEngine(t)

	st := cleanState()
	st.CurrentPhase = domain.PhaseElicitation
	st.CurrentRole = domain.RoleOrchestrator
	st.CompletedPhases = []domain.PhaseID{domain.PhaseRequest, domain.PhaseLanding}
	st.TransitionHistory = []domain.TransitionRecord{
		{SeqNo: 1, FromPhase: domain.PhaseRequest, ToPhase: domain.PhaseElicitation, Success: true, CreatedAt: 100},
	}
	violations := e.CheckCompletedOrder(st)
	require.Len(t, violations, 1)
	assert.Equal(t, string(domain.PhaseLanding), violations[0].Context["phase"])
}

func TestCheckTerminalQuiet(t *testing.T) {
	e := newTestEngine(t)

	st := cleanState()
	st.CurrentPhase = domain.PhaseComplete
	st.ReviewVotes["correctness"] = domain.VoteAccept
	st.BlockerCount = 1

	violations := e.CheckTerminalQuiet(st)
	assert.Len(t, violations, 2)

	st.ReviewVotes = map[string]domain.VoteType{}
	st.BlockerCount = 0
	assert.Empty(t, e.CheckTerminalQuiet(st))
}

func TestCheckRevisionRounds(t *testing.T) {
	e := NewEngine(protocol.Embedded(), Config{MaxRevisionRounds: 2})

	st := cleanState()
	st.Round = 2
	assert.Empty(t, e.CheckRevisionRounds(st))

	st.Round = 3
	violations := e.CheckRevisionRounds(st)
	require.Len(t, violations, 1)
	assert.Equal(t, RuleRevisionRounds, violations[0].RuleID)
}

func TestScenarioChecks(t *testing.T) {
	e := newTestEngine(t)

	assert.Empty(t, e.CheckCommitMessage("epoch-7", "epoch-7: add parser"))
	assert.Len(t, e.CheckCommitMessage("epoch-7", "add parser"), 1)

	assert.Empty(t, e.CheckSupervisorHandsOff(false))
	assert.Len(t, e.CheckSupervisorHandsOff(true), 1)

	assert.Empty(t, e.CheckHandoffDocument(true))
	assert.Len(t, e.CheckHandoffDocument(false), 1)

	assert.Empty(t, e.CheckReviewerIndependence("rev-1", []string{"worker-1", "worker-2"}))
	assert.Len(t, e.CheckReviewerIndependence("rev-1", []string{"worker-1", "rev-1"}), 1)

	assert.Empty(t, e.CheckBranchName("epoch-7", "epoch/epoch-7-parser"))
	assert.Len(t, e.CheckBranchName("epoch-7", "feature/parser"), 1)
}

func TestCheckSliceDisjointness(t *testing.T) {
	e := newTestEngine(t)

	assert.Empty(t, e.CheckSliceDisjointness(map[string][]string{
		"slice-a": {"pkg/a.go", "pkg/b.go"},
		"slice-b": {"pkg/c.go"},
	}))

	violations := e.CheckSliceDisjointness(map[string][]string{
		"slice-a": {"pkg/a.go", "pkg/shared.go"},
		"slice-b": {"pkg/shared.go"},
	})
	require.Len(t, violations, 1)
	assert.Equal(t, "pkg/shared.go", violations[0].Context["file"])
}

func TestCheckTransition_UnionsEdgeRules(t *testing.T) {
	e := newTestEngine(t)

	// Terminal snapshot: no edges leave the sentinel.
	st := cleanState()
	st.CurrentPhase = domain.PhaseComplete
	violations := e.CheckTransition(st, domain.PhaseRequest, TransitionInput{})
	assert.Contains(t, ruleIDs(violations), RuleTableEdge)

	// Consensus edge without votes.
	st = cleanState()
	st.CurrentPhase = domain.PhasePlanReview
	st.CurrentRole = domain.RoleReviewer
	violations = e.CheckTransition(st, domain.PhasePlanAcceptance, TransitionInput{})
	assert.Contains(t, ruleIDs(violations), RuleConsensus)

	// Blocker edge with open blockers.
	st = cleanState()
	st.CurrentPhase = domain.PhaseCodeReview
	st.CurrentRole = domain.RoleReviewer
	st.BlockerCount = 1
	st.SeverityGroups = map[domain.SeverityLevel]map[string]bool{
		domain.SeverityBlocker:   {},
		domain.SeverityImportant: {},
		domain.SeverityMinor:     {},
	}
	for _, axis := range e.table.Axes() {
		st.ReviewVotes[axis] = domain.VoteAccept
	}
	violations = e.CheckTransition(st, domain.PhaseImplementationAcceptance, TransitionInput{})
	assert.Contains(t, ruleIDs(violations), RuleBlockerGate)

	// Handoff edge without a document.
	st = cleanState()
	st.CurrentPhase = domain.PhaseRatification
	st.CurrentRole = domain.RoleSupervisor
	violations = e.CheckTransition(st, domain.PhaseHandoff, TransitionInput{HandoffDocPresent: false})
	assert.Contains(t, ruleIDs(violations), RuleHandoffDocument)

	violations = e.CheckTransition(st, domain.PhaseHandoff, TransitionInput{HandoffDocPresent: true})
	assert.NotContains(t, ruleIDs(violations), RuleHandoffDocument)
}
