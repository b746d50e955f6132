package rules

import (
	"fmt"
	"sort"
	"strings"

	"github.com/anthropics/epoch-engine/internal/domain"
)

// ---- State snapshot checks ----

// CheckPhaseKnown verifies the current phase is a table entry or the sentinel.
func (e *Engine) CheckPhaseKnown(state domain.EpochState) []domain.Violation {
	if e.table.IsTerminal(state.CurrentPhase) {
		return nil
	}
	if _, ok := e.table.Phase(state.CurrentPhase); ok {
		return nil
	}
	return []domain.Violation{e.violate(RulePhaseKnown,
		fmt.Sprintf("phase %q is not in the protocol table", state.CurrentPhase),
		ctxOf("phase", string(state.CurrentPhase)))}
}

// CheckRole verifies the current role is declared and owns the current phase.
func (e *Engine) CheckRole(state domain.EpochState) []domain.Violation {
	var out []domain.Violation
	if !e.table.IsRole(state.CurrentRole) {
		out = append(out, e.violate(RuleRoleKnown,
			fmt.Sprintf("role %q is not declared in the protocol table", state.CurrentRole),
			ctxOf("role", string(state.CurrentRole))))
		return out
	}
	if e.table.IsTerminal(state.CurrentPhase) {
		return out
	}
	phase, ok := e.table.Phase(state.CurrentPhase)
	if !ok {
		return out // reported by CheckPhaseKnown
	}
	for _, r := range phase.Roles {
		if r == state.CurrentRole {
			return out
		}
	}
	out = append(out, e.violate(RuleRoleOwnsPhase,
		fmt.Sprintf("role %q does not own phase %q", state.CurrentRole, state.CurrentPhase),
		ctxOf("role", string(state.CurrentRole), "phase", string(state.CurrentPhase))))
	return out
}

// CheckVoteAxes verifies every recorded vote names an axis from the fixed set.
func (e *Engine) CheckVoteAxes(state domain.EpochState) []domain.Violation {
	var bad []string
	for axis := range state.ReviewVotes {
		if !e.table.IsAxis(axis) {
			bad = append(bad, axis)
		}
	}
	sort.Strings(bad)
	var out []domain.Violation
	for _, axis := range bad {
		out = append(out, e.violate(RuleVoteAxes,
			fmt.Sprintf("vote recorded on undeclared axis %q", axis),
			ctxOf("axis", axis)))
	}
	return out
}

// CheckVoteScope verifies votes exist only while the epoch sits at a review
// phase; they are cleared on every transition.
func (e *Engine) CheckVoteScope(state domain.EpochState) []domain.Violation {
	if len(state.ReviewVotes) == 0 || e.table.IsReviewPhase(state.CurrentPhase) {
		return nil
	}
	return []domain.Violation{e.violate(RuleVoteScope,
		fmt.Sprintf("%d vote(s) present outside a review phase", len(state.ReviewVotes)),
		ctxOf("phase", string(state.CurrentPhase), "votes", sprint(len(state.ReviewVotes))))}
}

// CheckReviewConsensus reports, as advisory data, that a review phase has not
// reached full consensus yet.
func (e *Engine) CheckReviewConsensus(state domain.EpochState) []domain.Violation {
	if !e.table.IsReviewPhase(state.CurrentPhase) {
		return nil
	}
	if e.hasConsensus(state) {
		return nil
	}
	missing := make([]string, 0, 3)
	for _, axis := range e.table.Axes() {
		if v, ok := state.ReviewVotes[axis]; !ok {
			missing = append(missing, axis+"=unvoted")
		} else if v != domain.VoteAccept {
			missing = append(missing, axis+"="+string(v))
		}
	}
	return []domain.Violation{e.violate(RuleConsensus,
		"review consensus not reached: "+strings.Join(missing, ", "),
		ctxOf("phase", string(state.CurrentPhase)))}
}

// CheckBlockerCount verifies the blocker counter never went negative.
func (e *Engine) CheckBlockerCount(state domain.EpochState) []domain.Violation {
	if state.BlockerCount >= 0 {
		return nil
	}
	return []domain.Violation{e.violate(RuleBlockerCount,
		fmt.Sprintf("blocker count is negative: %d", state.BlockerCount),
		ctxOf("blocker_count", sprint(state.BlockerCount)))}
}

// CheckBlockerGate reports open blockers while the epoch sits at code review.
func (e *Engine) CheckBlockerGate(state domain.EpochState) []domain.Violation {
	if state.CurrentPhase != domain.PhaseCodeReview || state.BlockerCount == 0 {
		return nil
	}
	return []domain.Violation{e.violate(RuleBlockerGate,
		fmt.Sprintf("%d blocker finding(s) unresolved at code review", state.BlockerCount),
		ctxOf("blocker_count", sprint(state.BlockerCount)))}
}

// CheckSeverityGroups verifies the severity tree: seeded once code review has
// been entered, and holding exactly the three severity keys afterwards.
func (e *Engine) CheckSeverityGroups(state domain.EpochState) []domain.Violation {
	entered := phaseCompleted(state, domain.PhaseCodeReview)
	if !entered {
		return nil
	}
	if state.SeverityGroups == nil {
		return []domain.Violation{e.violate(RuleSeveritySeeded,
			"code review entered but severity groups were never seeded", nil)}
	}
	var out []domain.Violation
	for _, sev := range domain.SeverityLevels() {
		if _, ok := state.SeverityGroups[sev]; !ok {
			out = append(out, e.violate(RuleSeverityKeys,
				fmt.Sprintf("severity group %q is missing", sev),
				ctxOf("severity", string(sev))))
		}
	}
	if len(state.SeverityGroups) != len(domain.SeverityLevels()) {
		out = append(out, e.violate(RuleSeverityKeys,
			fmt.Sprintf("severity groups hold %d keys, want exactly %d",
				len(state.SeverityGroups), len(domain.SeverityLevels())), nil))
	}
	return out
}

// CheckAuditTrail verifies transition-history integrity: sequence numbers
// dense from 1, timestamps non-decreasing, and successful records chaining
// from phase to phase.
func (e *Engine) CheckAuditTrail(state domain.EpochState) []domain.Violation {
	var out []domain.Violation
	var lastAt int64
	lastTo := domain.PhaseID("")
	for i, rec := range state.TransitionHistory {
		if rec.SeqNo != int64(i)+1 {
			out = append(out, e.violate(RuleAuditTrail,
				fmt.Sprintf("record %d has seq %d, want %d", i, rec.SeqNo, i+1),
				ctxOf("seq", sprint(rec.SeqNo))))
		}
		if rec.CreatedAt < lastAt {
			out = append(out, e.violate(RuleAuditTrail,
				fmt.Sprintf("record %d timestamp went backwards", i),
				ctxOf("seq", sprint(rec.SeqNo))))
		}
		lastAt = rec.CreatedAt
		if rec.Success {
			if lastTo != "" && rec.FromPhase != lastTo {
				out = append(out, e.violate(RuleAuditTrail,
					fmt.Sprintf("record %d departs %q but the previous transition landed at %q",
						i, rec.FromPhase, lastTo),
					ctxOf("seq", sprint(rec.SeqNo))))
			}
			lastTo = rec.ToPhase
		}
	}
	return out
}

// CheckCompletedOrder verifies every completed phase was actually departed by
// a successful transition.
func (e *Engine) CheckCompletedOrder(state domain.EpochState) []domain.Violation {
	departed := make(map[domain.PhaseID]bool)
	for _, rec := range state.TransitionHistory {
		if rec.Success {
			departed[rec.FromPhase] = true
		}
	}
	var out []domain.Violation
	for _, p := range state.CompletedPhases {
		if !departed[p] {
			out = append(out, e.violate(RuleCompletedOrder,
				fmt.Sprintf("phase %q marked complete but no successful transition departed it", p),
				ctxOf("phase", string(p))))
		}
	}
	return out
}

// CheckTerminalQuiet verifies nothing is left pending at the sentinel.
func (e *Engine) CheckTerminalQuiet(state domain.EpochState) []domain.Violation {
	if !e.table.IsTerminal(state.CurrentPhase) {
		return nil
	}
	var out []domain.Violation
	if len(state.ReviewVotes) > 0 {
		out = append(out, e.violate(RuleTerminalQuiet,
			fmt.Sprintf("%d vote(s) dangling at the terminal phase", len(state.ReviewVotes)), nil))
	}
	if state.BlockerCount > 0 {
		out = append(out, e.violate(RuleTerminalQuiet,
			fmt.Sprintf("%d blocker(s) unresolved at the terminal phase", state.BlockerCount), nil))
	}
	return out
}

// CheckRevisionRounds reports, as advisory data, revision loops exceeding the
// configured maximum.
func (e *Engine) CheckRevisionRounds(state domain.EpochState) []domain.Violation {
	if state.Round <= e.config.MaxRevisionRounds {
		return nil
	}
	return []domain.Violation{e.violate(RuleRevisionRounds,
		fmt.Sprintf("revision round %d exceeds the configured maximum %d",
			state.Round, e.config.MaxRevisionRounds),
		ctxOf("round", sprint(state.Round), "max", sprint(e.config.MaxRevisionRounds)))}
}

// ---- Scenario-parameter checks ----
//
// These rules describe conventions outside state-machine visibility, so they
// take the raw facts as parameters instead of inferring them from state.

// CheckCommitMessage verifies a commit title can be traced to its epoch.
func (e *Engine) CheckCommitMessage(epochID, title string) []domain.Violation {
	if strings.Contains(title, epochID) {
		return nil
	}
	return []domain.Violation{e.violate(RuleCommitMessage,
		fmt.Sprintf("commit title %q does not reference epoch %q", title, epochID),
		ctxOf("title", title, "epoch_id", epochID))}
}

// CheckSupervisorHandsOff verifies the supervisor is not editing files.
func (e *Engine) CheckSupervisorHandsOff(editingFiles bool) []domain.Violation {
	if !editingFiles {
		return nil
	}
	return []domain.Violation{e.violate(RuleSupervisorHands,
		"supervisor is editing implementation files directly", nil)}
}

// CheckHandoffDocument verifies a structured handoff document exists.
func (e *Engine) CheckHandoffDocument(present bool) []domain.Violation {
	if present {
		return nil
	}
	return []domain.Violation{e.violate(RuleHandoffDocument,
		"no structured handoff document for an actor-changing transition", nil)}
}

// CheckSliceDisjointness verifies no file is assigned to two slices.
func (e *Engine) CheckSliceDisjointness(assignments map[string][]string) []domain.Violation {
	owner := make(map[string]string)
	sliceIDs := make([]string, 0, len(assignments))
	for id := range assignments {
		sliceIDs = append(sliceIDs, id)
	}
	sort.Strings(sliceIDs)

	var out []domain.Violation
	for _, id := range sliceIDs {
		for _, file := range assignments[id] {
			if prev, taken := owner[file]; taken {
				out = append(out, e.violate(RuleSliceDisjoint,
					fmt.Sprintf("file %q assigned to both slice %q and slice %q", file, prev, id),
					ctxOf("file", file)))
				continue
			}
			owner[file] = id
		}
	}
	return out
}

// CheckReviewerIndependence verifies a reviewer did not author any of the
// slices under review.
func (e *Engine) CheckReviewerIndependence(reviewerID string, sliceAuthors []string) []domain.Violation {
	for _, author := range sliceAuthors {
		if author == reviewerID {
			return []domain.Violation{e.violate(RuleReviewerIndep,
				fmt.Sprintf("reviewer %q authored a slice under review", reviewerID),
				ctxOf("reviewer", reviewerID))}
		}
	}
	return nil
}

// CheckBranchName verifies the work branch carries the epoch prefix.
func (e *Engine) CheckBranchName(epochID, branch string) []domain.Violation {
	if strings.HasPrefix(branch, "epoch/"+epochID) {
		return nil
	}
	return []domain.Violation{e.violate(RuleBranchName,
		fmt.Sprintf("branch %q does not carry the epoch/%s prefix", branch, epochID),
		ctxOf("branch", branch))}
}

// ---- Transition-proposal checks ----

// CheckEdgeExists verifies the candidate destination is a table edge of the
// current phase.
func (e *Engine) CheckEdgeExists(state domain.EpochState, to domain.PhaseID) []domain.Violation {
	if e.table.IsTerminal(state.CurrentPhase) {
		return []domain.Violation{e.violate(RuleTableEdge,
			"epoch is terminal: no transitions leave the sentinel",
			ctxOf("from", string(state.CurrentPhase), "to", string(to)))}
	}
	if e.table.HasEdge(state.CurrentPhase, to) {
		return nil
	}
	return []domain.Violation{e.violate(RuleTableEdge,
		fmt.Sprintf("no edge %s -> %s in the protocol table", state.CurrentPhase, to),
		ctxOf("from", string(state.CurrentPhase), "to", string(to)))}
}

// CheckConsensusForEdge verifies the consensus gate for this specific edge.
func (e *Engine) CheckConsensusForEdge(state domain.EpochState, to domain.PhaseID) []domain.Violation {
	if !e.table.IsConsensusEdge(state.CurrentPhase, to) {
		return nil
	}
	if e.hasConsensus(state) {
		return nil
	}
	return []domain.Violation{e.violate(RuleConsensus,
		fmt.Sprintf("edge %s -> %s requires all three axes to hold ACCEPT", state.CurrentPhase, to),
		ctxOf("from", string(state.CurrentPhase), "to", string(to)))}
}

// CheckBlockerForEdge verifies the blocker gate for this specific edge.
func (e *Engine) CheckBlockerForEdge(state domain.EpochState, to domain.PhaseID) []domain.Violation {
	if !e.table.IsBlockerEdge(state.CurrentPhase, to) || state.BlockerCount == 0 {
		return nil
	}
	return []domain.Violation{e.violate(RuleBlockerGate,
		fmt.Sprintf("edge %s -> %s requires zero open blockers, have %d",
			state.CurrentPhase, to, state.BlockerCount),
		ctxOf("blocker_count", sprint(state.BlockerCount)))}
}

// CheckHandoffForEdge verifies the handoff-document requirement for
// actor-changing edges.
func (e *Engine) CheckHandoffForEdge(state domain.EpochState, to domain.PhaseID, docPresent bool) []domain.Violation {
	if !e.table.IsHandoffEdge(state.CurrentPhase, to) {
		return nil
	}
	if docPresent {
		return nil
	}
	return []domain.Violation{e.violate(RuleHandoffDocument,
		fmt.Sprintf("edge %s -> %s changes actors and requires a handoff document",
			state.CurrentPhase, to),
		ctxOf("from", string(state.CurrentPhase), "to", string(to)))}
}
