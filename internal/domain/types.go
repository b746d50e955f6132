// Package domain defines the core types for the Epoch Protocol Engine.
package domain

// PhaseID identifies one of the 12 protocol phases or the terminal sentinel.
type PhaseID string

const (
	PhaseRequest                  PhaseID = "request"
	PhaseElicitation              PhaseID = "elicitation"
	PhaseProposal                 PhaseID = "proposal"
	PhasePlanReview               PhaseID = "plan_review"
	PhasePlanAcceptance           PhaseID = "plan_acceptance"
	PhaseRatification             PhaseID = "ratification"
	PhaseHandoff                  PhaseID = "handoff"
	PhaseImplementationPlanning   PhaseID = "implementation_planning"
	PhaseParallelImplementation   PhaseID = "parallel_implementation"
	PhaseCodeReview               PhaseID = "code_review"
	PhaseImplementationAcceptance PhaseID = "implementation_acceptance"
	PhaseLanding                  PhaseID = "landing"

	// PhaseComplete is the terminal sentinel. No transitions leave it.
	PhaseComplete PhaseID = "complete"
)

// PhaseDomain classifies a phase by who drives it.
type PhaseDomain string

const (
	DomainUserFacing     PhaseDomain = "user_facing"
	DomainPlanning       PhaseDomain = "planning"
	DomainImplementation PhaseDomain = "implementation"
)

// RoleID identifies a protocol actor role.
type RoleID string

const (
	RoleOrchestrator RoleID = "orchestrator"
	RoleArchitect    RoleID = "architect"
	RoleReviewer     RoleID = "reviewer"
	RoleSupervisor   RoleID = "supervisor"
	RoleWorker       RoleID = "worker"
)

// VoteType is a review vote on one axis. Exactly two values.
type VoteType string

const (
	VoteAccept VoteType = "ACCEPT"
	VoteRevise VoteType = "REVISE"
)

// SeverityLevel buckets code-review findings. Fixed 3-value set.
type SeverityLevel string

const (
	SeverityBlocker   SeverityLevel = "BLOCKER"
	SeverityImportant SeverityLevel = "IMPORTANT"
	SeverityMinor     SeverityLevel = "MINOR"
)

// SeverityLevels lists all severity buckets in display order.
func SeverityLevels() []SeverityLevel {
	return []SeverityLevel{SeverityBlocker, SeverityImportant, SeverityMinor}
}

// Transition is one outgoing edge of a phase in the protocol table. Immutable.
type Transition struct {
	To        PhaseID
	Condition string
	Action    string
}

// ConstraintSpec is one process constraint from the protocol table,
// looked up by ID and never invented by the engine.
type ConstraintSpec struct {
	ID        string
	Given     string
	When      string
	Then      string
	ShouldNot string
}

// TransitionRecord is one entry in an epoch's append-only transition history.
// For failed attempts ConditionMet carries "FAILED: " plus a summary; that
// prefix is for display only. Programmatic checks must use Success.
type TransitionRecord struct {
	SeqNo        int64
	FromPhase    PhaseID
	ToPhase      PhaseID
	TriggeredBy  string
	ConditionMet string
	Success      bool
	CreatedAt    int64
}

// EpochState is the mutable state of one epoch, exclusively owned by a single
// state-machine/orchestrator pair. All collections are mutated only through
// state-machine operations.
type EpochState struct {
	EpochID         string
	CurrentPhase    PhaseID
	CurrentRole     RoleID
	CompletedPhases []PhaseID

	// ReviewVotes maps axis -> latest vote for the current review round.
	// Cleared on every successful transition.
	ReviewVotes map[string]VoteType

	BlockerCount int

	// SeverityGroups maps each severity bucket to the set of finding IDs.
	// Nil until code review is first entered; exactly 3 keys afterwards.
	SeverityGroups map[SeverityLevel]map[string]bool

	// TransitionHistory is append-only and includes failed attempts.
	TransitionHistory []TransitionRecord

	// LastError holds the most recent failure summary; cleared on the next
	// successful transition.
	LastError string

	// Round counts revision loops (review phase sending work backward).
	Round int
}

// EpochStatus is the indexed status metadata kept alongside the audit trail.
type EpochStatus string

const (
	StatusRunning EpochStatus = "running"
	StatusBlocked EpochStatus = "blocked"
	StatusDone    EpochStatus = "completed"
)

// SliceState is the lifecycle state of one implementation slice.
type SliceState string

const (
	SliceCreated   SliceState = "created"
	SliceRunning   SliceState = "running"
	SliceDone      SliceState = "done"
	SliceFailed    SliceState = "failed"
	SliceCancelled SliceState = "cancelled"
)

// SliceRef describes one implementation slice and its disjoint file assignment.
type SliceRef struct {
	SliceID       string
	EpochID       string
	State         SliceState
	Assignment    []string
	CreatedAtUnix int64
	UpdatedAtUnix int64
}

// ProgressEvent is one child-progress signal reported back to the orchestrator.
type ProgressEvent struct {
	ID        int64
	EpochID   string
	UnitID    string
	TaskID    string
	Stage     string
	Completed bool
	CreatedAt int64
}

// Violation is one rule violation reported by the state machine gates or the
// constraint validation engine. RuleID always names a constraint present in
// the protocol table.
type Violation struct {
	RuleID  string
	Message string
	Context map[string]string
}

// VoteRecord is the audit row for a single review vote.
type VoteRecord struct {
	EpochID   string
	Round     int
	Axis      string
	Vote      VoteType
	Reviewer  string
	CreatedAt int64
}
