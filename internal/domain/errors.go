package domain

import "fmt"

// EngineError is the unified error type for the engine.
// Each error has a numeric code and human-readable message.
type EngineError struct {
	Code    int
	Message string
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	return fmt.Sprintf("engine error %d: %s", e.Code, e.Message)
}

// NewEngineError creates a new EngineError.
func NewEngineError(code int, msg string) *EngineError {
	return &EngineError{Code: code, Message: msg}
}

// WrapEngineError creates an EngineError that includes a cause.
func WrapEngineError(code int, msg string, cause error) *EngineError {
	return &EngineError{Code: code, Message: fmt.Sprintf("%s: %v", msg, cause)}
}

// ---- State machine errors (-33010 to -33039) ----

var (
	ErrEpochNotFound     = &EngineError{Code: -33012, Message: "epoch not found"}
	ErrUnknownPhase      = &EngineError{Code: -33013, Message: "phase is not in the protocol table"}
	ErrUnknownAxis       = &EngineError{Code: -33014, Message: "vote axis is outside the fixed axis set"}
	ErrUnknownSeverity   = &EngineError{Code: -33015, Message: "severity is outside the fixed severity set"}
	ErrFindingsNotSeeded = &EngineError{Code: -33016, Message: "severity groups not seeded: code review never entered"}
	ErrOptimisticLock    = &EngineError{Code: -33017, Message: "optimistic lock conflict: epoch was modified concurrently"}
	ErrDuplicateEpoch    = &EngineError{Code: -33018, Message: "epoch already exists"}
	ErrGateBlocked       = &EngineError{Code: -33019, Message: "transition blocked by gate violations"}
)

// ---- Orchestrator errors (-33040 to -33069) ----

var (
	ErrQueueFull           = &EngineError{Code: -33040, Message: "command queue is full"}
	ErrOrchestratorStopped = &EngineError{Code: -33041, Message: "orchestrator is not running"}
	ErrVoteRoundIncomplete = &EngineError{Code: -33043, Message: "review round ended before all axes voted"}
)

// ---- Store / config / table errors (-33070 to -33099) ----

var (
	ErrStoreInit       = &EngineError{Code: -33070, Message: "failed to initialize store"}
	ErrSnapshotCorrupt = &EngineError{Code: -33073, Message: "state snapshot failed to decode"}
	ErrConfigInvalid   = &EngineError{Code: -33074, Message: "invalid configuration"}
	ErrTableInvalid    = &EngineError{Code: -33075, Message: "protocol table failed to load"}
)
