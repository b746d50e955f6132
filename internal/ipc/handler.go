package ipc

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/anthropics/epoch-engine/internal/domain"
	"github.com/anthropics/epoch-engine/internal/epoch"
	"github.com/anthropics/epoch-engine/internal/orchestrator"
	"github.com/anthropics/epoch-engine/internal/store"
)

// Handler holds all dependencies for the HTTP handlers.
type Handler struct {
	Registry   *Registry
	DB         *sql.DB
	RecordRepo *store.RecordRepo
	VoteRepo   *store.VoteRepo
	SliceRepo  *store.SliceRepo
}

// orchestratorFor resolves the epoch named in the request path. A registry
// miss falls back to Resume so epochs persisted before a daemon restart stay
// reachable.
func (h *Handler) orchestratorFor(r *http.Request) (*orchestrator.Orchestrator, error) {
	epochID := r.PathValue("epochID")
	if o, ok := h.Registry.Get(epochID); ok {
		return o, nil
	}
	return h.Registry.Resume(r.Context(), epochID)
}

// CreateEpochRequest is the body for POST /api/v1/epoch.
type CreateEpochRequest struct {
	EpochID string `json:"epoch_id"`
}

// AdvanceRequest is the body for POST /api/v1/epoch/{epochID}/advance.
type AdvanceRequest struct {
	To                string `json:"to"`
	TriggeredBy       string `json:"triggered_by"`
	ConditionMet      string `json:"condition_met"`
	HandoffDocPresent bool   `json:"handoff_doc_present"`
}

// VoteRequest is the body for POST /api/v1/epoch/{epochID}/vote.
type VoteRequest struct {
	Axis       string `json:"axis"`
	Value      string `json:"value"`
	ReviewerID string `json:"reviewer_id"`
}

// ProgressRequest is the body for POST /api/v1/epoch/{epochID}/progress.
type ProgressRequest struct {
	UnitID    string `json:"unit_id"`
	TaskID    string `json:"task_id"`
	Stage     string `json:"stage"`
	Completed bool   `json:"completed"`
}

// APIError is a structured error response.
type APIError struct {
	Code       int                `json:"code"`
	Message    string             `json:"message"`
	Violations []domain.Violation `json:"violations,omitempty"`
}

// Health handles GET /api/v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CreateEpoch handles POST /api/v1/epoch.
func (h *Handler) CreateEpoch(w http.ResponseWriter, r *http.Request) {
	var req CreateEpochRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "invalid request body"})
		return
	}
	if req.EpochID == "" {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "epoch_id is required"})
		return
	}

	o, err := h.Registry.Start(r.Context(), req.EpochID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, o.CurrentState())
}

// GetEpoch handles GET /api/v1/epoch/{epochID}.
func (h *Handler) GetEpoch(w http.ResponseWriter, r *http.Request) {
	o, err := h.orchestratorFor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o.CurrentState())
}

// AdvanceEpoch handles POST /api/v1/epoch/{epochID}/advance.
func (h *Handler) AdvanceEpoch(w http.ResponseWriter, r *http.Request) {
	o, err := h.orchestratorFor(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req AdvanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "invalid request body"})
		return
	}
	if req.To == "" {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "to is required"})
		return
	}

	err = o.SubmitAdvance(r.Context(), orchestrator.AdvanceCommand{
		To:                domain.PhaseID(req.To),
		TriggeredBy:       req.TriggeredBy,
		ConditionMet:      req.ConditionMet,
		HandoffDocPresent: req.HandoffDocPresent,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// VoteEpoch handles POST /api/v1/epoch/{epochID}/vote.
func (h *Handler) VoteEpoch(w http.ResponseWriter, r *http.Request) {
	o, err := h.orchestratorFor(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req VoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "invalid request body"})
		return
	}

	err = o.SubmitVote(r.Context(), orchestrator.VoteCommand{
		Axis:       req.Axis,
		Value:      domain.VoteType(req.Value),
		ReviewerID: req.ReviewerID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ReportProgress handles POST /api/v1/epoch/{epochID}/progress.
func (h *Handler) ReportProgress(w http.ResponseWriter, r *http.Request) {
	o, err := h.orchestratorFor(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req ProgressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "invalid request body"})
		return
	}

	err = o.SubmitProgress(r.Context(), domain.ProgressEvent{
		UnitID:    req.UnitID,
		TaskID:    req.TaskID,
		Stage:     req.Stage,
		Completed: req.Completed,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListTransitions handles GET /api/v1/epoch/{epochID}/transitions.
func (h *Handler) ListTransitions(w http.ResponseWriter, r *http.Request) {
	o, err := h.orchestratorFor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o.AvailableTransitions())
}

// ListRecords handles GET /api/v1/epoch/{epochID}/records.
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	epochID := r.PathValue("epochID")
	records, err := h.RecordRepo.ListByEpoch(r.Context(), h.DB, epochID, 0)
	if err != nil {
		writeError(w, err)
		return
	}
	if records == nil {
		records = []domain.TransitionRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// ListProgress handles GET /api/v1/epoch/{epochID}/progress.
func (h *Handler) ListProgress(w http.ResponseWriter, r *http.Request) {
	o, err := h.orchestratorFor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o.ProgressLog())
}

// ListVotes handles GET /api/v1/epoch/{epochID}/votes.
func (h *Handler) ListVotes(w http.ResponseWriter, r *http.Request) {
	epochID := r.PathValue("epochID")
	votes, err := h.VoteRepo.ListByEpoch(r.Context(), h.DB, epochID)
	if err != nil {
		writeError(w, err)
		return
	}
	if votes == nil {
		votes = []domain.VoteRecord{}
	}
	writeJSON(w, http.StatusOK, votes)
}

// ListSlices handles GET /api/v1/epoch/{epochID}/slices.
func (h *Handler) ListSlices(w http.ResponseWriter, r *http.Request) {
	epochID := r.PathValue("epochID")
	slices, err := h.SliceRepo.ListByEpoch(r.Context(), h.DB, epochID)
	if err != nil {
		writeError(w, err)
		return
	}
	if slices == nil {
		slices = []domain.SliceRef{}
	}
	writeJSON(w, http.StatusOK, slices)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var terr *epoch.TransitionError
	if errors.As(err, &terr) {
		writeJSON(w, http.StatusUnprocessableEntity, APIError{
			Code:       domain.ErrGateBlocked.Code,
			Message:    terr.Error(),
			Violations: terr.Violations,
		})
		return
	}
	if engErr, ok := err.(*domain.EngineError); ok {
		status := http.StatusInternalServerError
		switch engErr.Code {
		case domain.ErrEpochNotFound.Code:
			status = http.StatusNotFound
		case domain.ErrDuplicateEpoch.Code:
			status = http.StatusConflict
		case domain.ErrUnknownAxis.Code, domain.ErrUnknownPhase.Code:
			status = http.StatusBadRequest
		case domain.ErrGateBlocked.Code:
			status = http.StatusUnprocessableEntity
		case domain.ErrQueueFull.Code:
			status = http.StatusTooManyRequests
		case domain.ErrOrchestratorStopped.Code:
			status = http.StatusConflict
		}
		writeJSON(w, status, APIError{Code: engErr.Code, Message: engErr.Message})
		return
	}
	writeJSON(w, http.StatusInternalServerError, APIError{Code: -1, Message: err.Error()})
}
