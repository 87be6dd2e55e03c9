package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/kr1s57/feedvalidator/internal/domain/consensus"
	"github.com/kr1s57/feedvalidator/internal/entity"
	"github.com/kr1s57/feedvalidator/internal/usecase/validation"
)

const maxBatchSize = 500

// ValidationService runs batches and exposes the consensus policy
type ValidationService interface {
	RunValidationBatch(ctx context.Context, opts validation.BatchOptions) (entity.BatchSummary, error)
	Thresholds() consensus.Thresholds
	Weights() map[string]float64
}

// ValidationHandler handles batch runs and consensus previews
type ValidationHandler struct {
	service    ValidationService
	manualRuns bool
}

// NewValidationHandler creates a new handler; manualRuns=false rejects RunBatch
func NewValidationHandler(service ValidationService, manualRuns bool) *ValidationHandler {
	return &ValidationHandler{service: service, manualRuns: manualRuns}
}

// RunBatchRequest is the optional body of a manual run
type RunBatchRequest struct {
	Size  int  `json:"size"`
	Force bool `json:"force"`
}

// RunBatch triggers one validation batch
// POST /api/v1/validation/run
func (h *ValidationHandler) RunBatch(w http.ResponseWriter, r *http.Request) {
	if !h.manualRuns {
		ErrorResponse(w, http.StatusForbidden, "Manual runs are disabled, the validator daemon owns batches", nil)
		return
	}

	var req RunBatchRequest
	if err := DecodeJSON(r, &req); err != nil {
		ErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Size < 0 || req.Size > maxBatchSize {
		ErrorResponse(w, http.StatusBadRequest, "size must be between 0 and 500", nil)
		return
	}

	// A client disconnect must not abort per-indicator commits
	ctx := context.WithoutCancel(r.Context())

	summary, err := h.service.RunValidationBatch(ctx, validation.BatchOptions{Size: req.Size, Force: req.Force})
	switch {
	case errors.Is(err, validation.ErrBatchInProgress):
		ErrorResponse(w, http.StatusConflict, "A validation batch is already running", nil)
	case errors.Is(err, validation.ErrCandidateFetch):
		ErrorResponse(w, http.StatusServiceUnavailable, "Failed to fetch candidates", err)
	case err != nil:
		ErrorResponse(w, http.StatusInternalServerError, "Validation batch failed", err)
	default:
		JSONResponse(w, http.StatusOK, summary)
	}
}

// PreviewResult is one hypothetical vendor answer
type PreviewResult struct {
	Validator string `json:"validator"`
	Checked   bool   `json:"checked"`
	Score     int    `json:"score"`
	Malicious bool   `json:"malicious"`
}

// PreviewRequest is the body of a consensus preview
type PreviewRequest struct {
	Results     []PreviewResult `json:"results"`
	Whitelisted bool            `json:"whitelisted"`
}

// PreviewResponse is the verdict the engine would reach
type PreviewResponse struct {
	Verdict    entity.ConsensusVerdict `json:"verdict"`
	Promotable bool                    `json:"promotable"`
	Thresholds consensus.Thresholds    `json:"thresholds"`
	Ignored    []string                `json:"ignored,omitempty"`
}

// Preview computes consensus over supplied results without touching any store
// POST /api/v1/consensus/preview
func (h *ValidationHandler) Preview(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if err := DecodeJSON(r, &req); err != nil {
		ErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	weights := h.service.Weights()
	thresholds := h.service.Thresholds()

	results := make([]entity.VendorResult, 0, len(req.Results))
	var ignored []string
	now := time.Now()
	for _, pr := range req.Results {
		if pr.Validator == "" {
			ErrorResponse(w, http.StatusBadRequest, "validator name is required", nil)
			return
		}
		if _, known := weights[pr.Validator]; !known {
			ignored = append(ignored, pr.Validator)
			continue
		}
		if pr.Checked {
			results = append(results, entity.Checked(pr.Validator, pr.Score, pr.Malicious, now))
		} else {
			results = append(results, entity.Unchecked(pr.Validator, "preview"))
		}
	}

	verdict := consensus.Calculate(consensus.Votes(results, weights), thresholds)

	JSONResponse(w, http.StatusOK, PreviewResponse{
		Verdict:    verdict,
		Promotable: consensus.Promotable(verdict, req.Whitelisted, thresholds),
		Thresholds: thresholds,
		Ignored:    ignored,
	})
}
