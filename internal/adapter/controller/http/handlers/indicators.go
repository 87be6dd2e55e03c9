package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kr1s57/feedvalidator/internal/entity"
)

// IndicatorReader exposes working and validated state for operators
type IndicatorReader interface {
	GetWorkingRecord(ctx context.Context, ind entity.Indicator) (*entity.WorkingRecord, error)
	GetValidated(ctx context.Context, ind entity.Indicator) (*entity.ValidatedIndicator, error)
	ListValidated(ctx context.Context) ([]entity.ValidatedIndicator, error)
}

// IndicatorHandler handles indicator lookups
type IndicatorHandler struct {
	store IndicatorReader
}

// NewIndicatorHandler creates a new handler
func NewIndicatorHandler(store IndicatorReader) *IndicatorHandler {
	return &IndicatorHandler{store: store}
}

// ListValidated returns the served set, optionally filtered by ?kind=
// GET /api/v1/validated
func (h *IndicatorHandler) ListValidated(w http.ResponseWriter, r *http.Request) {
	var kind entity.IndicatorKind
	if raw := r.URL.Query().Get("kind"); raw != "" {
		k, err := entity.ParseIndicatorKind(raw)
		if err != nil {
			ErrorResponse(w, http.StatusBadRequest, "Invalid kind", err)
			return
		}
		kind = k
	}

	all, err := h.store.ListValidated(r.Context())
	if err != nil {
		ErrorResponse(w, http.StatusInternalServerError, "Failed to list validated indicators", err)
		return
	}

	out := make([]entity.ValidatedIndicator, 0, len(all))
	for _, v := range all {
		if kind == "" || v.Indicator.Kind == kind {
			out = append(out, v)
		}
	}

	JSONResponse(w, http.StatusOK, map[string]interface{}{
		"indicators": out,
		"total":      len(out),
	})
}

// Get returns the working record and validated row of one indicator
// GET /api/v1/indicators/{kind}/{value}
func (h *IndicatorHandler) Get(w http.ResponseWriter, r *http.Request) {
	kind, err := entity.ParseIndicatorKind(chi.URLParam(r, "kind"))
	if err != nil {
		ErrorResponse(w, http.StatusBadRequest, "Invalid kind", err)
		return
	}
	ind, err := entity.NewIndicator(chi.URLParam(r, "value"), kind)
	if err != nil {
		ErrorResponse(w, http.StatusBadRequest, "Invalid indicator", err)
		return
	}

	rec, err := h.store.GetWorkingRecord(r.Context(), ind)
	if errors.Is(err, entity.ErrNotFound) {
		ErrorResponse(w, http.StatusNotFound, "Indicator not found", nil)
		return
	}
	if err != nil {
		ErrorResponse(w, http.StatusInternalServerError, "Failed to load indicator", err)
		return
	}

	validated, err := h.store.GetValidated(r.Context(), ind)
	if err != nil && !errors.Is(err, entity.ErrNotFound) {
		ErrorResponse(w, http.StatusInternalServerError, "Failed to load indicator", err)
		return
	}

	JSONResponse(w, http.StatusOK, map[string]interface{}{
		"record":    rec,
		"validated": validated,
	})
}
