package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kr1s57/feedvalidator/internal/entity"
	"github.com/kr1s57/feedvalidator/internal/usecase/ratelimit"
)

// QuotaService reports validator quota state
type QuotaService interface {
	Status(ctx context.Context) []entity.RateLimitStatus
	CheckQuota(ctx context.Context, validator string) (entity.RateLimitStatus, error)
}

// QuotaHandler handles quota HTTP requests
type QuotaHandler struct {
	service QuotaService
}

// NewQuotaHandler creates a new handler
func NewQuotaHandler(service QuotaService) *QuotaHandler {
	return &QuotaHandler{service: service}
}

// List returns the quota status of every validator
// GET /api/v1/quota
func (h *QuotaHandler) List(w http.ResponseWriter, r *http.Request) {
	JSONResponse(w, http.StatusOK, map[string]interface{}{
		"validators": h.service.Status(r.Context()),
	})
}

// Get returns the quota status of one validator
// GET /api/v1/quota/{validator}
func (h *QuotaHandler) Get(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "validator")

	status, err := h.service.CheckQuota(r.Context(), name)
	switch {
	case errors.Is(err, ratelimit.ErrUnknownValidator):
		ErrorResponse(w, http.StatusNotFound, "Validator not found", nil)
	case err != nil:
		JSONResponse(w, http.StatusServiceUnavailable, status)
	default:
		JSONResponse(w, http.StatusOK, status)
	}
}
