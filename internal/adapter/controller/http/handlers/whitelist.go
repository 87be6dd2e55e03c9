package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kr1s57/feedvalidator/internal/entity"
)

const maxListUpload = 64 << 20

// WhitelistService answers and refreshes allow-list lookups
type WhitelistService interface {
	IsWhitelisted(ind entity.Indicator) entity.WhitelistMatch
	Reload(ctx context.Context) error
	Import(ctx context.Context, list string, r io.Reader) (int, error)
	Stats() entity.WhitelistStats
}

// WhitelistHandler handles whitelist HTTP requests
type WhitelistHandler struct {
	service WhitelistService
}

// NewWhitelistHandler creates a new handler
func NewWhitelistHandler(service WhitelistService) *WhitelistHandler {
	return &WhitelistHandler{service: service}
}

// Check reports whether a domain is whitelisted
// GET /api/v1/whitelist/check/{domain}
func (h *WhitelistHandler) Check(w http.ResponseWriter, r *http.Request) {
	ind, err := entity.NewIndicator(chi.URLParam(r, "domain"), entity.KindDomain)
	if err != nil {
		ErrorResponse(w, http.StatusBadRequest, "Invalid domain", err)
		return
	}

	match := h.service.IsWhitelisted(ind)
	JSONResponse(w, http.StatusOK, map[string]interface{}{
		"domain":      ind.Value,
		"whitelisted": match.Whitelisted,
		"source":      match.Source,
	})
}

// Stats returns entry counts per list
// GET /api/v1/whitelist/stats
func (h *WhitelistHandler) Stats(w http.ResponseWriter, r *http.Request) {
	JSONResponse(w, http.StatusOK, h.service.Stats())
}

// Reload refreshes the snapshot from the store
// POST /api/v1/whitelist/reload
func (h *WhitelistHandler) Reload(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Reload(r.Context()); err != nil {
		ErrorResponse(w, http.StatusServiceUnavailable, "Failed to reload whitelist", err)
		return
	}
	SuccessResponse(w, "Whitelist reloaded", h.service.Stats())
}

// Import stores an uploaded list file under {list}
// POST /api/v1/whitelist/import/{list}
func (h *WhitelistHandler) Import(w http.ResponseWriter, r *http.Request) {
	list := chi.URLParam(r, "list")
	if list != entity.ListCisco && list != entity.ListTranco {
		ErrorResponse(w, http.StatusBadRequest, "list must be cisco or tranco", nil)
		return
	}

	n, err := h.service.Import(r.Context(), list, http.MaxBytesReader(w, r.Body, maxListUpload))
	if err != nil {
		ErrorResponse(w, http.StatusInternalServerError, "Failed to import list", err)
		return
	}
	SuccessResponse(w, "List imported", map[string]interface{}{
		"list":    list,
		"entries": n,
	})
}
