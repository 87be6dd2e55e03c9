package handlers

import (
	"net/http"

	"github.com/kr1s57/feedvalidator/internal/adapter/external/threatintel"
)

// CacheStatsProvider reports vendor check cache statistics
type CacheStatsProvider interface {
	Stats() threatintel.CacheStats
}

// CacheHandler handles vendor cache HTTP requests
type CacheHandler struct {
	cache CacheStatsProvider
}

// NewCacheHandler creates a new handler
func NewCacheHandler(cache CacheStatsProvider) *CacheHandler {
	return &CacheHandler{cache: cache}
}

// Stats returns hit and miss counters of the vendor check cache
// GET /api/v1/cache/stats
func (h *CacheHandler) Stats(w http.ResponseWriter, r *http.Request) {
	JSONResponse(w, http.StatusOK, h.cache.Stats())
}
