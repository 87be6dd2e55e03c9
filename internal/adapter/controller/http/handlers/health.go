package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/kr1s57/feedvalidator/internal/config"
)

var startTime = time.Now()

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status      string            `json:"status"`
	Uptime      string            `json:"uptime"`
	Environment string            `json:"environment"`
	Timestamp   time.Time         `json:"timestamp"`
	Checks      map[string]string `json:"checks"`
	System      SystemInfo        `json:"system"`
}

// SystemInfo represents system information
type SystemInfo struct {
	GoVersion    string `json:"go_version"`
	NumGoroutine int    `json:"num_goroutine"`
	MemAllocMB   uint64 `json:"mem_alloc_mb"`
}

// HealthCheck returns a handler reporting store reachability
func HealthCheck(cfg *config.Config, store Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := map[string]string{"api": "ok", "store": "ok"}
		status, code := "healthy", http.StatusOK
		if err := store.Ping(ctx); err != nil {
			checks["store"] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
		}

		JSONResponse(w, code, HealthResponse{
			Status:      status,
			Uptime:      time.Since(startTime).Round(time.Second).String(),
			Environment: cfg.App.Env,
			Timestamp:   time.Now().UTC(),
			Checks:      checks,
			System: SystemInfo{
				GoVersion:    runtime.Version(),
				NumGoroutine: runtime.NumGoroutine(),
				MemAllocMB:   m.Alloc / 1024 / 1024,
			},
		})
	}
}
