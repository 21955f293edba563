package storefront

import (
	"net/http"
	"time"

	"finitefield.org/storefront/internal/platform/httpx"
)

// HealthHandlers serves the liveness check.
type HealthHandlers struct {
	now     func() time.Time
	started time.Time
}

// NewHealthHandlers builds the handlers; now defaults to time.Now.
func NewHealthHandlers(now func() time.Time) *HealthHandlers {
	if now == nil {
		now = time.Now
	}
	return &HealthHandlers{now: now, started: now()}
}

// Healthz reports that the process is serving.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"uptime":    now.Sub(h.started).Round(time.Second).String(),
		"timestamp": now.UTC().Format(time.RFC3339),
	})
}
