package api

import (
	"net/http"
)

// Health reports service liveness plus backend readiness details.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	db := "disabled"
	if h.archive != nil {
		db = "ok"
		if err := h.archive.Ping(r.Context()); err != nil {
			db = "error"
		}
	}

	JSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"db":        db,
		"sessions":  h.sessions.Len(),
		"fabric":    h.cfg.FabricConfigured(),
		"foundry":   h.cfg.FoundryConfigured(),
		"mock_mode": h.cfg.MockMode(),
	})
}

// Root describes the service and its endpoints.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]any{
		"service": "fabric-gateway",
		"endpoints": []string{
			"POST /chat",
			"POST /session",
			"GET /session/{id}",
			"DELETE /session/{id}",
			"POST /api/fabric/query",
			"POST /api/fabric/analyze",
			"POST /api/multi-agent/analyze",
			"GET /api/multi-agent/competitor/{name}",
			"POST /api/multi-agent/transcripts",
			"GET /api/jobs",
			"GET /api/job/{id}/status",
			"GET /health",
			"GET /metrics",
			"GET /ws/chat",
		},
	})
}
