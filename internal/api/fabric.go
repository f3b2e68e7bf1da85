package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/telcoinsights/fabric-gateway/internal/metrics"
)

type questionRequest struct {
	Question string `json:"question"`
}

func (q *questionRequest) validate(w http.ResponseWriter, r *http.Request) bool {
	if err := decode(r, q); err != nil {
		Error(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	q.Question = strings.TrimSpace(q.Question)
	if q.Question == "" {
		Error(w, http.StatusBadRequest, "question is required")
		return false
	}
	return true
}

// FabricQuery sends the question straight to the data agent, no source
// gathering or synthesis.
func (h *Handler) FabricQuery(w http.ResponseWriter, r *http.Request) {
	var req questionRequest
	if !req.validate(w, r) {
		return
	}

	start := time.Now()
	answer := h.data.Ask(r.Context(), req.Question)
	metrics.ObserveAgentCall("fabric", "query", time.Since(start))

	JSON(w, http.StatusOK, map[string]string{
		"question": req.Question,
		"answer":   answer,
	})
}

// FabricAnalyze runs the full analysis flow: table reader with data agent
// fallback, optional web search, and reasoning synthesis.
func (h *Handler) FabricAnalyze(w http.ResponseWriter, r *http.Request) {
	var req questionRequest
	if !req.validate(w, r) {
		return
	}

	start := time.Now()
	res := h.orch.Analyze(r.Context(), req.Question, false)
	metrics.ObserveAgentCall("fabric", "analyze", time.Since(start))

	JSON(w, http.StatusOK, map[string]any{
		"question": req.Question,
		"analysis": res,
	})
}
