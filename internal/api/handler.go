// Package api provides HTTP handlers for the gateway API.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/telcoinsights/fabric-gateway/internal/cache"
	"github.com/telcoinsights/fabric-gateway/internal/config"
	"github.com/telcoinsights/fabric-gateway/internal/jobs"
	"github.com/telcoinsights/fabric-gateway/internal/normalize"
	"github.com/telcoinsights/fabric-gateway/internal/orchestrator"
	"github.com/telcoinsights/fabric-gateway/internal/session"
	"github.com/telcoinsights/fabric-gateway/internal/sources"
	"github.com/telcoinsights/fabric-gateway/internal/store"
)

// Handler provides common handler utilities and dependencies.
type Handler struct {
	cfg      *config.Config
	sessions session.Store
	orch     *orchestrator.Orchestrator
	data     orchestrator.DataAgent
	llm      sources.Completer // may be nil
	runner   *jobs.Runner
	results  *cache.Cache
	mapping  *normalize.Mapping
	archive  store.Archive // may be nil
}

// Deps collects everything the handlers need.
type Deps struct {
	Config   *config.Config
	Sessions session.Store
	Orch     *orchestrator.Orchestrator
	Data     orchestrator.DataAgent
	LLM      sources.Completer
	Runner   *jobs.Runner
	Results  *cache.Cache
	Mapping  *normalize.Mapping
	Archive  store.Archive
}

// NewHandler creates a Handler with common dependencies.
func NewHandler(d Deps) *Handler {
	if d.Mapping == nil {
		d.Mapping = normalize.DefaultMapping()
	}
	return &Handler{
		cfg:      d.Config,
		sessions: d.Sessions,
		orch:     d.Orch,
		data:     d.Data,
		llm:      d.LLM,
		runner:   d.Runner,
		results:  d.Results,
		mapping:  d.Mapping,
		archive:  d.Archive,
	}
}

// Routes mounts all HTTP endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.Root)
	r.Get("/health", h.Health)

	r.Post("/chat", h.Chat)
	r.Post("/session", h.CreateSession)
	r.Get("/session/{id}", h.GetSession)
	r.Delete("/session/{id}", h.DeleteSession)

	r.Route("/api", func(r chi.Router) {
		r.Post("/fabric/query", h.FabricQuery)
		r.Post("/fabric/analyze", h.FabricAnalyze)
		r.Post("/multi-agent/analyze", h.MultiAgentAnalyze)
		r.Get("/multi-agent/competitor/{name}", h.Competitor)
		r.Post("/multi-agent/transcripts", h.Transcripts)
		r.Get("/jobs", h.Jobs)
		r.Get("/job/{id}/status", h.JobStatus)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// decode reads a JSON request body into v.
func decode(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}
