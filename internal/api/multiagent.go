package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/telcoinsights/fabric-gateway/internal/cache"
	"github.com/telcoinsights/fabric-gateway/internal/jobs"
	"github.com/telcoinsights/fabric-gateway/internal/metrics"
	"github.com/telcoinsights/fabric-gateway/internal/normalize"
	"github.com/telcoinsights/fabric-gateway/internal/planner"
	"github.com/telcoinsights/fabric-gateway/internal/report"
)

const narrativePrompt = "You are a telecom competitive-intelligence analyst. Given a question " +
	"and the JSON result of a table query, write a short factual narrative answering the " +
	"question. Use the exact numbers from the result. Do not invent data."

type analyzeResponse struct {
	Question string          `json:"question"`
	Plan     *planner.Plan   `json:"plan"`
	Result   *planner.Result `json:"result"`
	Answer   string          `json:"answer"`
}

// MultiAgentAnalyze runs the planner pipeline: one deployment turns the
// question into a structured plan, the plan executes locally against the
// mentions table, and a second deployment narrates the result. Falls back
// to the general analysis flow when no planning model is configured.
func (h *Handler) MultiAgentAnalyze(w http.ResponseWriter, r *http.Request) {
	var req questionRequest
	if !req.validate(w, r) {
		return
	}

	if h.llm == nil {
		res := h.orch.Analyze(r.Context(), req.Question, false)
		JSON(w, http.StatusOK, map[string]any{"question": req.Question, "analysis": res})
		return
	}

	key := cache.Key("multi-agent-analyze", req.Question)
	if cached, ok := h.results.Get(key); ok {
		JSON(w, http.StatusOK, cached)
		return
	}

	start := time.Now()
	resp, status, err := h.runPlannerPipeline(r.Context(), req.Question)
	metrics.ObserveAgentCall("foundry", "planner_pipeline", time.Since(start))
	if err != nil {
		Error(w, status, err.Error())
		return
	}

	h.results.Put(key, resp)
	JSON(w, http.StatusOK, resp)
}

func (h *Handler) runPlannerPipeline(ctx context.Context, question string) (*analyzeResponse, int, error) {
	planReply, err := h.llm.Chat(ctx, h.cfg.PlannerDeployment, planner.PlannerPrompt, question, 0)
	if err != nil {
		return nil, http.StatusBadGateway, fmt.Errorf("planning model: %w", err)
	}

	plan, err := planner.ParsePlan(planReply)
	if err != nil {
		if errors.Is(err, planner.ErrPlanRefused) {
			return nil, http.StatusUnprocessableEntity, err
		}
		return nil, http.StatusBadGateway, fmt.Errorf("plan unusable: %w", err)
	}

	rows, err := planner.LoadRows(h.cfg.MentionsTable)
	if err != nil {
		return nil, http.StatusServiceUnavailable, fmt.Errorf("mentions table: %w", err)
	}

	result, err := planner.Execute(rows, plan)
	if err != nil {
		return nil, http.StatusUnprocessableEntity, fmt.Errorf("plan execution: %w", err)
	}

	answer := h.narrate(ctx, question, result)
	return &analyzeResponse{
		Question: question,
		Plan:     plan,
		Result:   result,
		Answer:   answer,
	}, http.StatusOK, nil
}

// narrate asks the narrative deployment to phrase the result. Failures fall
// back to the raw result JSON so the endpoint still answers.
func (h *Handler) narrate(ctx context.Context, question string, result *planner.Result) string {
	payload, err := json.Marshal(result)
	if err != nil {
		return ""
	}
	user := fmt.Sprintf("Question: %s\n\nResult JSON:\n%s", question, payload)
	answer, err := h.llm.Chat(ctx, h.cfg.NarrativeDeployment, narrativePrompt, user, 0.3)
	if err != nil {
		return string(payload)
	}
	return answer
}

type brandTotals struct {
	Brand        string   `json:"brand"`
	Mentions     int      `json:"mentions"`
	SwitchesTo   int      `json:"switches_to"`
	SwitchesFrom int      `json:"switches_from"`
	Weeks        []string `json:"weeks"`
}

// Competitor returns aggregate totals for one brand across all weeks in
// the mentions table. Brand spellings are resolved through the variant
// mapping; unknown brands are a 404.
func (h *Handler) Competitor(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "name")
	canonical := h.mapping.Resolve(raw)
	if canonical == normalize.Fallback {
		Error(w, http.StatusNotFound, fmt.Sprintf("unknown brand %q", raw))
		return
	}

	key := cache.Key("competitor", canonical)
	if cached, ok := h.results.Get(key); ok {
		JSON(w, http.StatusOK, cached)
		return
	}

	rows, err := planner.LoadRows(h.cfg.MentionsTable)
	if err != nil {
		Error(w, http.StatusServiceUnavailable, "mentions table unavailable")
		return
	}

	totals := brandTotals{Brand: canonical}
	weeks := make(map[string]bool)
	for _, row := range rows {
		if h.mapping.Resolve(row.Brand) != canonical {
			continue
		}
		totals.Mentions += row.Mentions
		totals.SwitchesTo += row.SwitchesTo
		totals.SwitchesFrom += row.SwitchesFrom
		weeks[row.Week] = true
	}
	for week := range weeks {
		totals.Weeks = append(totals.Weeks, week)
	}
	sort.Strings(totals.Weeks)

	h.results.Put(key, totals)
	JSON(w, http.StatusOK, totals)
}

// Transcripts kicks off the batch normalization run in the background and
// returns the job id to poll.
func (h *Handler) Transcripts(w http.ResponseWriter, r *http.Request) {
	id := h.runner.Submit("transcripts", h.transcriptBatch)
	JSON(w, http.StatusOK, map[string]string{
		"job_id": id,
		"status": "processing",
	})
}

// transcriptBatch normalizes the brand column of the mentions table,
// aggregates per canonical brand, and writes the report files.
func (h *Handler) transcriptBatch(ctx context.Context) (any, error) {
	rows, err := planner.LoadRows(h.cfg.MentionsTable)
	if err != nil {
		return nil, err
	}

	raw := make([]string, len(rows))
	for i, row := range rows {
		raw[i] = row.Brand
	}
	canonical := h.mapping.NormalizeRows(raw)

	mentions := make(map[string]int)
	for i, row := range rows {
		mentions[canonical[i]] += row.Mentions
	}

	brands := make([]string, 0, len(mentions))
	for brand := range mentions {
		brands = append(brands, brand)
	}
	sort.Strings(brands)

	rep := &report.Report{Title: "Transcript brand normalization"}
	for _, brand := range brands {
		rep.Items = append(rep.Items, report.Item{
			Question: brand,
			Answer:   fmt.Sprintf("%d mentions", mentions[brand]),
			Status:   "ok",
		})
	}

	paths, err := report.Write(h.cfg.OutputDir, rep)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"rows_processed": len(rows),
		"brands":         brands,
		"reports":        paths,
	}, nil
}

// Jobs lists recent archived job runs, newest first. Filter with ?kind= and
// bound with ?limit=.
func (h *Handler) Jobs(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		Error(w, http.StatusServiceUnavailable, "job archive disabled")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := h.archive.ListJobRuns(r.Context(), r.URL.Query().Get("kind"), limit)
	if err != nil {
		Error(w, http.StatusInternalServerError, "job list unavailable")
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"count": len(runs),
		"jobs":  runs,
	})
}

// JobStatus reports the state of a background job. Unknown ids are a 404.
func (h *Handler) JobStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := h.runner.Status(r.Context(), id)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			Error(w, http.StatusNotFound, "job not found")
			return
		}
		Error(w, http.StatusInternalServerError, "job status unavailable")
		return
	}
	JSON(w, http.StatusOK, run)
}
