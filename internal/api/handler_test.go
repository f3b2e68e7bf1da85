package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/telcoinsights/fabric-gateway/internal/cache"
	"github.com/telcoinsights/fabric-gateway/internal/config"
	"github.com/telcoinsights/fabric-gateway/internal/jobs"
	"github.com/telcoinsights/fabric-gateway/internal/orchestrator"
	"github.com/telcoinsights/fabric-gateway/internal/session"
	"github.com/telcoinsights/fabric-gateway/internal/sources"
	"github.com/telcoinsights/fabric-gateway/internal/store"
)

type echoAgent struct{}

func (echoAgent) Ask(_ context.Context, prompt string) string {
	return "echo: " + prompt
}

// scriptedLLM answers the planner deployment with a fixed plan and every
// other deployment with a fixed narrative.
type scriptedLLM struct {
	planReply string
	narrative string
}

func (s *scriptedLLM) Chat(_ context.Context, deployment, system, user string, _ float64) (string, error) {
	if strings.Contains(system, "query plan") {
		return s.planReply, nil
	}
	return s.narrative, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	mentions := "Week,Brand,Mentions,Switches to Brand,Switches from Brand,Promotions\n" +
		"2025-W05,Verizon,120,10,5,unlimited\n" +
		"2025-W05,T-Mobile,80,20,8,\n" +
		"2025-W06,Verizon,150,12,6,iphone\n"
	mentionsPath := filepath.Join(dir, "mentions.csv")
	if err := os.WriteFile(mentionsPath, []byte(mentions), 0o644); err != nil {
		t.Fatal(err)
	}

	return &config.Config{
		Port:                "8080",
		DBPath:              filepath.Join(dir, "gateway.db"),
		OutputDir:           filepath.Join(dir, "reports"),
		TranscriptDir:       filepath.Join(dir, "transcripts"),
		MentionsTable:       mentionsPath,
		PlannerDeployment:   "gpt-4o-mini",
		NarrativeDeployment: "gpt-4o",
		CacheTTL:            time.Minute,
		SessionMaxEntries:   100,
		SessionMaxMessages:  50,
	}
}

func newTestServer(t *testing.T, llm sources.Completer) *httptest.Server {
	t.Helper()
	cfg := testConfig(t)
	data := echoAgent{}
	orch := orchestrator.New(data, nil, nil,
		&sources.TranscriptFetcher{Dir: cfg.TranscriptDir},
		&sources.WebFetcher{}, &sources.KnowledgeFetcher{})

	resultCache := cache.New(cfg.CacheTTL)
	h := NewHandler(Deps{
		Config:   cfg,
		Sessions: session.NewMemoryStore(cfg.SessionMaxEntries, cfg.SessionMaxMessages),
		Orch:     orch,
		Data:     data,
		LLM:      llm,
		Runner:   jobs.NewRunner(context.Background(), resultCache, nil, time.Minute),
		Results:  resultCache,
	})

	r := chi.NewRouter()
	h.Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, decoded
}

func getJSON(t *testing.T, url string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, decoded
}

func TestChatConversationFlow(t *testing.T) {
	srv := newTestServer(t, nil)

	resp, first := postJSON(t, srv.URL+"/chat", map[string]string{"message": "hello there"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	id, _ := first["session_id"].(string)
	if id == "" {
		t.Fatal("no session_id in first reply")
	}
	if reply, _ := first["reply"].(string); reply == "" {
		t.Fatal("empty reply")
	}
	if first["history_length"] != float64(2) {
		t.Errorf("history_length = %v, want 2", first["history_length"])
	}

	_, second := postJSON(t, srv.URL+"/chat", map[string]string{
		"session_id": id, "message": "and a follow-up",
	})
	if second["session_id"] != id {
		t.Errorf("session id changed: %v", second["session_id"])
	}
	if second["history_length"] != float64(4) {
		t.Errorf("history_length after second turn = %v, want 4", second["history_length"])
	}

	resp, sess := getJSON(t, srv.URL+"/session/"+id)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get session status = %d", resp.StatusCode)
	}
	msgs, _ := sess["messages"].([]any)
	if len(msgs) != 4 {
		t.Errorf("stored messages = %d, want 4", len(msgs))
	}
}

func TestChatValidation(t *testing.T) {
	srv := newTestServer(t, nil)

	resp, _ := postJSON(t, srv.URL+"/chat", map[string]string{"message": "   "})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("blank message status = %d, want 400", resp.StatusCode)
	}
}

func TestSessionLifecycle(t *testing.T) {
	srv := newTestServer(t, nil)

	resp, created := postJSON(t, srv.URL+"/session", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	id := created["session_id"].(string)

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/session/"+id, nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", delResp.StatusCode)
	}

	getResp, _ := getJSON(t, srv.URL+"/session/"+id)
	if getResp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", getResp.StatusCode)
	}
}

func TestFabricQueryEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)

	resp, body := postJSON(t, srv.URL+"/api/fabric/query", map[string]string{"question": "row count?"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if answer, _ := body["answer"].(string); !strings.HasPrefix(answer, "echo: ") {
		t.Errorf("answer = %q", answer)
	}
}

func TestMultiAgentAnalyzePlannerPipeline(t *testing.T) {
	llm := &scriptedLLM{
		planReply: "```json\n" + `{"ok": true, "question": "q", "query_type": "aggregate",
			"filters": {"weeks": [], "brands": ["Verizon"], "conditions": []},
			"computations": ["sum(mentions)"], "projections": ["week", "mentions"], "notes": ""}` + "\n```",
		narrative: "Verizon drew 270 mentions across both weeks.",
	}
	srv := newTestServer(t, llm)

	resp, body := postJSON(t, srv.URL+"/api/multi-agent/analyze", map[string]string{
		"question": "total Verizon mentions?",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, body)
	}
	if body["answer"] != "Verizon drew 270 mentions across both weeks." {
		t.Errorf("answer = %v", body["answer"])
	}
	result, _ := body["result"].(map[string]any)
	derived, _ := result["derived"].(map[string]any)
	if derived["sum(mentions)"] != float64(270) {
		t.Errorf("sum = %v, want 270", derived["sum(mentions)"])
	}
}

func TestMultiAgentAnalyzeRefusedPlan(t *testing.T) {
	llm := &scriptedLLM{planReply: `{"ok": false, "notes": "not a table question"}`}
	srv := newTestServer(t, llm)

	resp, _ := postJSON(t, srv.URL+"/api/multi-agent/analyze", map[string]string{
		"question": "what is the weather?",
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", resp.StatusCode)
	}
}

func TestCompetitorEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)

	resp, body := getJSON(t, srv.URL+"/api/multi-agent/competitor/vzw")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["brand"] != "Verizon" {
		t.Errorf("brand = %v", body["brand"])
	}
	if body["mentions"] != float64(270) {
		t.Errorf("mentions = %v, want 270", body["mentions"])
	}

	resp, _ = getJSON(t, srv.URL+"/api/multi-agent/competitor/acme-telco")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown brand status = %d, want 404", resp.StatusCode)
	}
}

func TestTranscriptsJobAndStatus(t *testing.T) {
	srv := newTestServer(t, nil)

	resp, body := postJSON(t, srv.URL+"/api/multi-agent/transcripts", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["status"] != "processing" {
		t.Errorf("status field = %v", body["status"])
	}
	id := body["job_id"].(string)

	var run map[string]any
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		statusResp, decoded := getJSON(t, srv.URL+"/api/job/"+id+"/status")
		if statusResp.StatusCode != http.StatusOK {
			t.Fatalf("job status code = %d", statusResp.StatusCode)
		}
		if decoded["status"] != "processing" {
			run = decoded
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if run == nil {
		t.Fatal("job never finished")
	}
	if run["status"] != "succeeded" {
		t.Fatalf("job status = %v, error = %v", run["status"], run["error"])
	}
	result, _ := run["result"].(map[string]any)
	if result["rows_processed"] != float64(3) {
		t.Errorf("rows_processed = %v, want 3", result["rows_processed"])
	}
}

func TestJobsListDisabledWithoutArchive(t *testing.T) {
	srv := newTestServer(t, nil)
	resp, _ := getJSON(t, srv.URL+"/api/jobs")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestJobsListFromArchive(t *testing.T) {
	cfg := testConfig(t)
	archive, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { archive.Close() })

	data := echoAgent{}
	orch := orchestrator.New(data, nil, nil,
		&sources.TranscriptFetcher{Dir: cfg.TranscriptDir},
		&sources.WebFetcher{}, &sources.KnowledgeFetcher{})
	resultCache := cache.New(cfg.CacheTTL)
	h := NewHandler(Deps{
		Config:   cfg,
		Sessions: session.NewMemoryStore(10, 10),
		Orch:     orch,
		Data:     data,
		Runner:   jobs.NewRunner(context.Background(), resultCache, archive, time.Minute),
		Results:  resultCache,
		Archive:  archive,
	})
	r := chi.NewRouter()
	h.Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	_, submitted := postJSON(t, srv.URL+"/api/multi-agent/transcripts", nil)
	id := submitted["job_id"].(string)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_, decoded := getJSON(t, srv.URL+"/api/job/"+id+"/status")
		if decoded["status"] != "processing" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp, body := getJSON(t, srv.URL+"/api/jobs?kind=transcripts")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["count"] != float64(1) {
		t.Errorf("count = %v, want 1", body["count"])
	}
}

func TestJobStatusUnknown(t *testing.T) {
	srv := newTestServer(t, nil)
	resp, _ := getJSON(t, srv.URL+"/api/job/nope/status")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)
	resp, body := getJSON(t, srv.URL+"/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["status"] != "healthy" {
		t.Errorf("body = %v", body)
	}
	if body["mock_mode"] != true {
		t.Errorf("mock_mode = %v, want true with no backends configured", body["mock_mode"])
	}
}

func TestRootListsEndpoints(t *testing.T) {
	srv := newTestServer(t, nil)
	resp, body := getJSON(t, srv.URL+"/")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	endpoints := fmt.Sprint(body["endpoints"])
	if !strings.Contains(endpoints, "POST /chat") {
		t.Errorf("endpoints = %v", endpoints)
	}
}
