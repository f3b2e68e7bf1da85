package foundry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/telcoinsights/fabric-gateway/internal/azauth"
)

type fakeProject struct {
	created int
	answer  string
}

func (f *fakeProject) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /assistants", func(w http.ResponseWriter, r *http.Request) {
		f.created++
		json.NewEncoder(w).Encode(map[string]string{"id": "agent_1"})
	})
	mux.HandleFunc("GET /assistants/{id}", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"id": r.PathValue("id")})
	})
	mux.HandleFunc("POST /threads", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"id": "thread_1"})
	})
	mux.HandleFunc("DELETE /threads/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"deleted":true}`))
	})
	mux.HandleFunc("POST /threads/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"id": "msg_1"})
	})
	mux.HandleFunc("POST /threads/{id}/runs", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"id": "run_1", "status": "completed"})
	})
	mux.HandleFunc("GET /threads/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"role": "assistant", "content": []map[string]any{
					{"type": "text", "text": map[string]string{"value": f.answer}},
				}},
			},
		})
	})
	mux.HandleFunc("POST /openai/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": "reasoned answer"}},
			},
		})
	})
	return mux
}

func newTestService(t *testing.T, f *fakeProject, idFile string) *Service {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	s := New(Options{
		AgentEndpoint:       srv.URL,
		ReasoningEndpoint:   srv.URL,
		ReasoningDeployment: "gpt-4o",
		ModelDeployment:     "gpt-4o",
		IDFile:              idFile,
		Tokens:              azauth.Static("tok"),
		HTTPClient:          srv.Client(),
	})
	s.agents.SetPollInterval(time.Millisecond)
	return s
}

func TestNewNilWhenUnconfigured(t *testing.T) {
	if s := New(Options{}); s != nil {
		t.Fatal("Service built with no endpoints")
	}
	var s *Service
	if s.Available() || s.ReasoningAvailable() {
		t.Error("nil service claims availability")
	}
}

func TestRunTableReader(t *testing.T) {
	f := &fakeProject{answer: "table has 4 rows"}
	s := newTestService(t, f, filepath.Join(t.TempDir(), "ids.json"))

	got, err := s.RunTableReader(context.Background(), "how many rows?")
	if err != nil {
		t.Fatalf("RunTableReader: %v", err)
	}
	if got != "table has 4 rows" {
		t.Errorf("got %q", got)
	}
}

func TestAgentIDPersistedAcrossServices(t *testing.T) {
	idFile := filepath.Join(t.TempDir(), "ids.json")
	f := &fakeProject{answer: "ok"}

	s := newTestService(t, f, idFile)
	if _, err := s.RunTableReader(context.Background(), "q"); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if f.created != 1 {
		t.Fatalf("created = %d agents, want 1", f.created)
	}

	data, err := os.ReadFile(idFile)
	if err != nil {
		t.Fatalf("id file not written: %v", err)
	}
	var ids map[string]string
	if err := json.Unmarshal(data, &ids); err != nil {
		t.Fatalf("id file unparseable: %v", err)
	}
	if ids[TableReaderAgent] != "agent_1" {
		t.Errorf("ids = %v", ids)
	}

	// A fresh service reuses the persisted id instead of creating again.
	s2 := newTestService(t, f, idFile)
	if _, err := s2.RunTableReader(context.Background(), "q"); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if f.created != 1 {
		t.Errorf("created = %d agents after reload, want 1", f.created)
	}
}

func TestReasoningAnalysis(t *testing.T) {
	f := &fakeProject{answer: "unused"}
	s := newTestService(t, f, "")

	got, err := s.ReasoningAnalysis(context.Background(), "why the spike?", "## Table Findings\nrows")
	if err != nil {
		t.Fatalf("ReasoningAnalysis: %v", err)
	}
	if got != "reasoned answer" {
		t.Errorf("got %q", got)
	}
}
