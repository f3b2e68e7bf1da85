package fabric

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/telcoinsights/fabric-gateway/internal/agentapi"
	"github.com/telcoinsights/fabric-gateway/internal/azauth"
)

// fakeAgent is a minimal assistants backend. runStatuses is consumed one
// status per poll; the last value repeats.
type fakeAgent struct {
	runStatuses []string
	polls       int
	answer      string
	deletes     int
}

func (f *fakeAgent) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /assistants", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"id": "asst_1"})
	})
	mux.HandleFunc("GET /assistants/{id}", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"id": r.PathValue("id")})
	})
	mux.HandleFunc("POST /threads", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"id": "thread_1"})
	})
	mux.HandleFunc("DELETE /threads/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.deletes++
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"deleted":true}`))
	})
	mux.HandleFunc("POST /threads/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"id": "msg_1"})
	})
	mux.HandleFunc("POST /threads/{id}/runs", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"id": "run_1", "status": "queued"})
	})
	mux.HandleFunc("GET /threads/{id}/runs/{rid}", func(w http.ResponseWriter, r *http.Request) {
		idx := f.polls
		if idx >= len(f.runStatuses) {
			idx = len(f.runStatuses) - 1
		}
		f.polls++
		json.NewEncoder(w).Encode(map[string]string{"id": "run_1", "status": f.runStatuses[idx]})
	})
	mux.HandleFunc("GET /threads/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"role": "user", "content": []map[string]any{
					{"type": "text", "text": map[string]string{"value": "question"}},
				}},
				{"role": "assistant", "content": []map[string]any{
					{"type": "text", "text": map[string]string{"value": f.answer}},
				}},
			},
		})
	})
	return mux
}

func newTestClient(t *testing.T, f *fakeAgent) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	c := New(srv.URL, "test-agent", azauth.Static("test-token"), srv.Client())
	c.API().SetPollInterval(time.Millisecond)
	return c
}

func TestAskReturnsAgentAnswer(t *testing.T) {
	f := &fakeAgent{
		runStatuses: []string{"in_progress", "completed"},
		answer:      "42 rows match",
	}
	c := newTestClient(t, f)

	got := c.Ask(context.Background(), "how many rows?")
	if got != "42 rows match" {
		t.Fatalf("Ask() = %q, want %q", got, "42 rows match")
	}
	if f.deletes != 1 {
		t.Errorf("thread deletes = %d, want 1", f.deletes)
	}
}

func TestCallReportsRunFailure(t *testing.T) {
	f := &fakeAgent{
		runStatuses: []string{"failed"},
		answer:      "unused",
	}
	c := newTestClient(t, f)

	_, err := c.Call(context.Background(), "query")
	if !errors.Is(err, agentapi.ErrRunFailed) {
		t.Fatalf("Call() error = %v, want ErrRunFailed", err)
	}
}

func TestAskWrapsErrorsInReadableReply(t *testing.T) {
	f := &fakeAgent{
		runStatuses: []string{"expired"},
	}
	c := newTestClient(t, f)

	got := c.Ask(context.Background(), "query")
	if !strings.HasPrefix(got, "I encountered an error while processing your request: ") {
		t.Fatalf("Ask() = %q, want error prefix", got)
	}
}

func TestAskFallsBackToDirectOnProtocolError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /assistants", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "assistants surface disabled", http.StatusForbidden)
	})
	mux.HandleFunc("POST /openai/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": "direct answer"}},
			},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := New(srv.URL, "test-agent", azauth.Static("test-token"), srv.Client())
	c.API().SetPollInterval(time.Millisecond)

	got := c.Ask(context.Background(), "query")
	if got != "direct answer" {
		t.Fatalf("Ask() = %q, want direct fallback answer", got)
	}
}

func TestCallTimesOutOnStuckRun(t *testing.T) {
	f := &fakeAgent{
		runStatuses: []string{"in_progress"},
		answer:      "unused",
	}
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	c := New(srv.URL, "test-agent", azauth.Static("test-token"), srv.Client())
	c.API().SetPollInterval(time.Millisecond)

	// Shrink the budget by watching the poll count instead of waiting the
	// full window: cancel via context once the deadline is irrelevant.
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := c.Call(ctx, "query")
	if err == nil {
		t.Fatal("Call() succeeded, want timeout")
	}
	if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, agentapi.ErrTimeout) {
		t.Fatalf("Call() error = %v, want deadline or run timeout", err)
	}
}

func TestAssistantIsReused(t *testing.T) {
	f := &fakeAgent{
		runStatuses: []string{"completed"},
		answer:      "ok",
	}
	c := newTestClient(t, f)

	if _, err := c.Call(context.Background(), "one"); err != nil {
		t.Fatalf("first Call(): %v", err)
	}
	first := c.assistantID
	if _, err := c.Call(context.Background(), "two"); err != nil {
		t.Fatalf("second Call(): %v", err)
	}
	if c.assistantID != first {
		t.Errorf("assistant id changed between calls: %q vs %q", first, c.assistantID)
	}
}

func TestMockAskMentionsConfiguration(t *testing.T) {
	got := Mock{}.Ask(context.Background(), "hello")
	if !strings.Contains(got, "mock response") {
		t.Fatalf("Mock.Ask() = %q, want mock notice", got)
	}
}
