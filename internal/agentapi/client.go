// Package agentapi implements the assistants-style REST protocol spoken by
// both agent backends: assistant, thread, and run resources owned by the
// remote service, plus the OpenAI-compatible chat completions fallback.
package agentapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/telcoinsights/fabric-gateway/internal/azauth"
)

// Run statuses defined by the remote backend.
const (
	StatusQueued     = "queued"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

var (
	// ErrTimeout means the polling budget elapsed before the run left the
	// queued/in_progress states. The remote run is not cancelled.
	ErrTimeout = errors.New("run polling timed out")

	// ErrRunFailed means the run reached a terminal state other than
	// completed.
	ErrRunFailed = errors.New("run failed")
)

// ProtocolError is an unexpected HTTP status from the agent backend.
type ProtocolError struct {
	Status int
	Body   string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("agent backend returned status %d: %s", e.Status, e.Body)
}

// Client talks the assistants protocol against one base URL.
type Client struct {
	base         string
	apiVersion   string // added as an api-version query parameter when set
	httpc        *http.Client
	tokens       azauth.Provider
	pollInterval time.Duration
}

// New creates a Client. pollInterval defaults to 2 seconds, the interval
// the backends document for run polling.
func New(base, apiVersion string, tokens azauth.Provider, httpc *http.Client) *Client {
	if httpc == nil {
		httpc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		base:         strings.TrimRight(base, "/"),
		apiVersion:   apiVersion,
		httpc:        httpc,
		tokens:       tokens,
		pollInterval: 2 * time.Second,
	}
}

// SetPollInterval overrides the run polling interval (tests).
func (c *Client) SetPollInterval(d time.Duration) {
	if d > 0 {
		c.pollInterval = d
	}
}

// Base returns the configured base URL.
func (c *Client) Base() string { return c.base }

// Tool is a tool definition attached to an assistant, e.g. Bing grounding.
type Tool map[string]any

// Run is the state of one execution of an assistant against a thread.
type Run struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type resource struct {
	ID string `json:"id"`
}

// ChatMessage is one turn of a chat completions request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CreateAssistant creates an assistant resource and returns its id.
func (c *Client) CreateAssistant(ctx context.Context, model, name, instructions string, tools []Tool) (string, error) {
	body := map[string]any{"model": model}
	if name != "" {
		body["name"] = name
	}
	if instructions != "" {
		body["instructions"] = instructions
	}
	if len(tools) > 0 {
		body["tools"] = tools
	}
	var out resource
	if err := c.do(ctx, http.MethodPost, c.base+"/assistants", body, &out); err != nil {
		return "", fmt.Errorf("create assistant: %w", err)
	}
	return out.ID, nil
}

// GetAssistant verifies an assistant id still exists on the backend.
func (c *Client) GetAssistant(ctx context.Context, id string) error {
	var out resource
	if err := c.do(ctx, http.MethodGet, c.base+"/assistants/"+id, nil, &out); err != nil {
		return fmt.Errorf("get assistant %s: %w", id, err)
	}
	return nil
}

// CreateThread creates a thread and returns its id.
func (c *Client) CreateThread(ctx context.Context) (string, error) {
	var out resource
	if err := c.do(ctx, http.MethodPost, c.base+"/threads", map[string]any{}, &out); err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}
	return out.ID, nil
}

// DeleteThread removes a thread. Callers treat failures as best-effort
// cleanup and only log them.
func (c *Client) DeleteThread(ctx context.Context, threadID string) error {
	if err := c.do(ctx, http.MethodDelete, c.base+"/threads/"+threadID, nil, nil); err != nil {
		return fmt.Errorf("delete thread %s: %w", threadID, err)
	}
	return nil
}

// CreateMessage posts a message to a thread.
func (c *Client) CreateMessage(ctx context.Context, threadID, role, content string) error {
	body := map[string]any{"role": role, "content": content}
	if err := c.do(ctx, http.MethodPost, c.base+"/threads/"+threadID+"/messages", body, nil); err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

// CreateRun starts a run of the assistant against the thread.
func (c *Client) CreateRun(ctx context.Context, threadID, assistantID string) (Run, error) {
	body := map[string]any{"assistant_id": assistantID}
	var out Run
	if err := c.do(ctx, http.MethodPost, c.base+"/threads/"+threadID+"/runs", body, &out); err != nil {
		return Run{}, fmt.Errorf("create run: %w", err)
	}
	return out, nil
}

// GetRun fetches the current run state.
func (c *Client) GetRun(ctx context.Context, threadID, runID string) (Run, error) {
	var out Run
	if err := c.do(ctx, http.MethodGet, c.base+"/threads/"+threadID+"/runs/"+runID, nil, &out); err != nil {
		return Run{}, fmt.Errorf("get run: %w", err)
	}
	return out, nil
}

// WaitForRun polls the run until it leaves queued/in_progress or budget
// elapses. Returns ErrTimeout on budget expiry and ErrRunFailed when the
// terminal status is not completed.
func (c *Client) WaitForRun(ctx context.Context, threadID string, run Run, budget time.Duration) (Run, error) {
	deadline := time.Now().Add(budget)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for run.Status == StatusQueued || run.Status == StatusInProgress {
		if time.Now().After(deadline) {
			return run, fmt.Errorf("%w after %s (run %s status %s)", ErrTimeout, budget, run.ID, run.Status)
		}
		select {
		case <-ctx.Done():
			return run, ctx.Err()
		case <-ticker.C:
		}
		next, err := c.GetRun(ctx, threadID, run.ID)
		if err != nil {
			return run, err
		}
		run = next
	}

	if run.Status != StatusCompleted {
		return run, fmt.Errorf("%w: run %s ended with status %s", ErrRunFailed, run.ID, run.Status)
	}
	return run, nil
}

type messageList struct {
	Data []struct {
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text struct {
				Value string `json:"value"`
			} `json:"text"`
		} `json:"content"`
	} `json:"data"`
}

// LastAssistantMessage returns the text of the most recent agent-authored
// message on the thread, or empty when none exists.
func (c *Client) LastAssistantMessage(ctx context.Context, threadID string) (string, error) {
	var out messageList
	if err := c.do(ctx, http.MethodGet, c.base+"/threads/"+threadID+"/messages?order=asc", nil, &out); err != nil {
		return "", fmt.Errorf("list messages: %w", err)
	}

	var last string
	for _, msg := range out.Data {
		if msg.Role != "assistant" && msg.Role != "agent" {
			continue
		}
		var parts []string
		for _, content := range msg.Content {
			if content.Text.Value != "" {
				parts = append(parts, content.Text.Value)
			}
		}
		if len(parts) > 0 {
			last = strings.Join(parts, "\n")
		}
	}
	return last, nil
}

// CompletionURL derives a chat/completions URL from an agent base URL by
// suffix rewriting, mirroring the published-URL shapes of the backends.
func CompletionURL(base string) string {
	base = strings.TrimRight(base, "/")
	switch {
	case strings.HasSuffix(base, "/chat/completions"):
		return base
	case strings.HasSuffix(base, "/openai"):
		return base + "/chat/completions"
	default:
		return base + "/openai/chat/completions"
	}
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// ChatCompletion posts a direct chat completions request against the
// base-derived URL and returns the first choice's content.
func (c *Client) ChatCompletion(ctx context.Context, model string, messages []ChatMessage, temperature float64) (string, error) {
	body := map[string]any{
		"model":       model,
		"messages":    messages,
		"temperature": temperature,
	}
	var out completionResponse
	if err := c.do(ctx, http.MethodPost, CompletionURL(c.base), body, &out); err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("chat completion: empty choices")
	}
	return out.Choices[0].Message.Content, nil
}

func (c *Client) do(ctx context.Context, method, url string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("resolve token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	// Correlation id for backend-side tracing.
	req.Header.Set("ActivityId", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiVersion != "" {
		q := req.URL.Query()
		q.Set("api-version", c.apiVersion)
		req.URL.RawQuery = q.Encode()
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &ProtocolError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
