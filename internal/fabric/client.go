// Package fabric queries a Microsoft Fabric Data Agent over its
// OpenAI-compatible assistants endpoint.
package fabric

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/telcoinsights/fabric-gateway/internal/agentapi"
	"github.com/telcoinsights/fabric-gateway/internal/azauth"
	"github.com/telcoinsights/fabric-gateway/internal/metrics"
)

// apiVersion is the preview assistants API version Fabric publishes.
const apiVersion = "2024-05-01-preview"

// askBudget bounds one query end to end, including run polling.
const askBudget = 60 * time.Second

// errorPrefix is the user-facing prefix for failed queries. Ask never
// returns an error; failures surface as text so the chat keeps flowing.
const errorPrefix = "I encountered an error while processing your request: "

// Client queries one Fabric Data Agent.
type Client struct {
	api       *agentapi.Client
	agentName string

	mu          sync.Mutex
	assistantID string
}

// New builds a Client for the published data agent URL. The URL ends in
// /aiskills/<name>/openai or a similar OpenAI-compatible base.
func New(dataAgentURL, agentName string, tokens azauth.Provider, httpc *http.Client) *Client {
	if httpc == nil {
		httpc = &http.Client{Timeout: 90 * time.Second}
	}
	return &Client{
		api:       agentapi.New(dataAgentURL, apiVersion, tokens, httpc),
		agentName: agentName,
	}
}

// API exposes the underlying protocol client for tuning in tests.
func (c *Client) API() *agentapi.Client { return c.api }

// Ask runs one natural-language query against the data agent. It never
// returns an error; failures are reported as a readable reply so callers
// can show them directly in the conversation. Protocol-level rejections
// are retried once against the plain chat completions endpoint.
func (c *Client) Ask(ctx context.Context, prompt string) string {
	answer, err := c.Call(ctx, prompt)
	if err == nil {
		return answer
	}
	if errors.Is(err, agentapi.ErrTimeout) {
		metrics.CountTimeout("fabric")
	}
	var perr *agentapi.ProtocolError
	if errors.As(err, &perr) {
		slog.Warn("assistants protocol rejected the query, retrying direct",
			"status", perr.Status)
		if direct, derr := c.AskDirect(ctx, prompt); derr == nil {
			return direct
		}
	}
	slog.Error("fabric query failed", "error", err)
	return errorPrefix + err.Error()
}

// Call runs one query and returns the raw answer or a typed error.
func (c *Client) Call(ctx context.Context, prompt string) (string, error) {
	assistantID, err := c.assistant(ctx)
	if err != nil {
		return "", err
	}

	threadID, err := c.api.CreateThread(ctx)
	if err != nil {
		return "", err
	}
	defer func() {
		// Thread cleanup is best-effort; the backend expires them anyway.
		if derr := c.api.DeleteThread(context.WithoutCancel(ctx), threadID); derr != nil {
			slog.Warn("fabric thread cleanup failed", "thread_id", threadID, "error", derr)
		}
	}()

	if err := c.api.CreateMessage(ctx, threadID, "user", prompt); err != nil {
		return "", err
	}

	run, err := c.api.CreateRun(ctx, threadID, assistantID)
	if err != nil {
		return "", err
	}
	run, err = c.api.WaitForRun(ctx, threadID, run, askBudget)
	if err != nil {
		return "", err
	}

	answer, err := c.api.LastAssistantMessage(ctx, threadID)
	if err != nil {
		return "", err
	}
	if answer == "" {
		return "", errors.New("data agent returned no answer")
	}
	return answer, nil
}

// assistant returns the cached assistant id, creating the assistant on
// first use. The model field carries the data agent name; Fabric routes
// the run to the agent named there.
func (c *Client) assistant(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.assistantID != "" {
		if err := c.api.GetAssistant(ctx, c.assistantID); err == nil {
			return c.assistantID, nil
		}
		slog.Warn("cached fabric assistant gone, recreating", "assistant_id", c.assistantID)
		c.assistantID = ""
	}

	id, err := c.api.CreateAssistant(ctx, c.agentName, "", "", nil)
	if err != nil {
		return "", err
	}
	c.assistantID = id
	return id, nil
}

// AskDirect bypasses the assistants protocol and posts the prompt straight
// to the chat completions endpoint derived from the agent URL. Used when
// the assistants surface is unavailable for a workspace.
func (c *Client) AskDirect(ctx context.Context, prompt string) (string, error) {
	answer, err := c.api.ChatCompletion(ctx, c.agentName, []agentapi.ChatMessage{
		{Role: "user", Content: prompt},
	}, 0)
	if err != nil {
		return "", fmt.Errorf("direct query: %w", err)
	}
	return answer, nil
}

// Mock is a stand-in data agent used when no Fabric backend is configured.
// It answers every prompt with a fixed notice so the chat surface stays
// usable in local development.
type Mock struct{}

// Ask implements the same contract as Client.Ask.
func (Mock) Ask(_ context.Context, prompt string) string {
	slog.Info("mock data agent answering", "prompt_len", len(prompt))
	return "This is a mock response. No Fabric Data Agent is configured; " +
		"set TENANT_ID and DATA_AGENT_URL to query live data. You asked: " + prompt
}
