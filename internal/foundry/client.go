// Package foundry runs named AI Foundry project agents and direct model
// completions for reasoning and planning.
package foundry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/telcoinsights/fabric-gateway/internal/agentapi"
	"github.com/telcoinsights/fabric-gateway/internal/azauth"
	"github.com/telcoinsights/fabric-gateway/internal/metrics"
)

// apiVersion is the Foundry agents data-plane API version.
const apiVersion = "2025-05-01"

// Named agents owned by this service. Created once and reused across
// restarts via the id file.
const (
	TableReaderAgent = "telecom-table-reader-agent"
	WebSearchAgent   = "telecom-web-search-agent"
)

// Run budgets. Table reads are bounded tighter than grounded web search.
const (
	tableReaderBudget = 30 * time.Second
	webSearchBudget   = 60 * time.Second
)

const tableReaderInstructions = "You are a telecom data analyst. You are given rows from a " +
	"competitor-mentions table and a question. Answer only from the rows provided. " +
	"Report exact figures and week labels. If the rows do not contain the answer, say so."

const webSearchInstructions = "You are a telecom market researcher. Use web search to find " +
	"current, sourced information about US wireless carriers, their promotions, and market " +
	"events. Cite the publication and date for every claim."

// Options configures a Service.
type Options struct {
	AgentEndpoint       string // Foundry project endpoint for agent runs
	ReasoningEndpoint   string // model endpoint for direct completions
	ReasoningDeployment string
	ModelDeployment     string // deployment named agents run on
	BingConnectionName  string
	IDFile              string // where created agent ids are persisted
	Tokens              azauth.Provider
	HTTPClient          *http.Client
}

// Service runs the project's named agents and direct completions.
type Service struct {
	agents    *agentapi.Client
	reasoning *agentapi.Client
	opts      Options

	mu  sync.Mutex
	ids map[string]string // agent name -> assistant id
}

// New builds a Service. Returns nil when the endpoints are not configured;
// callers check Available before use.
func New(opts Options) *Service {
	if opts.AgentEndpoint == "" && opts.ReasoningEndpoint == "" {
		return nil
	}
	httpc := opts.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: 90 * time.Second}
	}
	s := &Service{opts: opts, ids: make(map[string]string)}
	if opts.AgentEndpoint != "" {
		s.agents = agentapi.New(opts.AgentEndpoint, apiVersion, opts.Tokens, httpc)
	}
	if opts.ReasoningEndpoint != "" {
		s.reasoning = agentapi.New(opts.ReasoningEndpoint, "", opts.Tokens, httpc)
	}
	s.loadIDs()
	return s
}

// Available reports whether agent runs can be attempted. A nil Service is
// never available, so callers can hold a nil *Service safely.
func (s *Service) Available() bool {
	return s != nil && s.agents != nil
}

// ReasoningAvailable reports whether direct completions can be attempted.
func (s *Service) ReasoningAvailable() bool {
	return s != nil && s.reasoning != nil
}

// RunTableReader answers a question about pre-fetched table rows. The rows
// travel inside the prompt; the agent has no data access of its own.
func (s *Service) RunTableReader(ctx context.Context, prompt string) (string, error) {
	return s.runAgent(ctx, TableReaderAgent, tableReaderInstructions, nil, prompt, tableReaderBudget)
}

// RunWebSearch answers a question using the Bing-grounded search agent.
func (s *Service) RunWebSearch(ctx context.Context, prompt string) (string, error) {
	var tools []agentapi.Tool
	if s.opts.BingConnectionName != "" {
		tools = []agentapi.Tool{{
			"type": "bing_grounding",
			"bing_grounding": map[string]any{
				"connections": []map[string]string{{"connection_id": s.opts.BingConnectionName}},
			},
		}}
	}
	return s.runAgent(ctx, WebSearchAgent, webSearchInstructions, tools, prompt, webSearchBudget)
}

func (s *Service) runAgent(ctx context.Context, name, instructions string, tools []agentapi.Tool, prompt string, budget time.Duration) (string, error) {
	if !s.Available() {
		return "", errors.New("agent endpoint not configured")
	}

	agentID, err := s.agentID(ctx, name, instructions, tools)
	if err != nil {
		return "", err
	}

	threadID, err := s.agents.CreateThread(ctx)
	if err != nil {
		return "", err
	}
	defer func() {
		if derr := s.agents.DeleteThread(context.WithoutCancel(ctx), threadID); derr != nil {
			slog.Warn("agent thread cleanup failed", "agent", name, "thread_id", threadID, "error", derr)
		}
	}()

	if err := s.agents.CreateMessage(ctx, threadID, "user", prompt); err != nil {
		return "", err
	}
	run, err := s.agents.CreateRun(ctx, threadID, agentID)
	if err != nil {
		return "", err
	}
	run, err = s.agents.WaitForRun(ctx, threadID, run, budget)
	if err != nil {
		if errors.Is(err, agentapi.ErrTimeout) {
			metrics.CountTimeout("foundry")
		}
		return "", err
	}

	answer, err := s.agents.LastAssistantMessage(ctx, threadID)
	if err != nil {
		return "", err
	}
	if answer == "" {
		return "", fmt.Errorf("agent %s returned no answer", name)
	}
	return answer, nil
}

// agentID resolves the assistant id for a named agent, creating it when it
// does not exist yet or the persisted id has gone stale.
func (s *Service) agentID(ctx context.Context, name, instructions string, tools []agentapi.Tool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.ids[name]; ok {
		if err := s.agents.GetAssistant(ctx, id); err == nil {
			return id, nil
		}
		slog.Warn("persisted agent id stale, recreating", "agent", name)
		delete(s.ids, name)
	}

	id, err := s.agents.CreateAssistant(ctx, s.opts.ModelDeployment, name, instructions, tools)
	if err != nil {
		return "", fmt.Errorf("create agent %s: %w", name, err)
	}
	s.ids[name] = id
	s.saveIDs()
	slog.Info("created project agent", "agent", name, "id", id)
	return id, nil
}

func (s *Service) loadIDs() {
	if s.opts.IDFile == "" {
		return
	}
	data, err := os.ReadFile(s.opts.IDFile)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("agent id file unreadable", "path", s.opts.IDFile, "error", err)
		}
		return
	}
	if err := json.Unmarshal(data, &s.ids); err != nil {
		slog.Warn("agent id file corrupt, ignoring", "path", s.opts.IDFile, "error", err)
		s.ids = make(map[string]string)
	}
}

// saveIDs persists the agent id map. Caller must hold s.mu.
func (s *Service) saveIDs() {
	if s.opts.IDFile == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.opts.IDFile), 0o755); err != nil {
		slog.Warn("agent id dir create failed", "error", err)
		return
	}
	data, err := json.MarshalIndent(s.ids, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(s.opts.IDFile, data, 0o644); err != nil {
		slog.Warn("agent id file write failed", "path", s.opts.IDFile, "error", err)
	}
}

// ReasoningAnalysis synthesizes a final answer from the question and the
// gathered evidence using the reasoning deployment at low temperature.
func (s *Service) ReasoningAnalysis(ctx context.Context, question, evidence string) (string, error) {
	system := "You are a telecom competitive-intelligence analyst. Synthesize a direct, " +
		"factual answer to the user's question from the evidence sections provided. " +
		"Quote exact figures where the evidence has them and name the section each fact came from. " +
		"If the evidence is insufficient, say what is missing."
	user := fmt.Sprintf("Question: %s\n\nEvidence:\n%s", question, evidence)
	return s.Chat(ctx, s.opts.ReasoningDeployment, system, user, 0.1)
}

// Chat runs one direct completion against the reasoning endpoint.
func (s *Service) Chat(ctx context.Context, deployment, system, user string, temperature float64) (string, error) {
	if !s.ReasoningAvailable() {
		return "", errors.New("reasoning endpoint not configured")
	}
	msgs := []agentapi.ChatMessage{}
	if system != "" {
		msgs = append(msgs, agentapi.ChatMessage{Role: "system", Content: system})
	}
	msgs = append(msgs, agentapi.ChatMessage{Role: "user", Content: user})
	return s.reasoning.ChatCompletion(ctx, deployment, msgs, temperature)
}
