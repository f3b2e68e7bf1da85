package sources

import (
	"context"
	"log/slog"
)

// Unavailability placeholders. The orchestrator inserts these verbatim
// into the evidence context so the reasoning step can acknowledge gaps.
const (
	WebUnavailable       = "(web search unavailable)"
	KnowledgeUnavailable = "(knowledge base unavailable)"
)

// Searcher runs a grounded web search. Satisfied by the project's web
// search agent.
type Searcher interface {
	RunWebSearch(ctx context.Context, prompt string) (string, error)
}

// WebFetcher gathers current web evidence for a query.
type WebFetcher struct {
	Runner Searcher // may be nil when no agent backend is configured
}

// Fetch returns search findings, or a placeholder when the agent is absent
// or fails. Never returns an error.
func (f *WebFetcher) Fetch(ctx context.Context, query string) string {
	if f == nil || f.Runner == nil {
		return WebUnavailable
	}
	out, err := f.Runner.RunWebSearch(ctx, query)
	if err != nil {
		slog.Warn("web search source failed", "error", err)
		return WebUnavailable
	}
	return out
}

// Completer runs one direct model completion. Satisfied by the foundry
// service's Chat method.
type Completer interface {
	Chat(ctx context.Context, deployment, system, user string, temperature float64) (string, error)
}

// KnowledgeFetcher answers from the internal knowledge deployment. There is
// no separate KB index; the deployment is grounded on internal docs.
type KnowledgeFetcher struct {
	LLM        Completer
	Deployment string
}

const knowledgeSystem = "Answer from internal telecom documentation knowledge. " +
	"If you do not know, say so plainly instead of guessing."

// Fetch returns knowledge-base evidence, or a placeholder when the
// deployment is absent or fails. Never returns an error.
func (f *KnowledgeFetcher) Fetch(ctx context.Context, query string) string {
	if f == nil || f.LLM == nil {
		return KnowledgeUnavailable
	}
	out, err := f.LLM.Chat(ctx, f.Deployment, knowledgeSystem, query, 0.2)
	if err != nil {
		slog.Warn("knowledge source failed", "error", err)
		return KnowledgeUnavailable
	}
	return out
}
