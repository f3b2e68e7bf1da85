// Package orchestrator composes evidence from the configured sources and
// routes questions to the agent backends.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/telcoinsights/fabric-gateway/internal/domain"
	"github.com/telcoinsights/fabric-gateway/internal/foundry"
	"github.com/telcoinsights/fabric-gateway/internal/intent"
	"github.com/telcoinsights/fabric-gateway/internal/sources"
)

// maxContextChars bounds the evidence context shipped to the agents.
const maxContextChars = 4000

const truncationNotice = "\n\n...(truncated)"

// historyTail is how many recent messages are replayed into the prompt.
const historyTail = 6

// NoAnswer is returned when neither backend produced a result.
const NoAnswer = "No answer available. AI Foundry did not provide a result and Fabric Data Agent was skipped."

// DataAgent answers natural-language questions against governed data.
// Ask never fails; errors come back as readable text.
type DataAgent interface {
	Ask(ctx context.Context, prompt string) string
}

// ReasoningAgent runs the project's named agents and the reasoning model.
type ReasoningAgent interface {
	Available() bool
	RunTableReader(ctx context.Context, prompt string) (string, error)
	RunWebSearch(ctx context.Context, prompt string) (string, error)
	ReasoningAnalysis(ctx context.Context, question, evidence string) (string, error)
}

// ChatReply is the outcome of one chat turn.
type ChatReply struct {
	Reply   string   `json:"reply"`
	Sources []string `json:"sources"`
}

// AnalysisResult is the outcome of one multi-agent analysis.
type AnalysisResult struct {
	Answer        string   `json:"answer"`
	TableFindings string   `json:"table_findings,omitempty"`
	WebFindings   string   `json:"web_findings,omitempty"`
	UsedWebSearch bool     `json:"used_web_search"`
	Sources       []string `json:"sources"`
}

// Orchestrator wires the detector, source fetchers, and agent backends.
type Orchestrator struct {
	data        DataAgent
	reasoning   ReasoningAgent // may be nil
	detector    *intent.Detector
	transcripts *sources.TranscriptFetcher
	web         *sources.WebFetcher
	knowledge   *sources.KnowledgeFetcher
}

// New builds an Orchestrator. reasoning may be nil when no project
// endpoint is configured.
func New(data DataAgent, reasoning ReasoningAgent, detector *intent.Detector,
	transcripts *sources.TranscriptFetcher, web *sources.WebFetcher, knowledge *sources.KnowledgeFetcher) *Orchestrator {
	if detector == nil {
		detector = intent.NewDetector(nil, nil)
	}
	return &Orchestrator{
		data:        data,
		reasoning:   reasoning,
		detector:    detector,
		transcripts: transcripts,
		web:         web,
		knowledge:   knowledge,
	}
}

// Chat answers one conversational turn: detect the relevant sources,
// gather their evidence, and ship the composed prompt to the data agent.
// Questions naming a tracked competitor or promotion go to the multi-agent
// path first, with the data agent as fallback.
func (o *Orchestrator) Chat(ctx context.Context, query string, history []domain.Message) *ChatReply {
	if o.reasoning != nil && o.reasoning.Available() && foundry.MentionsCompetitor(query) {
		res := o.Analyze(ctx, query, true)
		if res.Answer != "" && res.Answer != NoAnswer {
			slog.Info("chat turn answered by multi-agent path", "sources", res.Sources)
			return &ChatReply{Reply: res.Answer, Sources: res.Sources}
		}
		slog.Info("multi-agent path had no answer, falling back to data agent")
	}

	cats := o.detector.DetectSources(ctx, query)

	var blocks []string
	var used []string
	for _, cat := range cats {
		switch cat {
		case intent.Transcript:
			if o.transcripts != nil {
				blocks = append(blocks, "## Transcript Excerpts\n"+o.transcripts.Snippet(query, 10))
				used = append(used, string(cat))
			}
		case intent.Web:
			blocks = append(blocks, "## Web Search Findings\n"+o.web.Fetch(ctx, query))
			used = append(used, string(cat))
		case intent.Knowledge:
			blocks = append(blocks, "## Knowledge Base\n"+o.knowledge.Fetch(ctx, query))
			used = append(used, string(cat))
		}
	}

	if tail := historyBlock(history); tail != "" {
		blocks = append(blocks, tail)
	}

	evidence := capContext(strings.Join(blocks, "\n\n"))
	prompt := query
	if evidence != "" {
		prompt = evidence + "\n\nUser question: " + query
	}

	slog.Info("chat turn routed", "sources", used, "context_len", len(evidence))
	return &ChatReply{
		Reply:   o.data.Ask(ctx, prompt),
		Sources: used,
	}
}

// Analyze runs the two-backend flow: the project's table reader first,
// falling back to the data agent, plus a grounded web search when the
// question asks for context the table cannot hold. The reasoning model
// synthesizes the final answer only when table findings exist.
func (o *Orchestrator) Analyze(ctx context.Context, question string, skipDataAgent bool) *AnalysisResult {
	res := &AnalysisResult{}

	if o.reasoning != nil && o.reasoning.Available() {
		findings, err := o.reasoning.RunTableReader(ctx, tableReaderPrompt(question, o.transcripts))
		if err != nil {
			slog.Warn("table reader failed", "error", err)
		} else {
			res.TableFindings = findings
			res.Sources = append(res.Sources, "table")
		}
	}

	if res.TableFindings == "" {
		if skipDataAgent {
			res.Answer = NoAnswer
			return res
		}
		res.TableFindings = o.data.Ask(ctx, question)
		res.Sources = append(res.Sources, "fabric")
	}

	if o.reasoning != nil && o.reasoning.Available() && foundry.NeedsWebSearch(question) {
		prompt := foundry.BuildSearchContext(question) + "\nQuestion: " + question
		findings, err := o.reasoning.RunWebSearch(ctx, prompt)
		if err != nil {
			slog.Warn("web search failed", "error", err)
			res.WebFindings = sources.WebUnavailable
		} else {
			res.WebFindings = findings
			res.Sources = append(res.Sources, "web")
		}
		res.UsedWebSearch = true
	}

	if o.reasoning != nil && o.reasoning.Available() && res.TableFindings != "" {
		evidence := capContext(evidenceBlocks(res))
		answer, err := o.reasoning.ReasoningAnalysis(ctx, question, evidence)
		if err != nil {
			slog.Warn("reasoning synthesis failed, returning table findings", "error", err)
			res.Answer = res.TableFindings
		} else {
			res.Answer = answer
		}
		return res
	}

	res.Answer = res.TableFindings
	return res
}

func evidenceBlocks(res *AnalysisResult) string {
	var blocks []string
	if res.TableFindings != "" {
		blocks = append(blocks, "## Table Findings\n"+res.TableFindings)
	}
	if res.WebFindings != "" {
		blocks = append(blocks, "## Web Search Findings\n"+res.WebFindings)
	}
	return strings.Join(blocks, "\n\n")
}

func tableReaderPrompt(question string, transcripts *sources.TranscriptFetcher) string {
	if transcripts == nil {
		return question
	}
	snippet := transcripts.Snippet(question, 10)
	return fmt.Sprintf("Rows:\n%s\n\nQuestion: %s", snippet, question)
}

func historyBlock(history []domain.Message) string {
	if len(history) == 0 {
		return ""
	}
	if len(history) > historyTail {
		history = history[len(history)-historyTail:]
	}
	var b strings.Builder
	b.WriteString("## Conversation So Far\n")
	for _, msg := range history {
		b.WriteString(msg.Role + ": " + msg.Text + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// capContext bounds the evidence context and marks the cut.
func capContext(s string) string {
	if len(s) <= maxContextChars {
		return s
	}
	return s[:maxContextChars] + truncationNotice
}
