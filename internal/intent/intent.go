// Package intent maps a user question to the data sources that should
// answer it.
package intent

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
)

// Category identifies one data source family.
type Category string

const (
	Transcript Category = "transcript"
	Web        Category = "web"
	Knowledge  Category = "knowledgebase"
)

// Rule maps keywords to a category. A query matches when it contains any
// keyword as a substring, case-insensitive.
type Rule struct {
	Category Category
	Keywords []string
}

// DefaultRules returns the built-in keyword table.
func DefaultRules() []Rule {
	return []Rule{
		{Transcript, []string{"transcript", "conversation", "meeting", "call", "utterance", "speaker", "dialog", "dialogue"}},
		{Web, []string{"web", "google", "bing", "search", "news", "article"}},
		{Knowledge, []string{"kb", "knowledge", "wiki", "documentation", "docs"}},
	}
}

// Classifier decides source categories for a query when keywords are not
// enough. Implementations return category names as strings.
type Classifier interface {
	Classify(ctx context.Context, query string) (string, error)
}

// Detector routes queries to categories: keyword rules first, then an
// optional model-backed classifier, then a transcript default.
type Detector struct {
	rules []Rule
	llm   Classifier // may be nil
}

// NewDetector builds a Detector. A nil llm disables the model fallback.
func NewDetector(rules []Rule, llm Classifier) *Detector {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Detector{rules: rules, llm: llm}
}

// jsonArray pulls the first JSON array out of a model reply, tolerating
// surrounding prose and code fences.
var jsonArray = regexp.MustCompile(`\[[\s\S]*?\]`)

// DetectSources returns the categories a query should be answered from.
// Never returns an empty slice; the fallback is {transcript}.
func (d *Detector) DetectSources(ctx context.Context, query string) []Category {
	q := strings.ToLower(query)

	var matched []Category
	for _, rule := range d.rules {
		for _, kw := range rule.Keywords {
			if strings.Contains(q, kw) {
				matched = append(matched, rule.Category)
				break
			}
		}
	}
	if len(matched) > 0 {
		return matched
	}

	if d.llm != nil {
		if cats := d.classify(ctx, query); len(cats) > 0 {
			return cats
		}
	}
	return []Category{Transcript}
}

// classify asks the model for a JSON array of category names and keeps only
// known categories. Model failures are logged and swallowed; routing must
// not break the chat.
func (d *Detector) classify(ctx context.Context, query string) []Category {
	reply, err := d.llm.Classify(ctx, query)
	if err != nil {
		slog.Warn("source classifier failed, using default", "error", err)
		return nil
	}

	raw := jsonArray.FindString(reply)
	if raw == "" {
		slog.Warn("source classifier returned no JSON array", "reply_len", len(reply))
		return nil
	}

	var names []string
	if err := json.Unmarshal([]byte(raw), &names); err != nil {
		slog.Warn("source classifier array unparseable", "error", err)
		return nil
	}

	allowed := map[Category]bool{Transcript: true, Web: true, Knowledge: true}
	var out []Category
	for _, name := range names {
		c := Category(strings.ToLower(strings.TrimSpace(name)))
		if allowed[c] {
			out = append(out, c)
		}
	}
	return out
}
