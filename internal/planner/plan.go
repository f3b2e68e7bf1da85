// Package planner turns analysis questions into structured query plans and
// executes them against the competitor-mentions table.
package planner

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrPlanRefused means the model set ok=false: the question is out of scope
// for the mentions table.
var ErrPlanRefused = errors.New("planner refused the question")

// Filters narrows the row set a plan operates on.
type Filters struct {
	Weeks      []string `json:"weeks"`
	Brands     []string `json:"brands"`
	Conditions []string `json:"conditions"`
}

// Plan is the structured query the planning model emits.
type Plan struct {
	OK           bool     `json:"ok"`
	Question     string   `json:"question"`
	QueryType    string   `json:"query_type"`
	Filters      Filters  `json:"filters"`
	Computations []string `json:"computations"`
	Projections  []string `json:"projections"`
	Notes        string   `json:"notes"`
}

// PlannerPrompt is the system prompt for the planning deployment. The model
// must answer with the plan JSON only.
const PlannerPrompt = `You translate questions about a weekly competitor-mentions table into a JSON query plan.
The table columns are: week, brand, mentions, switches_to, switches_from, promotions.
Respond with JSON only, using exactly these keys:
{"ok": bool, "question": string, "query_type": string,
 "filters": {"weeks": [string], "brands": [string], "conditions": [string]},
 "computations": [string], "projections": [string], "notes": string}
Conditions use the form "<field> <op> <number>", e.g. "mentions > 100".
Computations use the form "<fn>(<field>)" with fn one of sum, avg, diff, rank.
Set ok=false when the question cannot be answered from the table.`

// ParsePlan extracts a Plan from a model reply, tolerating markdown code
// fences around the JSON.
func ParsePlan(raw string) (*Plan, error) {
	cleaned := stripFences(raw)
	if cleaned == "" {
		return nil, errors.New("empty plan reply")
	}

	var plan Plan
	if err := json.Unmarshal([]byte(cleaned), &plan); err != nil {
		return nil, fmt.Errorf("parse plan JSON: %w", err)
	}
	if !plan.OK {
		if plan.Notes != "" {
			return nil, fmt.Errorf("%w: %s", ErrPlanRefused, plan.Notes)
		}
		return nil, ErrPlanRefused
	}
	return &plan, nil
}

// stripFences removes a surrounding markdown code fence, with or without a
// language tag, and returns the trimmed payload.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		// Drop the language tag line, e.g. "json".
		first := strings.TrimSpace(s[:idx])
		if len(first) <= 10 && !strings.ContainsAny(first, "{}[]") {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
