package foundry

import (
	"regexp"
	"strings"
)

// Brands tracked by the mentions table, in display form.
var Brands = []string{"T-Mobile", "Verizon", "AT&T", "Dish Wireless", "US Cellular"}

// webSearchCues are question shapes the table alone cannot answer: causal
// questions, requests for sources, and promotion or market-event context.
var webSearchCues = []string{
	"why", "cause", "reason", "explain",
	"source", "cite", "citation", "link",
	"news", "announce", "launch", "promotion", "promo", "deal", "offer",
	"market", "event", "happened", "context",
}

// weekPattern matches ISO-style week references used in the mentions table,
// e.g. "W07" or "week 2025-W07".
var weekPattern = regexp.MustCompile(`(?i)(week \d{4}-W\d{2}|W\d{2})`)

// promoKeywords name promotion themes worth surfacing in search prompts.
var promoKeywords = []string{"unlimited", "iphone", "switch", "nfl", "back-to-school", "trade-in", "5g"}

// MentionsCompetitor reports whether a query names a tracked carrier or a
// promotion theme, signalling the multi-agent path should answer it.
func MentionsCompetitor(query string) bool {
	q := strings.ToLower(query)
	for _, brand := range Brands {
		if strings.Contains(q, strings.ToLower(brand)) {
			return true
		}
	}
	for _, kw := range promoKeywords {
		if strings.Contains(q, kw) {
			return true
		}
	}
	return false
}

// NeedsWebSearch reports whether a question asks for information beyond the
// mentions table: causes, sources, or current market context.
func NeedsWebSearch(query string) bool {
	q := strings.ToLower(query)
	for _, cue := range webSearchCues {
		if strings.Contains(q, cue) {
			return true
		}
	}
	return false
}

// BuildSearchContext distills a question into the entities a web search
// should anchor on: weeks, brands, and promotion themes found in the text.
func BuildSearchContext(query string) string {
	q := strings.ToLower(query)
	var b strings.Builder

	if weeks := weekPattern.FindAllString(query, -1); len(weeks) > 0 {
		b.WriteString("Weeks of interest: " + strings.Join(weeks, ", ") + "\n")
	}

	var brands []string
	for _, brand := range Brands {
		if strings.Contains(q, strings.ToLower(brand)) {
			brands = append(brands, brand)
		}
	}
	if len(brands) == 0 {
		brands = Brands
	}
	b.WriteString("Carriers: " + strings.Join(brands, ", ") + "\n")

	var promos []string
	for _, kw := range promoKeywords {
		if strings.Contains(q, kw) {
			promos = append(promos, kw)
		}
	}
	if len(promos) > 0 {
		b.WriteString("Promotion themes: " + strings.Join(promos, ", ") + "\n")
	}

	return b.String()
}
