// Package normalize resolves free-text brand variants to canonical names.
package normalize

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"runtime"
	"sort"
	"strings"
	"sync"
)

// Fallback is the canonical name for text no variant matches.
const Fallback = "Generic/Unclear"

// Mapping resolves normalized variant strings to canonical brand names.
type Mapping struct {
	variants map[string]string // normalized variant -> canonical
}

// NewMapping builds a Mapping from variant -> canonical pairs. Variant keys
// are normalized on insert so lookups match NormalizeText output.
func NewMapping(variantToCanonical map[string]string) *Mapping {
	m := &Mapping{variants: make(map[string]string, len(variantToCanonical))}
	for variant, canonical := range variantToCanonical {
		m.variants[NormalizeText(variant)] = canonical
	}
	return m
}

// LoadMapping reads a mapping file of the form
// {"variant_to_canonical": {"vzw": "Verizon", ...}}.
func LoadMapping(path string) (*Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mapping file: %w", err)
	}
	var doc struct {
		VariantToCanonical map[string]string `json:"variant_to_canonical"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse mapping file %s: %w", path, err)
	}
	if len(doc.VariantToCanonical) == 0 {
		return nil, fmt.Errorf("mapping file %s has no variant_to_canonical entries", path)
	}
	return NewMapping(doc.VariantToCanonical), nil
}

// DefaultMapping covers the carrier spellings seen in transcript exports.
func DefaultMapping() *Mapping {
	return NewMapping(map[string]string{
		"t-mobile":         "T-Mobile",
		"tmobile":          "T-Mobile",
		"t mo":             "T-Mobile",
		"magenta":          "T-Mobile",
		"verizon":          "Verizon",
		"vzw":              "Verizon",
		"verizon wireless": "Verizon",
		"at&t":             "AT&T",
		"att":              "AT&T",
		"at and t":         "AT&T",
		"dish":             "Dish Wireless",
		"dish wireless":    "Dish Wireless",
		"boost":            "Dish Wireless",
		"us cellular":      "US Cellular",
		"uscellular":       "US Cellular",
		"uscc":             "US Cellular",
	})
}

var whitespace = regexp.MustCompile(`\s+`)

// NormalizeText canonicalizes raw text for variant matching: lowercase,
// ampersands spelled out, dashes as spaces, whitespace collapsed.
func NormalizeText(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "&", " and ")
	s = strings.ReplaceAll(s, "-", " ")
	s = strings.ReplaceAll(s, "_", " ")
	s = whitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Resolve maps one raw brand string to its canonical name, or Fallback when
// no variant matches.
func (m *Mapping) Resolve(raw string) string {
	if canonical, ok := m.variants[NormalizeText(raw)]; ok {
		return canonical
	}
	return Fallback
}

// Extract returns the canonical brands whose variants appear anywhere in
// the text, sorted for deterministic output.
func (m *Mapping) Extract(text string) []string {
	normalized := " " + NormalizeText(text) + " "
	found := make(map[string]bool)
	for variant, canonical := range m.variants {
		if strings.Contains(normalized, " "+variant+" ") {
			found[canonical] = true
		}
	}
	out := make([]string, 0, len(found))
	for canonical := range found {
		out = append(out, canonical)
	}
	sort.Strings(out)
	return out
}

// NormalizeRows resolves a batch of raw brand strings concurrently. Output
// order matches input order; workers write to disjoint index ranges.
func (m *Mapping) NormalizeRows(raw []string) []string {
	out := make([]string, len(raw))
	if len(raw) == 0 {
		return out
	}

	workers := runtime.NumCPU()
	if workers > len(raw) {
		workers = len(raw)
	}
	chunk := (len(raw) + workers - 1) / workers

	var wg sync.WaitGroup
	for start := 0; start < len(raw); start += chunk {
		end := start + chunk
		if end > len(raw) {
			end = len(raw)
		}
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			for i := lo; i < hi; i++ {
				out[i] = m.Resolve(raw[i])
			}
		}(start, end)
	}
	wg.Wait()
	return out
}
