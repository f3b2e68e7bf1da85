package planner

import (
	"encoding/csv"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Row is one week/brand observation from the mentions table.
type Row struct {
	Week         string `json:"week"`
	Brand        string `json:"brand"`
	Mentions     int    `json:"mentions"`
	SwitchesTo   int    `json:"switches_to"`
	SwitchesFrom int    `json:"switches_from"`
	Promotions   string `json:"promotions"`
}

// Result is the outcome of executing a plan: the projected rows plus any
// derived computations keyed by their expression.
type Result struct {
	Rows    []map[string]any `json:"rows"`
	Derived map[string]any   `json:"derived,omitempty"`
}

// conditionPattern parses "<field> <op> <number>" conditions. Field names
// are matched after lowercasing and stripping spaces and underscores.
var conditionPattern = regexp.MustCompile(`(mentions|switchesto|switchesfrom)\s*(>=|<=|>|<|==)\s*(\d+)`)

// computationPattern parses "<fn>(<field>)" computations.
var computationPattern = regexp.MustCompile(`^(sum|avg|diff|rank)\s*\(\s*(\w+)\s*\)$`)

// columnAliases maps CSV header spellings to canonical column names.
var columnAliases = map[string]string{
	"week":                "week",
	"brand":               "brand",
	"mentions":            "mentions",
	"switches_to":         "switches_to",
	"switches to brand":   "switches_to",
	"switchesto":          "switches_to",
	"switches_from":       "switches_from",
	"switches from brand": "switches_from",
	"switchesfrom":        "switches_from",
	"promotions":          "promotions",
	"promotion":           "promotions",
}

// LoadRows reads the mentions table from a CSV export, tolerating the
// header spellings used by different export scripts.
func LoadRows(path string) ([]Row, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mentions table: %w", err)
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read mentions table: %w", err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("mentions table %s has no data rows", path)
	}

	index := make(map[string]int)
	for i, name := range records[0] {
		key := strings.ToLower(strings.TrimSpace(name))
		if canonical, ok := columnAliases[key]; ok {
			index[canonical] = i
		}
	}
	for _, required := range []string{"week", "brand", "mentions"} {
		if _, ok := index[required]; !ok {
			return nil, fmt.Errorf("mentions table %s missing column %q", path, required)
		}
	}

	field := func(rec []string, col string) string {
		i, ok := index[col]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}
	num := func(rec []string, col string) int {
		n, _ := strconv.Atoi(field(rec, col))
		return n
	}

	rows := make([]Row, 0, len(records)-1)
	for _, rec := range records[1:] {
		rows = append(rows, Row{
			Week:         field(rec, "week"),
			Brand:        field(rec, "brand"),
			Mentions:     num(rec, "mentions"),
			SwitchesTo:   num(rec, "switches_to"),
			SwitchesFrom: num(rec, "switches_from"),
			Promotions:   field(rec, "promotions"),
		})
	}
	return rows, nil
}

// Execute runs a plan against the rows: filters, then projections, then
// computations. Projections preserve the plan's column order.
func Execute(rows []Row, plan *Plan) (*Result, error) {
	if plan == nil {
		return nil, fmt.Errorf("nil plan")
	}

	filtered := filterRows(rows, plan.Filters)

	projected := make([]map[string]any, 0, len(filtered))
	for _, row := range filtered {
		projected = append(projected, project(row, plan.Projections))
	}

	derived := make(map[string]any)
	for _, expr := range plan.Computations {
		value, err := compute(filtered, expr)
		if err != nil {
			return nil, err
		}
		derived[normalizeExpr(expr)] = value
	}
	if len(derived) == 0 {
		derived = nil
	}

	return &Result{Rows: projected, Derived: derived}, nil
}

func filterRows(rows []Row, f Filters) []Row {
	weeks := toSet(f.Weeks)
	brands := toSet(f.Brands)

	conditions := make([][3]string, 0, len(f.Conditions))
	for _, cond := range f.Conditions {
		m := conditionPattern.FindStringSubmatch(normalizeExpr(cond))
		if m == nil {
			// Unparseable conditions are skipped rather than failing the
			// whole plan; the notes field usually explains them.
			continue
		}
		conditions = append(conditions, [3]string{m[1], m[2], m[3]})
	}

	var out []Row
	for _, row := range rows {
		if len(weeks) > 0 && !weeks[strings.ToLower(row.Week)] {
			continue
		}
		if len(brands) > 0 && !brands[strings.ToLower(row.Brand)] {
			continue
		}
		ok := true
		for _, cond := range conditions {
			if !evalCondition(row, cond[0], cond[1], cond[2]) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, row)
		}
	}
	return out
}

func toSet(values []string) map[string]bool {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[strings.ToLower(strings.TrimSpace(v))] = true
	}
	return set
}

func normalizeExpr(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "_", "")
	s = strings.ReplaceAll(s, " ", "")
	return s
}

func fieldValue(row Row, field string) (int, bool) {
	switch field {
	case "mentions":
		return row.Mentions, true
	case "switchesto":
		return row.SwitchesTo, true
	case "switchesfrom":
		return row.SwitchesFrom, true
	}
	return 0, false
}

func evalCondition(row Row, field, op, operand string) bool {
	value, ok := fieldValue(row, field)
	if !ok {
		return true
	}
	n, err := strconv.Atoi(operand)
	if err != nil {
		return true
	}
	switch op {
	case ">":
		return value > n
	case "<":
		return value < n
	case ">=":
		return value >= n
	case "<=":
		return value <= n
	case "==":
		return value == n
	}
	return true
}

// projectable columns in table order, used when the plan projects nothing.
var allColumns = []string{"week", "brand", "mentions", "switches_to", "switches_from", "promotions"}

func project(row Row, columns []string) map[string]any {
	if len(columns) == 0 {
		columns = allColumns
	}
	out := make(map[string]any, len(columns))
	for _, col := range columns {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "week":
			out["week"] = row.Week
		case "brand":
			out["brand"] = row.Brand
		case "mentions":
			out["mentions"] = row.Mentions
		case "switches_to", "switchesto":
			out["switches_to"] = row.SwitchesTo
		case "switches_from", "switchesfrom":
			out["switches_from"] = row.SwitchesFrom
		case "promotions":
			out["promotions"] = row.Promotions
		}
	}
	return out
}

func compute(rows []Row, expr string) (any, error) {
	m := computationPattern.FindStringSubmatch(normalizeExpr(expr))
	if m == nil {
		return nil, fmt.Errorf("unsupported computation %q", expr)
	}
	fn, field := m[1], m[2]

	values := make([]int, 0, len(rows))
	for _, row := range rows {
		if v, ok := fieldValue(row, field); ok {
			values = append(values, v)
		}
	}

	switch fn {
	case "sum":
		return sum(values), nil
	case "avg":
		if len(values) == 0 {
			return 0.0, nil
		}
		return float64(sum(values)) / float64(len(values)), nil
	case "diff":
		return diffByWeek(rows, field), nil
	case "rank":
		return rankByBrand(rows, field), nil
	}
	return nil, fmt.Errorf("unsupported computation %q", expr)
}

func sum(values []int) int {
	total := 0
	for _, v := range values {
		total += v
	}
	return total
}

// diffByWeek returns last-week total minus first-week total for the field,
// with weeks in lexical order (ISO week labels sort correctly).
func diffByWeek(rows []Row, field string) int {
	totals := make(map[string]int)
	for _, row := range rows {
		if v, ok := fieldValue(row, field); ok {
			totals[row.Week] += v
		}
	}
	if len(totals) == 0 {
		return 0
	}
	weeks := make([]string, 0, len(totals))
	for week := range totals {
		weeks = append(weeks, week)
	}
	sort.Strings(weeks)
	return totals[weeks[len(weeks)-1]] - totals[weeks[0]]
}

// RankEntry is one brand's position in a rank computation.
type RankEntry struct {
	Brand string `json:"brand"`
	Total int    `json:"total"`
}

// rankByBrand totals the field per brand and orders brands descending.
// Ties break alphabetically so output is deterministic.
func rankByBrand(rows []Row, field string) []RankEntry {
	totals := make(map[string]int)
	for _, row := range rows {
		if v, ok := fieldValue(row, field); ok {
			totals[row.Brand] += v
		}
	}
	out := make([]RankEntry, 0, len(totals))
	for brand, total := range totals {
		out = append(out, RankEntry{Brand: brand, Total: total})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].Brand < out[j].Brand
	})
	return out
}
