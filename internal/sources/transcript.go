// Package sources gathers evidence text from the configured data sources.
// Fetchers never fail the request: missing or broken sources degrade to a
// readable placeholder so the orchestrator can keep composing context.
package sources

import (
	"encoding/csv"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Table rendering limits keep the snippet prompt-sized.
const (
	maxTableCols = 6
	maxTableRows = 10
	maxCellLen   = 120
)

// NoTranscripts is returned when the transcript directory holds no CSVs.
const NoTranscripts = "(no transcript CSV files found)"

// TranscriptFetcher serves rows from the newest transcript CSV export.
type TranscriptFetcher struct {
	Dir string
}

// Snippet returns a markdown table of transcript rows relevant to the
// query. Rows containing any query token are preferred; when nothing
// matches, the first rows serve as a preview. Never returns an error.
func (f *TranscriptFetcher) Snippet(query string, maxRows int) string {
	if maxRows <= 0 {
		maxRows = maxTableRows
	}

	path, err := f.newestCSV()
	if err != nil {
		slog.Warn("transcript lookup failed", "dir", f.Dir, "error", err)
		return NoTranscripts
	}
	if path == "" {
		return NoTranscripts
	}

	header, rows, err := readCSV(path)
	if err != nil {
		slog.Warn("transcript CSV unreadable", "path", path, "error", err)
		return NoTranscripts
	}
	if len(rows) == 0 {
		return NoTranscripts
	}

	tokens := queryTokens(query)
	matched := matchRows(rows, tokens, maxRows)
	preview := false
	if len(matched) == 0 {
		preview = true
		if len(rows) > maxRows {
			rows = rows[:maxRows]
		}
		matched = rows
	}

	var b strings.Builder
	b.WriteString("Source file: " + filepath.Base(path) + "\n")
	if preview {
		b.WriteString("(no rows matched the query; showing a preview)\n")
	}
	b.WriteString(markdownTable(header, matched))
	return b.String()
}

// newestCSV returns the most recently modified CSV in the directory, or ""
// when none exists.
func (f *TranscriptFetcher) newestCSV() (string, error) {
	entries, err := os.ReadDir(f.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}

	type candidate struct {
		path string
		mod  int64
	}
	var files []candidate
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, candidate{filepath.Join(f.Dir, e.Name()), info.ModTime().UnixNano()})
	}
	if len(files) == 0 {
		return "", nil
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mod > files[j].mod })
	return files[0].path, nil
}

func readCSV(path string) ([]string, [][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	if len(records) == 0 {
		return nil, nil, nil
	}
	return records[0], records[1:], nil
}

// queryTokens keeps words longer than two characters; short words match
// too much to be useful filters.
func queryTokens(query string) []string {
	var tokens []string
	for _, word := range strings.Fields(strings.ToLower(query)) {
		word = strings.Trim(word, ".,!?\"'()")
		if len(word) > 2 {
			tokens = append(tokens, word)
		}
	}
	return tokens
}

func matchRows(rows [][]string, tokens []string, maxRows int) [][]string {
	if len(tokens) == 0 {
		return nil
	}
	var matched [][]string
	for _, row := range rows {
		joined := strings.ToLower(strings.Join(row, " "))
		for _, tok := range tokens {
			if strings.Contains(joined, tok) {
				matched = append(matched, row)
				break
			}
		}
		if len(matched) >= maxRows {
			break
		}
	}
	return matched
}

// markdownTable renders header and rows as a markdown table bounded by the
// rendering limits. Newlines inside cells are collapsed to spaces.
func markdownTable(header []string, rows [][]string) string {
	cols := len(header)
	if cols > maxTableCols {
		cols = maxTableCols
	}
	if len(rows) > maxTableRows {
		rows = rows[:maxTableRows]
	}

	var b strings.Builder
	writeRow := func(cells []string) {
		b.WriteString("|")
		for i := 0; i < cols; i++ {
			var cell string
			if i < len(cells) {
				cell = cleanCell(cells[i])
			}
			b.WriteString(" " + cell + " |")
		}
		b.WriteString("\n")
	}

	writeRow(header)
	b.WriteString("|")
	for i := 0; i < cols; i++ {
		b.WriteString(" --- |")
	}
	b.WriteString("\n")
	for _, row := range rows {
		writeRow(row)
	}
	return b.String()
}

func cleanCell(s string) string {
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > maxCellLen {
		s = s[:maxCellLen] + "..."
	}
	return strings.ReplaceAll(s, "|", "\\|")
}
