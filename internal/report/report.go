// Package report writes batch analysis results to disk as JSON, CSV, and
// a browsable HTML page.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Item is one question/answer pair from a batch run.
type Item struct {
	Question   string        `json:"question"`
	Answer     string        `json:"answer"`
	Status     string        `json:"status"`
	DurationMS int64         `json:"duration_ms"`
	Duration   time.Duration `json:"-"`
}

// Report is one batch run's full output.
type Report struct {
	Title       string    `json:"title"`
	GeneratedAt time.Time `json:"generated_at"`
	Items       []Item    `json:"items"`
}

// Paths lists the files one Write produced.
type Paths struct {
	JSON string `json:"json"`
	CSV  string `json:"csv"`
	HTML string `json:"html"`
}

const stampLayout = "20060102T150405Z"

var htmlPage = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: sans-serif; margin: 2rem; }
table { border-collapse: collapse; width: 100%; }
th, td { border: 1px solid #ccc; padding: 0.5rem; text-align: left; vertical-align: top; }
th { background: #f0f0f0; }
.failed { color: #b00020; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<p>Generated {{.GeneratedAt.UTC.Format "2006-01-02 15:04:05 UTC"}}</p>
<table>
<tr><th>#</th><th>Question</th><th>Status</th><th>Answer</th></tr>
{{range $i, $item := .Items}}
<tr class="{{if ne $item.Status "ok"}}failed{{end}}">
<td>{{$i}}</td><td>{{$item.Question}}</td><td>{{$item.Status}}</td><td>{{$item.Answer}}</td>
</tr>
{{end}}
</table>
</body>
</html>
`))

// Write persists the report under dir with UTC-timestamped names and
// returns the paths written.
func Write(dir string, rep *Report) (*Paths, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create report directory: %w", err)
	}
	if rep.GeneratedAt.IsZero() {
		rep.GeneratedAt = time.Now().UTC()
	}
	for i := range rep.Items {
		rep.Items[i].DurationMS = rep.Items[i].Duration.Milliseconds()
	}

	stamp := rep.GeneratedAt.UTC().Format(stampLayout)
	paths := &Paths{
		JSON: filepath.Join(dir, stamp+"_report.json"),
		CSV:  filepath.Join(dir, stamp+"_summary.csv"),
		HTML: filepath.Join(dir, stamp+"_report.html"),
	}

	if err := writeJSON(paths.JSON, rep); err != nil {
		return nil, err
	}
	if err := writeCSV(paths.CSV, rep); err != nil {
		return nil, err
	}
	if err := writeHTML(paths.HTML, rep); err != nil {
		return nil, err
	}
	return paths, nil
}

func writeJSON(path string, rep *Report) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report JSON: %w", err)
	}
	return nil
}

func writeCSV(path string, rep *Report) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create summary CSV: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write([]string{"question", "status", "duration_ms", "answer"}); err != nil {
		return fmt.Errorf("write CSV header: %w", err)
	}
	for _, item := range rep.Items {
		record := []string{
			item.Question,
			item.Status,
			strconv.FormatInt(item.DurationMS, 10),
			truncate(item.Answer, 500),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("write CSV row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush summary CSV: %w", err)
	}
	return nil
}

func writeHTML(path string, rep *Report) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create HTML report: %w", err)
	}
	defer file.Close()

	if err := htmlPage.Execute(file, rep); err != nil {
		return fmt.Errorf("render HTML report: %w", err)
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
