package intent

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

type fakeClassifier struct {
	reply string
	err   error
	calls int
}

func (f *fakeClassifier) Classify(_ context.Context, _ string) (string, error) {
	f.calls++
	return f.reply, f.err
}

func TestDetectSourcesKeywordMatch(t *testing.T) {
	d := NewDetector(nil, nil)

	tests := []struct {
		query string
		want  []Category
	}{
		{"summarize the meeting transcript", []Category{Transcript}},
		{"search the web for recent news", []Category{Web}},
		{"check the docs in the knowledge base", []Category{Knowledge}},
		{"find the call where the speaker mentions the wiki", []Category{Transcript, Knowledge}},
	}
	for _, tt := range tests {
		got := d.DetectSources(context.Background(), tt.query)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("DetectSources(%q) = %v, want %v", tt.query, got, tt.want)
		}
	}
}

func TestCategoryWireNames(t *testing.T) {
	valid := map[Category]bool{"transcript": true, "web": true, "knowledgebase": true}
	d := NewDetector(nil, nil)

	queries := []string{
		"summarize the meeting transcript",
		"search the web for recent news",
		"check the docs in the knowledge base",
		"tell me something",
	}
	for _, q := range queries {
		for _, c := range d.DetectSources(context.Background(), q) {
			if !valid[c] {
				t.Errorf("DetectSources(%q) returned category %q, want one of transcript/web/knowledgebase", q, c)
			}
		}
	}
}

func TestDetectSourcesKeywordsSkipClassifier(t *testing.T) {
	llm := &fakeClassifier{reply: `["web"]`}
	d := NewDetector(nil, llm)

	d.DetectSources(context.Background(), "summarize the transcript")
	if llm.calls != 0 {
		t.Errorf("classifier called %d times on keyword match, want 0", llm.calls)
	}
}

func TestDetectSourcesClassifierFallback(t *testing.T) {
	llm := &fakeClassifier{reply: "Sources to use:\n```json\n[\"web\", \"knowledgebase\"]\n```"}
	d := NewDetector(nil, llm)

	got := d.DetectSources(context.Background(), "what changed recently?")
	want := []Category{Web, Knowledge}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("DetectSources() = %v, want %v", got, want)
	}
}

func TestDetectSourcesClassifierFiltersUnknown(t *testing.T) {
	llm := &fakeClassifier{reply: `["web", "database", "Transcript"]`}
	d := NewDetector(nil, llm)

	got := d.DetectSources(context.Background(), "what changed recently?")
	want := []Category{Web, Transcript}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("DetectSources() = %v, want %v", got, want)
	}
}

func TestDetectSourcesDefaultsOnClassifierError(t *testing.T) {
	llm := &fakeClassifier{err: errors.New("model unavailable")}
	d := NewDetector(nil, llm)

	got := d.DetectSources(context.Background(), "what changed recently?")
	want := []Category{Transcript}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("DetectSources() = %v, want %v", got, want)
	}
}

func TestDetectSourcesDefaultsWithoutClassifier(t *testing.T) {
	d := NewDetector(nil, nil)
	got := d.DetectSources(context.Background(), "tell me something")
	want := []Category{Transcript}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("DetectSources() = %v, want %v", got, want)
	}
}
