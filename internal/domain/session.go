// Package domain defines the core data types shared across the service.
package domain

import "time"

// Message is a single chat turn. Immutable once appended to a session.
type Message struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Sources   []string  `json:"sources,omitempty"`
}

// Session holds the in-memory state of one conversation. The message
// sequence is append-only and ordered by insertion.
type Session struct {
	ID              string         `json:"session_id"`
	CreatedAt       time.Time      `json:"created_at"`
	Messages        []Message      `json:"messages"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	AnalysisResults map[string]any `json:"analysis_results,omitempty"`
}
