// Package session provides conversation session storage.
package session

import (
	"errors"

	"github.com/telcoinsights/fabric-gateway/internal/domain"
)

// ErrNotFound is returned when a session id is unknown.
var ErrNotFound = errors.New("session not found")

// Store defines the interface for session persistence. Implementations are
// safe for concurrent use, but concurrent appends to the same session from
// parallel requests may interleave; chat history is best-effort.
type Store interface {
	// GetOrCreate returns the given id if it names a live session, or
	// creates a fresh session (with a new random id when id is empty or
	// unknown) and returns its id.
	GetOrCreate(id string) string

	// Get returns a snapshot of the session, or ErrNotFound.
	Get(id string) (*domain.Session, error)

	// Append adds a message to the session history.
	Append(id, role, text string, sources []string) error

	// Delete removes a session. Deleting an unknown id returns ErrNotFound.
	Delete(id string) error

	// Len reports the number of live sessions.
	Len() int
}
