package session

import (
	"container/list"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/telcoinsights/fabric-gateway/internal/domain"
)

// MemoryStore is a bounded in-memory Store. Sessions are evicted least
// recently used once maxEntries is exceeded, and each session keeps only
// the newest maxMessages messages.
type MemoryStore struct {
	mu          sync.Mutex
	sessions    map[string]*list.Element // id -> element holding *domain.Session
	order       *list.List               // front = most recently used
	maxEntries  int
	maxMessages int
}

// NewMemoryStore creates a MemoryStore with the given bounds.
func NewMemoryStore(maxEntries, maxMessages int) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	if maxMessages <= 0 {
		maxMessages = 50
	}
	return &MemoryStore{
		sessions:    make(map[string]*list.Element),
		order:       list.New(),
		maxEntries:  maxEntries,
		maxMessages: maxMessages,
	}
}

// GetOrCreate returns id when it names a live session, otherwise creates a
// new session. An empty or unknown id yields a freshly generated one; the
// identifier space is large enough that collisions are not handled.
func (s *MemoryStore) GetOrCreate(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id != "" {
		if el, ok := s.sessions[id]; ok {
			s.order.MoveToFront(el)
			return id
		}
	}

	sess := &domain.Session{
		ID:              uuid.NewString(),
		CreatedAt:       time.Now().UTC(),
		Metadata:        make(map[string]any),
		AnalysisResults: make(map[string]any),
	}
	s.insert(sess)
	return sess.ID
}

// insert adds a session and evicts the least recently used one if needed.
// Caller must hold s.mu.
func (s *MemoryStore) insert(sess *domain.Session) {
	el := s.order.PushFront(sess)
	s.sessions[sess.ID] = el

	for s.order.Len() > s.maxEntries {
		oldest := s.order.Back()
		if oldest == nil {
			break
		}
		evicted := oldest.Value.(*domain.Session)
		s.order.Remove(oldest)
		delete(s.sessions, evicted.ID)
	}
}

// Get returns a copy of the session so callers cannot mutate stored state.
func (s *MemoryStore) Get(id string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	s.order.MoveToFront(el)

	sess := el.Value.(*domain.Session)
	snapshot := &domain.Session{
		ID:              sess.ID,
		CreatedAt:       sess.CreatedAt,
		Messages:        make([]domain.Message, len(sess.Messages)),
		Metadata:        make(map[string]any, len(sess.Metadata)),
		AnalysisResults: make(map[string]any, len(sess.AnalysisResults)),
	}
	copy(snapshot.Messages, sess.Messages)
	for k, v := range sess.Metadata {
		snapshot.Metadata[k] = v
	}
	for k, v := range sess.AnalysisResults {
		snapshot.AnalysisResults[k] = v
	}
	return snapshot, nil
}

// Append adds a message to the session history, keeping only the newest
// maxMessages entries.
func (s *MemoryStore) Append(id, role, text string, sources []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.order.MoveToFront(el)

	sess := el.Value.(*domain.Session)
	sess.Messages = append(sess.Messages, domain.Message{
		Role:      role,
		Text:      text,
		Timestamp: time.Now().UTC(),
		Sources:   sources,
	})
	if len(sess.Messages) > s.maxMessages {
		sess.Messages = sess.Messages[len(sess.Messages)-s.maxMessages:]
	}
	return nil
}

// Delete removes a session.
func (s *MemoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.order.Remove(el)
	delete(s.sessions, id)
	return nil
}

// Len reports the number of live sessions.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
