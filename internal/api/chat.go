package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/telcoinsights/fabric-gateway/internal/domain"
	"github.com/telcoinsights/fabric-gateway/internal/metrics"
	"github.com/telcoinsights/fabric-gateway/internal/session"
)

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type chatResponse struct {
	SessionID     string   `json:"session_id"`
	Reply         string   `json:"reply"`
	Sources       []string `json:"sources"`
	HistoryLength int      `json:"history_length"`
}

// Chat handles one conversational turn. An unknown or empty session id
// starts a fresh session; the reply carries the id to continue with.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decode(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		Error(w, http.StatusBadRequest, "message is required")
		return
	}

	id := h.sessions.GetOrCreate(req.SessionID)

	// History snapshot before this turn; the user message is appended
	// afterwards so the prompt does not repeat it.
	var history []domain.Message
	if sess, err := h.sessions.Get(id); err == nil {
		history = sess.Messages
	}

	if err := h.sessions.Append(id, "user", req.Message, nil); err != nil {
		Error(w, http.StatusInternalServerError, "failed to record message")
		return
	}

	reply := h.orch.Chat(r.Context(), req.Message, history)

	if err := h.sessions.Append(id, "assistant", reply.Reply, reply.Sources); err != nil {
		Error(w, http.StatusInternalServerError, "failed to record reply")
		return
	}
	metrics.SetLiveSessions(h.sessions.Len())

	length := len(history) + 2
	if sess, err := h.sessions.Get(id); err == nil {
		length = len(sess.Messages)
	}

	JSON(w, http.StatusOK, chatResponse{
		SessionID:     id,
		Reply:         reply.Reply,
		Sources:       reply.Sources,
		HistoryLength: length,
	})
}

// CreateSession starts an empty session and returns its id.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	id := h.sessions.GetOrCreate("")
	metrics.SetLiveSessions(h.sessions.Len())
	JSON(w, http.StatusCreated, map[string]string{"session_id": id})
}

// GetSession returns the full session including message history.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := h.sessions.Get(id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			Error(w, http.StatusNotFound, "session not found")
			return
		}
		Error(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	JSON(w, http.StatusOK, sess)
}

// DeleteSession removes a session and its history.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.sessions.Delete(id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			Error(w, http.StatusNotFound, "session not found")
			return
		}
		Error(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	metrics.SetLiveSessions(h.sessions.Len())
	JSON(w, http.StatusOK, map[string]string{"status": "deleted", "session_id": id})
}
