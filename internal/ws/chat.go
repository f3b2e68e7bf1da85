// Package ws serves the WebSocket chat surface: the same chat flow as
// POST /chat, with progress events streamed while the backends work.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/telcoinsights/fabric-gateway/internal/domain"
	"github.com/telcoinsights/fabric-gateway/internal/orchestrator"
	"github.com/telcoinsights/fabric-gateway/internal/session"
)

// ChatHandler upgrades /ws/chat connections and serves chat turns.
type ChatHandler struct {
	sessions      session.Store
	orch          *orchestrator.Orchestrator
	allowedOrigin string
	isDev         bool
}

// NewChatHandler creates a WebSocket chat handler.
func NewChatHandler(sessions session.Store, orch *orchestrator.Orchestrator, allowedOrigin string, isDev bool) *ChatHandler {
	return &ChatHandler{
		sessions:      sessions,
		orch:          orch,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// inbound is one client chat message.
type inbound struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// event is one server frame: status updates while a turn is in flight,
// then a reply frame, or an error frame.
type event struct {
	Type      string   `json:"type"` // "status", "reply", "error"
	Stage     string   `json:"stage,omitempty"`
	SessionID string   `json:"session_id,omitempty"`
	Reply     string   `json:"reply,omitempty"`
	Sources   []string `json:"sources,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// ServeHTTP implements http.Handler for the WebSocket upgrade.
func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if h.isDev {
		opts.OriginPatterns = []string{"*"}
	} else if h.allowedOrigin != "" {
		opts.OriginPatterns = []string{h.allowedOrigin}
	}

	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		slog.Error("websocket accept failed", "error", err, "ip", r.RemoteAddr)
		return
	}
	defer func() {
		if closeErr := conn.Close(websocket.StatusNormalClosure, "chat ended"); closeErr != nil {
			slog.Debug("websocket close failed", "error", closeErr)
		}
	}()

	ctx := r.Context()
	slog.Info("websocket chat connected", "ip", r.RemoteAddr)

	for {
		var msg inbound
		if err := readJSON(ctx, conn, &msg); err != nil {
			if isExpectedClose(err) {
				slog.Debug("websocket chat disconnected", "error", err)
			} else {
				slog.Warn("websocket read failed", "error", err)
			}
			return
		}
		if msg.Message == "" {
			writeJSON(ctx, conn, event{Type: "error", Error: "message is required"})
			continue
		}

		h.serveTurn(ctx, conn, msg)
	}
}

func (h *ChatHandler) serveTurn(ctx context.Context, conn *websocket.Conn, msg inbound) {
	id := h.sessions.GetOrCreate(msg.SessionID)
	writeJSON(ctx, conn, event{Type: "status", Stage: "routing", SessionID: id})

	var history []domain.Message
	if sess, err := h.sessions.Get(id); err == nil {
		history = sess.Messages
	}
	if err := h.sessions.Append(id, "user", msg.Message, nil); err != nil {
		writeJSON(ctx, conn, event{Type: "error", SessionID: id, Error: "failed to record message"})
		return
	}

	writeJSON(ctx, conn, event{Type: "status", Stage: "querying", SessionID: id})
	reply := h.orch.Chat(ctx, msg.Message, history)

	if err := h.sessions.Append(id, "assistant", reply.Reply, reply.Sources); err != nil {
		slog.Warn("failed to record websocket reply", "session_id", id, "error", err)
	}

	writeJSON(ctx, conn, event{
		Type:      "reply",
		SessionID: id,
		Reply:     reply.Reply,
		Sources:   reply.Sources,
	})
}

func readJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		slog.Debug("websocket write failed", "error", err)
	}
}

func isExpectedClose(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	status := websocket.CloseStatus(err)
	return status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway
}
