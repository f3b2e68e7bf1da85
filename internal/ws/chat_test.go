package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/telcoinsights/fabric-gateway/internal/orchestrator"
	"github.com/telcoinsights/fabric-gateway/internal/session"
	"github.com/telcoinsights/fabric-gateway/internal/sources"
)

type echoAgent struct{}

func (echoAgent) Ask(_ context.Context, prompt string) string {
	return "echo: " + prompt
}

func dialTestChat(t *testing.T) *websocket.Conn {
	t.Helper()

	sessions := session.NewMemoryStore(10, 10)
	orch := orchestrator.New(echoAgent{}, nil, nil,
		&sources.TranscriptFetcher{Dir: t.TempDir()},
		&sources.WebFetcher{}, &sources.KnowledgeFetcher{})
	srv := httptest.NewServer(NewChatHandler(sessions, orch, "", true))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/chat", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "test done") })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var ev event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode frame %q: %v", data, err)
	}
	return ev
}

func TestChatTurnStreamsStatusThenReply(t *testing.T) {
	conn := dialTestChat(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	payload, _ := json.Marshal(inbound{Message: "hello over the socket"})
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		t.Fatalf("write: %v", err)
	}

	first := readEvent(t, conn)
	if first.Type != "status" || first.Stage != "routing" {
		t.Fatalf("first frame = %+v, want routing status", first)
	}
	if first.SessionID == "" {
		t.Fatal("no session id in status frame")
	}

	var reply event
	for i := 0; i < 5; i++ {
		reply = readEvent(t, conn)
		if reply.Type == "reply" {
			break
		}
		if reply.Type != "status" {
			t.Fatalf("unexpected frame %+v", reply)
		}
	}
	if reply.Type != "reply" {
		t.Fatalf("never received a reply frame, last = %+v", reply)
	}
	if !strings.HasPrefix(reply.Reply, "echo: ") {
		t.Errorf("reply = %q", reply.Reply)
	}
	if reply.SessionID != first.SessionID {
		t.Errorf("session id changed mid-turn: %q vs %q", reply.SessionID, first.SessionID)
	}
}

func TestEmptyMessageGetsErrorFrame(t *testing.T) {
	conn := dialTestChat(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"message": ""}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	ev := readEvent(t, conn)
	if ev.Type != "error" {
		t.Fatalf("frame = %+v, want error", ev)
	}
}
