package service

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tieubaoca/jwt-assistant-be/config"
	"github.com/tieubaoca/jwt-assistant-be/types"
	"github.com/tieubaoca/jwt-assistant-be/utils"
)

func newTestSocket(t *testing.T, provider ProviderAdapter) (*websocket.Conn, *AskService) {
	t.Helper()
	svc, _ := newTestAskService(t, provider, config.RAGConfig{}, roomyLimits)
	return dialSocket(t, NewWebSocketService(svc, utils.NewTokenCodec())), svc
}

func dialSocket(t *testing.T, ws *WebSocketService) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws.HandleAsk(w, r, "10.0.0.9")
	}))
	t.Cleanup(server.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) types.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var e types.Event
	require.NoError(t, conn.ReadJSON(&e))
	return e
}

// readUntil collects events up to and including the first one of kind.
func readUntil(t *testing.T, conn *websocket.Conn, kind string) []types.Event {
	t.Helper()
	var events []types.Event
	for {
		e := readEvent(t, conn)
		events = append(events, e)
		if e.Type == kind {
			return events
		}
	}
}

func TestWebSocket_ConnectionLifecycle(t *testing.T) {
	conn, svc := newTestSocket(t, &fakeProvider{})

	hello := readEvent(t, conn)
	assert.Equal(t, types.EventConnection, hello.Type)
	assert.Equal(t, "connected", hello.Payload["status"])
	sessionID, _ := hello.Payload["session_id"].(string)
	assert.True(t, svc.Sessions().GetSession(sessionID))

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "ping"}))
	assert.Equal(t, types.EventPong, readEvent(t, conn).Type)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool {
		return svc.Sessions().ActiveCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocket_BadMessages(t *testing.T) {
	conn, _ := newTestSocket(t, &fakeProvider{})
	readEvent(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{")))
	e := readEvent(t, conn)
	assert.Equal(t, types.EventError, e.Type)
	assert.Equal(t, "Invalid JSON format", e.Payload["error"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "chat"}))
	e = readEvent(t, conn)
	assert.Equal(t, "Unknown message type", e.Payload["error"])
	assert.Equal(t, "chat", e.Payload["received_type"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "ask", "question": "q"}))
	e = readEvent(t, conn)
	assert.Equal(t, "Missing required fields", e.Payload["error"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "ask", "token": "garbage", "question": "q"}))
	events := readUntil(t, conn, types.EventError)
	require.Len(t, events, 2)
	assert.Equal(t, "validating", events[0].Payload["status"])
	assert.Equal(t, "Token decode failed", events[1].Payload["error"])
}

func TestWebSocket_AskStreamsAnswer(t *testing.T) {
	provider := &fakeProvider{fragments: []string{"Signed ", "with HS256."}}
	conn, svc := newTestSocket(t, provider)
	sessionID, _ := readEvent(t, conn).Payload["session_id"].(string)

	ask := map[string]any{"type": "ask", "token": testToken(t), "question": "Which algorithm?"}
	require.NoError(t, conn.WriteJSON(ask))
	events := readUntil(t, conn, types.EventComplete)

	assert.Equal(t, []string{
		types.EventAuth, types.EventAuth, types.EventSessionInfo, types.EventRAG,
		types.EventStreamStart, types.EventChunk, types.EventChunk, types.EventComplete,
	}, eventTypes(events))
	assert.Equal(t, "HS256", events[1].Payload["algorithm"])
	assert.Equal(t, sessionID, events[2].Payload["session_id"])
	assert.Equal(t, "Signed with HS256.", events[7].Payload["full_response"])
	assert.EqualValues(t, 2, events[7].Payload["token_count"])

	require.NoError(t, conn.WriteJSON(ask))
	events = readUntil(t, conn, types.EventComplete)
	assert.EqualValues(t, 3, events[2].Payload["message_count"])
	assert.Len(t, svc.Sessions().Messages(sessionID), 4)
}

func TestWebSocket_IdleClientKeptAlive(t *testing.T) {
	svc, _ := newTestAskService(t, &fakeProvider{}, config.RAGConfig{}, roomyLimits)
	ws := NewWebSocketService(svc, utils.NewTokenCodec())
	ws.readTimeout = 300 * time.Millisecond
	ws.pingInterval = 100 * time.Millisecond
	conn := dialSocket(t, ws)

	hello := readEvent(t, conn)
	sessionID, _ := hello.Payload["session_id"].(string)
	require.NoError(t, conn.SetReadDeadline(time.Time{}))

	var pings atomic.Int32
	conn.SetPingHandler(func(data string) error {
		pings.Add(1)
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				readErr <- err
				return
			}
		}
	}()

	// the client sends nothing for several read timeouts
	time.Sleep(time.Second)

	assert.GreaterOrEqual(t, pings.Load(), int32(3))
	assert.True(t, svc.Sessions().GetSession(sessionID))
	assert.Equal(t, 1, svc.Sessions().ActiveCount())
	select {
	case err := <-readErr:
		t.Fatalf("socket closed while idle: %v", err)
	default:
	}
}
