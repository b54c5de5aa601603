package service

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tieubaoca/jwt-assistant-be/logger"
	"github.com/tieubaoca/jwt-assistant-be/types"
	"github.com/tieubaoca/jwt-assistant-be/utils"
)

const (
	wsMaxMessageSize = 512 * 1024
	wsReadTimeout    = 60 * time.Second
	wsWriteTimeout   = 10 * time.Second
	wsPingInterval   = wsReadTimeout * 9 / 10
)

// WebSocketService serves the socket variant of the ask surface. Each
// connection owns one session that lives exactly as long as the socket.
type WebSocketService struct {
	ask      *AskService
	codec    *utils.TokenCodec
	upgrader websocket.Upgrader

	readTimeout  time.Duration
	pingInterval time.Duration
}

func NewWebSocketService(ask *AskService, codec *utils.TokenCodec) *WebSocketService {
	return &WebSocketService{
		ask:          ask,
		codec:        codec,
		readTimeout:  wsReadTimeout,
		pingInterval: wsPingInterval,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // origins are enforced by the CORS layer
			},
		},
	}
}

func (s *WebSocketService) HandleAsk(w http.ResponseWriter, r *http.Request, clientIP string) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.L().Warnw("Websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	conn.SetReadLimit(wsMaxMessageSize)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	})

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sessions := s.ask.Sessions()
	sessionID := sessions.CreateSession("")
	defer func() {
		sessions.DeleteSession(sessionID)
		logger.L().Infow("Websocket client disconnected", "session_id", sessionID)
	}()

	var writeMu sync.Mutex
	send := func(e types.Event) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
			return err
		}
		return conn.WriteJSON(e)
	}

	if err := send(types.NewEvent(types.EventConnection, map[string]any{
		"status":     "connected",
		"client_id":  sessionID,
		"session_id": sessionID,
		"message":    "WebSocket connection established",
	})); err != nil {
		return
	}
	logger.L().Infow("Websocket client connected", "session_id", sessionID, "ip", clientIP)
	go s.keepAlive(ctx, conn, &writeMu)

	for {
		if err := conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
			return
		}
		_, p, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.L().Warnw("Websocket read error", "session_id", sessionID, "error", err)
			}
			return
		}

		var req types.WebsocketRequest
		if err := json.Unmarshal(p, &req); err != nil {
			if send(errorEvent("Invalid JSON format", err)) != nil {
				return
			}
			continue
		}

		if err := s.handleMessage(ctx, req, sessionID, clientIP, send); err != nil {
			logger.L().Infow("Websocket write failed", "session_id", sessionID, "error", err)
			return
		}
	}
}

// keepAlive pings the client until ctx ends so a live but quiet socket keeps
// extending its read deadline through the pong handler.
func (s *WebSocketService) keepAlive(ctx context.Context, conn *websocket.Conn, writeMu *sync.Mutex) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
			writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// handleMessage answers one client message. It only fails when the socket
// can no longer be written to.
func (s *WebSocketService) handleMessage(ctx context.Context, req types.WebsocketRequest, sessionID, clientIP string, send EmitFunc) error {
	switch req.Type {
	case types.TypeWebsocketPing:
		return send(types.NewEvent(types.EventPong, nil))
	case types.TypeWebsocketAsk:
	default:
		return send(types.NewEvent(types.EventError, map[string]any{
			"error":         "Unknown message type",
			"received_type": req.Type,
		}))
	}

	if strings.TrimSpace(req.Token) == "" || strings.TrimSpace(req.Question) == "" {
		return send(types.NewEvent(types.EventError, map[string]any{
			"error":    "Missing required fields",
			"required": []string{"token", "question"},
		}))
	}

	if err := send(types.NewEvent(types.EventAuth, map[string]any{
		"status":  "validating",
		"message": "Validating JWT token",
	})); err != nil {
		return err
	}
	decoded, err := s.codec.Decode(req.Token)
	if err != nil {
		return send(errorEvent("Token decode failed", err))
	}
	if err := send(types.NewEvent(types.EventAuth, map[string]any{
		"status":    "validated",
		"message":   "Token successfully decoded",
		"algorithm": decoded.Header["alg"],
	})); err != nil {
		return err
	}

	return s.ask.Stream(ctx, types.AskInput{
		Token:     req.Token,
		Question:  req.Question,
		History:   req.History,
		SessionID: sessionID,
		ClientIP:  clientIP,
	}, send)
}
