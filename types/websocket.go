package types

import "time"

const (
	TypeWebsocketPing = "ping"
	TypeWebsocketPong = "pong"
	TypeWebsocketAsk  = "ask"

	EventConnection  = "connection"
	EventAuth        = "auth"
	EventRAG         = "rag"
	EventSessionInfo = "session_info"
	EventRateLimit   = "rate_limit"
	EventStreamStart = "stream_start"
	EventChunk       = "chunk"
	EventComplete    = "complete"
	EventError       = "error"
	EventPong        = "pong"
)

type WebsocketRequest struct {
	Type     string    `json:"type"`
	Token    string    `json:"token"`
	Question string    `json:"question"`
	History  []Message `json:"history"`
}

// Event is one record on a streaming surface (SSE or socket).
type Event struct {
	Type      string         `json:"type"`
	Timestamp string         `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

func NewEvent(eventType string, payload map[string]any) Event {
	return Event{
		Type:      eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	}
}
