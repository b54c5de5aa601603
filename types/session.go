package types

import "time"

type SessionInfo struct {
	SessionID     string    `json:"session_id"`
	CreatedAt     time.Time `json:"created_at"`
	LastAccessed  time.Time `json:"last_accessed"`
	MessageCount  int       `json:"message_count"`
	HasJWTContext bool      `json:"has_jwt_context"`
}

type SessionsInfoResponse struct {
	ActiveSessions int           `json:"active_sessions"`
	Sessions       []SessionInfo `json:"sessions"`
}
