package service

import (
	"errors"
	"fmt"
)

var (
	ErrVectorIndexDisabled = errors.New("vector index is disabled")
	ErrRAGDisabled         = errors.New("RAG is disabled. Set ENABLE_RAG=True in environment to use this feature.")
	ErrSessionNotFound     = errors.New("session not found")
	ErrIngestionRunning    = errors.New("ingestion is already running")
	ErrEmptyQuestion       = errors.New("question cannot be empty")
	ErrUnknownProvider     = errors.New("unknown llm provider")
)

// RateLimitError is returned when a request is denied admission.
type RateLimitError struct {
	LimitType     string `json:"limit_type"`
	ErrorTitle    string `json:"error"`
	Message       string `json:"message"`
	RetryAfter    int    `json:"retry_after"`
	RequestsMade  int    `json:"requests_made"`
	RequestsLimit int    `json:"requests_limit"`
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: %s", e.ErrorTitle, e.Message)
}

// Payload renders the denial for HTTP bodies and stream events.
func (e *RateLimitError) Payload() map[string]any {
	return map[string]any{
		"error":          e.ErrorTitle,
		"message":        e.Message,
		"limit_type":     e.LimitType,
		"retry_after":    e.RetryAfter,
		"requests_made":  e.RequestsMade,
		"requests_limit": e.RequestsLimit,
	}
}
