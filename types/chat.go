package types

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StreamHandler receives generated fragments in order. Returning an error
// stops the stream.
type StreamHandler func(fragment string) error

type AskRequest struct {
	Token     string    `json:"token"`
	Question  string    `json:"question"`
	History   []Message `json:"history"`
	SessionID string    `json:"session_id,omitempty"`
}

type AskResponse struct {
	Answer      string          `json:"answer"`
	ContextUsed []string        `json:"context_used"`
	Sources     []ContextSource `json:"sources"`
	SessionID   string          `json:"session_id,omitempty"`
}

// AskInput is a transport-neutral question.
type AskInput struct {
	Token     string
	Question  string
	History   []Message
	SessionID string
	ClientIP  string
}

type SourceInfo struct {
	URL       string `json:"url"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	Section   string `json:"section"`
	SectionID string `json:"section_id"`
	Priority  string `json:"priority"`
}

type ContextSource struct {
	Content         string     `json:"content"`
	ContentPreview  string     `json:"content_preview"`
	Source          SourceInfo `json:"source"`
	SimilarityScore float64    `json:"similarity_score"`
}
