package service

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tieubaoca/jwt-assistant-be/logger"
	"github.com/tieubaoca/jwt-assistant-be/types"
)

const (
	DefaultSessionMaxAge        = 60 * time.Minute
	DefaultSessionSweepInterval = 30 * time.Minute
)

type chatSession struct {
	id           string
	createdAt    time.Time
	lastAccessed time.Time
	messages     []types.Message
	tokenContext *types.TokenContext

	// held for the whole of one question/answer turn
	turn sync.Mutex
}

// SessionManager keeps the in-memory conversation state of every live
// connection. Every read or write of a session refreshes its last access
// time.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*chatSession
	now      func() time.Time
}

func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*chatSession),
		now:      time.Now,
	}
}

// CreateSession registers a session under key and returns its id. An empty
// key gets a fresh random id; an existing key returns the existing session.
func (m *SessionManager) CreateSession(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if key == "" {
		key = uuid.NewString()
	}
	if s, ok := m.sessions[key]; ok {
		s.lastAccessed = m.now().UTC()
		return key
	}
	now := m.now().UTC()
	m.sessions[key] = &chatSession{
		id:           key,
		createdAt:    now,
		lastAccessed: now,
	}
	logger.L().Debugw("Created session", "session_id", key)
	return key
}

// GetSession reports whether the session exists, refreshing it if so.
func (m *SessionManager) GetSession(id string) bool {
	_, ok := m.touch(id)
	return ok
}

func (m *SessionManager) AddUserMessage(id, content string) error {
	return m.addMessage(id, types.RoleUser, content)
}

func (m *SessionManager) AddAssistantMessage(id, content string) error {
	return m.addMessage(id, types.RoleAssistant, content)
}

func (m *SessionManager) addMessage(id, role, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	s.lastAccessed = m.now().UTC()
	s.messages = append(s.messages, types.Message{Role: role, Content: content})
	return nil
}

// Messages returns a copy of the session history, or nil if the session
// does not exist.
func (m *SessionManager) Messages(id string) []types.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil
	}
	s.lastAccessed = m.now().UTC()
	return append([]types.Message(nil), s.messages...)
}

// HistoryExcludingLatest returns the history to replay to a provider: the
// in-flight user message, when it is the last one, is left out since the
// caller sends it separately.
func (m *SessionManager) HistoryExcludingLatest(id string) []types.Message {
	messages := m.Messages(id)
	if n := len(messages); n > 0 && messages[n-1].Role == types.RoleUser {
		messages = messages[:n-1]
	}
	return messages
}

func (m *SessionManager) SetTokenContext(id string, tc *types.TokenContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	s.lastAccessed = m.now().UTC()
	s.tokenContext = tc
	return nil
}

func (m *SessionManager) TokenContext(id string) *types.TokenContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil
	}
	s.lastAccessed = m.now().UTC()
	return s.tokenContext
}

// BeginTurn blocks until no other turn is in flight on the session. The
// returned release must be called when the turn is over.
func (m *SessionManager) BeginTurn(id string) (release func(), err error) {
	s, ok := m.touch(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	s.turn.Lock()
	var once sync.Once
	return func() { once.Do(s.turn.Unlock) }, nil
}

// DeleteSession drops the session and its history. It reports whether
// anything was deleted.
func (m *SessionManager) DeleteSession(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return false
	}
	s.messages = nil
	s.tokenContext = nil
	delete(m.sessions, id)
	logger.L().Debugw("Deleted session", "session_id", id)
	return true
}

// DeleteAll drops every session and returns how many there were.
func (m *SessionManager) DeleteAll() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.sessions)
	clear(m.sessions)
	return n
}

// CleanupOldSessions removes sessions idle for longer than maxAge and
// returns how many were removed.
func (m *SessionManager) CleanupOldSessions(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	removed := 0
	for id, s := range m.sessions {
		if now.Sub(s.lastAccessed) > maxAge {
			delete(m.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		logger.L().Infow("Cleaned up idle sessions", "count", removed)
	}
	return removed
}

// RunSweeper calls CleanupOldSessions every interval until ctx is done.
func (m *SessionManager) RunSweeper(ctx context.Context, interval, maxAge time.Duration) {
	if interval <= 0 {
		interval = DefaultSessionSweepInterval
	}
	if maxAge <= 0 {
		maxAge = DefaultSessionMaxAge
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CleanupOldSessions(maxAge)
		}
	}
}

func (m *SessionManager) SessionInfo(id string) (types.SessionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return types.SessionInfo{}, ErrSessionNotFound
	}
	return infoOf(s), nil
}

func (m *SessionManager) AllSessionInfo() []types.SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, infoOf(s))
	}
	slices.SortFunc(out, func(a, b types.SessionInfo) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.SessionID, b.SessionID)
	})
	return out
}

func (m *SessionManager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *SessionManager) touch(id string) (*chatSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if ok {
		s.lastAccessed = m.now().UTC()
	}
	return s, ok
}

func infoOf(s *chatSession) types.SessionInfo {
	return types.SessionInfo{
		SessionID:     s.id,
		CreatedAt:     s.createdAt,
		LastAccessed:  s.lastAccessed,
		MessageCount:  len(s.messages),
		HasJWTContext: s.tokenContext != nil,
	}
}
