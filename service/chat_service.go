package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/tieubaoca/jwt-assistant-be/config"
	"github.com/tieubaoca/jwt-assistant-be/logger"
	"github.com/tieubaoca/jwt-assistant-be/types"
	"github.com/tieubaoca/jwt-assistant-be/utils"
)

// EmitFunc delivers one event to a streaming client. An error means the
// client is gone.
type EmitFunc func(types.Event) error

// AskService answers questions about a token. It combines the session
// history, knowledge base excerpts and similar past answers into one
// provider request.
type AskService struct {
	codec    *utils.TokenCodec
	sessions *SessionManager
	limiter  *RateLimiter
	index    *VectorIndex
	qa       *QAStore
	prompts  *PromptAssembler
	provider ProviderAdapter
	rag      config.RAGConfig
	pacing   time.Duration
}

func NewAskService(
	codec *utils.TokenCodec,
	sessions *SessionManager,
	limiter *RateLimiter,
	index *VectorIndex,
	qa *QAStore,
	provider ProviderAdapter,
	rag config.RAGConfig,
	pacing time.Duration,
) *AskService {
	if rag.TopK <= 0 {
		rag.TopK = 5
	}
	if rag.QATopK <= 0 {
		rag.QATopK = DefaultQATopK
	}
	if rag.QAMinSimilarity <= 0 {
		rag.QAMinSimilarity = DefaultQAMinSimilarity
	}
	return &AskService{
		codec:    codec,
		sessions: sessions,
		limiter:  limiter,
		index:    index,
		qa:       qa,
		prompts:  NewPromptAssembler(),
		provider: provider,
		rag:      rag,
		pacing:   pacing,
	}
}

func (s *AskService) Provider() ProviderAdapter {
	return s.provider
}

func (s *AskService) Sessions() *SessionManager {
	return s.sessions
}

// RAGEnabled reports whether questions are answered with knowledge base
// context.
func (s *AskService) RAGEnabled() bool {
	return s.rag.Enabled && s.index.Enabled()
}

type askTurn struct {
	sessionID    string
	question     string
	tokenContext *types.TokenContext
	knowledge    []types.QueryResult
	similarQA    []types.SimilarQA
	messages     []types.Message
	rateInfo     *types.RateLimitInfo
	release      func()
}

func (t *askTurn) contextUsed() []string {
	used := make([]string, 0, len(t.knowledge))
	for _, r := range t.knowledge {
		used = append(used, r.Content)
	}
	return used
}

func (t *askTurn) sources() []types.ContextSource {
	sources := make([]types.ContextSource, 0, len(t.knowledge))
	for _, r := range t.knowledge {
		sources = append(sources, types.ContextSource{
			Content:         r.Content,
			ContentPreview:  r.ContentPreview,
			Source:          r.Source,
			SimilarityScore: r.SimilarityScore,
		})
	}
	return sources
}

// Ask answers in one piece. Generation failures are returned as the answer
// text so the caller always gets a response.
func (s *AskService) Ask(ctx context.Context, in types.AskInput) (*types.AskResponse, error) {
	turn, err := s.begin(ctx, in)
	if err != nil {
		return nil, err
	}
	defer turn.release()

	answer, err := s.provider.Generate(ctx, turn.messages)
	if err != nil {
		logger.L().Errorw("Failed to generate answer",
			"provider", s.provider.Name(),
			"session_id", turn.sessionID,
			"error", err,
		)
		answer = "Error: " + err.Error()
		s.abandon(turn, answer, err)
	} else {
		s.finish(ctx, turn, answer)
	}

	return &types.AskResponse{
		Answer:      answer,
		ContextUsed: turn.contextUsed(),
		Sources:     turn.sources(),
		SessionID:   turn.sessionID,
	}, nil
}

// Stream answers fragment by fragment through emit. Failures are reported
// as rate_limit or error events; the returned error is only non-nil when
// emit itself failed or ctx was cancelled.
func (s *AskService) Stream(ctx context.Context, in types.AskInput, emit EmitFunc) error {
	turn, err := s.begin(ctx, in)
	if err != nil {
		var limitErr *RateLimitError
		if errors.As(err, &limitErr) {
			return emit(types.NewEvent(types.EventRateLimit, limitErr.Payload()))
		}
		return emit(errorEvent("Failed to process question", err))
	}
	defer turn.release()

	info, _ := s.sessions.SessionInfo(turn.sessionID)
	if err := emit(types.NewEvent(types.EventSessionInfo, map[string]any{
		"session_id":      turn.sessionID,
		"message_count":   info.MessageCount,
		"has_jwt_context": info.HasJWTContext,
		"rate_limit":      turn.rateInfo,
	})); err != nil {
		return err
	}
	if err := emit(s.ragEvent(turn)); err != nil {
		return err
	}
	if err := emit(types.NewEvent(types.EventStreamStart, map[string]any{
		"provider": s.provider.Name(),
	})); err != nil {
		return err
	}

	var pacer *rate.Limiter
	if s.pacing > 0 {
		pacer = rate.NewLimiter(rate.Every(s.pacing), 1)
	}

	var full strings.Builder
	count := 0
	var emitErr error
	genErr := s.provider.GenerateStream(ctx, turn.messages, func(fragment string) error {
		if fragment == "" {
			return nil
		}
		if pacer != nil {
			if err := pacer.Wait(ctx); err != nil {
				emitErr = err
				return err
			}
		}
		full.WriteString(fragment)
		count++
		if err := emit(types.NewEvent(types.EventChunk, map[string]any{
			"content":           fragment,
			"token_number":      count,
			"cumulative_length": len([]rune(full.String())),
		})); err != nil {
			emitErr = err
			return err
		}
		return nil
	})
	if emitErr != nil {
		logger.L().Infow("Stream consumer went away", "session_id", turn.sessionID, "error", emitErr)
		s.abandon(turn, full.String(), emitErr)
		return emitErr
	}
	if genErr != nil {
		logger.L().Errorw("Streaming failed",
			"provider", s.provider.Name(),
			"session_id", turn.sessionID,
			"error", genErr,
		)
		s.abandon(turn, full.String(), genErr)
		if err := ctx.Err(); err != nil {
			return err
		}
		return emit(errorEvent("Streaming failed", genErr))
	}

	answer := full.String()
	s.finish(ctx, turn, answer)
	return emit(types.NewEvent(types.EventComplete, map[string]any{
		"full_response": answer,
		"token_count":   count,
		"context_used":  turn.contextUsed(),
		"sources":       turn.sources(),
		"session_id":    turn.sessionID,
	}))
}

func (s *AskService) ragEvent(turn *askTurn) types.Event {
	if !s.RAGEnabled() {
		return types.NewEvent(types.EventRAG, map[string]any{
			"status":  "disabled",
			"message": "RAG is not enabled",
		})
	}
	return types.NewEvent(types.EventRAG, map[string]any{
		"status":    "retrieved",
		"doc_count": len(turn.knowledge),
		"qa_count":  len(turn.similarQA),
	})
}

// begin admits the request, records the question in its session and
// prepares the provider messages. The session turn stays held until
// release is called.
func (s *AskService) begin(ctx context.Context, in types.AskInput) (*askTurn, error) {
	question := strings.TrimSpace(in.Question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	sessionID, created := s.resolveSession(in)
	rateInfo, err := s.limiter.CheckAndRecord(types.ClientKey{IP: in.ClientIP, SessionID: sessionID})
	if err != nil {
		if created {
			s.sessions.DeleteSession(sessionID)
		}
		logger.L().Warnw("Request rate limited", "ip", in.ClientIP, "session_id", sessionID, "error", err)
		return nil, err
	}

	release, err := s.sessions.BeginTurn(sessionID)
	if err != nil {
		return nil, err
	}

	var tc *types.TokenContext
	if strings.TrimSpace(in.Token) != "" {
		decoded := s.codec.Context(in.Token)
		tc = &decoded
		if err := s.sessions.SetTokenContext(sessionID, tc); err != nil {
			release()
			return nil, err
		}
	}
	if err := s.sessions.AddUserMessage(sessionID, question); err != nil {
		release()
		return nil, err
	}
	history := s.sessions.HistoryExcludingLatest(sessionID)

	knowledge, similarQA := s.retrieve(ctx, question)
	return &askTurn{
		sessionID:    sessionID,
		question:     question,
		tokenContext: tc,
		knowledge:    knowledge,
		similarQA:    similarQA,
		messages:     s.prompts.BuildMessages(question, tc, knowledge, similarQA, history),
		rateInfo:     rateInfo,
		release:      release,
	}, nil
}

// resolveSession reuses a live session or opens a new one. The history the
// client sent along only seeds a session that has none yet; after that the
// session's own memory wins.
func (s *AskService) resolveSession(in types.AskInput) (string, bool) {
	id, created := in.SessionID, false
	if id == "" || !s.sessions.GetSession(id) {
		id, created = s.sessions.CreateSession(""), true
	}
	if len(s.sessions.Messages(id)) > 0 {
		return id, created
	}
	for _, msg := range in.History {
		switch msg.Role {
		case types.RoleUser:
			_ = s.sessions.AddUserMessage(id, msg.Content)
		case types.RoleAssistant:
			_ = s.sessions.AddAssistantMessage(id, msg.Content)
		}
	}
	return id, created
}

// retrieve gathers knowledge base excerpts and similar past answers.
// Retrieval failures only cost the extra context.
func (s *AskService) retrieve(ctx context.Context, question string) ([]types.QueryResult, []types.SimilarQA) {
	if !s.RAGEnabled() {
		return nil, nil
	}

	var knowledge []types.QueryResult
	results, err := s.index.Query(ctx, question, s.rag.TopK, types.KnowledgeCollection, nil)
	if err != nil {
		logger.L().Warnw("Knowledge retrieval failed", "error", err)
	} else {
		knowledge = DedupeResults(results)
	}

	var similarQA []types.SimilarQA
	if s.rag.QALearning {
		similarQA, err = s.qa.RetrieveSimilarQA(ctx, question, s.rag.QATopK, s.rag.QAMinSimilarity)
		if err != nil {
			logger.L().Warnw("Similar QA retrieval failed", "error", err)
			similarQA = nil
		}
	}
	return knowledge, similarQA
}

// finish records the answer in the session and, with QA learning on, keeps
// the exchange for future questions.
func (s *AskService) finish(ctx context.Context, turn *askTurn, answer string) {
	if err := s.sessions.AddAssistantMessage(turn.sessionID, answer); err != nil {
		logger.L().Debugw("Session closed before the answer was recorded", "session_id", turn.sessionID)
	}
	if !s.rag.QALearning || !s.qa.Enabled() || strings.TrimSpace(answer) == "" {
		return
	}
	extra := map[string]any{"session_id": turn.sessionID}
	if err := s.qa.StoreQAPair(ctx, turn.question, answer, turn.tokenContext, turn.sources(), extra); err != nil {
		logger.L().Warnw("Failed to store QA pair", "session_id", turn.sessionID, "error", err)
	}
}

// abandon closes a failed turn with an assistant message so the session
// history keeps alternating roles. Failed answers never feed QA learning.
func (s *AskService) abandon(turn *askTurn, partial string, cause error) {
	answer := partial
	if strings.TrimSpace(answer) == "" {
		answer = "Error: " + cause.Error()
	}
	if err := s.sessions.AddAssistantMessage(turn.sessionID, answer); err != nil {
		logger.L().Debugw("Session closed before the failure was recorded", "session_id", turn.sessionID)
	}
}

func errorEvent(title string, err error) types.Event {
	return types.NewEvent(types.EventError, map[string]any{
		"error":   title,
		"details": err.Error(),
	})
}

// IsClientError reports whether err was caused by the request itself rather
// than the server.
func IsClientError(err error) bool {
	return errors.Is(err, ErrEmptyQuestion)
}
