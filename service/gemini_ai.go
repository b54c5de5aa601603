package service

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/tieubaoca/jwt-assistant-be/config"
	"github.com/tieubaoca/jwt-assistant-be/logger"
	"github.com/tieubaoca/jwt-assistant-be/types"
)

const (
	defaultGeminiModel = "gemini-2.5-flash"
	geminiRoleUser     = "user"
	geminiRoleModel    = "model"
)

// GeminiService calls Gemini, rotating to the next API key when a request
// fails.
type GeminiService struct {
	apiKeys     []string
	currentKey  int
	client      *genai.Client
	modelName   string
	temperature float32
	options     []option.ClientOption
	mu          sync.Mutex
}

func NewGeminiAdapter(cfg config.GeminiConfig, opts ...option.ClientOption) (*GeminiService, error) {
	keys := cfg.GeminiKeys()
	if len(keys) == 0 {
		return nil, errors.New("no API keys provided")
	}
	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}
	temperature := cfg.Temperature
	if temperature <= 0 {
		temperature = defaultTemperature
	}

	service := &GeminiService{
		apiKeys:     keys,
		modelName:   model,
		temperature: temperature,
		options:     opts,
	}
	if err := service.initClient(); err != nil {
		return nil, err
	}
	return service, nil
}

func (s *GeminiService) initClient() error {
	opts := append([]option.ClientOption{option.WithAPIKey(s.apiKeys[s.currentKey])}, s.options...)
	client, err := genai.NewClient(context.Background(), opts...)
	if err != nil {
		return err
	}
	s.client = client
	return nil
}

func (s *GeminiService) rotateAPIKey() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.currentKey = (s.currentKey + 1) % len(s.apiKeys)
	if err := s.client.Close(); err != nil {
		logger.L().Warnw("Failed to close gemini client", "error", err)
	}
	logger.L().Infow("Rotated gemini API key", "key_index", s.currentKey)
	return s.initClient()
}

func (s *GeminiService) Name() string {
	return ProviderGemini
}

// chat prepares a session whose history holds every message but the last,
// which is returned as the parts to send.
func (s *GeminiService) chat(messages []types.Message) (*genai.ChatSession, []genai.Part, error) {
	system, contents := ToGeminiContents(messages)
	if len(contents) == 0 || contents[len(contents)-1].Role != geminiRoleUser {
		return nil, nil, errors.New("conversation must end with a user message")
	}

	s.mu.Lock()
	model := s.client.GenerativeModel(s.modelName)
	s.mu.Unlock()
	model.SetTemperature(s.temperature)
	model.SystemInstruction = system

	session := model.StartChat()
	session.History = contents[:len(contents)-1]
	return session, contents[len(contents)-1].Parts, nil
}

func (s *GeminiService) Generate(ctx context.Context, messages []types.Message) (string, error) {
	session, parts, err := s.chat(messages)
	if err != nil {
		return "", err
	}
	resp, err := session.SendMessage(ctx, parts...)
	if err != nil && s.shouldRotate(ctx, err) {
		if rotateErr := s.rotateAPIKey(); rotateErr != nil {
			return "", rotateErr
		}
		if session, parts, err = s.chat(messages); err != nil {
			return "", err
		}
		resp, err = session.SendMessage(ctx, parts...)
	}
	if err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 {
		return "", errors.New("no response generated")
	}
	return responseText(resp), nil
}

func (s *GeminiService) GenerateStream(ctx context.Context, messages []types.Message, handler types.StreamHandler) error {
	session, parts, err := s.chat(messages)
	if err != nil {
		return streamFailure(handler, err)
	}
	iter := session.SendMessageStream(ctx, parts...)
	started, retried := false, false

	for {
		resp, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			// a fresh key is only worth trying before anything was delivered
			if started || retried || !s.shouldRotate(ctx, err) {
				return streamFailure(handler, err)
			}
			if rotateErr := s.rotateAPIKey(); rotateErr != nil {
				return streamFailure(handler, rotateErr)
			}
			if session, parts, err = s.chat(messages); err != nil {
				return streamFailure(handler, err)
			}
			iter = session.SendMessageStream(ctx, parts...)
			retried = true
			continue
		}

		text := responseText(resp)
		if text == "" {
			continue
		}
		started = true
		if err := handler(text); err != nil {
			return err
		}
	}
}

// shouldRotate reports whether a failed request is worth repeating with the
// next API key. Requests the caller cancelled never are.
func (s *GeminiService) shouldRotate(ctx context.Context, err error) bool {
	if len(s.apiKeys) < 2 || ctx.Err() != nil {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// ToGeminiContents converts messages to Gemini's format: system messages
// become the system instruction, assistant turns use the "model" role and
// consecutive turns of the same role are merged.
func ToGeminiContents(messages []types.Message) (*genai.Content, []*genai.Content) {
	var systemParts []string
	var contents []*genai.Content
	for _, msg := range messages {
		if msg.Role == types.RoleSystem {
			systemParts = append(systemParts, msg.Content)
			continue
		}
		role := geminiRoleUser
		if msg.Role == types.RoleAssistant {
			role = geminiRoleModel
		}
		if n := len(contents); n > 0 && contents[n-1].Role == role {
			contents[n-1].Parts = append(contents[n-1].Parts, genai.Text(msg.Content))
			continue
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(msg.Content)},
		})
	}

	var system *genai.Content
	if len(systemParts) > 0 {
		system = &genai.Content{Parts: []genai.Part{genai.Text(strings.Join(systemParts, "\n\n"))}}
	}
	return system, contents
}

func responseText(resp *genai.GenerateContentResponse) string {
	var content strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				content.WriteString(string(text))
			}
		}
	}
	return content.String()
}
