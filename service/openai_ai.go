package service

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/tieubaoca/jwt-assistant-be/config"
	"github.com/tieubaoca/jwt-assistant-be/logger"
	"github.com/tieubaoca/jwt-assistant-be/types"
)

const (
	GroqBaseURL = "https://api.groq.com/openai/v1"

	defaultOpenAIModel  = "gpt-3.5-turbo"
	defaultGroqModel    = "llama-3.1-8b-instant"
	defaultOllamaHost   = "http://localhost:11434"
	defaultOllamaModel  = "llama3.2:3b"
	defaultTemperature  = 0.3
	defaultGroqMaxToken = 2048
)

// OpenAIService talks to any OpenAI compatible chat completion endpoint:
// OpenAI itself, Groq and Ollama.
type OpenAIService struct {
	name        string
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
}

func NewOpenAIService(name, baseURL, apiKey, model string, temperature float32, maxTokens int) *OpenAIService {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIService{
		name:        name,
		client:      openai.NewClientWithConfig(cfg),
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
	}
}

func NewOpenAIAdapter(cfg config.OpenAIConfig) (*OpenAIService, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key is not configured")
	}
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	return NewOpenAIService(ProviderOpenAI, cfg.BaseURL, cfg.APIKey, model, defaultTemperature, 0), nil
}

func NewGroqAdapter(cfg config.GroqConfig) (*OpenAIService, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("groq api key is not configured")
	}
	model := cfg.Model
	if model == "" {
		model = defaultGroqModel
	}
	temperature := cfg.Temperature
	if temperature <= 0 {
		temperature = defaultTemperature
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultGroqMaxToken
	}
	return NewOpenAIService(ProviderGroq, GroqBaseURL, cfg.APIKey, model, temperature, maxTokens), nil
}

// NewOllamaAdapter uses the OpenAI compatible API Ollama serves under /v1.
func NewOllamaAdapter(cfg config.OllamaConfig) *OpenAIService {
	host := strings.TrimRight(cfg.Host, "/")
	if host == "" {
		host = defaultOllamaHost
	}
	model := cfg.Model
	if model == "" {
		model = defaultOllamaModel
	}
	temperature := cfg.Temperature
	if temperature <= 0 {
		temperature = defaultTemperature
	}
	return NewOpenAIService(ProviderOllama, host+"/v1", "ollama", model, temperature, cfg.NumPredict)
}

func (s *OpenAIService) Name() string {
	return s.name
}

func (s *OpenAIService) request(messages []types.Message, stream bool) openai.ChatCompletionRequest {
	openaiMessages := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		openaiMessages = append(openaiMessages, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}
	return openai.ChatCompletionRequest{
		Model:       s.model,
		Messages:    openaiMessages,
		Temperature: s.temperature,
		MaxTokens:   s.maxTokens,
		Stream:      stream,
	}
}

func (s *OpenAIService) Generate(ctx context.Context, messages []types.Message) (string, error) {
	resp, err := s.client.CreateChatCompletion(ctx, s.request(messages, false))
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no response generated")
	}
	return resp.Choices[0].Message.Content, nil
}

func (s *OpenAIService) GenerateStream(ctx context.Context, messages []types.Message, handler types.StreamHandler) error {
	stream, err := s.client.CreateChatCompletionStream(ctx, s.request(messages, true))
	if err != nil {
		return streamFailure(handler, err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			logger.L().Errorw("Error receiving response from stream", "provider", s.name, "error", err)
			return streamFailure(handler, err)
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
			continue
		}
		if err := handler(resp.Choices[0].Delta.Content); err != nil {
			return err
		}
	}
}

// Warmup loads the model so the first real question is not slowed down by
// a cold start.
func (s *OpenAIService) Warmup(ctx context.Context) error {
	req := s.request([]types.Message{{Role: types.RoleUser, Content: "Hi"}}, false)
	req.MaxTokens = 1
	if _, err := s.client.CreateChatCompletion(ctx, req); err != nil {
		return err
	}
	logger.L().Infow("Model warmed up", "provider", s.name, "model", s.model)
	return nil
}
