package service

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/tieubaoca/jwt-assistant-be/config"
	"github.com/tieubaoca/jwt-assistant-be/logger"
	"github.com/tieubaoca/jwt-assistant-be/types"
)

const (
	ProviderOpenAI = "openai"
	ProviderGroq   = "groq"
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
	ProviderMock   = "mock"
)

// ProviderAdapter generates answers from a prepared message list. Both forms
// produce the same content; GenerateStream delivers it in fragments and, on
// failure, sends a final "Error: ..." fragment before returning the error.
type ProviderAdapter interface {
	Name() string
	Generate(ctx context.Context, messages []types.Message) (string, error)
	GenerateStream(ctx context.Context, messages []types.Message, handler types.StreamHandler) error
}

// Warmer is implemented by providers that benefit from a first request at
// startup.
type Warmer interface {
	Warmup(ctx context.Context) error
}

type ProviderFactory func(cfg config.LLMConfig) (ProviderAdapter, error)

// ProviderRegistry maps provider names to factories.
type ProviderRegistry struct {
	mu        sync.RWMutex
	factories map[string]ProviderFactory
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{factories: make(map[string]ProviderFactory)}
}

// NewDefaultProviderRegistry knows every built-in provider.
func NewDefaultProviderRegistry() *ProviderRegistry {
	r := NewProviderRegistry()
	r.Register(ProviderOpenAI, func(cfg config.LLMConfig) (ProviderAdapter, error) {
		return NewOpenAIAdapter(cfg.OpenAI)
	})
	r.Register(ProviderGroq, func(cfg config.LLMConfig) (ProviderAdapter, error) {
		return NewGroqAdapter(cfg.Groq)
	})
	r.Register(ProviderGemini, func(cfg config.LLMConfig) (ProviderAdapter, error) {
		return NewGeminiAdapter(cfg.Gemini)
	})
	r.Register(ProviderOllama, func(cfg config.LLMConfig) (ProviderAdapter, error) {
		return NewOllamaAdapter(cfg.Ollama), nil
	})
	r.Register(ProviderMock, func(config.LLMConfig) (ProviderAdapter, error) {
		return NewMockAdapter(0), nil
	})
	return r
}

func (r *ProviderRegistry) Register(name string, factory ProviderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToLower(name)] = factory
}

func (r *ProviderRegistry) Build(name string, cfg config.LLMConfig) (ProviderAdapter, error) {
	r.mu.RLock()
	factory, ok := r.factories[strings.ToLower(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	provider, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s provider: %w", name, err)
	}
	return provider, nil
}

func (r *ProviderRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// SelectProviderName picks the configured provider, or chooses one from the
// available credentials: local ollama when paid providers are off, then
// groq, gemini and openai, falling back to the mock.
func SelectProviderName(cfg config.LLMConfig) string {
	if cfg.Provider != "" {
		return strings.ToLower(cfg.Provider)
	}
	switch {
	case !cfg.UsePaidLLM:
		return ProviderOllama
	case cfg.Groq.APIKey != "":
		return ProviderGroq
	case len(cfg.Gemini.GeminiKeys()) > 0:
		return ProviderGemini
	case cfg.OpenAI.APIKey != "":
		return ProviderOpenAI
	default:
		logger.L().Warnw("No LLM credentials configured, using the mock provider")
		return ProviderMock
	}
}

// streamFailure delivers err as the terminal fragment of a stream.
func streamFailure(handler types.StreamHandler, err error) error {
	if handler != nil {
		_ = handler("Error: " + err.Error())
	}
	return err
}
