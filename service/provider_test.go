package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tieubaoca/jwt-assistant-be/config"
	"github.com/tieubaoca/jwt-assistant-be/types"
)

func TestSelectProviderName(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.LLMConfig
		want string
	}{
		{"explicit", config.LLMConfig{Provider: "Gemini", UsePaidLLM: false}, ProviderGemini},
		{"paid disabled", config.LLMConfig{UsePaidLLM: false, Groq: config.GroqConfig{APIKey: "g"}}, ProviderOllama},
		{"groq first", config.LLMConfig{UsePaidLLM: true, Groq: config.GroqConfig{APIKey: "g"}, Gemini: config.GeminiConfig{APIKey: "k"}}, ProviderGroq},
		{"gemini", config.LLMConfig{UsePaidLLM: true, Gemini: config.GeminiConfig{APIKeys: []string{"k"}}, OpenAI: config.OpenAIConfig{APIKey: "o"}}, ProviderGemini},
		{"openai", config.LLMConfig{UsePaidLLM: true, OpenAI: config.OpenAIConfig{APIKey: "o"}}, ProviderOpenAI},
		{"no keys", config.LLMConfig{UsePaidLLM: true}, ProviderMock},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SelectProviderName(tt.cfg))
		})
	}
}

func TestProviderRegistry(t *testing.T) {
	r := NewDefaultProviderRegistry()
	assert.Equal(t, []string{"gemini", "groq", "mock", "ollama", "openai"}, r.Names())

	mock, err := r.Build("MOCK", config.LLMConfig{})
	require.NoError(t, err)
	assert.Equal(t, ProviderMock, mock.Name())

	ollama, err := r.Build(ProviderOllama, config.LLMConfig{})
	require.NoError(t, err)
	assert.Equal(t, ProviderOllama, ollama.Name())

	_, err = r.Build("unknown", config.LLMConfig{})
	assert.ErrorIs(t, err, ErrUnknownProvider)

	_, err = r.Build(ProviderGroq, config.LLMConfig{})
	assert.Error(t, err)
	_, err = r.Build(ProviderGemini, config.LLMConfig{})
	assert.Error(t, err)

	r.Register("custom", func(config.LLMConfig) (ProviderAdapter, error) { return NewMockAdapter(0), nil })
	assert.Contains(t, r.Names(), "custom")
}

func TestMockAdapter(t *testing.T) {
	p := NewPromptAssembler()
	messages := p.BuildMessages("what is alg?", hs256Context, nil, nil, nil)
	mock := NewMockAdapter(0)

	answer, err := mock.Generate(context.Background(), messages)
	require.NoError(t, err)
	assert.Equal(t, "This is a MOCK response from the local backend.\n\n"+
		"I see you are asking about: what is alg?\n\n"+
		"Based on the token, the algorithm is: HS256", answer)

	var streamed strings.Builder
	require.NoError(t, mock.GenerateStream(context.Background(), messages, func(fragment string) error {
		streamed.WriteString(fragment)
		return nil
	}))
	assert.Equal(t, answer, streamed.String())
}

func TestToGeminiContents(t *testing.T) {
	system, contents := ToGeminiContents([]types.Message{
		{Role: types.RoleSystem, Content: "policy"},
		{Role: types.RoleUser, Content: "Token Context"},
		{Role: types.RoleAssistant, Content: "ack"},
		{Role: types.RoleUser, Content: "first"},
		{Role: types.RoleUser, Content: "second"},
	})

	require.NotNil(t, system)
	assert.Equal(t, []genai.Part{genai.Text("policy")}, system.Parts)
	require.Len(t, contents, 3)
	assert.Equal(t, "user", contents[0].Role)
	assert.Equal(t, "model", contents[1].Role)
	assert.Equal(t, []genai.Part{genai.Text("first"), genai.Text("second")}, contents[2].Parts)
}

func TestNewGeminiAdapter_RequiresKey(t *testing.T) {
	_, err := NewGeminiAdapter(config.GeminiConfig{})
	assert.Error(t, err)
}

func TestGeminiService_ShouldRotate(t *testing.T) {
	svc := &GeminiService{apiKeys: []string{"k1", "k2"}}
	ctx := context.Background()

	assert.True(t, svc.shouldRotate(ctx, errors.New("quota exceeded")))
	assert.False(t, svc.shouldRotate(ctx, context.Canceled))
	assert.False(t, svc.shouldRotate(ctx, fmt.Errorf("send: %w", context.DeadlineExceeded)))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.False(t, svc.shouldRotate(cancelled, errors.New("transport closed")))

	single := &GeminiService{apiKeys: []string{"k1"}}
	assert.False(t, single.shouldRotate(ctx, errors.New("quota exceeded")))
}

func TestGeminiService_CancelledRequestKeepsKey(t *testing.T) {
	svc, err := NewGeminiAdapter(config.GeminiConfig{APIKeys: []string{"k1", "k2", "k3"}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = svc.Generate(ctx, []types.Message{{Role: types.RoleUser, Content: "hi"}})
	require.Error(t, err)
	assert.Equal(t, 0, svc.currentKey)
}

func newChatServer(t *testing.T, handler http.HandlerFunc) *OpenAIService {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewOpenAIService("test", server.URL+"/v1", "key", "test-model", 0.3, 64)
}

func TestOpenAIService_Generate(t *testing.T) {
	var got map[string]any
	svc := newChatServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"The token is expired."},"finish_reason":"stop"}]}`)
	})

	answer, err := svc.Generate(context.Background(), []types.Message{
		{Role: types.RoleSystem, Content: "policy"},
		{Role: types.RoleUser, Content: "Is it expired?"},
	})
	require.NoError(t, err)
	assert.Equal(t, "The token is expired.", answer)
	assert.Equal(t, "test-model", got["model"])
	assert.EqualValues(t, 64, got["max_tokens"])
	messages := got["messages"].([]any)
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].(map[string]any)["role"])
}

func TestOpenAIService_GenerateStream(t *testing.T) {
	svc := newChatServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, piece := range []string{"The ", "token ", "is valid."} {
			fmt.Fprintf(w, "data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", piece)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	var fragments []string
	err := svc.GenerateStream(context.Background(), []types.Message{{Role: types.RoleUser, Content: "q"}}, func(fragment string) error {
		fragments = append(fragments, fragment)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"The ", "token ", "is valid."}, fragments)
}

func TestOpenAIService_StreamErrorIsTerminalFragment(t *testing.T) {
	svc := newChatServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"rate limited","type":"rate_limit"}}`)
	})

	var fragments []string
	err := svc.GenerateStream(context.Background(), []types.Message{{Role: types.RoleUser, Content: "q"}}, func(fragment string) error {
		fragments = append(fragments, fragment)
		return nil
	})
	require.Error(t, err)
	require.Len(t, fragments, 1)
	assert.True(t, strings.HasPrefix(fragments[0], "Error: "))
	assert.Contains(t, fragments[0], "rate limited")
}

func TestOpenAIService_StreamStopsWhenHandlerFails(t *testing.T) {
	svc := newChatServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"a\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"b\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})
	gone := errors.New("client gone")

	calls := 0
	err := svc.GenerateStream(context.Background(), []types.Message{{Role: types.RoleUser, Content: "q"}}, func(string) error {
		calls++
		return gone
	})
	assert.ErrorIs(t, err, gone)
	assert.Equal(t, 1, calls)
}
