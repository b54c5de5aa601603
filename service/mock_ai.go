package service

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/tieubaoca/jwt-assistant-be/types"
)

var algorithmRe = regexp.MustCompile(`"alg":\s*"([^"]*)"`)

// MockService answers without any model so the backend can run without
// credentials.
type MockService struct {
	delay time.Duration
}

func NewMockAdapter(delay time.Duration) *MockService {
	return &MockService{delay: delay}
}

func (s *MockService) Name() string {
	return ProviderMock
}

func (s *MockService) Generate(ctx context.Context, messages []types.Message) (string, error) {
	if err := sleepContext(ctx, s.delay); err != nil {
		return "", err
	}
	return mockAnswer(messages), nil
}

// GenerateStream sends the mock answer word by word.
func (s *MockService) GenerateStream(ctx context.Context, messages []types.Message, handler types.StreamHandler) error {
	words := strings.SplitAfter(mockAnswer(messages), " ")
	for _, word := range words {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := handler(word); err != nil {
			return err
		}
	}
	return nil
}

func mockAnswer(messages []types.Message) string {
	question := ""
	if n := len(messages); n > 0 {
		question = messages[n-1].Content
	}
	algorithm := "None"
	for _, msg := range messages {
		if msg.Role != types.RoleUser || !strings.HasPrefix(msg.Content, "Token Context:") {
			continue
		}
		if m := algorithmRe.FindStringSubmatch(msg.Content); m != nil {
			algorithm = m[1]
		}
		break
	}
	return "This is a MOCK response from the local backend.\n\n" +
		"I see you are asking about: " + question + "\n\n" +
		"Based on the token, the algorithm is: " + algorithm
}
