package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// MockClient answers from the knowledge snippets embedded in the system
// prompt. It is used for local runs and tests.
type MockClient struct {
	// Delay simulates generator latency.
	Delay time.Duration
}

// NewMockClient creates a new mock client.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// CreateChatCompletion returns a canned reply built from the request.
func (m *MockClient) CreateChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error) {
	if m.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.Delay):
		}
	}

	content := mockReply(req)
	return &ChatCompletionResponse{
		ID:      fmt.Sprintf("mock-chatcmpl-%d", time.Now().UnixNano()),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []Choice{{
			Index:        0,
			Message:      &ChatMessage{Role: "assistant", Content: content},
			FinishReason: "stop",
		}},
		Usage: &Usage{
			PromptTokens:     estimateTokens(req),
			CompletionTokens: len(content) / 4,
			TotalTokens:      estimateTokens(req) + len(content)/4,
		},
	}, nil
}

// mockReply uses the first knowledge line ("- [id] Title: content") of the
// system prompt when there is one.
func mockReply(req *ChatCompletionRequest) string {
	for _, msg := range req.Messages {
		if msg.Role != "system" {
			continue
		}
		for _, line := range strings.Split(msg.Content, "\n") {
			if !strings.HasPrefix(line, "- [") {
				continue
			}
			end := strings.Index(line, "] ")
			if end < 0 {
				continue
			}
			title, content, ok := strings.Cut(line[end+2:], ": ")
			if !ok {
				continue
			}
			return fmt.Sprintf("Sobre %s: %s", strings.ToLower(title), content)
		}
	}
	return "Posso ajudar com serviços, uso do site ou problemas na sua conta. Pode me contar mais?"
}

func estimateTokens(req *ChatCompletionRequest) int {
	total := 0
	for _, msg := range req.Messages {
		total += len(msg.Content) / 4
	}
	return total
}
