// Package llm provides clients for OpenAI-compatible chat completion APIs.
package llm

import "context"

// Generator produces assistant completions.
type Generator interface {
	// CreateChatCompletion sends a single non-streaming completion request.
	CreateChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error)
}

var (
	_ Generator = (*Client)(nil)
	_ Generator = (*MockClient)(nil)
)
