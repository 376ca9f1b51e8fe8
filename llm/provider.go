// Package llm defines the chat model provider interface used by the
// reasoning stage.
package llm

import (
	"context"
	"time"

	"github.com/BaSui01/voiceflow/types"
)

// ChatRequest is a chat completion request.
type ChatRequest struct {
	Model       string          `json:"model,omitempty"`
	Messages    []types.Message `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
	Stop        []string        `json:"stop,omitempty"`
}

// ChatResponse is a complete (non-streamed) chat completion.
type ChatResponse struct {
	ID           string        `json:"id"`
	Provider     string        `json:"provider"`
	Model        string        `json:"model"`
	Message      types.Message `json:"message"`
	FinishReason string        `json:"finish_reason,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// StreamChunk is one delta of a streamed chat completion. Err is set on
// the final chunk when the stream fails.
type StreamChunk struct {
	ID           string        `json:"id"`
	Provider     string        `json:"provider"`
	Model        string        `json:"model"`
	Delta        types.Message `json:"delta"`
	FinishReason string        `json:"finish_reason,omitempty"`
	Err          error         `json:"-"`
}

// Provider is a chat completion backend.
type Provider interface {
	// Completion performs a blocking chat completion.
	Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Stream performs a streaming chat completion. The channel is closed
	// when the stream ends; cancelling ctx abandons the generation.
	Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error)

	// Name returns the provider name.
	Name() string
}
