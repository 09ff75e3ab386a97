package llm

import (
	"context"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type CompletionRequest struct {
	Messages    []Message
	Model       string
	MaxTokens   int
	Temperature float32
}

// StreamChunk is one fragment of a streamed completion. A chunk with Err set
// is the last value sent on the channel.
type StreamChunk struct {
	Content string
	Done    bool
	Err     error
}

type AIProvider interface {
	Complete(ctx context.Context, req CompletionRequest) (Message, error)
	StreamComplete(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error)
}

// UserPrompt builds the single-turn request forwarded upstream.
func UserPrompt(content, model string, maxTokens int, temperature float32) CompletionRequest {
	return CompletionRequest{
		Messages:    []Message{{Role: RoleUser, Content: content}},
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
}

const RoleUser = "user"
