package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
)

type GeminiProvider struct {
	client         *genai.Client
	retry          RetryPolicy
	attemptTimeout time.Duration
}

func NewGeminiAIProvider(client *genai.Client, retry RetryPolicy, attemptTimeout time.Duration) *GeminiProvider {
	return &GeminiProvider{client: client, retry: retry, attemptTimeout: attemptTimeout}
}

func (p *GeminiProvider) Complete(ctx context.Context, req CompletionRequest) (Message, error) {
	model := p.model(req)
	return Retry(ctx, p.retry, "gemini.complete", func(ctx context.Context) (Message, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, p.attemptTimeout)
		defer cancel()

		res, err := model.GenerateContent(attemptCtx, p.extractParts(req.Messages)...)
		if err != nil {
			return Message{}, err
		}
		content := candidateText(res)
		if content == "" {
			return Message{}, ErrEmptyResponse
		}
		return Message{Role: "assistant", Content: content}, nil
	})
}

// StreamComplete has no separate open step in the genai client, so only the
// first response is retried.
func (p *GeminiProvider) StreamComplete(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	model := p.model(req)

	type opened struct {
		iter  *genai.GenerateContentResponseIterator
		first *genai.GenerateContentResponse
	}
	o, err := Retry(ctx, p.retry, "gemini.stream", func(ctx context.Context) (opened, error) {
		iter := model.GenerateContentStream(ctx, p.extractParts(req.Messages)...)
		first, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return opened{}, ErrEmptyResponse
		}
		if err != nil {
			return opened{}, err
		}
		return opened{iter: iter, first: first}, nil
	})
	if err != nil {
		return nil, err
	}

	chunks := make(chan StreamChunk)

	go func() {
		defer close(chunks)

		resp := o.first
		received := false
		for {
			if text := candidateText(resp); text != "" {
				received = true
				if !send(ctx, chunks, StreamChunk{Content: text}) {
					return
				}
			}

			var err error
			resp, err = o.iter.Next()
			if errors.Is(err, iterator.Done) {
				if !received {
					send(ctx, chunks, StreamChunk{Err: ErrEmptyResponse})
					return
				}
				send(ctx, chunks, StreamChunk{Done: true})
				return
			}
			if err != nil {
				send(ctx, chunks, StreamChunk{Err: midStreamError(err)})
				return
			}
		}
	}()

	return chunks, nil
}

// -----------------Private Helper Functions-----------------

func (p *GeminiProvider) model(req CompletionRequest) *genai.GenerativeModel {
	model := p.client.GenerativeModel(req.Model)
	model.SetTemperature(req.Temperature)
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	return model
}

func (p *GeminiProvider) extractParts(messages []Message) []genai.Part {
	var parts []genai.Part
	for _, msg := range messages {
		parts = append(parts, genai.Text(msg.Content))
	}
	return parts
}

func candidateText(res *genai.GenerateContentResponse) string {
	if res == nil || len(res.Candidates) == 0 || res.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range res.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		} else {
			sb.WriteString(fmt.Sprintf("%v", part))
		}
	}
	return sb.String()
}
