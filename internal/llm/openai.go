package llm

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const DefaultXAIBaseURL = "https://api.x.ai/v1"

var tracer = otel.Tracer("poerelay/internal/llm")

// OpenAIProvider talks to any OpenAI-compatible chat-completions endpoint.
// The relay points it at X.AI.
type OpenAIProvider struct {
	client         *openai.Client
	retry          RetryPolicy
	attemptTimeout time.Duration
}

type OpenAIOption func(*OpenAIProvider)

func WithRetryPolicy(p RetryPolicy) OpenAIOption {
	return func(o *OpenAIProvider) {
		o.retry = p
	}
}

func WithAttemptTimeout(d time.Duration) OpenAIOption {
	return func(o *OpenAIProvider) {
		o.attemptTimeout = d
	}
}

func NewOpenAIProvider(client *openai.Client, opts ...OpenAIOption) *OpenAIProvider {
	p := &OpenAIProvider{
		client:         client,
		retry:          DefaultRetryPolicy(),
		attemptTimeout: 20 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewXAIClient builds a go-openai client for the X.AI API. Stream bodies are
// not bounded by the attempt timeout, only the wait for response headers.
func NewXAIClient(apiKey, baseURL string, attemptTimeout time.Duration) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultXAIBaseURL
	}
	cfg.BaseURL = baseURL

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = attemptTimeout
	cfg.HTTPClient = &http.Client{Transport: transport}

	return openai.NewClientWithConfig(cfg)
}

func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (Message, error) {
	ctx, span := tracer.Start(ctx, "upstream.complete", trace.WithAttributes(
		attribute.String("llm.model", req.Model),
		attribute.Int("llm.max_tokens", req.MaxTokens),
	))
	defer span.End()

	msg, err := Retry(ctx, p.retry, "complete", func(ctx context.Context) (Message, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, p.attemptTimeout)
		defer cancel()

		res, err := p.client.CreateChatCompletion(attemptCtx, p.toOpenAIRequest(req, false))
		if err != nil {
			return Message{}, err
		}
		if len(res.Choices) == 0 || res.Choices[0].Message.Content == "" {
			return Message{}, ErrEmptyResponse
		}
		return fromOpenAIMessage(res.Choices[0].Message), nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Message{}, err
	}
	span.SetAttributes(attribute.Int("llm.response_chars", len(msg.Content)))
	return msg, nil
}

// StreamComplete opens a streaming completion, retrying only the open. The
// returned channel is closed after a Done chunk, an Err chunk, or ctx ending.
func (p *OpenAIProvider) StreamComplete(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	ctx, span := tracer.Start(ctx, "upstream.stream", trace.WithAttributes(
		attribute.String("llm.model", req.Model),
	))

	stream, err := Retry(ctx, p.retry, "stream", func(ctx context.Context) (*openai.ChatCompletionStream, error) {
		return p.client.CreateChatCompletionStream(ctx, p.toOpenAIRequest(req, true))
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return nil, err
	}

	chunks := make(chan StreamChunk)
	go func() {
		defer close(chunks)
		defer span.End()
		defer stream.Close()

		received := false
		for {
			response, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				if !received {
					send(ctx, chunks, StreamChunk{Err: ErrEmptyResponse})
					return
				}
				send(ctx, chunks, StreamChunk{Done: true})
				return
			}
			if err != nil {
				span.RecordError(err)
				send(ctx, chunks, StreamChunk{Err: midStreamError(err)})
				return
			}

			if len(response.Choices) == 0 || response.Choices[0].Delta.Content == "" {
				continue
			}
			received = true
			if !send(ctx, chunks, StreamChunk{Content: response.Choices[0].Delta.Content}) {
				return
			}
		}
	}()

	return chunks, nil
}

func send(ctx context.Context, ch chan<- StreamChunk, chunk StreamChunk) bool {
	select {
	case ch <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// ------------------Private helper function------------------

func (p *OpenAIProvider) toOpenAIRequest(req CompletionRequest, stream bool) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    toOpenAIMessages(req.Messages),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	}
}

func toOpenAIMessage(msg Message) openai.ChatCompletionMessage {
	return openai.ChatCompletionMessage{
		Role:    msg.Role,
		Content: msg.Content,
	}
}

func fromOpenAIMessage(msg openai.ChatCompletionMessage) Message {
	return Message{
		Role:    msg.Role,
		Content: msg.Content,
	}
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		result[i] = toOpenAIMessage(msg)
	}
	return result
}
