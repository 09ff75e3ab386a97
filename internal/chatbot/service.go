package chatbot

import (
	"context"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"poerelay/internal/config"
	"poerelay/internal/llm"
	"poerelay/internal/logging"
	"poerelay/internal/observability"
	"poerelay/internal/sse"
)

// ChatService relays one Poe query to the upstream model and writes the
// answer as SSE events.
type ChatService struct {
	aiProvider llm.AIProvider
	upstream   config.UpstreamConfig
	relay      config.RelayConfig
	metrics    *observability.Metrics
}

// NewChatService creates a new instance of ChatService. metrics may be nil.
func NewChatService(aiProvider llm.AIProvider, upstream config.UpstreamConfig, relay config.RelayConfig, metrics *observability.Metrics) *ChatService {
	return &ChatService{aiProvider: aiProvider, upstream: upstream, relay: relay, metrics: metrics}
}

// StreamChatResponse always leaves em with exactly one done event written
// unless the connection itself failed. The returned error is a *Error.
func (cs *ChatService) StreamChatResponse(ctx context.Context, req QueryRequest, em *sse.Emitter) error {
	logger := logging.FromContext(ctx)

	message, err := req.LastMessage()
	if err != nil {
		return cs.fail(ctx, em, newError(ErrorInvalidRequest, "missing message", err))
	}
	logger.Info("processing query",
		"conversation_id", req.ConversationID,
		"messages", len(req.Query),
		"content_chars", utf8.RuneCountInString(message))

	if err := em.Meta(); err != nil {
		return cs.fail(ctx, em, classify(err))
	}
	if cs.relay.Placeholder != "" {
		if err := em.Placeholder(cs.relay.Placeholder); err != nil {
			return cs.fail(ctx, em, classify(err))
		}
	}

	ctx, cancel := context.WithTimeout(ctx, cs.relay.Deadline)
	defer cancel()

	em.AwaitUpstream()
	upReq := llm.UserPrompt(message, cs.upstream.Model, cs.upstream.MaxTokens, cs.upstream.Temperature)

	var chars int
	if cs.relay.Stream {
		chars, err = cs.relayStream(ctx, upReq, em)
	} else {
		chars, err = cs.relayFull(ctx, upReq, em)
	}
	if err != nil {
		return cs.fail(ctx, em, classify(err))
	}

	em.MarkFullText()
	if err := em.Done(); err != nil {
		return cs.fail(ctx, em, classify(err))
	}
	logger.Info("response completed", "response_chars", chars)
	return nil
}

// relayFull waits for the whole answer, then delivers it in chunks.
func (cs *ChatService) relayFull(ctx context.Context, upReq llm.CompletionRequest, em *sse.Emitter) (int, error) {
	msg, err := cs.aiProvider.Complete(ctx, upReq)
	if err != nil {
		return 0, err
	}

	text, truncated := sse.Truncate(msg.Content, cs.relay.MaxLength, cs.relay.TruncationNotice)
	if truncated {
		logging.FromContext(ctx).Warn("response truncated",
			"original_chars", utf8.RuneCountInString(msg.Content), "max_length", cs.relay.MaxLength)
	}

	if cs.relay.Placeholder != "" {
		if err := em.ReplaceResponse(""); err != nil {
			return 0, err
		}
	}

	for i, chunk := range sse.Chunk(text, cs.relay.ChunkSize) {
		if i > 0 {
			if err := sleep(ctx, cs.relay.ChunkDelay); err != nil {
				return 0, err
			}
		}
		if err := em.Text(chunk); err != nil {
			return 0, err
		}
	}
	return utf8.RuneCountInString(text), nil
}

// relayStream forwards upstream fragments as they arrive. When the running
// total would pass the length bound, the displayed text is replaced with its
// truncated form and the upstream stream is abandoned.
func (cs *ChatService) relayStream(ctx context.Context, upReq llm.CompletionRequest, em *sse.Emitter) (int, error) {
	streamCtx, stop := context.WithCancel(ctx)
	defer stop()

	chunks, err := cs.aiProvider.StreamComplete(streamCtx, upReq)
	if err != nil {
		return 0, err
	}

	cleared := cs.relay.Placeholder == ""
	var full strings.Builder
	emitted := 0

	for chunk := range chunks {
		if chunk.Err != nil {
			return 0, chunk.Err
		}
		if chunk.Done {
			return emitted, nil
		}

		if !cleared {
			if err := em.ReplaceResponse(""); err != nil {
				return 0, err
			}
			cleared = true
		}

		n := utf8.RuneCountInString(chunk.Content)
		full.WriteString(chunk.Content)
		if emitted+n > cs.relay.MaxLength {
			stop()
			text, _ := sse.Truncate(full.String(), cs.relay.MaxLength, cs.relay.TruncationNotice)
			logging.FromContext(ctx).Warn("streamed response truncated", "max_length", cs.relay.MaxLength)
			if err := em.ReplaceResponse(text); err != nil {
				return 0, err
			}
			return utf8.RuneCountInString(text), nil
		}

		if err := em.Text(chunk.Content); err != nil {
			return 0, err
		}
		emitted += n
	}

	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return 0, &llm.UpstreamError{Attempts: 1, Err: io.ErrUnexpectedEOF}
}

// fail runs the error path: one error event then done, unless the connection
// is already gone.
func (cs *ChatService) fail(ctx context.Context, em *sse.Emitter, e *Error) error {
	logger := logging.FromContext(ctx)
	cs.metrics.RecordError(string(e.Code))

	if e.Code == ErrorStreamWrite || em.Closed() {
		logger.Warn("stream aborted", "code", e.Code, "err", e.Err)
		return e
	}
	if e.Code == ErrorCanceled {
		logger.Info("client went away", "err", e.Err)
	} else {
		logger.Error("request failed", "code", e.Code, "reason", e.Reason, "err", e.Err)
	}

	if err := em.Error(e.UserMessage()); err != nil {
		logger.Warn("could not send error event", "err", err)
		return e
	}
	if err := em.Done(); err != nil {
		logger.Warn("could not send done event", "err", err)
	}
	return e
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ Service = (*ChatService)(nil)
