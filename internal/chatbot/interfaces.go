package chatbot

import (
	"context"
	"encoding/json"
	"errors"

	"poerelay/internal/sse"
)

// Poe request types. Only TypeQuery opens a stream; the rest are
// acknowledged with {"status":"ok"}.
const (
	TypeQuery          = "query"
	TypeSettings       = "settings"
	TypeReportFeedback = "report_feedback"
	TypeReportError    = "report_error"
	TypeReportReaction = "report_reaction"
)

// Service runs one chat turn and writes it to the emitter.
type Service interface {
	StreamChatResponse(ctx context.Context, req QueryRequest, em *sse.Emitter) error
}

type Message struct {
	Role        string `json:"role"`
	Content     string `json:"content"`
	ContentType string `json:"content_type,omitempty"`
	Timestamp   int64  `json:"timestamp,omitempty"`
	MessageID   string `json:"message_id,omitempty"`
}

// QueryRequest is the body Poe posts to a bot server.
type QueryRequest struct {
	Version        string          `json:"version,omitempty"`
	Type           string          `json:"type"`
	Query          []Message       `json:"query"`
	UserID         string          `json:"user_id,omitempty"`
	ConversationID string          `json:"conversation_id,omitempty"`
	MessageID      string          `json:"message_id,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
}

var errNoMessage = errors.New("query has no message content")

// LastMessage returns the content of the newest message in the query.
func (r QueryRequest) LastMessage() (string, error) {
	if len(r.Query) == 0 {
		return "", errNoMessage
	}
	content := r.Query[len(r.Query)-1].Content
	if content == "" {
		return "", errNoMessage
	}
	return content, nil
}
