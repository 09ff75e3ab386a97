package chatbot

import (
	"context"
	"errors"
	"fmt"

	"poerelay/internal/llm"
	"poerelay/internal/sse"
)

type ErrorCode string

const (
	ErrorInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrorUpstream       ErrorCode = "UPSTREAM_ERROR"
	ErrorEmptyResponse  ErrorCode = "EMPTY_RESPONSE"
	ErrorTimeout        ErrorCode = "TIMEOUT"
	ErrorStreamWrite    ErrorCode = "STREAM_WRITE"
	ErrorCanceled       ErrorCode = "CANCELED"
	ErrorInternal       ErrorCode = "INTERNAL"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("chatbot: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("chatbot: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// UserMessage is the text shown to the Poe user in the error event.
func (e *Error) UserMessage() string {
	switch e.Code {
	case ErrorInvalidRequest:
		return "Error processing request: no message content was found in the query."
	case ErrorUpstream:
		return "Error processing request: the model service is unavailable right now. Please try again."
	case ErrorEmptyResponse:
		return "Error processing request: the model returned an empty response."
	case ErrorTimeout:
		return "Error processing request: the request timed out."
	default:
		return "Error processing request: an internal error occurred."
	}
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// classify maps any pipeline failure onto the error taxonomy.
func classify(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	var writeErr *sse.StreamWriteError
	var upErr *llm.UpstreamError
	switch {
	case errors.As(err, &writeErr), errors.Is(err, sse.ErrStreamClosed):
		return newError(ErrorStreamWrite, "client connection failed", err)
	// Attempts that each hit their own timeout are still an upstream failure;
	// only the overall deadline reaches here as a bare context error.
	case errors.As(err, &upErr):
		return newError(ErrorUpstream, "upstream call failed", err)
	case errors.Is(err, context.DeadlineExceeded):
		return newError(ErrorTimeout, "deadline exceeded", err)
	case errors.Is(err, context.Canceled):
		return newError(ErrorCanceled, "request canceled", err)
	case errors.Is(err, llm.ErrEmptyResponse):
		return newError(ErrorEmptyResponse, "upstream returned no content", err)
	default:
		return newError(ErrorInternal, "unexpected failure", err)
	}
}
