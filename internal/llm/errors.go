package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sashabaranov/go-openai"
	"google.golang.org/api/googleapi"
)

// ErrEmptyResponse is returned when the upstream answered 2xx without usable
// content. It is never retried.
var ErrEmptyResponse = errors.New("llm: upstream returned an empty response")

// UpstreamError is returned once retries are exhausted or a non-retryable
// upstream failure occurs.
type UpstreamError struct {
	Attempts   int
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("llm: upstream failed after %d attempt(s) with status %d: %v", e.Attempts, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("llm: upstream failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// midStreamError wraps a failure that happened after the stream was opened.
// It is never retried.
func midStreamError(err error) error {
	return &UpstreamError{Attempts: 1, StatusCode: StatusCode(err), Err: err}
}

// StatusCode extracts the upstream HTTP status from provider errors, or 0 when
// the failure happened below HTTP.
func StatusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return gErr.Code
	}
	return 0
}

// IsRetryable reports whether another attempt could succeed. Transport
// failures, 408, 409, 429 and 5xx are retryable. Caller cancellation and
// empty answers are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrEmptyResponse) || errors.Is(err, context.Canceled) {
		return false
	}
	switch code := StatusCode(err); {
	case code == 0:
		return true
	case code == http.StatusRequestTimeout, code == http.StatusConflict, code == http.StatusTooManyRequests:
		return true
	case code >= 500:
		return true
	default:
		return false
	}
}
