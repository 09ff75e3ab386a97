package sse

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// Event names understood by Poe.
const (
	EventMeta            = "meta"
	EventText            = "text"
	EventReplaceResponse = "replace_response"
	EventError           = "error"
	EventDone            = "done"
)

const ContentTypeMarkdown = "text/markdown"

type State int

const (
	StateInit State = iota
	StateMetaSent
	StatePlaceholderSent
	StateAwaitingUpstream
	StateStreamingText
	StateFullTextSent
	StateDoneSent
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateMetaSent:
		return "META_SENT"
	case StatePlaceholderSent:
		return "PLACEHOLDER_SENT"
	case StateAwaitingUpstream:
		return "AWAITING_UPSTREAM"
	case StateStreamingText:
		return "STREAMING_TEXT"
	case StateFullTextSent:
		return "FULL_TEXT_SENT"
	case StateDoneSent:
		return "DONE_SENT"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ErrStreamClosed is returned by sends attempted after the stream ended.
var ErrStreamClosed = errors.New("sse: stream closed")

// StreamWriteError means the peer connection failed mid-write. The emitter
// is closed afterwards.
type StreamWriteError struct {
	Event string
	Err   error
}

func (e *StreamWriteError) Error() string {
	return fmt.Sprintf("sse: write %s event: %v", e.Event, e.Err)
}

func (e *StreamWriteError) Unwrap() error {
	return e.Err
}

type MetaPayload struct {
	ContentType string `json:"content_type"`
}

type TextPayload struct {
	Text string `json:"text"`
}

type ErrorPayload struct {
	Text       string `json:"text"`
	AllowRetry bool   `json:"allow_retry"`
}

// Observer is notified of every event that reached the wire.
type Observer func(event string)

// Emitter writes the Poe event sequence for one request. It guarantees meta
// first, at most one error, and exactly one done.
type Emitter struct {
	w        io.Writer
	flusher  http.Flusher
	observer Observer

	mu       sync.Mutex
	state    State
	errorOut bool
}

type Option func(*Emitter)

func WithObserver(o Observer) Option {
	return func(e *Emitter) {
		e.observer = o
	}
}

// NewEmitter wraps w. Writes are flushed when w implements http.Flusher.
func NewEmitter(w io.Writer, opts ...Option) *Emitter {
	e := &Emitter{w: w}
	if f, ok := w.(http.Flusher); ok {
		e.flusher = f
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetHeaders configures the SSE response headers. Must run before the first
// write.
func SetHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

func (e *Emitter) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Closed reports whether nothing more can be written.
func (e *Emitter) Closed() bool {
	s := e.State()
	return s == StateDoneSent || s == StateClosed
}

// Meta sends the meta event. Repeated calls are no-ops.
func (e *Emitter) Meta() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateInit {
		if e.terminal() {
			return ErrStreamClosed
		}
		return nil
	}
	return e.ensureMeta()
}

// Placeholder sends a provisional text that a later ReplaceResponse clears.
func (e *Emitter) Placeholder(text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ensureMeta(); err != nil {
		return err
	}
	if err := e.write(EventText, TextPayload{Text: text}); err != nil {
		return err
	}
	e.state = StatePlaceholderSent
	return nil
}

// AwaitUpstream records that the upstream call is in flight.
func (e *Emitter) AwaitUpstream() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateMetaSent || e.state == StatePlaceholderSent {
		e.state = StateAwaitingUpstream
	}
}

// Text appends text to the displayed response.
func (e *Emitter) Text(text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ensureMeta(); err != nil {
		return err
	}
	if err := e.write(EventText, TextPayload{Text: text}); err != nil {
		return err
	}
	e.state = StateStreamingText
	return nil
}

// ReplaceResponse replaces everything displayed so far with text.
func (e *Emitter) ReplaceResponse(text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ensureMeta(); err != nil {
		return err
	}
	if err := e.write(EventReplaceResponse, TextPayload{Text: text}); err != nil {
		return err
	}
	if e.state != StateStreamingText {
		e.state = StateAwaitingUpstream
	}
	return nil
}

// MarkFullText records that the whole answer has been written.
func (e *Emitter) MarkFullText() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.terminal() {
		e.state = StateFullTextSent
	}
}

// Error sends the error event. Only the first call writes anything.
func (e *Emitter) Error(text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.terminal() {
		return ErrStreamClosed
	}
	if e.errorOut {
		return nil
	}
	if err := e.ensureMeta(); err != nil {
		return err
	}
	if err := e.write(EventError, ErrorPayload{Text: text, AllowRetry: true}); err != nil {
		return err
	}
	e.errorOut = true
	return nil
}

// Done sends the terminal done event. Calling it again is a no-op.
func (e *Emitter) Done() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.terminal() {
		return nil
	}
	if err := e.ensureMeta(); err != nil {
		return err
	}
	if err := e.write(EventDone, struct{}{}); err != nil {
		return err
	}
	e.state = StateDoneSent
	return nil
}

// Close terminates the stream, sending done first if it is still missing.
// It is idempotent.
func (e *Emitter) Close() error {
	err := e.Done()
	e.mu.Lock()
	e.state = StateClosed
	e.mu.Unlock()
	return err
}

func (e *Emitter) terminal() bool {
	return e.state == StateDoneSent || e.state == StateClosed
}

// ensureMeta must be called with mu held.
func (e *Emitter) ensureMeta() error {
	if e.terminal() {
		return ErrStreamClosed
	}
	if e.state != StateInit {
		return nil
	}
	if err := e.write(EventMeta, MetaPayload{ContentType: ContentTypeMarkdown}); err != nil {
		return err
	}
	e.state = StateMetaSent
	return nil
}

// write must be called with mu held. Each event goes out in a single Write.
func (e *Emitter) write(event string, payload any) error {
	data, err := marshal(payload)
	if err != nil {
		return fmt.Errorf("sse: marshal %s payload: %w", event, err)
	}

	var buf bytes.Buffer
	buf.Grow(len(event) + len(data) + 16)
	buf.WriteString("event: ")
	buf.WriteString(event)
	buf.WriteString("\ndata: ")
	buf.Write(data)
	buf.WriteString("\n\n")

	if _, err := e.w.Write(buf.Bytes()); err != nil {
		e.state = StateClosed
		return &StreamWriteError{Event: event, Err: err}
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	if e.observer != nil {
		e.observer(event)
	}
	return nil
}

// marshal encodes without HTML escaping so payloads match what JavaScript's
// JSON.stringify would produce.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
