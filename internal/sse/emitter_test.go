package sse

import (
	"bufio"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type event struct {
	Name string
	Data string
}

func parseEvents(t *testing.T, body string) []event {
	t.Helper()
	var events []event
	var cur event
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.Name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.Data = strings.TrimPrefix(line, "data: ")
		case line == "" && cur.Name != "":
			events = append(events, cur)
			cur = event{}
		}
	}
	require.NoError(t, scanner.Err())
	return events
}

func names(events []event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Name
	}
	return out
}

// failingWriter fails every write after the first n.
type failingWriter struct {
	n      int
	writes int
	sb     strings.Builder
}

func (f *failingWriter) Write(p []byte) (int, error) {
	f.writes++
	if f.writes > f.n {
		return 0, errors.New("broken pipe")
	}
	return f.sb.Write(p)
}

func TestEmitter_WireFormatIsExact(t *testing.T) {
	rec := httptest.NewRecorder()
	e := NewEmitter(rec)

	require.NoError(t, e.Meta())
	require.NoError(t, e.Text("a <b> & \"c\""))
	require.NoError(t, e.Done())

	want := "event: meta\ndata: {\"content_type\":\"text/markdown\"}\n\n" +
		"event: text\ndata: {\"text\":\"a <b> & \\\"c\\\"\"}\n\n" +
		"event: done\ndata: {}\n\n"
	assert.Equal(t, want, rec.Body.String())
	assert.True(t, rec.Flushed)
}

func TestEmitter_MetaIsAlwaysFirst(t *testing.T) {
	rec := httptest.NewRecorder()
	e := NewEmitter(rec)

	require.NoError(t, e.Text("hello"))
	require.NoError(t, e.Meta())
	require.NoError(t, e.Done())

	assert.Equal(t, []string{EventMeta, EventText, EventDone}, names(parseEvents(t, rec.Body.String())))
}

func TestEmitter_PlaceholderThenClear(t *testing.T) {
	rec := httptest.NewRecorder()
	e := NewEmitter(rec)

	require.NoError(t, e.Meta())
	require.NoError(t, e.Placeholder("Processing..."))
	assert.Equal(t, StatePlaceholderSent, e.State())
	e.AwaitUpstream()
	assert.Equal(t, StateAwaitingUpstream, e.State())
	require.NoError(t, e.ReplaceResponse(""))
	require.NoError(t, e.Text("answer"))
	assert.Equal(t, StateStreamingText, e.State())
	e.MarkFullText()
	assert.Equal(t, StateFullTextSent, e.State())
	require.NoError(t, e.Close())
	assert.Equal(t, StateClosed, e.State())

	events := parseEvents(t, rec.Body.String())
	assert.Equal(t, []string{EventMeta, EventText, EventReplaceResponse, EventText, EventDone}, names(events))
	assert.Equal(t, `{"text":""}`, events[2].Data)
}

func TestEmitter_ErrorOnlyOnceAndBeforeDone(t *testing.T) {
	rec := httptest.NewRecorder()
	e := NewEmitter(rec)

	require.NoError(t, e.Error("first"))
	require.NoError(t, e.Error("second"))
	require.NoError(t, e.Done())
	require.ErrorIs(t, e.Error("late"), ErrStreamClosed)

	events := parseEvents(t, rec.Body.String())
	assert.Equal(t, []string{EventMeta, EventError, EventDone}, names(events))
	assert.Equal(t, `{"text":"first","allow_retry":true}`, events[1].Data)
}

func TestEmitter_CloseIsIdempotent(t *testing.T) {
	rec := httptest.NewRecorder()
	e := NewEmitter(rec)

	require.NoError(t, e.Text("x"))
	require.NoError(t, e.Done())
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
	require.NoError(t, e.Done())

	assert.Equal(t, 1, strings.Count(rec.Body.String(), "event: done"))
	require.ErrorIs(t, e.Text("after"), ErrStreamClosed)
	require.ErrorIs(t, e.ReplaceResponse("after"), ErrStreamClosed)
	require.ErrorIs(t, e.Meta(), ErrStreamClosed)
}

func TestEmitter_CloseSendsMissingDone(t *testing.T) {
	rec := httptest.NewRecorder()
	e := NewEmitter(rec)

	require.NoError(t, e.Close())
	assert.Equal(t, []string{EventMeta, EventDone}, names(parseEvents(t, rec.Body.String())))
}

func TestEmitter_WriteFailureClosesStream(t *testing.T) {
	w := &failingWriter{n: 1}
	e := NewEmitter(w)

	require.NoError(t, e.Meta())
	err := e.Text("lost")

	var writeErr *StreamWriteError
	require.ErrorAs(t, err, &writeErr)
	assert.Equal(t, EventText, writeErr.Event)
	assert.Equal(t, StateClosed, e.State())
	assert.True(t, e.Closed())

	// No further writes reach the connection.
	require.ErrorIs(t, e.Error("boom"), ErrStreamClosed)
	require.NoError(t, e.Close())
	assert.Equal(t, 2, w.writes)
}

func TestEmitter_ObserverSeesWrittenEvents(t *testing.T) {
	var seen []string
	e := NewEmitter(httptest.NewRecorder(), WithObserver(func(ev string) { seen = append(seen, ev) }))

	require.NoError(t, e.Text("a"))
	require.NoError(t, e.Close())
	assert.Equal(t, []string{EventMeta, EventText, EventDone}, seen)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "META_SENT", StateMetaSent.String())
	assert.Equal(t, "CLOSED", StateClosed.String())
	assert.Equal(t, "UNKNOWN", State(99).String())
}
