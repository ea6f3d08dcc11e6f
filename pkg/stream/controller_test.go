package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-go-golems/eshop-chat/pkg/chat"
	"github.com/go-go-golems/eshop-chat/pkg/format"
	"github.com/go-go-golems/eshop-chat/pkg/sse"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	events chan sse.Event
	errs   chan error
	closed chan struct{}
	once   sync.Once
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		events: make(chan sse.Event),
		errs:   make(chan error),
		closed: make(chan struct{}),
	}
}

func (f *fakeSource) Next() (sse.Event, error) {
	select {
	case ev := <-f.events:
		return ev, nil
	case err := <-f.errs:
		return sse.Event{}, err
	case <-f.closed:
		return sse.Event{}, io.ErrClosedPipe
	}
}

func (f *fakeSource) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeSource) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeSource) push(t *testing.T, ev sse.Event) {
	t.Helper()
	select {
	case f.events <- ev:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out pushing event %q", ev.Name)
	}
}

func (f *fakeSource) fail(t *testing.T, err error) {
	t.Helper()
	select {
	case f.errs <- err:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out pushing error %v", err)
	}
}

type fakeTransport struct {
	mu       sync.Mutex
	requests []Request
	sources  []*fakeSource
	openErr  error
}

func (f *fakeTransport) Open(_ context.Context, req Request) (EventSource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.openErr != nil {
		return nil, f.openErr
	}
	src := newFakeSource()
	f.sources = append(f.sources, src)
	return src, nil
}

func (f *fakeTransport) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeTransport) request(t *testing.T, i int) Request {
	t.Helper()
	require.Eventually(t, func() bool { return f.requestCount() > i }, 2*time.Second, 5*time.Millisecond)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[i]
}

func (f *fakeTransport) source(t *testing.T, i int) *fakeSource {
	t.Helper()
	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return len(f.sources) > i
	}, 2*time.Second, 5*time.Millisecond)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sources[i]
}

func chunk(content string) sse.Event {
	b, _ := json.Marshal(map[string]string{"content": content})
	return sse.Event{Name: sse.DefaultEventName, Data: string(b)}
}

func done() sse.Event {
	return sse.Event{Name: EventDone, Data: "{}"}
}

func counterIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("s%d", n)
	}
}

func newTestController(t *testing.T, tr Transport, opts ...Option) *Controller {
	t.Helper()
	opts = append([]Option{WithSessionIDs(counterIDs()), WithIdleTimeout(0)}, opts...)
	c := New(tr, opts...)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func waitFor(t *testing.T, c *Controller, cond func(State) bool) State {
	t.Helper()
	var st State
	require.Eventually(t, func() bool {
		st = c.Snapshot()
		return cond(st)
	}, 2*time.Second, 5*time.Millisecond)
	return st
}

func notLoading(s State) bool { return !s.Loading }

func TestSubmitStreamsChunksIntoPlaceholder(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestController(t, tr)

	require.NoError(t, c.Submit("Hello"))

	st := c.Snapshot()
	require.True(t, st.Loading)
	require.Equal(t, []chat.Message{
		chat.NewUserMessage("Hello"),
		chat.NewAssistantMessage(""),
	}, st.Messages)

	req := tr.request(t, 0)
	require.Equal(t, "Hello", req.Message)
	require.Empty(t, req.Context)

	src := tr.source(t, 0)
	src.push(t, chunk("Hi"))
	st = waitFor(t, c, func(s State) bool {
		a, _ := s.LastAssistant()
		return a.Content == "Hi"
	})
	require.Equal(t, SessionStreaming.String(), st.SessionState)
	require.Equal(t, chat.Context{chat.NewUserMessage("Hello")}, st.Context)

	src.push(t, chunk(" there"))
	st = waitFor(t, c, func(s State) bool {
		a, _ := s.LastAssistant()
		return a.Content == "Hi there"
	})
	require.True(t, st.Loading)
	require.Equal(t, chat.Context{chat.NewUserMessage("Hello")}, st.Context)

	src.push(t, done())

	st = waitFor(t, c, notLoading)
	require.Equal(t, []chat.Message{
		chat.NewUserMessage("Hello"),
		chat.NewAssistantMessage("Hi there"),
	}, st.Messages)
	require.Equal(t, chat.Context{
		chat.NewUserMessage("Hello"),
		chat.NewAssistantMessage("Hi there"),
	}, st.Context)
	require.Empty(t, st.Error)
	require.Equal(t, SessionCompleted.String(), st.SessionState)
	require.Eventually(t, src.isClosed, time.Second, 5*time.Millisecond)
}

func TestDefaultErrorMessageMatchesWidgetBanner(t *testing.T) {
	require.Equal(t,
		"Omlouváme se, došlo k chybě při komunikaci s asistentem. Zkuste to prosím znovu za chvíli.",
		DefaultErrorMessage)
}

func TestSubmitRejectsEmptyMessage(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestController(t, tr)

	require.ErrorIs(t, c.Submit("  \n\t"), ErrEmptyMessage)

	st := c.Snapshot()
	require.Empty(t, st.Messages)
	require.Empty(t, st.Context)
	require.False(t, st.Loading)
	require.Equal(t, 0, tr.requestCount())
}

func TestSubmitTrimsMessage(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestController(t, tr)

	require.NoError(t, c.Submit("  boots  "))
	require.Equal(t, "boots", tr.request(t, 0).Message)
	require.Equal(t, "boots", c.Snapshot().Messages[0].Content)
}

func TestSubmitInputUsesAndClearsBuffer(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestController(t, tr)

	require.NoError(t, c.SetInput("shoes size 42"))
	require.Equal(t, "shoes size 42", c.Snapshot().Input)

	require.NoError(t, c.SubmitInput())
	st := c.Snapshot()
	require.Empty(t, st.Input)
	require.Equal(t, "shoes size 42", st.Messages[0].Content)
}

func TestTransportErrorRemovesPlaceholder(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestController(t, tr)

	require.NoError(t, c.Submit("Hello"))
	src := tr.source(t, 0)
	src.push(t, chunk("partial"))
	src.fail(t, errors.New("connection reset"))

	st := waitFor(t, c, notLoading)
	require.Equal(t, []chat.Message{chat.NewUserMessage("Hello")}, st.Messages)
	require.Equal(t, chat.Context{chat.NewUserMessage("Hello")}, st.Context)
	require.Equal(t, DefaultErrorMessage, st.Error)
	require.Equal(t, SessionErrored.String(), st.SessionState)
	require.True(t, src.isClosed())
}

func TestEOFBeforeDoneIsError(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestController(t, tr, WithErrorMessage("stream failed"))

	require.NoError(t, c.Submit("Hello"))
	src := tr.source(t, 0)
	src.push(t, chunk("Hi"))
	src.fail(t, io.EOF)

	st := waitFor(t, c, notLoading)
	require.Equal(t, "stream failed", st.Error)
	require.Len(t, st.Messages, 1)
}

func TestNamedErrorEventFailsSession(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestController(t, tr)

	require.NoError(t, c.Submit("Hello"))
	src := tr.source(t, 0)
	src.push(t, sse.Event{Name: EventError, Data: `{"error":"model unavailable"}`})

	st := waitFor(t, c, notLoading)
	require.Equal(t, DefaultErrorMessage, st.Error)
	require.Equal(t, []chat.Message{chat.NewUserMessage("Hello")}, st.Messages)
}

func TestOpenErrorFailsSession(t *testing.T) {
	tr := &fakeTransport{openErr: errors.New("unexpected status 502")}
	c := newTestController(t, tr)

	require.NoError(t, c.Submit("Hello"))

	st := waitFor(t, c, notLoading)
	require.Equal(t, DefaultErrorMessage, st.Error)
	require.Equal(t, []chat.Message{chat.NewUserMessage("Hello")}, st.Messages)
}

func TestMalformedChunkIsSkipped(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestController(t, tr)

	require.NoError(t, c.Submit("Hello"))
	src := tr.source(t, 0)
	src.push(t, chunk("a"))
	src.push(t, sse.Event{Name: sse.DefaultEventName, Data: "not json"})
	src.push(t, sse.Event{Name: sse.DefaultEventName, Data: `{"text":"wrong field"}`})
	src.push(t, chunk("b"))
	src.push(t, done())

	st := waitFor(t, c, notLoading)
	require.Empty(t, st.Error)
	a, ok := st.LastAssistant()
	require.True(t, ok)
	require.Equal(t, "ab", a.Content)
}

func TestUnknownNamedEventsAreIgnored(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestController(t, tr)

	require.NoError(t, c.Submit("Hello"))
	src := tr.source(t, 0)
	src.push(t, sse.Event{Name: "heartbeat", Data: "{}"})
	src.push(t, chunk("ok"))
	src.push(t, sse.Event{Name: "metadata", Data: `{"tokens":3}`})
	src.push(t, done())

	st := waitFor(t, c, notLoading)
	a, _ := st.LastAssistant()
	require.Equal(t, "ok", a.Content)
}

func TestSupersededSessionIgnoresLateEvents(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestController(t, tr)

	require.NoError(t, c.Submit("first"))
	first := tr.source(t, 0)
	first.push(t, chunk("old "))
	waitFor(t, c, func(s State) bool {
		a, _ := s.LastAssistant()
		return a.Content == "old "
	})

	require.NoError(t, c.Submit("second"))
	require.Eventually(t, first.isClosed, time.Second, 5*time.Millisecond)

	st := c.Snapshot()
	require.Equal(t, []chat.Message{
		chat.NewUserMessage("first"),
		chat.NewUserMessage("second"),
		chat.NewAssistantMessage(""),
	}, st.Messages)
	require.Equal(t, "s2", st.SessionID)

	// a chunk and a completion that were already in flight for s1
	require.True(t, c.send(streamEvent{id: "s1", ev: chunk("late")}))
	require.True(t, c.send(streamEvent{id: "s1", ev: done()}))
	require.True(t, c.send(streamFailed{id: "s1", err: errors.New("late failure")}))

	st = c.Snapshot()
	require.True(t, st.Loading)
	require.Empty(t, st.Error)
	a, _ := st.LastAssistant()
	require.Empty(t, a.Content)

	second := tr.source(t, 1)
	second.push(t, chunk("new"))
	second.push(t, done())

	st = waitFor(t, c, notLoading)
	require.Equal(t, []chat.Message{
		chat.NewUserMessage("first"),
		chat.NewUserMessage("second"),
		chat.NewAssistantMessage("new"),
	}, st.Messages)
	require.Equal(t, chat.Context{
		chat.NewUserMessage("first"),
		chat.NewUserMessage("second"),
		chat.NewAssistantMessage("new"),
	}, st.Context)

	// the second request was sent with everything finalized before it
	require.Equal(t, chat.Context{chat.NewUserMessage("first")}, tr.request(t, 1).Context)
}

func TestRetryWithoutUserMessageIsNoop(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestController(t, tr)

	before := c.Snapshot()
	started, err := c.Retry()
	require.NoError(t, err)
	require.False(t, started)
	require.Equal(t, before, c.Snapshot())
	require.Equal(t, 0, tr.requestCount())
}

func TestRetryResendsWithoutDuplicating(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestController(t, tr)

	require.NoError(t, c.Submit("Hi"))
	tr.source(t, 0).fail(t, errors.New("boom"))
	st := waitFor(t, c, notLoading)
	require.Equal(t, DefaultErrorMessage, st.Error)

	started, err := c.Retry()
	require.NoError(t, err)
	require.True(t, started)

	st = c.Snapshot()
	require.Empty(t, st.Error)
	require.True(t, st.Loading)

	req := tr.request(t, 1)
	require.Equal(t, "Hi", req.Message)
	require.Empty(t, req.Context)

	src := tr.source(t, 1)
	src.push(t, chunk("Hello again"))
	src.push(t, done())

	st = waitFor(t, c, notLoading)
	require.Equal(t, []chat.Message{
		chat.NewUserMessage("Hi"),
		chat.NewAssistantMessage("Hello again"),
	}, st.Messages)
	require.Equal(t, chat.Context{
		chat.NewUserMessage("Hi"),
		chat.NewAssistantMessage("Hello again"),
	}, st.Context)
}

func TestRetryWhileStreamingSupersedes(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestController(t, tr)

	require.NoError(t, c.Submit("Hi"))
	first := tr.source(t, 0)
	first.push(t, chunk("partial"))

	started, err := c.Retry()
	require.NoError(t, err)
	require.True(t, started)
	require.Eventually(t, first.isClosed, time.Second, 5*time.Millisecond)

	st := c.Snapshot()
	require.Equal(t, []chat.Message{
		chat.NewUserMessage("Hi"),
		chat.NewAssistantMessage(""),
	}, st.Messages)
}

func TestIdleTimeoutFailsSession(t *testing.T) {
	tr := &fakeTransport{}
	c := New(tr, WithIdleTimeout(50*time.Millisecond))
	t.Cleanup(func() { _ = c.Close() })

	require.NoError(t, c.Submit("Hello"))
	src := tr.source(t, 0)

	st := waitFor(t, c, notLoading)
	require.Equal(t, DefaultErrorMessage, st.Error)
	require.Equal(t, SessionErrored.String(), st.SessionState)
	require.Len(t, st.Messages, 1)
	require.Eventually(t, src.isClosed, time.Second, 5*time.Millisecond)
}

func TestIdleTimerResetsOnEvents(t *testing.T) {
	tr := &fakeTransport{}
	c := New(tr, WithIdleTimeout(150*time.Millisecond))
	t.Cleanup(func() { _ = c.Close() })

	require.NoError(t, c.Submit("Hello"))
	src := tr.source(t, 0)
	for i := 0; i < 4; i++ {
		time.Sleep(60 * time.Millisecond)
		src.push(t, sse.Event{Name: "heartbeat"})
	}
	src.push(t, chunk("still here"))
	src.push(t, done())

	st := waitFor(t, c, notLoading)
	require.Empty(t, st.Error)
	a, _ := st.LastAssistant()
	require.Equal(t, "still here", a.Content)
}

func TestCloseTearsDownActiveSession(t *testing.T) {
	tr := &fakeTransport{}
	c := New(tr, WithIdleTimeout(0))

	require.NoError(t, c.Submit("Hello"))
	src := tr.source(t, 0)
	src.push(t, chunk("partial"))
	waitFor(t, c, func(s State) bool {
		a, _ := s.LastAssistant()
		return a.Content == "partial"
	})

	require.NoError(t, c.Close())
	require.True(t, src.isClosed())
	require.NoError(t, c.Close())

	require.ErrorIs(t, c.Submit("again"), ErrClosed)
	_, err := c.Retry()
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, c.SetInput("x"), ErrClosed)

	st := c.Snapshot()
	require.False(t, st.Loading)
	require.Equal(t, []chat.Message{chat.NewUserMessage("Hello")}, st.Messages)
	require.Empty(t, st.SessionID)
}

func TestInitialContextIsSentWithFirstTurn(t *testing.T) {
	seed := chat.Context{
		chat.NewUserMessage("I like running"),
		chat.NewAssistantMessage("Noted."),
	}
	tr := &fakeTransport{}
	c := newTestController(t, tr, WithInitialContext(seed))

	require.NoError(t, c.Submit("Recommend shoes"))
	require.Equal(t, seed, tr.request(t, 0).Context)

	// mutating the seed afterwards does not leak into the controller
	seed[0].Content = "changed"
	require.Equal(t, "I like running", c.Snapshot().Context[0].Content)
}

func TestFormatterAppliesToDisplayOnly(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestController(t, tr, WithFormatter(format.FormatterFunc(strings.ToUpper)))

	require.NoError(t, c.Submit("Hello"))
	src := tr.source(t, 0)
	src.push(t, chunk("ab"))
	src.push(t, chunk("cd"))
	src.push(t, done())

	st := waitFor(t, c, notLoading)
	a, _ := st.LastAssistant()
	require.Equal(t, "ABCD", a.Content)
	require.Equal(t, "abcd", st.Context[1].Content)
}

type recordingSink struct {
	mu      sync.Mutex
	updates []Update
}

func (r *recordingSink) Publish(u Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *recordingSink) kinds() []UpdateKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	ret := make([]UpdateKind, 0, len(r.updates))
	for _, u := range r.updates {
		ret = append(ret, u.Kind)
	}
	return ret
}

func TestUpdatesArePublishedPerChange(t *testing.T) {
	tr := &fakeTransport{}
	sink := &recordingSink{}
	c := newTestController(t, tr, WithSink(sink))

	require.NoError(t, c.Submit("Hello"))
	src := tr.source(t, 0)
	src.push(t, chunk("Hi"))
	src.push(t, chunk(" there"))
	src.push(t, done())
	waitFor(t, c, notLoading)

	require.Equal(t, []UpdateKind{
		UpdateSubmitted, UpdateOpened, UpdateChunk, UpdateChunk, UpdateCompleted,
	}, sink.kinds())

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Equal(t, " there", sink.updates[3].Delta)
	require.Equal(t, "s1", sink.updates[3].SessionID)
	a, _ := sink.updates[3].State.LastAssistant()
	require.Equal(t, "Hi there", a.Content)
}

func TestSubmitTurnReturnsSessionOfItsUpdates(t *testing.T) {
	tr := &fakeTransport{}
	sink := &recordingSink{}
	c := newTestController(t, tr, WithSink(sink))
	other := newTestController(t, &fakeTransport{})
	require.NotEmpty(t, c.ID())
	require.NotEqual(t, c.ID(), other.ID())

	id, err := c.SubmitTurn("Hello")
	require.NoError(t, err)
	require.Equal(t, "s1", id)
	require.Equal(t, id, tr.request(t, 0).SessionID)

	tr.source(t, 0).push(t, done())
	waitFor(t, c, notLoading)

	id, err = c.SubmitTurn("Again")
	require.NoError(t, err)
	require.Equal(t, "s2", id)

	_, err = c.SubmitTurn("   ")
	require.ErrorIs(t, err, ErrEmptyMessage)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.NotEmpty(t, sink.updates)
	for _, u := range sink.updates {
		require.Equal(t, c.ID(), u.Origin)
	}
	require.Equal(t, "s1", sink.updates[0].SessionID)
	require.Equal(t, "s2", sink.updates[len(sink.updates)-1].SessionID)
}

func TestSubmitTurnAfterClose(t *testing.T) {
	c := New(&fakeTransport{}, WithIdleTimeout(0))
	require.NoError(t, c.Close())
	id, err := c.SubmitTurn("Hello")
	require.ErrorIs(t, err, ErrClosed)
	require.Empty(t, id)
}
