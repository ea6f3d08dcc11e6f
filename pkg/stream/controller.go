// Package stream turns a server-sent event stream into conversation state.
//
// A Controller owns the display list, the conversation context and at most
// one streaming session. All state lives on a single goroutine; public
// methods and stream events are delivered to it as messages, so events from a
// superseded session can never touch the current turn.
package stream

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/go-go-golems/eshop-chat/pkg/chat"
	"github.com/go-go-golems/eshop-chat/pkg/format"
	"github.com/go-go-golems/eshop-chat/pkg/sse"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	EventDone  = "done"
	EventError = "error"
)

type chunkPayload struct {
	Content *string `json:"content"`
}

type Controller struct {
	origin       string
	transport    Transport
	formatter    format.Formatter
	idleTimeout  time.Duration
	errorMessage string
	sinks        multiSink
	newID        func() string

	// loop-owned
	messages []chat.Message
	context  chat.Context
	input    string
	loading  bool
	errMsg   string
	active   *session

	ctx    context.Context
	cancel context.CancelFunc

	inbox     chan any
	done      chan struct{}
	closeOnce sync.Once
	final     State
}

type submitCmd struct {
	text      string
	fromInput bool
	retry     bool
	reply     chan submitResult
}

type submitResult struct {
	started   bool
	sessionID string
	err       error
}

type setInputCmd struct {
	text  string
	reply chan struct{}
}

type snapshotCmd struct {
	reply chan State
}

type closeCmd struct{}

type streamOpened struct {
	id  string
	src EventSource
}

type streamEvent struct {
	id string
	ev sse.Event
}

type streamFailed struct {
	id  string
	err error
}

type streamIdle struct {
	id  string
	gen uint64
}

// New starts a controller. Close must be called to stop its goroutine.
func New(transport Transport, opts ...Option) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		origin:       uuid.NewString(),
		transport:    transport,
		formatter:    format.Plain{},
		idleTimeout:  DefaultIdleTimeout,
		errorMessage: DefaultErrorMessage,
		newID:        defaultSessionID,
		context:      chat.Context{},
		ctx:          ctx,
		cancel:       cancel,
		inbox:        make(chan any),
		done:         make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	go c.run()
	return c
}

// ID identifies the controller. It is stamped on every update as Origin.
func (c *Controller) ID() string {
	return c.origin
}

// Submit starts a new turn for text. The previous turn, if still streaming,
// is abandoned and its partial reply discarded.
func (c *Controller) Submit(text string) error {
	_, err := c.SubmitTurn(text)
	return err
}

// SubmitTurn is Submit that also returns the id of the session it started.
// Every update of the turn carries that id.
func (c *Controller) SubmitTurn(text string) (string, error) {
	r := c.submit(submitCmd{text: text})
	return r.sessionID, r.err
}

// SubmitInput submits the current input buffer.
func (c *Controller) SubmitInput() error {
	return c.submit(submitCmd{fromInput: true}).err
}

func (c *Controller) SetInput(text string) error {
	reply := make(chan struct{}, 1)
	if !c.send(setInputCmd{text: text, reply: reply}) {
		return ErrClosed
	}
	select {
	case <-reply:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// Retry re-sends the most recent user message. It reports false when there
// is nothing to retry.
func (c *Controller) Retry() (bool, error) {
	r := c.submit(submitCmd{retry: true})
	return r.started, r.err
}

func (c *Controller) submit(cmd submitCmd) submitResult {
	reply := make(chan submitResult, 1)
	cmd.reply = reply
	if !c.send(cmd) {
		return submitResult{err: ErrClosed}
	}
	select {
	case r := <-reply:
		return r
	case <-c.done:
		return submitResult{err: ErrClosed}
	}
}

// Snapshot returns a copy of the current state. After Close it returns the
// state at teardown.
func (c *Controller) Snapshot() State {
	reply := make(chan State, 1)
	if !c.send(snapshotCmd{reply: reply}) {
		return c.final
	}
	select {
	case s := <-reply:
		return s
	case <-c.done:
		return c.final
	}
}

// Close tears down the active session and stops the controller.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		c.send(closeCmd{})
	})
	<-c.done
	return nil
}

// Done is closed once the controller has stopped.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

func (c *Controller) send(m any) bool {
	select {
	case c.inbox <- m:
		return true
	case <-c.done:
		return false
	}
}

func (c *Controller) run() {
	defer close(c.done)
	for m := range c.inbox {
		switch m := m.(type) {
		case submitCmd:
			text := m.text
			if m.fromInput {
				text = c.input
			}
			m.reply <- c.handleSubmit(text, m.retry)
		case setInputCmd:
			c.input = m.text
			c.emit(UpdateInput, "", "", "")
			m.reply <- struct{}{}
		case snapshotCmd:
			m.reply <- c.state()
		case streamOpened:
			c.handleOpened(m.id, m.src)
		case streamEvent:
			c.handleEvent(m.id, m.ev)
		case streamFailed:
			c.fail(m.id, m.err)
		case streamIdle:
			if s := c.current(m.id); s != nil && s.idleGen == m.gen {
				c.fail(m.id, ErrStreamIdle)
			}
		case closeCmd:
			c.teardown()
			return
		}
	}
}

func (c *Controller) handleSubmit(text string, retry bool) submitResult {
	msg := chat.Normalize(text)
	if retry {
		last, ok := chat.LastUserMessage(c.messages)
		if !ok {
			log.Debug().Str("component", "stream").Msg("retry requested without a user message")
			return submitResult{}
		}
		msg = last.Content
	} else if msg == "" {
		return submitResult{err: ErrEmptyMessage}
	}

	c.supersede()

	var snapshot chat.Context
	if retry {
		snapshot = c.context.WithoutPending(msg)
	} else {
		snapshot = c.context.Clone()
		user := chat.NewUserMessage(msg)
		c.messages = append(c.messages, user)
		c.context = c.context.Append(user)
		c.input = ""
	}
	c.errMsg = ""
	c.loading = true
	c.messages = append(c.messages, chat.NewAssistantMessage(""))

	s := newSession(c.newID(), msg, len(c.messages)-1)
	ctx, cancel := context.WithCancel(c.ctx)
	s.cancel = cancel
	c.active = s
	c.armIdle(s)

	log.Debug().Str("component", "stream").Str("session_id", s.id).Bool("retry", retry).
		Int("context_len", len(snapshot)).Msg("starting session")

	go c.pump(ctx, Request{SessionID: s.id, Message: msg, Context: snapshot})

	kind := UpdateSubmitted
	if retry {
		kind = UpdateRetried
	}
	c.emit(kind, s.id, "", "")
	return submitResult{started: true, sessionID: s.id}
}

// pump runs on its own goroutine and forwards everything the source yields.
func (c *Controller) pump(ctx context.Context, req Request) {
	src, err := c.transport.Open(ctx, req)
	if err != nil {
		c.send(streamFailed{id: req.SessionID, err: errors.Wrap(err, "opening stream")})
		return
	}
	defer func() {
		_ = src.Close()
	}()
	if !c.send(streamOpened{id: req.SessionID, src: src}) {
		return
	}
	for {
		ev, err := src.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = ErrStreamEnded
			}
			c.send(streamFailed{id: req.SessionID, err: err})
			return
		}
		if !c.send(streamEvent{id: req.SessionID, ev: ev}) {
			return
		}
		if ev.Name == EventDone || ev.Name == EventError {
			return
		}
	}
}

// current returns the active session if id names it and it is still live.
func (c *Controller) current(id string) *session {
	if c.active == nil || c.active.id != id || c.active.state.IsTerminal() {
		return nil
	}
	return c.active
}

func (c *Controller) handleOpened(id string, src EventSource) {
	s := c.current(id)
	if s == nil {
		_ = src.Close()
		return
	}
	s.source = src
	s.transition(SessionOpen)
	c.loading = true
	c.armIdle(s)
	c.emit(UpdateOpened, id, "", "")
}

func (c *Controller) handleEvent(id string, ev sse.Event) {
	s := c.current(id)
	if s == nil {
		log.Debug().Str("component", "stream").Str("session_id", id).Str("event", ev.Name).
			Msg("dropping event for inactive session")
		return
	}
	c.armIdle(s)

	switch {
	case ev.IsMessage():
		c.handleChunk(s, ev)
	case ev.Name == EventDone:
		c.complete(s)
	case ev.Name == EventError:
		c.fail(id, &BackendError{Data: ev.Data})
	default:
		log.Trace().Str("component", "stream").Str("session_id", id).Str("event", ev.Name).Msg("ignoring event")
	}
}

func (c *Controller) handleChunk(s *session, ev sse.Event) {
	var p chunkPayload
	if err := json.Unmarshal([]byte(ev.Data), &p); err != nil || p.Content == nil {
		log.Warn().Err(err).Str("component", "stream").Str("session_id", s.id).Str("data", ev.Data).
			Msg("skipping malformed chunk")
		return
	}
	if s.state == SessionOpen {
		s.transition(SessionStreaming)
	}
	s.acc.WriteString(*p.Content)
	if s.placeholder < len(c.messages) {
		c.messages[s.placeholder].Content = c.formatter.Format(s.acc.String())
	}
	c.emit(UpdateChunk, s.id, *p.Content, "")
}

func (c *Controller) complete(s *session) {
	if !s.transition(SessionCompleted) {
		return
	}
	c.context = c.context.Append(chat.NewAssistantMessage(s.acc.String()))
	c.loading = false
	s.release()
	log.Debug().Str("component", "stream").Str("session_id", s.id).Int("length", s.acc.Len()).Msg("session completed")
	c.emit(UpdateCompleted, s.id, "", "")
}

func (c *Controller) fail(id string, err error) {
	s := c.current(id)
	if s == nil {
		log.Debug().Err(err).Str("component", "stream").Str("session_id", id).Msg("ignoring error for inactive session")
		return
	}
	if !s.transition(SessionErrored) {
		return
	}
	c.errMsg = c.errorMessage
	c.removePlaceholder(s)
	c.loading = false
	s.release()
	log.Warn().Err(err).Str("component", "stream").Str("session_id", id).Msg("session failed")
	c.emit(UpdateErrored, id, "", err.Error())
}

// supersede closes a still-running session before a new one starts.
func (c *Controller) supersede() {
	s := c.active
	if s == nil {
		return
	}
	if !s.state.IsTerminal() {
		s.transition(SessionClosed)
		c.removePlaceholder(s)
		log.Debug().Str("component", "stream").Str("session_id", s.id).Msg("session superseded")
	}
	s.release()
	c.active = nil
}

func (c *Controller) removePlaceholder(s *session) {
	i := s.placeholder
	if i < 0 || i >= len(c.messages) || !c.messages[i].IsAssistant() {
		return
	}
	c.messages = append(c.messages[:i], c.messages[i+1:]...)
	s.placeholder = -1
}

func (c *Controller) armIdle(s *session) {
	if c.idleTimeout <= 0 {
		return
	}
	if s.idle != nil {
		s.idle.Stop()
	}
	s.idleGen++
	id, gen := s.id, s.idleGen
	s.idle = time.AfterFunc(c.idleTimeout, func() {
		c.send(streamIdle{id: id, gen: gen})
	})
}

func (c *Controller) teardown() {
	c.supersede()
	c.loading = false
	c.cancel()
	c.final = c.state()
	c.emit(UpdateClosed, "", "", "")
	log.Debug().Str("component", "stream").Msg("controller closed")
}

func (c *Controller) state() State {
	st := State{
		Messages: chat.CloneMessages(c.messages),
		Context:  c.context.Clone(),
		Input:    c.input,
		Loading:  c.loading,
		Error:    c.errMsg,
	}
	if c.active != nil {
		st.SessionID = c.active.id
		st.SessionState = c.active.state.String()
	}
	return st
}

func (c *Controller) emit(kind UpdateKind, id, delta, errText string) {
	if len(c.sinks) == 0 {
		return
	}
	c.sinks.Publish(Update{
		Kind:      kind,
		Origin:    c.origin,
		SessionID: id,
		Delta:     delta,
		Err:       errText,
		State:     c.state(),
	})
}
