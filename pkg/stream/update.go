package stream

import (
	"github.com/go-go-golems/eshop-chat/pkg/chat"
)

// State is a copy of the controller's conversation state.
type State struct {
	Messages     []chat.Message `json:"messages"`
	Context      chat.Context   `json:"context"`
	Input        string         `json:"input"`
	Loading      bool           `json:"loading"`
	Error        string         `json:"error,omitempty"`
	SessionID    string         `json:"session_id,omitempty"`
	SessionState string         `json:"session_state,omitempty"`
}

// LastAssistant returns the last assistant message in the display list.
func (s State) LastAssistant() (chat.Message, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].IsAssistant() {
			return s.Messages[i], true
		}
	}
	return chat.Message{}, false
}

type UpdateKind string

const (
	UpdateSubmitted UpdateKind = "submitted"
	UpdateRetried   UpdateKind = "retried"
	UpdateOpened    UpdateKind = "opened"
	UpdateChunk     UpdateKind = "chunk"
	UpdateCompleted UpdateKind = "completed"
	UpdateErrored   UpdateKind = "errored"
	UpdateInput     UpdateKind = "input"
	UpdateClosed    UpdateKind = "closed"
)

// IsTerminal reports whether the update ends the turn it belongs to.
func (k UpdateKind) IsTerminal() bool {
	return k == UpdateCompleted || k == UpdateErrored || k == UpdateClosed
}

// Update is emitted after every state change. Origin names the controller
// that emitted it, so consumers sharing a topic can tell conversations apart.
type Update struct {
	Kind      UpdateKind `json:"kind"`
	Origin    string     `json:"origin,omitempty"`
	SessionID string     `json:"session_id,omitempty"`
	Delta     string     `json:"delta,omitempty"`
	Err       string     `json:"err,omitempty"`
	State     State      `json:"state"`
}

// Sink receives updates on the controller goroutine. Implementations must
// not call back into the controller synchronously.
type Sink interface {
	Publish(u Update)
}

type SinkFunc func(u Update)

func (f SinkFunc) Publish(u Update) {
	f(u)
}

type multiSink []Sink

func (m multiSink) Publish(u Update) {
	for _, s := range m {
		s.Publish(u)
	}
}
