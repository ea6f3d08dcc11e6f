package stream

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// SessionState is the lifecycle state of one streaming request.
type SessionState int

const (
	SessionIdle SessionState = iota
	SessionOpen
	SessionStreaming
	SessionCompleted
	SessionErrored
	// SessionClosed marks a session torn down before it reached completion,
	// either because a newer turn superseded it or the controller closed.
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "idle"
	case SessionOpen:
		return "open"
	case SessionStreaming:
		return "streaming"
	case SessionCompleted:
		return "completed"
	case SessionErrored:
		return "errored"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

func (s SessionState) IsTerminal() bool {
	return s == SessionCompleted || s == SessionErrored || s == SessionClosed
}

var sessionTransitions = map[SessionState][]SessionState{
	SessionIdle:      {SessionOpen, SessionErrored, SessionClosed},
	SessionOpen:      {SessionStreaming, SessionCompleted, SessionErrored, SessionClosed},
	SessionStreaming: {SessionStreaming, SessionCompleted, SessionErrored, SessionClosed},
}

func canTransition(from, to SessionState) bool {
	for _, s := range sessionTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// session is owned by the controller loop and never touched from other
// goroutines.
type session struct {
	id      string
	message string
	state   SessionState

	acc         strings.Builder
	placeholder int

	source EventSource
	cancel context.CancelFunc

	idle    *time.Timer
	idleGen uint64
}

func newSession(id, message string, placeholder int) *session {
	return &session{
		id:          id,
		message:     message,
		state:       SessionIdle,
		placeholder: placeholder,
	}
}

func (s *session) transition(to SessionState) bool {
	if !canTransition(s.state, to) {
		log.Debug().Str("component", "stream").Str("session_id", s.id).
			Str("from", s.state.String()).Str("to", to.String()).
			Msg("ignoring invalid session transition")
		return false
	}
	s.state = to
	return true
}

// release cancels the request, closes the source and stops the idle timer.
// Safe to call more than once.
func (s *session) release() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.source != nil {
		if err := s.source.Close(); err != nil {
			log.Debug().Err(err).Str("component", "stream").Str("session_id", s.id).Msg("closing stream source")
		}
	}
	if s.idle != nil {
		s.idle.Stop()
		s.idle = nil
	}
}
