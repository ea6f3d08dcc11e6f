package stream

import "github.com/pkg/errors"

var (
	ErrEmptyMessage = errors.New("message is empty")
	ErrClosed       = errors.New("stream controller is closed")
	ErrStreamEnded  = errors.New("stream ended before completion")
	ErrStreamIdle   = errors.New("stream idle timeout")
)

// BackendError is reported when the backend sends a named error event.
type BackendError struct {
	Data string
}

func (e *BackendError) Error() string {
	if e.Data == "" {
		return "backend reported an error"
	}
	return "backend reported an error: " + e.Data
}
