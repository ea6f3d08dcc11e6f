package stream

import (
	"time"

	"github.com/go-go-golems/eshop-chat/pkg/chat"
	"github.com/go-go-golems/eshop-chat/pkg/format"
	"github.com/google/uuid"
)

const (
	DefaultIdleTimeout = 60 * time.Second
	// DefaultErrorMessage is the banner shown when a turn fails.
	DefaultErrorMessage = "Omlouváme se, došlo k chybě při komunikaci s asistentem. Zkuste to prosím znovu za chvíli."
)

type Option func(*Controller)

// WithFormatter sets the function applied to the accumulated text before it
// is written into the in-progress assistant message.
func WithFormatter(f format.Formatter) Option {
	return func(c *Controller) {
		if f != nil {
			c.formatter = f
		}
	}
}

// WithIdleTimeout fails a session after d without any event. Zero disables it.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Controller) {
		c.idleTimeout = d
	}
}

func WithErrorMessage(msg string) Option {
	return func(c *Controller) {
		if msg != "" {
			c.errorMessage = msg
		}
	}
}

// WithSink adds a receiver for updates. Can be given more than once.
func WithSink(s Sink) Option {
	return func(c *Controller) {
		if s != nil {
			c.sinks = append(c.sinks, s)
		}
	}
}

// WithInitialContext seeds the conversation context, e.g. from a context file.
func WithInitialContext(ctx chat.Context) Option {
	return func(c *Controller) {
		c.context = ctx.Clone()
	}
}

func WithSessionIDs(gen func() string) Option {
	return func(c *Controller) {
		if gen != nil {
			c.newID = gen
		}
	}
}

func defaultSessionID() string {
	return uuid.NewString()
}
