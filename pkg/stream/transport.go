package stream

import (
	"context"

	"github.com/go-go-golems/eshop-chat/pkg/chat"
	"github.com/go-go-golems/eshop-chat/pkg/sse"
)

// Request is what a session sends to the backend.
type Request struct {
	SessionID string
	Message   string
	Context   chat.Context
}

// EventSource is an open stream. Next blocks until an event arrives or the
// stream fails; Close must be idempotent and must unblock Next.
type EventSource interface {
	Next() (sse.Event, error)
	Close() error
}

type Transport interface {
	Open(ctx context.Context, req Request) (EventSource, error)
}

type TransportFunc func(ctx context.Context, req Request) (EventSource, error)

func (f TransportFunc) Open(ctx context.Context, req Request) (EventSource, error) {
	return f(ctx, req)
}

type sseTransport struct {
	client *sse.Client
}

// NewSSETransport opens sessions against GET /chat.
func NewSSETransport(client *sse.Client) Transport {
	return &sseTransport{client: client}
}

func (t *sseTransport) Open(ctx context.Context, req Request) (EventSource, error) {
	s, err := t.client.Open(ctx, req.Message, req.Context)
	if err != nil {
		return nil, err
	}
	return s, nil
}
