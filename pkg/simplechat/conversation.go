package simplechat

import (
	"context"
	"sync"

	"github.com/go-go-golems/eshop-chat/pkg/chat"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// FailureMessage is appended as the assistant reply when a request fails.
const FailureMessage = "Sorry, there was an error processing your request."

var ErrEmptyMessage = errors.New("message is empty")

type Sender interface {
	Send(ctx context.Context, message string) (string, error)
}

// Conversation keeps the message list for the non-streaming path. Failures
// never surface as errors; they become a fixed assistant reply.
type Conversation struct {
	sender Sender

	mu       sync.Mutex
	messages []chat.Message
	input    string
	loading  bool
}

func NewConversation(sender Sender) *Conversation {
	return &Conversation{sender: sender}
}

func (c *Conversation) SetInput(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.input = text
}

func (c *Conversation) Input() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.input
}

// Submit sends text and blocks until the reply (or the failure message) is
// appended. It returns the assistant message that was added.
func (c *Conversation) Submit(ctx context.Context, text string) (chat.Message, error) {
	msg := chat.Normalize(text)
	if msg == "" {
		return chat.Message{}, ErrEmptyMessage
	}

	c.mu.Lock()
	c.messages = append(c.messages, chat.NewUserMessage(msg))
	c.input = ""
	c.loading = true
	c.mu.Unlock()

	reply, err := c.sender.Send(ctx, msg)
	if err != nil {
		log.Warn().Err(err).Str("component", "simplechat").Msg("chat request failed")
		reply = FailureMessage
	}
	assistant := chat.NewAssistantMessage(reply)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, assistant)
	c.loading = false
	return assistant, nil
}

// SubmitInput submits the current input buffer.
func (c *Conversation) SubmitInput(ctx context.Context) (chat.Message, error) {
	return c.Submit(ctx, c.Input())
}

func (c *Conversation) Messages() []chat.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return chat.CloneMessages(c.messages)
}

func (c *Conversation) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}
