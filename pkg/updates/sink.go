// Package updates moves controller updates over a watermill topic.
package updates

import (
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-go-golems/eshop-chat/pkg/stream"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	MetadataKind      = "kind"
	MetadataOrigin    = "origin"
	MetadataSessionID = "session_id"
)

// Sink publishes every controller update as a JSON message on topic.
type Sink struct {
	publisher message.Publisher
	topic     string
}

var _ stream.Sink = (*Sink)(nil)

func NewSink(publisher message.Publisher, topic string) *Sink {
	return &Sink{publisher: publisher, topic: topic}
}

func (s *Sink) Publish(u stream.Update) {
	msg, err := Encode(u)
	if err != nil {
		log.Error().Err(err).Str("component", "updates").Msg("encoding update")
		return
	}
	if err := s.publisher.Publish(s.topic, msg); err != nil {
		log.Error().Err(err).Str("component", "updates").Str("topic", s.topic).
			Str("kind", string(u.Kind)).Msg("publishing update")
	}
}

func Encode(u stream.Update) (*message.Message, error) {
	b, err := json.Marshal(u)
	if err != nil {
		return nil, errors.Wrap(err, "marshaling update")
	}
	msg := message.NewMessage(uuid.NewString(), b)
	msg.Metadata.Set(MetadataKind, string(u.Kind))
	msg.Metadata.Set(MetadataOrigin, u.Origin)
	msg.Metadata.Set(MetadataSessionID, u.SessionID)
	return msg, nil
}

func Decode(msg *message.Message) (stream.Update, error) {
	var u stream.Update
	if err := json.Unmarshal(msg.Payload, &u); err != nil {
		return stream.Update{}, errors.Wrap(err, "unmarshaling update")
	}
	return u, nil
}

// HandlerFunc adapts f to a router handler. Messages that do not decode are
// acked and skipped.
func HandlerFunc(f func(stream.Update) error) func(*message.Message) error {
	return func(msg *message.Message) error {
		msg.Ack()
		u, err := Decode(msg)
		if err != nil {
			log.Warn().Err(err).Str("component", "updates").Str("payload", string(msg.Payload)).
				Msg("skipping malformed update")
			return nil
		}
		return f(u)
	}
}

// FromOrigin wraps f so that it only sees updates emitted by the controller
// whose ID is origin. Other processes publishing on the same topic are skipped.
func FromOrigin(origin string, f func(stream.Update) error) func(stream.Update) error {
	return func(u stream.Update) error {
		if u.Origin != origin {
			return nil
		}
		return f(u)
	}
}
