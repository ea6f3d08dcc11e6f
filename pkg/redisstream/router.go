package redisstream

import (
	"context"
	"strings"

	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-go-golems/geppetto/pkg/events"
	"github.com/go-go-golems/geppetto/pkg/helpers"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Bus is the update router of one process, bound to the topic its
// conversation updates travel on.
type Bus struct {
	*events.EventRouter
	Topic string

	client *redis.Client
}

// Open builds the update bus. Without Redis it is an in-memory router that
// only reaches handlers of this process. With Redis the consumer group is
// created at the tail of the topic before subscribing, and group setup,
// publisher and subscriber share a single client.
func Open(ctx context.Context, s Settings, verbose bool) (*Bus, error) {
	b := &Bus{Topic: s.TopicOrDefault()}
	if !s.Enabled {
		router, err := events.NewEventRouter(optVerbose(verbose))
		if err != nil {
			return nil, err
		}
		b.EventRouter = router
		return b, nil
	}

	b.client = redis.NewClient(&redis.Options{Addr: s.Addr})
	if err := ensureGroupAtTail(ctx, b.client, b.Topic, s.Group); err != nil {
		_ = b.client.Close()
		return nil, err
	}

	logger := helpers.NewWatermill(log.Logger)
	marshaler := rstream.DefaultMarshallerUnmarshaller{}
	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     b.client,
		Marshaller: marshaler,
	}, logger)
	if err != nil {
		_ = b.client.Close()
		return nil, errors.Wrap(err, "creating redis publisher")
	}
	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        b.client,
		Unmarshaller:  marshaler,
		ConsumerGroup: s.Group,
		Consumer:      s.Consumer,
	}, logger)
	if err != nil {
		_ = b.client.Close()
		return nil, errors.Wrap(err, "creating redis subscriber")
	}

	router, err := events.NewEventRouter(
		events.WithPublisher(message.Publisher(pub)),
		events.WithSubscriber(message.Subscriber(sub)),
		optVerbose(verbose),
	)
	if err != nil {
		_ = b.client.Close()
		return nil, err
	}
	b.EventRouter = router
	log.Debug().Str("addr", s.Addr).Str("topic", b.Topic).Str("group", s.Group).Str("consumer", s.Consumer).
		Msg("using redis streams for updates")
	return b, nil
}

// Handle registers f for every update on the bus topic.
func (b *Bus) Handle(name string, f func(*message.Message) error) {
	b.AddHandler(name, b.Topic, f)
}

// Close stops the router and releases the Redis client.
func (b *Bus) Close() error {
	err := b.EventRouter.Close()
	if b.client != nil {
		if cerr := b.client.Close(); cerr != nil && err == nil {
			err = errors.Wrap(cerr, "closing redis client")
		}
	}
	return err
}

func optVerbose(v bool) events.EventRouterOption {
	if v {
		return events.WithVerbose(true)
	}
	return func(r *events.EventRouter) {}
}

// ensureGroupAtTail creates group at the end of stream, so a new consumer
// does not replay history. An existing group keeps its position.
func ensureGroupAtTail(ctx context.Context, client *redis.Client, stream, group string) error {
	err := client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return errors.Wrapf(err, "creating consumer group %s", group)
	}
	log.Info().Str("stream", stream).Str("group", group).Msg("created redis consumer group at tail")
	return nil
}
