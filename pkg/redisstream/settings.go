package redisstream

import (
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
	"github.com/google/uuid"
)

const (
	SectionSlug  = "redis"
	DefaultTopic = "eshop-chat.updates"
	DefaultGroup = "eshop-chat"
)

// Settings configures the Redis Streams transport for conversation updates.
type Settings struct {
	Enabled  bool   `glazed:"redis-enabled"`
	Addr     string `glazed:"redis-addr"`
	Group    string `glazed:"redis-group"`
	Consumer string `glazed:"redis-consumer"`
	Topic    string `glazed:"redis-topic"`
}

func (s Settings) TopicOrDefault() string {
	if s.Topic == "" {
		return DefaultTopic
	}
	return s.Topic
}

// Private returns settings with a consumer group of its own, named after
// role. Every process that must see all updates on the topic, rather than
// share them with other consumers of one group, uses a private group.
func (s Settings) Private(role string) Settings {
	prefix := s.Group
	if prefix == "" {
		prefix = DefaultGroup
	}
	s.Group = prefix + "-" + role + "-" + uuid.NewString()[:8]
	s.Consumer = role
	return s
}

func NewSection() (schema.Section, error) {
	return schema.NewSection(
		SectionSlug,
		"Redis Streams transport for conversation updates",
		schema.WithFields(
			fields.New("redis-enabled", fields.TypeBool, fields.WithDefault(false),
				fields.WithHelp("Publish conversation updates to Redis Streams instead of in memory")),
			fields.New("redis-addr", fields.TypeString, fields.WithDefault("localhost:6379"),
				fields.WithHelp("Redis address host:port")),
			fields.New("redis-group", fields.TypeString, fields.WithDefault(DefaultGroup),
				fields.WithHelp("Prefix of the per-process Redis consumer groups")),
			fields.New("redis-consumer", fields.TypeString, fields.WithDefault("ui-1"),
				fields.WithHelp("Redis consumer name")),
			fields.New("redis-topic", fields.TypeString, fields.WithDefault(DefaultTopic),
				fields.WithHelp("Stream that carries conversation updates")),
		),
	)
}
