package cmds

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-go-golems/eshop-chat/pkg/redisstream"
	"github.com/go-go-golems/eshop-chat/pkg/updates"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type WatchCommand struct {
	*cmds.CommandDescription
}

var _ cmds.WriterCommand = (*WatchCommand)(nil)

type WatchSettings struct {
	OutputFormat string `glazed:"output-format"`
	FullOutput   bool   `glazed:"full-output"`
	Group        string `glazed:"watch-group"`
	Verbose      bool   `glazed:"verbose"`
}

func NewWatchCommand() (*WatchCommand, error) {
	sections, err := backendSections()
	if err != nil {
		return nil, err
	}
	desc := cmds.NewCommandDescription(
		"watch",
		cmds.WithShort("Tail conversation updates published to Redis Streams"),
		cmds.WithFlags(
			fields.New("output-format", fields.TypeChoice, fields.WithHelp("Output format"),
				fields.WithChoices("text", "json", "yaml"), fields.WithDefault("text")),
			fields.New("full-output", fields.TypeBool, fields.WithHelp("Include the conversation state in json/yaml output"), fields.WithDefault(false)),
			fields.New("watch-group", fields.TypeString, fields.WithHelp("Consumer group (default: a new group per watcher)"), fields.WithDefault("")),
			fields.New("verbose", fields.TypeBool, fields.WithHelp("Verbose update router logging"), fields.WithDefault(false)),
		),
		cmds.WithSections(sections...),
	)
	return &WatchCommand{CommandDescription: desc}, nil
}

func (c *WatchCommand) RunIntoWriter(ctx context.Context, parsed *values.Values, w io.Writer) error {
	s := &WatchSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "init watch settings")
	}
	_, redis, err := decodeBackend(parsed)
	if err != nil {
		return err
	}
	if !redis.Enabled {
		return errors.New("watch needs --redis-enabled: in-memory updates are only visible inside one process")
	}

	if s.Group != "" {
		redis.Group = s.Group
		redis.Consumer = "watch"
	} else {
		redis = redis.Private("watch")
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus, err := redisstream.Open(ctx, redis, s.Verbose)
	if err != nil {
		return errors.Wrap(err, "create update bus")
	}
	defer func() { _ = bus.Close() }()

	bus.Handle("watch", updates.HandlerFunc(updates.NewPrinter(w, updates.PrinterOptions{
		Format: updates.PrinterFormat(s.OutputFormat),
		Full:   s.FullOutput,
	})))

	log.Info().Str("topic", bus.Topic).Str("group", redis.Group).Msg("watching conversation updates")
	if err := bus.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
