package cmds

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-go-golems/eshop-chat/pkg/redisstream"
	"github.com/go-go-golems/eshop-chat/pkg/stream"
	"github.com/go-go-golems/eshop-chat/pkg/ui"
	"github.com/go-go-golems/eshop-chat/pkg/updates"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type ChatCommand struct {
	*cmds.CommandDescription
}

var _ cmds.BareCommand = (*ChatCommand)(nil)

type ChatSettings struct {
	Message   string `glazed:"message"`
	AltScreen bool   `glazed:"alt-screen"`
	Verbose   bool   `glazed:"verbose"`
}

func NewChatCommand() (*ChatCommand, error) {
	sections, err := backendSections()
	if err != nil {
		return nil, err
	}
	desc := cmds.NewCommandDescription(
		"chat",
		cmds.WithShort("Open the interactive chat window"),
		cmds.WithArguments(
			fields.New("message", fields.TypeString, fields.WithHelp("Optional first message"), fields.WithDefault("")),
		),
		cmds.WithFlags(
			fields.New("alt-screen", fields.TypeBool, fields.WithHelp("Use the terminal alternate screen"), fields.WithDefault(true)),
			fields.New("verbose", fields.TypeBool, fields.WithHelp("Verbose update router logging"), fields.WithDefault(false)),
		),
		cmds.WithSections(sections...),
	)
	return &ChatCommand{CommandDescription: desc}, nil
}

func (c *ChatCommand) Run(ctx context.Context, parsed *values.Values) error {
	s := &ChatSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "init chat settings")
	}
	backend, redis, err := decodeBackend(parsed)
	if err != nil {
		return err
	}

	bus, err := redisstream.Open(ctx, redis.Private("chat"), s.Verbose)
	if err != nil {
		return errors.Wrap(err, "create update bus")
	}
	defer func() { _ = bus.Close() }()

	ctrl, err := backend.NewController(terminalWidth()-2, stream.WithSink(updates.NewSink(bus.Publisher, bus.Topic)))
	if err != nil {
		return err
	}
	defer func() { _ = ctrl.Close() }()

	var opts []tea.ProgramOption
	if s.AltScreen {
		opts = append(opts, tea.WithAltScreen())
	}
	p := tea.NewProgram(ui.NewModel(ctrl), opts...)
	bus.Handle("ui-forwarder", updates.HandlerFunc(updates.FromOrigin(ctrl.ID(), ui.ForwardFunc(p))))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return bus.Run(ctx)
	})
	eg.Go(func() error {
		defer cancel()
		select {
		case <-bus.Running():
		case <-ctx.Done():
			return ctx.Err()
		}
		if s.Message != "" {
			if err := ctrl.Submit(s.Message); err != nil {
				log.Warn().Err(err).Msg("initial message not sent")
			}
		}
		if _, err := p.Run(); err != nil {
			return errors.Wrap(err, "run chat window")
		}
		return nil
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
