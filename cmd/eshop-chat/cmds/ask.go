package cmds

import (
	"context"
	"fmt"
	"io"

	"github.com/go-go-golems/eshop-chat/pkg/format"
	"github.com/go-go-golems/eshop-chat/pkg/redisstream"
	"github.com/go-go-golems/eshop-chat/pkg/stream"
	"github.com/go-go-golems/eshop-chat/pkg/updates"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type AskCommand struct {
	*cmds.CommandDescription
}

var _ cmds.WriterCommand = (*AskCommand)(nil)

type AskSettings struct {
	Message string `glazed:"message"`
	Verbose bool   `glazed:"verbose"`
}

func NewAskCommand() (*AskCommand, error) {
	sections, err := backendSections()
	if err != nil {
		return nil, err
	}
	desc := cmds.NewCommandDescription(
		"ask",
		cmds.WithShort("Ask one question and stream the answer to stdout"),
		cmds.WithArguments(
			fields.New("message", fields.TypeString, fields.WithHelp("Question for the assistant"), fields.WithRequired(true)),
		),
		cmds.WithFlags(
			fields.New("verbose", fields.TypeBool, fields.WithHelp("Verbose update router logging"), fields.WithDefault(false)),
		),
		cmds.WithSections(sections...),
	)
	return &AskCommand{CommandDescription: desc}, nil
}

func (c *AskCommand) RunIntoWriter(ctx context.Context, parsed *values.Values, w io.Writer) error {
	s := &AskSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "init ask settings")
	}
	backend, redis, err := decodeBackend(parsed)
	if err != nil {
		return err
	}
	if !stdoutIsTerminal() {
		backend.Style = "notty"
	}

	bus, err := redisstream.Open(ctx, redis.Private("ask"), s.Verbose)
	if err != nil {
		return errors.Wrap(err, "create update bus")
	}
	defer func() { _ = bus.Close() }()

	// Deltas are raw text, so they are streamed directly only for plain
	// output. Rendered formats are printed once the reply is complete.
	streamDeltas := format.Kind(backend.Format) == format.KindPlain || backend.Format == ""

	ctrl, err := backend.NewController(terminalWidth(), stream.WithSink(updates.NewSink(bus.Publisher, bus.Topic)))
	if err != nil {
		return err
	}
	defer func() { _ = ctrl.Close() }()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The topic may carry other conversations, so updates are buffered until
	// the session id of this question is known.
	received := make(chan stream.Update, 64)
	bus.Handle("ask", updates.HandlerFunc(updates.FromOrigin(ctrl.ID(), func(u stream.Update) error {
		select {
		case received <- u:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})))

	var result error
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
		log.Debug().Str("topic", bus.Topic).Msg("update bus running; submitting question")
		sessionID, err := ctrl.SubmitTurn(s.Message)
		if err != nil {
			return errors.Wrap(err, "submit question")
		}
		final, err := awaitTurn(ctx, received, sessionID, w, streamDeltas)
		if err != nil {
			return err
		}
		result = report(w, final, streamDeltas)
		return nil
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return result
}

// awaitTurn consumes updates until the turn sessionID ends, writing chunk
// deltas to w when streamDeltas is set. Updates of other sessions are skipped.
func awaitTurn(ctx context.Context, received <-chan stream.Update, sessionID string, w io.Writer, streamDeltas bool) (stream.Update, error) {
	for {
		select {
		case u := <-received:
			if u.Kind == stream.UpdateClosed {
				return u, nil
			}
			if u.SessionID != sessionID {
				continue
			}
			switch {
			case u.Kind == stream.UpdateChunk && streamDeltas:
				if _, err := io.WriteString(w, u.Delta); err != nil {
					return stream.Update{}, err
				}
			case u.Kind.IsTerminal():
				return u, nil
			}
		case <-ctx.Done():
			return stream.Update{}, ctx.Err()
		}
	}
}

func report(w io.Writer, u stream.Update, streamed bool) error {
	switch u.Kind {
	case stream.UpdateCompleted:
		if streamed {
			_, err := fmt.Fprintln(w)
			return err
		}
		reply, _ := u.State.LastAssistant()
		_, err := fmt.Fprintln(w, reply.Content)
		return err
	case stream.UpdateErrored:
		return errors.Errorf("%s (%s)", u.State.Error, u.Err)
	default:
		return errors.Errorf("conversation ended before a reply (%s)", u.Kind)
	}
}
