package cmds

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/go-go-golems/eshop-chat/pkg/chat"
	"github.com/go-go-golems/eshop-chat/pkg/format"
	"github.com/go-go-golems/eshop-chat/pkg/simplechat"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/pkg/errors"
)

type SendCommand struct {
	*cmds.CommandDescription
}

var _ cmds.WriterCommand = (*SendCommand)(nil)

type SendSettings struct {
	Message string `glazed:"message"`
}

func NewSendCommand() (*SendCommand, error) {
	sections, err := backendSections()
	if err != nil {
		return nil, err
	}
	desc := cmds.NewCommandDescription(
		"send",
		cmds.WithShort("Send messages over the non-streaming endpoint"),
		cmds.WithLong("Send one message, or read one message per line from stdin when no message is given."),
		cmds.WithArguments(
			fields.New("message", fields.TypeString, fields.WithHelp("Message to send"), fields.WithDefault("")),
		),
		cmds.WithSections(sections...),
	)
	return &SendCommand{CommandDescription: desc}, nil
}

func (c *SendCommand) RunIntoWriter(ctx context.Context, parsed *values.Values, w io.Writer) error {
	s := &SendSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "init send settings")
	}
	backend, _, err := decodeBackend(parsed)
	if err != nil {
		return err
	}
	if !stdoutIsTerminal() {
		backend.Style = "notty"
	}
	f, err := backend.NewFormatter(terminalWidth())
	if err != nil {
		return err
	}

	conv := simplechat.NewConversation(backend.NewSimpleClient())
	if s.Message != "" {
		return send(ctx, conv, f, w, s.Message)
	}

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if chat.Normalize(line) == "" {
			continue
		}
		if err := send(ctx, conv, f, w, line); err != nil {
			return err
		}
	}
	return errors.Wrap(scanner.Err(), "read stdin")
}

func send(ctx context.Context, conv *simplechat.Conversation, f format.Formatter, w io.Writer, text string) error {
	reply, err := conv.Submit(ctx, text)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, f.Format(reply.Content))
	return err
}
