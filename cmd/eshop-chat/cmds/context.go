package cmds

import (
	"context"
	"unicode/utf8"

	"github.com/go-go-golems/eshop-chat/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	glazed_settings "github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/pkg/errors"
)

// ContextCommand lists the turns of a seed context file.
type ContextCommand struct {
	*cmds.CommandDescription
}

var _ cmds.GlazeCommand = (*ContextCommand)(nil)

func NewContextCommand() (*ContextCommand, error) {
	glazedSection, err := glazed_settings.NewGlazedSection()
	if err != nil {
		return nil, err
	}
	commandSettingsSection, err := cli.NewCommandSettingsSection()
	if err != nil {
		return nil, err
	}
	backend, err := settings.NewBackendSection()
	if err != nil {
		return nil, errors.Wrap(err, "build backend section")
	}

	desc := cmds.NewCommandDescription(
		"context",
		cmds.WithShort("Validate and list a conversation context file"),
		cmds.WithLong("Reads --context-file and prints one row per turn, as it would be sent to the backend."),
		cmds.WithSections(glazedSection, commandSettingsSection, backend),
	)
	return &ContextCommand{CommandDescription: desc}, nil
}

func (c *ContextCommand) RunIntoGlazeProcessor(ctx context.Context, parsed *values.Values, gp middlewares.Processor) error {
	b := settings.Backend{}
	if err := parsed.DecodeSectionInto(settings.BackendSlug, &b); err != nil {
		return errors.Wrap(err, "init backend settings")
	}
	if b.ContextFile == "" {
		return errors.New("--context-file is required")
	}
	turns, err := b.LoadContext()
	if err != nil {
		return err
	}
	for i, m := range turns {
		row := types.NewRow(
			types.MRP("index", i),
			types.MRP("role", string(m.Role)),
			types.MRP("length", utf8.RuneCountInString(m.Content)),
			types.MRP("content", m.Content),
		)
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}
