package cmds

import (
	"os"

	"github.com/go-go-golems/eshop-chat/pkg/redisstream"
	"github.com/go-go-golems/eshop-chat/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"golang.org/x/term"
)

const defaultWidth = 80

func backendSections() ([]schema.Section, error) {
	backend, err := settings.NewBackendSection()
	if err != nil {
		return nil, errors.Wrap(err, "build backend section")
	}
	redis, err := redisstream.NewSection()
	if err != nil {
		return nil, errors.Wrap(err, "build redis section")
	}
	return []schema.Section{backend, redis}, nil
}

func decodeBackend(parsed *values.Values) (settings.Backend, redisstream.Settings, error) {
	b := settings.Backend{}
	if err := parsed.DecodeSectionInto(settings.BackendSlug, &b); err != nil {
		return b, redisstream.Settings{}, errors.Wrap(err, "init backend settings")
	}
	r := redisstream.Settings{}
	if err := parsed.DecodeSectionInto(redisstream.SectionSlug, &r); err != nil {
		return b, r, errors.Wrap(err, "init redis settings")
	}
	return b, r, nil
}

func stdoutIsTerminal() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// terminalWidth returns the width of stdout, or defaultWidth when stdout is
// not a terminal.
func terminalWidth() int {
	if !stdoutIsTerminal() {
		return defaultWidth
	}
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return defaultWidth
	}
	return w
}
