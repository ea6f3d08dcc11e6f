package format

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const DefaultWidth = 80

// Terminal renders markdown with glamour for a terminal.
type Terminal struct {
	renderer *glamour.TermRenderer
}

func NewTerminal(style string, width int) (*Terminal, error) {
	if style == "" {
		style = "dark"
	}
	if width <= 0 {
		width = DefaultWidth
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil, errors.Wrap(err, "creating markdown renderer")
	}
	return &Terminal{renderer: r}, nil
}

// Format falls back to the raw text if rendering fails, so a half-received
// code fence never blanks the message.
func (t *Terminal) Format(raw string) string {
	out, err := t.renderer.Render(raw)
	if err != nil {
		log.Debug().Err(err).Str("component", "format").Msg("markdown render failed")
		return raw
	}
	return strings.Trim(out, "\n")
}
