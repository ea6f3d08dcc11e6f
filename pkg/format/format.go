// Package format renders accumulated assistant text for display.
package format

import (
	"strings"

	"github.com/pkg/errors"
)

// Formatter maps raw accumulated text to display text. Implementations must
// be safe to call on partial markdown.
type Formatter interface {
	Format(raw string) string
}

type FormatterFunc func(raw string) string

func (f FormatterFunc) Format(raw string) string {
	return f(raw)
}

type Kind string

const (
	KindPlain    Kind = "plain"
	KindMarkdown Kind = "markdown"
	KindHTML     Kind = "html"
)

// Plain returns the text unchanged.
type Plain struct{}

func (Plain) Format(raw string) string {
	return raw
}

type Options struct {
	// Style is a glamour standard style name, e.g. "dark", "light", "notty".
	Style string
	Width int
}

// New builds a formatter by name.
func New(kind string, opts Options) (Formatter, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(kind))) {
	case "", KindPlain:
		return Plain{}, nil
	case KindMarkdown:
		return NewTerminal(opts.Style, opts.Width)
	case KindHTML:
		return NewHTML(), nil
	default:
		return nil, errors.Errorf("unknown format %q (want plain, markdown or html)", kind)
	}
}
