package updates

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/go-go-golems/eshop-chat/pkg/chat"
	"github.com/go-go-golems/eshop-chat/pkg/stream"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type PrinterFormat string

const (
	PrinterFormatText PrinterFormat = "text"
	PrinterFormatJSON PrinterFormat = "json"
	PrinterFormatYAML PrinterFormat = "yaml"
)

type PrinterOptions struct {
	Format PrinterFormat
	// Full includes the state copy in json/yaml output.
	Full bool
}

type printedUpdate struct {
	Kind      stream.UpdateKind `json:"kind" yaml:"kind"`
	SessionID string            `json:"session_id,omitempty" yaml:"session_id,omitempty"`
	Delta     string            `json:"delta,omitempty" yaml:"delta,omitempty"`
	Err       string            `json:"err,omitempty" yaml:"err,omitempty"`
	State     *stream.State     `json:"state,omitempty" yaml:"state,omitempty"`
}

// NewPrinter returns a handler that writes updates to w. The text format
// prints deltas as they arrive and a marker for every terminal update.
func NewPrinter(w io.Writer, opts PrinterOptions) func(stream.Update) error {
	return func(u stream.Update) error {
		switch opts.Format {
		case "", PrinterFormatText:
			return printText(w, u)
		case PrinterFormatJSON, PrinterFormatYAML:
			p := printedUpdate{Kind: u.Kind, SessionID: u.SessionID, Delta: u.Delta, Err: u.Err}
			if opts.Full {
				st := u.State
				p.State = &st
			}
			if opts.Format == PrinterFormatJSON {
				b, err := json.Marshal(p)
				if err != nil {
					return errors.Wrap(err, "marshaling update")
				}
				_, err = fmt.Fprintln(w, string(b))
				return err
			}
			b, err := yaml.Marshal(p)
			if err != nil {
				return errors.Wrap(err, "marshaling update")
			}
			_, err = fmt.Fprintf(w, "---\n%s", b)
			return err
		default:
			return errors.Errorf("unknown printer format %q", opts.Format)
		}
	}
}

func printText(w io.Writer, u stream.Update) error {
	var err error
	switch u.Kind {
	case stream.UpdateSubmitted, stream.UpdateRetried:
		if m, ok := chat.LastUserMessage(u.State.Messages); ok {
			_, err = fmt.Fprintf(w, "> %s\n", m.Content)
		}
	case stream.UpdateChunk:
		_, err = io.WriteString(w, u.Delta)
	case stream.UpdateCompleted:
		_, err = io.WriteString(w, "\n")
	case stream.UpdateErrored:
		_, err = fmt.Fprintf(w, "\n[error] %s\n", u.State.Error)
	case stream.UpdateOpened, stream.UpdateInput, stream.UpdateClosed:
	}
	return err
}
