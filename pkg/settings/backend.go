// Package settings holds the glazed section shared by every command that
// talks to the chat backend.
package settings

import (
	"net/http"
	"time"

	"github.com/go-go-golems/eshop-chat/pkg/chat"
	"github.com/go-go-golems/eshop-chat/pkg/format"
	"github.com/go-go-golems/eshop-chat/pkg/simplechat"
	"github.com/go-go-golems/eshop-chat/pkg/sse"
	"github.com/go-go-golems/eshop-chat/pkg/stream"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
	"github.com/pkg/errors"
)

const (
	BackendSlug    = "backend"
	DefaultBaseURL = "http://localhost:8000"
)

type Backend struct {
	BaseURL      string `glazed:"base-url"`
	IdleTimeout  int    `glazed:"idle-timeout"`
	ErrorMessage string `glazed:"error-message"`
	Format       string `glazed:"format"`
	Style        string `glazed:"style"`
	ContextFile  string `glazed:"context-file"`
	HTTPTimeout  int    `glazed:"http-timeout"`
}

func NewBackendSection() (schema.Section, error) {
	return schema.NewSection(
		BackendSlug,
		"Chat backend",
		schema.WithFields(
			fields.New("base-url", fields.TypeString, fields.WithDefault(DefaultBaseURL),
				fields.WithHelp("Base URL of the chat backend")),
			fields.New("idle-timeout", fields.TypeInteger, fields.WithDefault(int(stream.DefaultIdleTimeout/time.Second)),
				fields.WithHelp("Seconds without any stream event before a reply fails (0 disables)")),
			fields.New("error-message", fields.TypeString, fields.WithDefault(stream.DefaultErrorMessage),
				fields.WithHelp("Banner shown when a reply fails")),
			fields.New("format", fields.TypeChoice, fields.WithDefault(string(format.KindPlain)),
				fields.WithChoices(string(format.KindPlain), string(format.KindMarkdown), string(format.KindHTML)),
				fields.WithHelp("How assistant replies are rendered")),
			fields.New("style", fields.TypeString, fields.WithDefault("dark"),
				fields.WithHelp("Markdown style (dark, light, notty, ...)")),
			fields.New("context-file", fields.TypeString, fields.WithDefault(""),
				fields.WithHelp("YAML or JSON file with prior conversation turns")),
			fields.New("http-timeout", fields.TypeInteger, fields.WithDefault(int(simplechat.DefaultTimeout/time.Second)),
				fields.WithHelp("Request timeout in seconds for the non-streaming endpoint")),
		),
	)
}

func (b Backend) IdleTimeoutDuration() time.Duration {
	if b.IdleTimeout <= 0 {
		return 0
	}
	return time.Duration(b.IdleTimeout) * time.Second
}

// LoadContext reads the seed context, or returns an empty one when no file
// is configured.
func (b Backend) LoadContext() (chat.Context, error) {
	if b.ContextFile == "" {
		return chat.Context{}, nil
	}
	ctx, err := chat.LoadContextFile(b.ContextFile)
	if err != nil {
		return nil, errors.Wrap(err, "loading context file")
	}
	return ctx, nil
}

func (b Backend) NewFormatter(width int) (format.Formatter, error) {
	return format.New(b.Format, format.Options{Style: b.Style, Width: width})
}

// NewController builds a controller streaming from the configured backend.
func (b Backend) NewController(width int, opts ...stream.Option) (*stream.Controller, error) {
	seed, err := b.LoadContext()
	if err != nil {
		return nil, err
	}
	f, err := b.NewFormatter(width)
	if err != nil {
		return nil, err
	}
	client := sse.NewClient(b.BaseURL)
	all := append([]stream.Option{
		stream.WithFormatter(f),
		stream.WithIdleTimeout(b.IdleTimeoutDuration()),
		stream.WithErrorMessage(b.ErrorMessage),
		stream.WithInitialContext(seed),
	}, opts...)
	return stream.New(stream.NewSSETransport(client), all...), nil
}

func (b Backend) NewSimpleClient() *simplechat.Client {
	timeout := time.Duration(b.HTTPTimeout) * time.Second
	if timeout <= 0 {
		timeout = simplechat.DefaultTimeout
	}
	return simplechat.NewClient(b.BaseURL, simplechat.WithHTTPClient(&http.Client{Timeout: timeout}))
}
