package format

import (
	"bytes"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog/log"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// HTML converts markdown to sanitized HTML.
type HTML struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

func NewHTML() *HTML {
	return &HTML{
		md:     goldmark.New(goldmark.WithExtensions(extension.GFM)),
		policy: bluemonday.UGCPolicy(),
	}
}

func (h *HTML) Format(raw string) string {
	var buf bytes.Buffer
	if err := h.md.Convert([]byte(raw), &buf); err != nil {
		log.Debug().Err(err).Str("component", "format").Msg("html render failed")
		return h.policy.Sanitize(raw)
	}
	return h.policy.Sanitize(buf.String())
}
