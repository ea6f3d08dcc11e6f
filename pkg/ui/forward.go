package ui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-go-golems/eshop-chat/pkg/stream"
	"github.com/rs/zerolog/log"
)

// UpdateMsg carries a controller update into the bubbletea program.
type UpdateMsg struct {
	stream.Update
}

// ForwardFunc sends every update it receives to p. Use it with
// updates.HandlerFunc on the update bus.
func ForwardFunc(p *tea.Program) func(stream.Update) error {
	return func(u stream.Update) error {
		log.Trace().Str("component", "ui").Str("kind", string(u.Kind)).Msg("forwarding update to UI")
		p.Send(UpdateMsg{Update: u})
		return nil
	}
}
