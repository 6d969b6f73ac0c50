package cmd

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/Iron-Ham/council/internal/persona"
)

var personaColors = map[persona.ID]lipgloss.Color{
	persona.NanaRuth:     lipgloss.Color("#7AA2F7"),
	persona.AbuelaCarmen: lipgloss.Color("#F7768E"),
	persona.BaNguyen:     lipgloss.Color("#9ECE6A"),
	persona.GrandmaEdith: lipgloss.Color("#BB9AF7"),
	persona.BibiAmara:    lipgloss.Color("#E0AF68"),
}

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
	systemStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#808080")).Italic(true)
	privateStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF79C6"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5555")).Bold(true)
	userStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#8BE9FD")).Bold(true)
)

// personaLabel renders "emoji Name" in the persona's color.
func personaLabel(id persona.ID) string {
	p, ok := persona.Get(id)
	if !ok {
		return string(id)
	}
	return lipgloss.NewStyle().Bold(true).Foreground(personaColors[id]).Render(p.Emoji + " " + p.Name)
}
