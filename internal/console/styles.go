package console

import "github.com/charmbracelet/lipgloss"

var (
	accent  = lipgloss.Color("#FF6B35")
	success = lipgloss.Color("#4CAF50")
	warning = lipgloss.Color("#FFB74D")
	danger  = lipgloss.Color("#F44336")
	text    = lipgloss.Color("#E0E0E0")
	muted   = lipgloss.Color("#90A4AE")
	border  = lipgloss.Color("#30363D")
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(accent).
			Bold(true)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(border).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(muted).
			Width(10)

	valueStyle = lipgloss.NewStyle().
			Foreground(text)

	helpStyle = lipgloss.NewStyle().
			Foreground(muted).
			Italic(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(danger)

	barFilled = lipgloss.NewStyle().Background(success)
	barEmpty  = lipgloss.NewStyle().Background(border)
)

func stateStyle(label string) lipgloss.Style {
	switch label {
	case "PLAYING":
		return lipgloss.NewStyle().Foreground(success).Bold(true)
	case "PAUSED", "SEEKING", "OPENING":
		return lipgloss.NewStyle().Foreground(warning).Bold(true)
	case "RECONNECTING", "CLOSED":
		return lipgloss.NewStyle().Foreground(danger).Bold(true)
	}
	return lipgloss.NewStyle().Foreground(text).Bold(true)
}
