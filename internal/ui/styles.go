package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// Color palette
var (
	Primary    = lipgloss.Color("#8B5CF6") // Violet accent
	Success    = lipgloss.Color("#10B981") // Emerald
	Warning    = lipgloss.Color("#F59E0B") // Amber
	Error      = lipgloss.Color("#EF4444") // Red
	Muted      = lipgloss.Color("#6B7280") // Gray
	Foreground = lipgloss.Color("#F9FAFB") // Light gray
)

// Text styles
var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(Primary)

	UsernameStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(Primary)

	SelfStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(Success)

	SystemStyle = lipgloss.NewStyle().
			Italic(true).
			Foreground(Muted)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(Success).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(Error).
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(Warning)

	MutedStyle = lipgloss.NewStyle().
			Foreground(Muted)

	RosterBarStyle = lipgloss.NewStyle().
			Foreground(Foreground).
			Background(Primary).
			Padding(0, 1).
			Bold(true)

	SpinnerStyle = lipgloss.NewStyle().
			Foreground(Primary)
)

// Box styles
var (
	RoomBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Primary).
			Padding(0, 2)
)

// Status icons
const (
	IconSuccess = "✓"
	IconError   = "✗"
	IconInfo    = "•"
)

// PrintError prints a styled error line.
func PrintError(message string) {
	fmt.Printf("%s %s\n", ErrorStyle.Render(IconError), message)
}

// PrintSuccessf prints a styled success line.
func PrintSuccessf(format string, args ...any) {
	fmt.Printf("%s %s\n", SuccessStyle.Render(IconSuccess), fmt.Sprintf(format, args...))
}
