// internal/render/styles.go
package render

import (
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"ineffable/internal/transcript"
)

var (
	// Colors
	Cyan    = lipgloss.Color("#00FFFF")
	Green   = lipgloss.Color("#00FF00")
	Yellow  = lipgloss.Color("#FFD700")
	Orange  = lipgloss.Color("#FFA500")
	Red     = lipgloss.Color("#FF6B6B")
	SkyBlue = lipgloss.Color("#87CEEB")
	Dim     = lipgloss.Color("#555555")
	White   = lipgloss.Color("#FFFFFF")
)

// Styles holds every style used to draw a transcript. Built from a
// renderer so color can be forced on or off regardless of the output.
type Styles struct {
	User      lipgloss.Style
	Assistant lipgloss.Style
	System    lipgloss.Style
	Dim       lipgloss.Style
	Error     lipgloss.Style
	Title     lipgloss.Style

	ToolBox     lipgloss.Style
	ToolBoxDone lipgloss.Style
	ToolName    lipgloss.Style
	Running     lipgloss.Style
	Done        lipgloss.Style
}

// NewStyles builds the palette. With color off every style renders plain text.
func NewStyles(color bool) Styles {
	r := lipgloss.NewRenderer(io.Discard)
	if color {
		r.SetColorProfile(termenv.ANSI256)
	} else {
		r.SetColorProfile(termenv.Ascii)
	}

	return Styles{
		User:      r.NewStyle().Foreground(SkyBlue).Bold(true),
		Assistant: r.NewStyle().Foreground(Cyan).Bold(true),
		System:    r.NewStyle().Foreground(Yellow),
		Dim:       r.NewStyle().Foreground(Dim),
		Error:     r.NewStyle().Foreground(Red).Bold(true),
		Title:     r.NewStyle().Foreground(Cyan).Bold(true),

		ToolBox: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Orange).
			Padding(0, 1),
		ToolBoxDone: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Dim).
			Padding(0, 1),
		ToolName: r.NewStyle().Foreground(Orange).Bold(true),
		Running:  r.NewStyle().Foreground(Orange),
		Done:     r.NewStyle().Foreground(Green),
	}
}

// RoleStyle returns the header style for a role
func (s Styles) RoleStyle(role transcript.Role) lipgloss.Style {
	switch role {
	case transcript.RoleUser:
		return s.User
	case transcript.RoleAssistant:
		return s.Assistant
	default:
		return s.System
	}
}

// RoleLabel returns the display name for a role
func RoleLabel(role transcript.Role) string {
	switch role {
	case transcript.RoleUser:
		return "You"
	case transcript.RoleAssistant:
		return "Assistant"
	case transcript.RoleSystem:
		return "System"
	default:
		return string(role)
	}
}
