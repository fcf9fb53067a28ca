package output

import (
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Styler decorates human-readable output. Colors are dropped when the
// destination is not a terminal.
type Styler struct {
	renderer *lipgloss.Renderer

	success lipgloss.Style
	failure lipgloss.Style
	pending lipgloss.Style
	running lipgloss.Style
	other   lipgloss.Style
	warn    lipgloss.Style
	bold    lipgloss.Style
}

// NewStyler returns a styler detecting color support on w.
func NewStyler(w io.Writer) *Styler {
	r := lipgloss.NewRenderer(w)
	return &Styler{
		renderer: r,
		success:  r.NewStyle().Foreground(lipgloss.Color("2")),
		failure:  r.NewStyle().Foreground(lipgloss.Color("1")),
		pending:  r.NewStyle().Foreground(lipgloss.Color("4")),
		running:  r.NewStyle().Foreground(lipgloss.Color("214")),
		other:    r.NewStyle().Foreground(lipgloss.Color("7")),
		warn:     r.NewStyle().Foreground(lipgloss.Color("214")),
		bold:     r.NewStyle().Bold(true),
	}
}

var statusIcons = map[string]string{
	"SUCCESS": "✔",
	"FAILURE": "✘",
	"PENDING": "…",
	"RUNNING": "↻",
	"PURGED":  "⌀",
}

// StatusIcon returns a glyph for a job status.
func StatusIcon(status string) string {
	if icon, ok := statusIcons[strings.ToUpper(status)]; ok {
		return icon
	}
	return "?"
}

// Status renders a job status with its icon and color.
func (s *Styler) Status(status string) string {
	text := StatusIcon(status) + " " + status
	switch strings.ToUpper(status) {
	case "SUCCESS":
		return s.success.Render(text)
	case "FAILURE":
		return s.failure.Render(text)
	case "PENDING":
		return s.pending.Render(text)
	case "RUNNING":
		return s.running.Render(text)
	default:
		return s.other.Render(text)
	}
}

// Warn renders a warning message.
func (s *Styler) Warn(msg string) string {
	return s.warn.Render(msg)
}

// Bold renders msg in bold.
func (s *Styler) Bold(msg string) string {
	return s.bold.Render(msg)
}
