package cli

import (
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Palette holds the styles shared by help output, errors and the banner.
type Palette struct {
	Title   lipgloss.Style
	Section lipgloss.Style
	Command lipgloss.Style
	Flag    lipgloss.Style
	Muted   lipgloss.Style
	Italic  lipgloss.Style
	Error   lipgloss.Style
	Success lipgloss.Style
	Accent  lipgloss.Style
	Box     lipgloss.Style
}

// NewPalette builds styles bound to w. Color is dropped when w is not a
// terminal or NO_COLOR is set.
func NewPalette(w io.Writer) Palette {
	r := lipgloss.NewRenderer(w, termenv.WithColorCache(true))
	if termenv.EnvNoColor() {
		r.SetColorProfile(termenv.Ascii)
	}
	orange := lipgloss.AdaptiveColor{Light: "#CC6B4E", Dark: "#FFA066"}
	blue := lipgloss.AdaptiveColor{Light: "#4F7CAC", Dark: "#7FB4CA"}
	violet := lipgloss.AdaptiveColor{Light: "#674D7A", Dark: "#957FB8"}
	muted := lipgloss.AdaptiveColor{Light: "#6C7086", Dark: "#727169"}
	green := lipgloss.AdaptiveColor{Light: "#4E7C5A", Dark: "#98BB6C"}

	return Palette{
		Title:   r.NewStyle().Bold(true).Foreground(orange),
		Section: r.NewStyle().Italic(true).Foreground(orange),
		Command: r.NewStyle().Bold(true).Foreground(blue),
		Flag:    r.NewStyle().Foreground(violet),
		Muted:   r.NewStyle().Foreground(muted),
		Italic:  r.NewStyle().Italic(true),
		Error:   r.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#C34043", Dark: "#FF5D62"}),
		Success: r.NewStyle().Bold(true).Foreground(green),
		Accent:  r.NewStyle().Foreground(blue),
		Box: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(muted).
			Padding(0, 2),
	}
}
