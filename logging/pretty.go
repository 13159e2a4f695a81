package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// PrettyLogger prints operator-facing console output such as the startup
// banner. It is separate from the structured component loggers.
type PrettyLogger struct {
	writer io.Writer
	styles PrettyStyles
}

// PrettyStyles contains lipgloss styles for different output kinds
type PrettyStyles struct {
	Success lipgloss.Style
	Info    lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Key     lipgloss.Style
	Value   lipgloss.Style
	Path    lipgloss.Style
}

// NewPrettyStyles builds styles bound to a renderer for w, so color is
// dropped when w is not a terminal or NO_COLOR is set.
func NewPrettyStyles(w io.Writer) PrettyStyles {
	r := lipgloss.NewRenderer(w, termenv.WithColorCache(true))
	if termenv.EnvNoColor() {
		r.SetColorProfile(termenv.Ascii)
	}
	return PrettyStyles{
		Success: r.NewStyle().Foreground(lipgloss.Color("10")).Bold(true),
		Info:    r.NewStyle().Foreground(lipgloss.Color("12")),
		Warning: r.NewStyle().Foreground(lipgloss.Color("11")),
		Error:   r.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		Key:     r.NewStyle().Foreground(lipgloss.Color("8")),
		Value:   r.NewStyle().Foreground(lipgloss.Color("14")).Bold(true),
		Path:    r.NewStyle().Foreground(lipgloss.Color("6")).Italic(true),
	}
}

// NewPrettyLogger creates a pretty logger writing to stderr
func NewPrettyLogger() *PrettyLogger {
	return &PrettyLogger{
		writer: os.Stderr,
		styles: NewPrettyStyles(os.Stderr),
	}
}

// WithWriter sets a custom writer for pretty output
func (p *PrettyLogger) WithWriter(w io.Writer) *PrettyLogger {
	p.writer = w
	p.styles = NewPrettyStyles(w)
	return p
}

// Success prints a message with a checkmark
func (p *PrettyLogger) Success(message string) {
	fmt.Fprintf(p.writer, "%s %s\n",
		p.styles.Success.Render("✓"),
		p.styles.Success.Render(message))
}

// InfoPretty prints an informational line
func (p *PrettyLogger) InfoPretty(message string) {
	fmt.Fprintf(p.writer, "%s\n", p.styles.Info.Render(message))
}

// WarnPretty prints a warning
func (p *PrettyLogger) WarnPretty(message string) {
	fmt.Fprintf(p.writer, "%s %s\n",
		p.styles.Warning.Render("⚠"),
		p.styles.Warning.Render(message))
}

// ErrorPretty prints an error
func (p *PrettyLogger) ErrorPretty(message string, err error) {
	fmt.Fprintf(p.writer, "%s %s",
		p.styles.Error.Render("✗"),
		p.styles.Error.Render(message))
	if err != nil {
		fmt.Fprintf(p.writer, ": %s", p.styles.Error.Render(err.Error()))
	}
	fmt.Fprintln(p.writer)
}

// Field prints a key-value pair
func (p *PrettyLogger) Field(key string, value interface{}) {
	fmt.Fprintf(p.writer, "%s: %s\n",
		p.styles.Key.Render(key),
		p.styles.Value.Render(fmt.Sprint(value)))
}

// Path prints a file path
func (p *PrettyLogger) Path(label string, path string) {
	fmt.Fprintf(p.writer, "%s: %s\n",
		p.styles.Key.Render(label),
		p.styles.Path.Render(path))
}

// Divider prints a visual divider
func (p *PrettyLogger) Divider() {
	fmt.Fprintln(p.writer, p.styles.Key.Render(strings.Repeat("─", 60)))
}

// Blank prints a blank line
func (p *PrettyLogger) Blank() {
	fmt.Fprintln(p.writer)
}
