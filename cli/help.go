package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"
)

const (
	maxWidth = 72
	minWidth = 40
)

// terminalWidth returns the stdout width clamped to [minWidth, maxWidth].
func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width < minWidth {
		return maxWidth
	}
	if width > maxWidth {
		return maxWidth
	}
	return width
}

// wrapText wraps text to width, keeping existing line breaks.
func wrapText(text string, width int) string {
	if width <= 0 {
		width = maxWidth
	}
	var out []string
	for _, paragraph := range strings.Split(text, "\n") {
		if len(paragraph) <= width {
			out = append(out, paragraph)
			continue
		}
		line := ""
		for _, word := range strings.Fields(paragraph) {
			switch {
			case line == "":
				line = word
			case len(line)+1+len(word) <= width:
				line += " " + word
			default:
				out = append(out, line)
				line = word
			}
		}
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// ApplyStyledHelp installs the styled help on cmd and every subcommand.
// Call it after all subcommands are added.
func ApplyStyledHelp(cmd *cobra.Command) {
	cmd.SetHelpFunc(styledHelp)
	cmd.SetUsageFunc(func(*cobra.Command) error { return nil })
	for _, sub := range cmd.Commands() {
		ApplyStyledHelp(sub)
	}
}

// PrintError prints err to stderr with a pointer to --help.
func PrintError(cmd *cobra.Command, err error) {
	p := NewPalette(cmd.ErrOrStderr())
	fmt.Fprintf(cmd.ErrOrStderr(), "%s %s\n", p.Error.Render("Error:"), err.Error())
	fmt.Fprintln(cmd.ErrOrStderr(), p.Muted.Render(fmt.Sprintf("Run '%s --help' for usage.", cmd.CommandPath())))
}

// splitExamples separates an "Examples:" block from a long description.
func splitExamples(long string) (string, string) {
	for _, marker := range []string{"\nExamples:\n", "\nExample:\n"} {
		if idx := strings.Index(long, marker); idx != -1 {
			return strings.TrimSpace(long[:idx]), strings.TrimSpace(long[idx+len(marker):])
		}
	}
	return long, ""
}

func styledHelp(cmd *cobra.Command, _ []string) {
	w := cmd.OutOrStdout()
	p := NewPalette(w)
	width := terminalWidth() - 2

	fmt.Fprintln(w, " "+p.Title.Render(strings.ToUpper(cmd.CommandPath())))
	description, examples := splitExamples(cmd.Long)
	if cmd.Short != "" {
		for _, line := range strings.Split(wrapText(cmd.Short, width), "\n") {
			fmt.Fprintln(w, " "+p.Italic.Render(line))
		}
	}
	if description != "" && description != cmd.Short {
		fmt.Fprintln(w)
		for _, line := range strings.Split(wrapText(description, width), "\n") {
			fmt.Fprintln(w, " "+line)
		}
	}

	fmt.Fprintln(w, "\n "+p.Section.Render("USAGE"))
	if cmd.Runnable() {
		fmt.Fprintf(w, " %s\n", cmd.UseLine())
	}
	if cmd.HasAvailableSubCommands() {
		fmt.Fprintf(w, " %s [command]\n", cmd.CommandPath())
		writeCommands(w, p, cmd)
	}
	writeFlags(w, p, cmd)

	if ex := cmd.Example; ex != "" {
		examples = ex
	}
	if examples != "" {
		fmt.Fprintln(w, "\n "+p.Section.Render("EXAMPLES"))
		for _, line := range strings.Split(examples, "\n") {
			trimmed := strings.TrimSpace(line)
			switch {
			case trimmed == "":
				fmt.Fprintln(w)
			case strings.HasPrefix(trimmed, "#"):
				fmt.Fprintln(w, " "+p.Muted.Render(trimmed))
			default:
				fmt.Fprintln(w, "   "+p.Accent.Render(trimmed))
			}
		}
	}

	if cmd.HasAvailableSubCommands() {
		fmt.Fprintf(w, "\n Use \"%s [command] --help\" for more information.\n", cmd.CommandPath())
	}
}

func writeCommands(w io.Writer, p Palette, cmd *cobra.Command) {
	width := 0
	for _, sub := range cmd.Commands() {
		if sub.IsAvailableCommand() && len(sub.Name()) > width {
			width = len(sub.Name())
		}
	}
	fmt.Fprintln(w, "\n "+p.Section.Render("COMMANDS"))
	for _, sub := range cmd.Commands() {
		if !sub.IsAvailableCommand() {
			continue
		}
		pad := strings.Repeat(" ", width-len(sub.Name()))
		fmt.Fprintf(w, " %s%s  %s\n", p.Command.Render(sub.Name()), pad, sub.Short)
	}
}

// writeFlags lists local and inherited flags with their defaults.
func writeFlags(w io.Writer, p Palette, cmd *cobra.Command) {
	var flags []*pflag.Flag
	collect := func(f *pflag.Flag) {
		if !f.Hidden {
			flags = append(flags, f)
		}
	}
	cmd.LocalFlags().VisitAll(collect)
	cmd.InheritedFlags().VisitAll(collect)
	if len(flags) == 0 {
		return
	}

	width := 0
	for _, f := range flags {
		if n := len(flagName(f)); n > width {
			width = n
		}
	}
	fmt.Fprintln(w, "\n "+p.Section.Render("FLAGS"))
	for _, f := range flags {
		name := flagName(f)
		usage := f.Usage
		if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "[]" && f.DefValue != "0" {
			usage += p.Muted.Render(fmt.Sprintf(" (default: %s)", f.DefValue))
		}
		fmt.Fprintf(w, " %s%s  %s\n", p.Flag.Render(name), strings.Repeat(" ", width-len(name)), usage)
	}
}

func flagName(f *pflag.Flag) string {
	if f.Shorthand != "" {
		return fmt.Sprintf("-%s, --%s", f.Shorthand, f.Name)
	}
	return "    --" + f.Name
}
