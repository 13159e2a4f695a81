package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/grovetools/remote-panel/cli"
	"github.com/grovetools/remote-panel/internal/activity"
	"github.com/grovetools/remote-panel/logging"
	"github.com/grovetools/remote-panel/pkg/paths"
	"github.com/spf13/cobra"
)

// NewActivityCmd creates the `activity` command.
func NewActivityCmd() *cobra.Command {
	var (
		tail   int
		follow bool
	)
	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Show the agent activity log",
		Long: `Prints the most recent entries of .agency/remote/activity.jsonl. The panel
does not need to be running.

Examples:
  # Last 20 events
  remote-panel activity --tail 20

  # Follow new events as JSON lines
  remote-panel activity -f --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := cli.GetOptions(cmd)
			root, err := opts.ResolveWorkDir()
			if err != nil {
				return err
			}
			log := activity.NewLog(paths.NewWorkspace(root).ActivityLogFile())

			events, err := log.Read(tail)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			emit := func(e activity.Event) { printEvent(out, e, opts.JSONOutput) }
			for _, e := range events {
				emit(e)
			}
			if !follow {
				return nil
			}

			ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt)
			defer stop()
			return log.Follow(ctx, emit)
		},
	}
	cmd.Flags().IntVarP(&tail, "tail", "n", activity.DefaultReadLimit, "Number of events to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing events as they are appended")
	return cmd
}

func printEvent(w io.Writer, e activity.Event, asJSON bool) {
	if asJSON {
		data, err := json.Marshal(e)
		if err == nil {
			fmt.Fprintln(w, string(data))
		}
		return
	}
	styles := logging.NewPrettyStyles(w)
	line := fmt.Sprintf("%s %s %s",
		styles.Key.Render(e.Time),
		styles.Info.Render(fmt.Sprintf("%-8s", e.State)),
		e.Message)
	if e.Source != "" {
		line += styles.Key.Render(" [" + e.Source + "]")
	}
	if e.Type != "" && e.Type != "status" {
		line += styles.Path.Render(" " + strings.ToLower(e.Type))
	}
	fmt.Fprintln(w, line)
}
