package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/grovetools/remote-panel/cli"
	"github.com/grovetools/remote-panel/internal/pidfile"
	"github.com/grovetools/remote-panel/logging"
	"github.com/grovetools/remote-panel/pkg/paths"
	"github.com/spf13/cobra"
)

// NewStopCmd creates the `stop` command.
func NewStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the panel serving this workspace",
		Long: `Signals the panel recorded in .agency/remote/panel.pid. The panel stops its
dev server, relay and tunnel before exiting.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := cli.GetOptions(cmd)
			root, err := opts.ResolveWorkDir()
			if err != nil {
				return err
			}
			ws := paths.NewWorkspace(root)

			stopped, pid, err := pidfile.Stop(ws.PidFile())
			if err != nil {
				return err
			}
			if opts.JSONOutput {
				data, _ := json.Marshal(map[string]interface{}{"stopped": stopped, "pid": pid})
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}

			p := logging.NewPrettyLogger().WithWriter(cmd.OutOrStdout())
			if !stopped {
				p.InfoPretty("No panel is running for " + ws.Root)
				return nil
			}
			p.Success(fmt.Sprintf("Sent stop signal to panel (pid %d)", pid))
			return nil
		},
	}
}
