// Package cmd implements the remote-panel command line.
package cmd

import (
	"os"

	"github.com/grovetools/remote-panel/cli"
	"github.com/grovetools/remote-panel/config"
	"github.com/grovetools/remote-panel/logging"
	"github.com/grovetools/remote-panel/pkg/paths"
	"github.com/grovetools/remote-panel/pkg/profiling"
	"github.com/spf13/cobra"
)

// NewRootCmd builds the remote-panel command tree.
func NewRootCmd() *cobra.Command {
	root := cli.NewStandardCommand(
		"remote-panel",
		"Serve a password-protected control panel for an agent workspace",
	)
	root.Long = `Runs a small web panel that lets you drive builds, dev servers, the agent
relay and a Cloudflare tunnel for one workspace from a phone or another
machine.

Examples:
  # Serve the current directory on 127.0.0.1:8787
  remote-panel start

  # Expose the panel on the LAN with security forced on
  remote-panel start --host 0.0.0.0 --security-mode on

  # Show the resolved configuration as TOML
  remote-panel config --format toml`

	profiler := profiling.NewCobraProfiler()
	profiler.AddFlags(root)
	root.PersistentPreRunE = profiler.PreRun
	root.PersistentPostRun = profiler.PostRun

	root.AddCommand(NewStartCmd())
	root.AddCommand(NewStopCmd())
	root.AddCommand(NewStatusCmd())
	root.AddCommand(NewConfigCmd())
	root.AddCommand(NewActivityCmd())
	root.AddCommand(cli.NewVersionCommand("remote-panel"))

	cli.ApplyStyledHelp(root)
	return root
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	root := NewRootCmd()
	cmd, err := root.ExecuteC()
	if err == nil {
		return
	}
	if cmd == nil {
		cmd = root
	}
	cli.NewErrorHandler(cmd.ErrOrStderr(), cli.GetOptions(cmd).Verbose).Handle(err)
	os.Exit(1)
}

// loadSettings resolves the workspace and panel settings for cmd, then
// configures component logging from them.
func loadSettings(cmd *cobra.Command, overrides config.Overrides) (*config.Settings, paths.Workspace, error) {
	opts := cli.GetOptions(cmd)
	root, err := opts.ResolveWorkDir()
	if err != nil {
		return nil, paths.Workspace{}, err
	}
	ws := paths.NewWorkspace(root)

	s, err := config.Load(config.LoadOptions{
		WorkDir:    ws.Root,
		ConfigFile: opts.ConfigFile,
		Overrides:  overrides,
		Logger:     logging.NewLogger("config"),
	})
	if err != nil {
		return nil, ws, err
	}
	if opts.Verbose {
		s.Logging.Level = "debug"
	}
	logging.Configure(s.Logging, ws.RemoteDir())
	return s, ws, nil
}
