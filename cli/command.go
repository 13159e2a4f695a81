package cli

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// CommandOptions holds the persistent flags shared by every command.
type CommandOptions struct {
	ConfigFile string
	WorkDir    string
	Verbose    bool
	JSONOutput bool
}

// NewStandardCommand creates a root command with the standard flags.
func NewStandardCommand(use, short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           use,
		Short:         short,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
	cmd.PersistentFlags().Bool("json", false, "Output in JSON format")
	cmd.PersistentFlags().StringP("config", "c", "", "Path to panel.yml or panel.toml")
	cmd.PersistentFlags().StringP("workspace", "w", "", "Workspace root to serve (default: current directory)")
	return cmd
}

// GetOptions reads the standard flags from cmd.
func GetOptions(cmd *cobra.Command) CommandOptions {
	configFile, _ := cmd.Flags().GetString("config")
	workDir, _ := cmd.Flags().GetString("workspace")
	verbose, _ := cmd.Flags().GetBool("verbose")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	return CommandOptions{
		ConfigFile: configFile,
		WorkDir:    workDir,
		Verbose:    verbose,
		JSONOutput: jsonOutput,
	}
}

// ResolveWorkDir returns the absolute workspace root, defaulting to the
// current directory.
func (o CommandOptions) ResolveWorkDir() (string, error) {
	dir := o.WorkDir
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		dir = cwd
	}
	return filepath.Abs(dir)
}
