package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/grovetools/remote-panel/cli"
	"github.com/grovetools/remote-panel/config"
	"github.com/grovetools/remote-panel/errors"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const redacted = "********"

// redact returns a copy of s that is safe to print.
func redact(s config.Settings) config.Settings {
	if s.Password != "" {
		s.Password = redacted
	}
	if s.SessionSecret != "" {
		s.SessionSecret = redacted
	}
	if s.Cloudflared.Token != "" {
		s.Cloudflared.Token = redacted
	}
	return s
}

// encodeSettings renders s as yaml, toml or json.
func encodeSettings(s config.Settings, format string) ([]byte, error) {
	switch format {
	case "", "yaml", "yml":
		return yaml.Marshal(s)
	case "toml":
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(s); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case "json":
		return json.MarshalIndent(s, "", "  ")
	default:
		return nil, errors.InvalidInput("unknown format %q (use yaml, toml or json)", format)
	}
}

// NewConfigCmd creates the `config` command.
func NewConfigCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the resolved panel configuration",
		Long: `Shows the settings the panel would start with after merging the config
file, the workspace .env file, REMOTE_PANEL_* variables and the persisted
runtime config. Secrets are redacted.

Examples:
  remote-panel config
  remote-panel config --format toml
  remote-panel config --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, ws, err := loadSettings(cmd, config.Overrides{})
			if err != nil {
				return err
			}
			if cli.GetOptions(cmd).JSONOutput {
				format = "json"
			}
			data, err := encodeSettings(redact(*s), format)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if format != "json" {
				source := config.FindConfigFile(ws.Root)
				if f := cli.GetOptions(cmd).ConfigFile; f != "" {
					source = f
				}
				if source == "" {
					source = "defaults and environment"
				}
				fmt.Fprintf(out, "# Source: %s\n", source)
			}
			fmt.Fprint(out, string(data))
			if len(data) > 0 && data[len(data)-1] != '\n' {
				fmt.Fprintln(out)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "Output format: yaml, toml or json")
	return cmd
}
