package cli

import (
	"encoding/json"
	"fmt"

	"github.com/grovetools/remote-panel/version"
	"github.com/spf13/cobra"
)

// NewVersionCommand prints the build information of componentName.
func NewVersionCommand(componentName string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: fmt.Sprintf("Print the version of %s", componentName),
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.GetInfo()
			if GetOptions(cmd).JSONOutput {
				data, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n%s\n", componentName, info.Version, info)
			return nil
		},
	}
}
