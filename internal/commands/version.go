package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/willibrandon/stepscope/pkg/logger"
	"github.com/willibrandon/stepscope/pkg/version"
)

var versionJSON bool

func NewVersionCommand(log *logger.Logger) (*cobra.Command, error) {
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Prints version information",
		Long:  `Prints version information.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := version.Get()
			if !versionJSON {
				fmt.Fprintln(cmd.OutOrStdout(), info.String())
				return nil
			}
			text, err := info.JSON()
			if err != nil {
				log.Error(err, "Could not serialize version information")
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "Print version information as JSON")

	return versionCmd, nil
}
