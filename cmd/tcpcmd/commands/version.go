package commands

import (
	"runtime"

	"github.com/spf13/cobra"

	"github.com/marmos91/tcpcmd/internal/cli/output"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		return output.PrintKeyValues(cmd.OutOrStdout(), [][2]string{
			{"Version", Version},
			{"Commit", Commit},
			{"Built", Date},
			{"Go", runtime.Version()},
		})
	},
}
