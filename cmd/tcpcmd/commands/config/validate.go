package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/tcpcmd/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.MustLoad(configPath(cmd))
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Configuration is valid (server port %d, %d worker(s), extensions in %s)\n",
			cfg.Server.Port, cfg.Server.Workers, cfg.Extensions.Path())
		return nil
	},
}
