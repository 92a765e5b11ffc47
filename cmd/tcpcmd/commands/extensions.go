package commands

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/marmos91/tcpcmd/internal/cli/output"
	"github.com/marmos91/tcpcmd/pkg/config"
	"github.com/marmos91/tcpcmd/pkg/extension"
)

var extensionsOutput string

var extensionsCmd = &cobra.Command{
	Use:   "extensions [dir]",
	Short: "List the extension modules the server would load",
	Long: `Discover extension modules the way the server does at startup and print
them in slot order. Modules are opened to check their entry points but
their load hooks are not run.

Without an argument the configured extension directory is scanned.

Examples:
  tcpcmd extensions
  tcpcmd extensions ./cmdso --output json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExtensions,
}

func init() {
	extensionsCmd.Flags().StringVarP(&extensionsOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

// moduleList renders discovered modules as a table.
type moduleList []extension.ModuleInfo

func (l moduleList) Headers() []string { return []string{"Slot", "Path"} }

func (l moduleList) Rows() [][]string {
	rows := make([][]string, len(l))
	for i, m := range l {
		rows[i] = []string{strconv.Itoa(m.Slot), m.Path}
	}
	return rows
}

func runExtensions(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(extensionsOutput)
	if err != nil {
		return err
	}

	var dir string
	if len(args) == 1 {
		dir = args[0]
	} else {
		cfg, err := config.Load(GetConfigFile())
		if err != nil {
			return err
		}
		dir = cfg.Extensions.Path()
	}

	loader := extension.NewLoader(nil)
	if _, err := loader.Scan(dir); err != nil {
		return err
	}

	return output.NewPrinter(cmd.OutOrStdout(), format).Print(moduleList(loader.Modules()))
}
