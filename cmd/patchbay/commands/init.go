package commands

import (
	"os"

	"github.com/spf13/cobra"

	"patchbay/internal/config"
	"patchbay/internal/printer"
)

var (
	initOutput string
	initForce  bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	Long: `Write the default configuration, with every setting spelled out, to the
user config directory (or --output).`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVarP(&initOutput, "output", "o", "", "Config file to write (default: user config directory)")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing file")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	path := initOutput
	if path == "" {
		path = config.DefaultConfigPath()
	}

	if _, err := os.Stat(path); err == nil && !initForce {
		return printer.Error(
			"Config file already exists",
			path,
			[]string{"Pass --force to overwrite it", "Pass --output to write somewhere else"},
		)
	}

	if err := config.DefaultConfig().Save(path); err != nil {
		return printer.Error("Cannot write config", err.Error(), nil)
	}
	printer.Success("Wrote %s\n", path)
	return nil
}
