package commands

import (
	"fmt"
	"log"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/spf13/cobra"

	"patchbay/internal/config"
	"patchbay/internal/printer"
)

var (
	version string
	commit  string
	date    string
)

// persistent flags
var (
	configFlag  string
	backendFlag string
	deviceFlag  string
	verbosity   int
)

// state prepared by setup for every subcommand
var (
	cfg        *config.Config
	configPath string
	logger     = logr.Discard()
)

var rootCmd = &cobra.Command{
	Use:   "patchbay",
	Short: "Patchbay - ALSA sequencer connection manager",
	Long: `Patchbay keeps a stable model of the MIDI endpoints exposed by the
ALSA sequencer and of the subscriptions between them, and follows the
hardware as devices come and go.

Run "patchbay serve" for the HTTP API and live event stream, or use the
one-shot commands to inspect and rewire the sequencer from a terminal.`,
	Version:           version,
	PersistentPreRunE: setup,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command. Called once by main.main().
func Execute() error {
	// errors are printed by the printer package
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Config file (default: search $PATCHBAY_CONFIG, ./patchbay.yaml, ~/.config/patchbay)")
	rootCmd.PersistentFlags().StringVar(&backendFlag, "backend", "", "Sequencer backend (alsa, virtual)")
	rootCmd.PersistentFlags().StringVar(&deviceFlag, "device", "", "Sequencer device node")
	rootCmd.PersistentFlags().IntVarP(&verbosity, "verbose", "v", 0, "Log verbosity (1: protocol violations, 2: every event)")
}

// setup loads the configuration, applies flag overrides and configures logging
func setup(cmd *cobra.Command, args []string) error {
	var err error
	if configFlag != "" {
		cfg, configPath, err = config.LoadFromPath(configFlag)
	} else {
		cfg, configPath, err = config.Load()
	}
	if err != nil {
		return printer.Error(
			"Cannot load configuration",
			err.Error(),
			[]string{fmt.Sprintf("Fix or remove %s", displayPath(configPath))},
		)
	}

	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.Sequencer.Backend = backendFlag
	}
	if flags.Changed("device") {
		cfg.Sequencer.Device = deviceFlag
	}
	if flags.Changed("verbose") {
		cfg.Log.Verbosity = verbosity
	}

	stdr.SetVerbosity(cfg.Log.Verbosity)
	logger = stdr.New(log.New(os.Stderr, "", log.LstdFlags|log.Lshortfile))
	return nil
}

func displayPath(path string) string {
	if path == "" {
		return "the config file"
	}
	return path
}
