package commands

import (
	"strings"

	"github.com/spf13/cobra"

	"patchbay/internal/launcher"
	"patchbay/internal/printer"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that the sequencer device can be opened",
	Long: `Inspect the configuration, the sequencer device node and the
permissions of the current user, and report what would stop "patchbay
serve" from attaching.`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	printer.Step("Configuration\n")
	if configPath != "" {
		printer.Info("  file: %s\n", configPath)
	} else {
		printer.Info("  file: none found, using defaults\n")
	}
	printer.Info("%s\n\n", indent(cfg.Summary()))

	if cfg.Sequencer.Backend != "alsa" {
		printer.Success("Backend %q needs no device\n", cfg.Sequencer.Backend)
		return nil
	}

	printer.Step("Device\n")
	report := launcher.Probe(deviceNode())
	for _, f := range report.Findings {
		printer.Info("  %-14s %v\n", f.Property, f.Value)
	}
	for _, w := range report.Warnings {
		printer.Warning("%s\n", w)
	}

	if !report.Usable() {
		suggestions := []string{"Load the kernel module: sudo modprobe snd-seq"}
		if report.Exists {
			suggestions = []string{"Add yourself to the audio group: sudo usermod -aG audio $USER"}
		}
		if len(cfg.Sequencer.LaunchCommand) > 0 && !cfg.Sequencer.Launch {
			suggestions = append(suggestions, "Set sequencer.launch: true to run the configured launch command")
		}
		return printer.Error("The sequencer device is not usable", report.Device, suggestions)
	}

	printer.Success("%s is ready\n", report.Device)
	return nil
}

func indent(s string) string {
	return "  " + strings.ReplaceAll(s, "\n", "\n  ")
}
