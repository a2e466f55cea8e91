package commands

import (
	"github.com/spf13/cobra"

	"patchbay/internal/printer"
	"patchbay/internal/seq"
	"patchbay/internal/service"
)

var (
	listFormat  string
	listIgnored bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List modules, ports and connections",
	Long: `Attach to the sequencer, enumerate it once and print the model.

The text format follows aconnect -l. Use --format json or yaml for a patch
file that "patchbay apply" accepts.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), service.Options{})
		if err != nil {
			return err
		}
		defer s.Close()

		if listFormat != "text" {
			if err := s.svc.Export(printer.Out, listFormat); err != nil {
				return printer.Error("Cannot export", err.Error(), []string{"Use --format text, json or yaml"})
			}
			return nil
		}

		g := s.svc.Graph()
		if len(g.Modules) == 0 {
			printer.Info("No modules.\n")
		}
		printer.Graph(g)

		if listIgnored {
			st := s.svc.Status()
			printer.Info("\nIgnored: %d addresses\n", len(st.Ignored))
			for _, a := range st.Ignored {
				printer.Info("  %s\n", a)
			}
		}
		return nil
	},
}

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List sequencer backends compiled into this binary",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, name := range seq.Backends() {
			if name == cfg.Sequencer.Backend {
				printer.Success("%s (configured)\n", name)
				continue
			}
			printer.Info("  %s\n", name)
		}
		return nil
	},
}

func init() {
	listCmd.Flags().StringVarP(&listFormat, "format", "f", "text", "Output format: text, json, yaml")
	listCmd.Flags().BoolVarP(&listIgnored, "ignored", "i", false, "Also list ignored addresses")
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(backendsCmd)
}
