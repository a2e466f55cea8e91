package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"patchbay/internal/codec"
	"patchbay/internal/domain"
	"patchbay/internal/printer"
	"patchbay/internal/service"
)

var (
	exportFormat string
	exportOutput string
	applyFormat  string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the current connections as a patch file",
	Args:  cobra.NoArgs,
	RunE:  runExport,
}

var applyCmd = &cobra.Command{
	Use:   "apply FILE",
	Short: "Restore the connections of a patch file",
	Long: `Request every connection listed in FILE whose ports are present.
Connections that already exist are left alone and links naming absent
ports are reported. The format is taken from the file extension unless
--format is given.`,
	Example: "  patchbay export -o studio.yaml\n  patchbay apply studio.yaml",
	Args:    cobra.ExactArgs(1),
	RunE:    runApply,
}

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "yaml", "Patch format: json, yaml")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (default stdout)")
	applyCmd.Flags().StringVarP(&applyFormat, "format", "f", "", "Patch format: json, yaml (default from extension)")
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(applyCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	if _, err := codec.ForFormat(exportFormat); err != nil {
		return printer.Error("Unknown format", err.Error(), []string{"Use --format json or --format yaml"})
	}

	s, err := openSession(cmd.Context(), service.Options{})
	if err != nil {
		return err
	}
	defer s.Close()

	if exportOutput == "" {
		return s.svc.Export(printer.Out, exportFormat)
	}

	f, err := os.Create(exportOutput)
	if err != nil {
		return printer.Error("Cannot create output file", err.Error(), nil)
	}
	if err := s.svc.Export(f, exportFormat); err != nil {
		f.Close()
		return printer.Error("Export failed", err.Error(), nil)
	}
	if err := f.Close(); err != nil {
		return printer.Error("Export failed", err.Error(), nil)
	}

	_, _, conns := s.drv.Registry().Len()
	printer.Success("Exported %d connections to %s\n", conns, exportOutput)
	return nil
}

func runApply(cmd *cobra.Command, args []string) error {
	path := args[0]
	format := applyFormat
	if format == "" {
		format = strings.TrimPrefix(filepath.Ext(path), ".")
	}
	c, err := codec.ForFormat(format)
	if err != nil {
		return printer.Error("Unknown patch format", err.Error(), []string{"Pass --format json or --format yaml"})
	}

	f, err := os.Open(path)
	if err != nil {
		return printer.Error("Cannot read patch file", err.Error(), nil)
	}
	patch, err := c.Parse(f)
	f.Close()
	if err != nil {
		return printer.Error("Invalid patch file", err.Error(), nil)
	}
	links, err := patch.Links()
	if err != nil {
		return printer.Error("Invalid patch file", err.Error(), nil)
	}

	ctx := cmd.Context()
	s, err := openSession(ctx, service.Options{})
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := s.svc.ApplyPatch(patch)
	if err != nil {
		return printer.Error("Cannot apply patch", err.Error(), nil)
	}

	want := res.Present + res.Requested
	if err := s.settle(ctx, func() bool { return connectedLinks(s, links) >= want }); err != nil {
		printer.Warning("Not every requested connection was announced: %v\n", err)
	}

	for _, m := range res.Missing {
		printer.Warning("Skipped %s: port not present\n", m)
	}
	for _, m := range res.Failed {
		printer.Warning("Failed %s\n", m)
	}
	printer.Success("Applied %s: %d connected, %d already present\n", path, res.Requested, res.Present)

	if len(res.Failed) > 0 {
		return printer.Error(fmt.Sprintf("%d connections failed", len(res.Failed)), "", []string{"Run with -v 1 for details"})
	}
	return nil
}

func connectedLinks(s *session, links []codec.Link) int {
	reg := s.drv.Registry()
	n := 0
	for _, l := range links {
		src, okSrc := reg.Resolve(l.Source, domain.DirectionOutput)
		dst, okDst := reg.Resolve(l.Destination, domain.DirectionInput)
		if okSrc && okDst && reg.Connected(src, dst) {
			n++
		}
	}
	return n
}
