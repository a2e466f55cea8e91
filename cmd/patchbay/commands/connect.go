package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"patchbay/internal/domain"
	"patchbay/internal/printer"
	"patchbay/internal/service"
)

var connectCmd = &cobra.Command{
	Use:   "connect SOURCE DEST",
	Short: "Subscribe an input port to an output port",
	Long: `Connect the output port SOURCE to the input port DEST. Ports are
given as client:port, as printed by "patchbay list".

The command waits until the sequencer announces the new subscription.`,
	Example: "  patchbay connect 20:0 128:0",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSubscription(cmd, args, true)
	},
}

var disconnectCmd = &cobra.Command{
	Use:     "disconnect SOURCE DEST",
	Short:   "Remove the subscription between two ports",
	Example: "  patchbay disconnect 20:0 128:0",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSubscription(cmd, args, false)
	},
}

func init() {
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(disconnectCmd)
}

func runSubscription(cmd *cobra.Command, args []string, connect bool) error {
	ctx := cmd.Context()
	s, err := openSession(ctx, service.Options{})
	if err != nil {
		return err
	}
	defer s.Close()

	src, err := s.resolve(args[0], domain.DirectionOutput)
	if err != nil {
		return err
	}
	dst, err := s.resolve(args[1], domain.DirectionInput)
	if err != nil {
		return err
	}
	link := fmt.Sprintf("%s -> %s", args[0], args[1])
	reg := s.drv.Registry()

	if reg.Connected(src, dst) == connect {
		if connect {
			printer.Info("%s is already connected\n", link)
		} else {
			printer.Info("%s is not connected\n", link)
		}
		return nil
	}

	op, verb := s.svc.Disconnect, "Disconnected"
	if connect {
		op, verb = s.svc.Connect, "Connected"
	}
	if err := op(src, dst); err != nil {
		return printer.Error(fmt.Sprintf("Cannot change %s", link), err.Error(), nil)
	}

	if err := s.settle(ctx, func() bool { return reg.Connected(src, dst) == connect }); err != nil {
		return printer.Error(
			fmt.Sprintf("%s was requested but never announced", link),
			err.Error(),
			[]string{"Run 'patchbay list' to check the current state"},
		)
	}
	printer.Success("%s %s\n", verb, link)
	return nil
}
