package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"patchbay/internal/domain"
	"patchbay/internal/printer"
	"patchbay/internal/service"
)

var watchQuiet bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print model changes as the hardware changes",
	Long: `Print the current model, then one line per delta as devices are
plugged in, unplugged and rewired. Press Ctrl-C to stop.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVarP(&watchQuiet, "quiet", "q", false, "Do not print the initial model")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openSession(ctx, service.Options{})
	if err != nil {
		return err
	}
	defer s.Close()

	if !watchQuiet {
		printer.Graph(s.svc.Graph())
		printer.Info("\n")
	}
	printer.Step("Watching for changes\n")

	return followDeltas(ctx, s, printer.Delta)
}

// followDeltas runs the service until ctx is done, handing every delta to fn
func followDeltas(ctx context.Context, s *session, fn func(domain.Delta)) error {
	events := make(chan service.Event, 256)
	s.bus.Subscribe(events)
	defer s.bus.Unsubscribe(events)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- s.svc.Run(ctx) }()

	for {
		select {
		case err := <-errc:
			if err != nil {
				return printer.Error("Lost the sequencer", err.Error(), nil)
			}
			return nil
		case ev := <-events:
			if d, ok := ev.Payload.(domain.Delta); ok && ev.Type == service.EventDelta {
				fn(d)
			}
		}
	}
}
