package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"patchbay/internal/broker"
	"patchbay/internal/printer"
)

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Follow the deltas a running server publishes on Redis",
	Args:  cobra.NoArgs,
	RunE:  runTail,
}

func init() {
	rootCmd.AddCommand(tailCmd)
}

func runTail(cmd *cobra.Command, args []string) error {
	if cfg.Redis.Addr == "" {
		return printer.Error("Redis is not configured", "tail reads the channel that 'patchbay serve' publishes to.",
			[]string{"Set redis.addr in the config file"})
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sub, err := broker.Subscribe(ctx, redisOptions(cfg), cfg.Redis.Channel)
	if err != nil {
		return printer.Error("Cannot subscribe", err.Error(), []string{"Check that Redis is running at " + cfg.Redis.Addr})
	}
	defer sub.Close()

	printer.Step("Following %s on %s\n", cfg.Redis.Channel, cfg.Redis.Addr)
	errs := sub.Errors()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-sub.Messages():
			if !ok {
				return nil
			}
			printer.Info("%s ", shortSession(msg.Session))
			printer.Delta(msg.Delta)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			logger.Error(err, "dropping undecodable message")
		}
	}
}
