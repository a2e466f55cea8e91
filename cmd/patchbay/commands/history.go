package commands

import (
	"time"

	"github.com/spf13/cobra"

	"patchbay/internal/domain"
	"patchbay/internal/printer"
	"patchbay/internal/repository"
	"patchbay/internal/repository/sqlite"
)

var (
	historyKind    string
	historyLimit   int
	historySession string
	historyPrune   time.Duration
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show journaled deltas",
	Long: `List the deltas recorded by "patchbay serve", newest first.

With --prune, entries older than the given age are deleted instead.`,
	Example: "  patchbay history --kind connection_appeared --limit 20\n  patchbay history --prune 720h",
	Args:    cobra.NoArgs,
	RunE:    runHistory,
}

func init() {
	historyCmd.Flags().StringVarP(&historyKind, "kind", "k", "", "Only show this delta kind")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", repository.DefaultLimit, "Maximum number of entries")
	historyCmd.Flags().StringVar(&historySession, "session", "", "Only show this serve session")
	historyCmd.Flags().DurationVar(&historyPrune, "prune", 0, "Delete entries older than this age")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	repo, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return printer.Error("Cannot open the journal", err.Error(), []string{"Check database.path in the config file"})
	}
	defer repo.Close()
	ctx := cmd.Context()

	if historyPrune > 0 {
		n, err := repo.Prune(ctx, time.Now().Add(-historyPrune))
		if err != nil {
			return printer.Error("Prune failed", err.Error(), nil)
		}
		printer.Success("Deleted %d entries older than %s\n", n, historyPrune)
		return nil
	}

	entries, err := repo.List(ctx, repository.Filter{
		Kind:    domain.EventKind(historyKind),
		Session: historySession,
		Limit:   historyLimit,
	})
	if err != nil {
		return printer.Error("Cannot read the journal", err.Error(), nil)
	}
	if len(entries) == 0 {
		printer.Info("No entries.\n")
		return nil
	}

	for _, e := range entries {
		printer.Info("%s %s ", e.At.Local().Format(time.DateTime), shortSession(e.Session))
		printer.Delta(e.Delta)
	}
	return nil
}

func shortSession(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
