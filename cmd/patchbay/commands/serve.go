package commands

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"patchbay/internal/broker"
	"patchbay/internal/config"
	"patchbay/internal/handler"
	"patchbay/internal/hub"
	"patchbay/internal/printer"
	"patchbay/internal/repository/sqlite"
	"patchbay/internal/service"
	"patchbay/internal/watcher"
)

const shutdownTimeout = 10 * time.Second

var (
	serveAddr      string
	serveDB        string
	serveNoJournal bool
	serveNoWatch   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and live event stream",
	Long: `Attach to the sequencer and serve the model over HTTP.

Endpoints:
  GET  /api/graph            current modules, ports and connections
  GET  /api/status           driver and queue state
  POST /api/connections      connect two ports by PortID
  DEL  /api/connections      disconnect two ports
  POST /api/refresh          re-enumerate the sequencer
  GET  /api/history          journaled deltas
  GET  /api/export/{format}  json or yaml patch
  POST /api/import/{format}  apply a patch
  GET  /events               Server-Sent Events stream of deltas

Every delta is journaled to SQLite and, when redis.addr is set, published
on the configured Redis channel. Edits to the config file reload the
ignore and module rules without restarting.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "HTTP listen address (default from config)")
	serveCmd.Flags().StringVar(&serveDB, "db", "", "SQLite journal path (default from config)")
	serveCmd.Flags().BoolVar(&serveNoJournal, "no-journal", false, "Do not journal deltas")
	serveCmd.Flags().BoolVar(&serveNoWatch, "no-watch", false, "Do not reload the config file on change")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveAddr != "" {
		cfg.HTTP.Addr = serveAddr
	}
	if serveDB != "" {
		cfg.Database.Path = serveDB
	}

	sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	var opts service.Options
	sessionID := uuid.NewString()

	if !serveNoJournal && cfg.Database.Path != "" {
		repo, err := sqlite.New(cfg.Database.Path)
		if err != nil {
			return printer.Error("Cannot open the journal", err.Error(), []string{
				"Check that the database directory is writable",
				"Pass --no-journal to run without one",
			})
		}
		defer repo.Close()
		opts.Journal = repo
		sessionID = repo.Session()
		logger.Info("journal opened", "path", cfg.Database.Path, "session", sessionID)
	}

	if cfg.Redis.Addr != "" {
		pub, err := broker.NewPublisher(redisOptions(cfg), cfg.Redis.Channel, sessionID)
		if err != nil {
			return printer.Error("Invalid Redis settings", err.Error(), nil)
		}
		defer pub.Close()

		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		err = pub.Ping(pingCtx)
		pingCancel()
		if err != nil {
			return printer.Error("Cannot reach Redis", err.Error(), []string{
				"Start Redis at " + cfg.Redis.Addr,
				"Remove redis.addr from the config to disable publishing",
			})
		}
		opts.Publisher = pub
		logger.Info("publishing deltas", "redis", cfg.Redis.Addr, "channel", pub.Channel())
	}

	s, err := openSession(ctx, opts)
	if err != nil {
		return err
	}
	defer s.Close()

	sseHub := hub.New(logger)
	go sseHub.Run(ctx)

	events := make(chan service.Event, 256)
	s.bus.Subscribe(events)
	defer s.bus.Unsubscribe(events)
	go hub.Forward(ctx, sseHub, events)

	mux := http.NewServeMux()
	handler.NewPatchHandler(s.svc, logger).Register(mux)
	mux.Handle("GET /events", sseHub)

	server := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: handler.Chain(mux,
			handler.Recover(logger),
			handler.CORS,
			handler.Logger(logger),
		),
		ReadTimeout: 10 * time.Second,
		// no WriteTimeout: /events responses stay open
		IdleTimeout: 60 * time.Second,
	}

	errc := make(chan error, 2)
	go func() {
		errc <- s.svc.Run(ctx)
	}()
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	if configPath != "" && !serveNoWatch {
		w := watcher.New(configPath, watcher.OnConfigChange(configPath, logger, reloadRules(s)), logger)
		go func() {
			if err := w.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error(err, "config watcher stopped", "path", configPath)
			}
		}()
	}

	printer.Success("Serving %s backend on %s\n", cfg.Sequencer.Backend, cfg.HTTP.Addr)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errc:
	}

	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(err, "server shutdown failed")
	}

	if runErr != nil {
		return printer.Error("Server stopped", runErr.Error(), nil)
	}
	return nil
}

func redisOptions(c *config.Config) *redis.Options {
	return &redis.Options{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
	}
}

// reloadRules applies the ignore and module rules of a reloaded config
func reloadRules(s *session) func(*config.Config) error {
	return func(next *config.Config) error {
		rules, err := rulesFrom(next)
		if err != nil {
			return err
		}
		return s.svc.Reload(rules)
	}
}
