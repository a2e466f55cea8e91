package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"patchbay/internal/config"
	"patchbay/internal/domain"
	"patchbay/internal/driver"
	"patchbay/internal/launcher"
	"patchbay/internal/printer"
	"patchbay/internal/seq"
	"patchbay/internal/seq/alsa"
	"patchbay/internal/service"
)

// settleTimeout bounds how long one-shot commands wait for the model to
// reflect a request
const settleTimeout = 2 * time.Second

// session is an attached driver consumed by a PatchService
type session struct {
	drv *driver.Driver
	svc *service.PatchService
	bus *service.EventBus
}

// rulesFrom builds the driver rules of a configuration
func rulesFrom(c *config.Config) (driver.Rules, error) {
	ports, err := c.IgnoredPorts()
	if err != nil {
		return driver.Rules{}, err
	}
	return driver.Rules{
		IgnoreClients: c.Ignore.Clients,
		IgnorePorts:   ports,
		Split:         c.Modules.Split,
	}, nil
}

func newDriver(consumer driver.Consumer) (*driver.Driver, error) {
	open, ok := seq.Lookup(cfg.Sequencer.Backend)
	if !ok {
		return nil, printer.Error(
			fmt.Sprintf("Unknown sequencer backend %q", cfg.Sequencer.Backend),
			fmt.Sprintf("Available backends: %v", seq.Backends()),
			[]string{"Set sequencer.backend in the config file or pass --backend"},
		)
	}
	rules, err := rulesFrom(cfg)
	if err != nil {
		return nil, err
	}

	opts := driver.Options{
		Opener: open,
		Sequencer: seq.Options{
			Device:     cfg.Sequencer.Device,
			ClientName: cfg.Sequencer.ClientName,
		},
		QueueCapacity: cfg.Driver.QueueCapacity,
		AttachTimeout: cfg.Driver.AttachTimeout.Duration(),
		DetachTimeout: cfg.Driver.DetachTimeout.Duration(),
		Rules:         rules,
		Consumer:      consumer,
		Logger:        logger,
	}
	if cfg.Sequencer.Launch {
		opts.Launcher = &launcher.Launcher{
			Device:  deviceNode(),
			Command: cfg.Sequencer.LaunchCommand,
			Log:     logger,
		}
	}
	return driver.New(opts), nil
}

func deviceNode() string {
	if cfg.Sequencer.Device != "" {
		return cfg.Sequencer.Device
	}
	return alsa.DefaultDevice
}

// openSession attaches a driver and refreshes the model. opts supplies the
// optional journal and publisher.
func openSession(ctx context.Context, opts service.Options) (*session, error) {
	s := &session{bus: service.NewEventBus()}

	drv, err := newDriver(driver.ConsumerFunc(func(d domain.Delta) {
		if s.svc != nil {
			s.svc.Apply(d)
		}
	}))
	if err != nil {
		return nil, err
	}
	s.drv = drv

	opts.ProcessInterval = cfg.Driver.ProcessInterval.Duration()
	opts.Logger = logger
	s.svc = service.NewPatchService(drv, s.bus, opts)

	if err := drv.Attach(ctx, cfg.Sequencer.Launch); err != nil {
		return nil, attachError(err)
	}
	if err := s.svc.Refresh(); err != nil {
		drv.Detach()
		return nil, printer.Error("Cannot read the sequencer", err.Error(), nil)
	}
	return s, nil
}

func (s *session) Close() {
	if err := s.drv.Detach(); err != nil {
		logger.Error(err, "detach failed")
	}
}

// settle processes events until done reports true or settleTimeout passes
func (s *session) settle(ctx context.Context, done func() bool) error {
	ctx, cancel := context.WithTimeout(ctx, settleTimeout)
	defer cancel()

	for !done() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.drv.Ready():
		case <-time.After(cfg.Driver.ProcessInterval.Duration()):
		}
		if _, err := s.svc.Process(); err != nil {
			return err
		}
	}
	return nil
}

// resolve parses a client:port address and finds its view for dir
func (s *session) resolve(arg string, dir domain.Direction) (domain.PortID, error) {
	addr, err := domain.ParseAddress(arg)
	if err != nil {
		return 0, printer.Error("Invalid port address", err.Error(), []string{"Addresses look like 20:0 (client:port)"})
	}
	id, ok := s.drv.Registry().Resolve(addr, dir)
	if !ok {
		return 0, printer.Error(
			fmt.Sprintf("No %s port at %s", dir, addr),
			"The port is not present, is ignored, or does not support that direction.",
			[]string{"Run 'patchbay list' to see the available ports"},
		)
	}
	return id, nil
}

func attachError(err error) error {
	var suggestions []string
	switch {
	case errors.Is(err, seq.ErrUnavailable), errors.Is(err, driver.ErrConnection):
		suggestions = []string{
			"Run 'patchbay doctor' to check the sequencer device",
			"Use --backend virtual to try patchbay without hardware",
		}
	}
	return printer.Error("Cannot attach to the sequencer", err.Error(), suggestions)
}
