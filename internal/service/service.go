package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"patchbay/internal/codec"
	"patchbay/internal/domain"
	"patchbay/internal/driver"
	"patchbay/internal/queue"
	"patchbay/internal/repository"
)

const (
	DefaultProcessInterval = 250 * time.Millisecond
	sinkTimeout            = 2 * time.Second
)

// ErrNoJournal is returned by History when no journal is configured
var ErrNoJournal = errors.New("delta journal disabled")

// Publisher sends deltas to other processes
type Publisher interface {
	Publish(ctx context.Context, d domain.Delta) (int64, error)
}

// Options configure a PatchService. Journal and Publisher are optional.
type Options struct {
	Journal         repository.Journal
	Publisher       Publisher
	ProcessInterval time.Duration
	Logger          logr.Logger
}

// PatchService drives the consumer side of a driver
type PatchService struct {
	drv       *driver.Driver
	bus       *EventBus
	journal   repository.Journal
	publisher Publisher
	interval  time.Duration
	log       logr.Logger

	// mu makes the service the driver's only consumer
	mu sync.Mutex
}

// NewPatchService creates a service for drv publishing on bus
func NewPatchService(drv *driver.Driver, bus *EventBus, opts Options) *PatchService {
	if opts.ProcessInterval <= 0 {
		opts.ProcessInterval = DefaultProcessInterval
	}
	if opts.Logger.GetSink() == nil {
		opts.Logger = logr.Discard()
	}
	return &PatchService{
		drv:       drv,
		bus:       bus,
		journal:   opts.Journal,
		publisher: opts.Publisher,
		interval:  opts.ProcessInterval,
		log:       opts.Logger.WithName("service"),
	}
}

// Apply fans one delta out to the bus, the journal and the publisher.
// It implements driver.Consumer. Sink failures are logged, never returned;
// the model has already changed.
func (s *PatchService) Apply(d domain.Delta) {
	s.bus.Publish(Event{Type: EventDelta, Payload: d})

	if s.journal == nil && s.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()

	if s.journal != nil {
		if err := s.journal.Append(ctx, d); err != nil {
			s.log.Error(err, "journal append failed", "delta", d.String())
		}
	}
	if s.publisher != nil {
		if _, err := s.publisher.Publish(ctx, d); err != nil {
			s.log.Error(err, "delta publish failed", "delta", d.String())
		}
	}
}

// Process applies queued events and returns the number of deltas delivered
func (s *PatchService) Process() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.drv.ProcessEvents(s)
	if n > 0 {
		s.bus.Publish(Event{Type: EventProcessed, Payload: map[string]int{"deltas": n}})
	}
	return n, err
}

// Refresh reconciles the model with a full enumeration of the hardware
func (s *PatchService) Refresh() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshLocked()
}

func (s *PatchService) refreshLocked() error {
	start := time.Now()
	if err := s.drv.Refresh(s); err != nil {
		return fmt.Errorf("refresh: %w", err)
	}

	modules, ports, conns := s.drv.Registry().Len()
	s.log.V(1).Info("refreshed", "modules", modules, "ports", ports, "connections", conns, "took", time.Since(start).String())
	s.bus.Publish(Event{Type: EventRefreshed, Payload: map[string]int{
		"modules": modules, "ports": ports, "connections": conns,
	}})
	return nil
}

// Reload installs new ignore and split rules and refreshes so the model
// reflects them
func (s *PatchService) Reload(rules driver.Rules) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.drv.SetIgnoreRules(rules.IgnoreClients, rules.IgnorePorts)
	s.drv.SetSplitRules(rules.Split)
	s.bus.Publish(Event{Type: EventReloaded})
	return s.refreshLocked()
}

// Run refreshes once, then processes events whenever the driver signals
// them or the process interval elapses, until ctx is done
func (s *PatchService) Run(ctx context.Context) error {
	if err := s.Refresh(); err != nil {
		return err
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.drv.Ready():
		case <-ticker.C:
		}

		if _, err := s.Process(); err != nil {
			if errors.Is(err, driver.ErrNotAttached) {
				return err
			}
			s.log.Error(err, "processing events failed")
		}
	}
}

// Connect asks the driver to subscribe dst to src
func (s *PatchService) Connect(src, dst domain.PortID) error {
	return s.drv.Connect(src, dst)
}

// Disconnect asks the driver to remove the subscription of dst to src
func (s *PatchService) Disconnect(src, dst domain.PortID) error {
	return s.drv.Disconnect(src, dst)
}

// Graph returns a snapshot of the model
func (s *PatchService) Graph() *domain.Graph {
	return s.drv.Snapshot()
}

// Status summarizes the driver
type Status struct {
	Attached    bool             `json:"attached"`
	Modules     int              `json:"modules"`
	Ports       int              `json:"ports"`
	Connections int              `json:"connections"`
	Queue       queue.Stats      `json:"queue"`
	Ignored     []domain.Address `json:"ignored"`
}

// Status reports the driver's state
func (s *PatchService) Status() Status {
	modules, ports, conns := s.drv.Registry().Len()
	return Status{
		Attached:    s.drv.IsAttached(),
		Modules:     modules,
		Ports:       ports,
		Connections: conns,
		Queue:       s.drv.QueueStats(),
		Ignored:     s.drv.Ignored(),
	}
}

// History lists journaled deltas, newest first
func (s *PatchService) History(ctx context.Context, f repository.Filter) ([]repository.Entry, error) {
	if s.journal == nil {
		return nil, ErrNoJournal
	}
	return s.journal.List(ctx, f)
}

// Export writes the current graph in the given format
func (s *PatchService) Export(w io.Writer, format string) error {
	c, err := codec.ForFormat(format)
	if err != nil {
		return err
	}
	return c.Export(s.Graph(), w)
}

// PatchResult reports what ApplyPatch did with each link
type PatchResult struct {
	Requested int      `json:"requested"`
	Present   int      `json:"present"`
	Missing   []string `json:"missing,omitempty"`
	Failed    []string `json:"failed,omitempty"`
}

// ApplyPatch requests every connection of p whose ends are modeled and not
// already connected. Links naming unmodeled ports are reported as missing.
// Like Connect, the model follows once the announcements are processed.
func (s *PatchService) ApplyPatch(p *codec.Patch) (PatchResult, error) {
	links, err := p.Links()
	if err != nil {
		return PatchResult{}, err
	}

	reg := s.drv.Registry()
	var res PatchResult
	for _, l := range links {
		name := fmt.Sprintf("%s -> %s", l.Source, l.Destination)
		src, okSrc := reg.Resolve(l.Source, domain.DirectionOutput)
		dst, okDst := reg.Resolve(l.Destination, domain.DirectionInput)
		if !okSrc || !okDst {
			res.Missing = append(res.Missing, name)
			continue
		}
		if reg.Connected(src, dst) {
			res.Present++
			continue
		}
		if err := s.drv.Connect(src, dst); err != nil {
			s.log.Error(err, "patch connection failed", "link", name)
			res.Failed = append(res.Failed, name)
			continue
		}
		res.Requested++
	}

	s.bus.Publish(Event{Type: EventPatchApply, Payload: res})
	return res, nil
}
