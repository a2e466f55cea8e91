// Package driver keeps a stable model of the sequencer's ports and
// subscriptions in sync with the hardware.
//
// A listener goroutine started by Attach blocks on the sequencer's announce
// stream, filters and normalizes what it reads, and pushes the result onto
// a bounded queue. The consumer calls ProcessEvents on its own schedule to
// apply queued events to the registry and receive the resulting deltas.
// The listener never mutates the registry; only the consumer-side methods
// (ProcessEvents, Refresh, DestroyAll, CreatePortView and the teardown in
// Detach) do, so the registry always equals what consumers have been told.
//
// Connect and Disconnect only ask the sequencer for a change. The model
// follows when the resulting announcement is processed.
package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"patchbay/internal/domain"
	"patchbay/internal/queue"
	"patchbay/internal/registry"
	"patchbay/internal/seq"
)

// Driver is the facade over a sequencer connection
type Driver struct {
	opts Options
	log  logr.Logger

	reg     *registry.Registry
	ignored *registry.IgnoreSet
	queue   *queue.Queue

	rulesMu sync.RWMutex
	rules   Rules

	// lifeMu serializes Attach and Detach
	lifeMu sync.Mutex
	seqMu  sync.RWMutex
	seq    seq.Sequencer
	cancel context.CancelFunc
	done   chan struct{}

	// pushMu fences listener deliveries against the reset in Detach
	pushMu sync.RWMutex

	// consumerMu serializes registry mutation; sink is only touched under it
	consumerMu sync.Mutex
	sink       Consumer
}

// New creates a detached driver
func New(opts Options) *Driver {
	opts.applyDefaults()
	d := &Driver{
		opts:    opts,
		log:     opts.Logger.WithName("driver"),
		ignored: registry.NewIgnoreSet(),
		queue:   queue.New(opts.QueueCapacity),
		rules:   opts.Rules,
	}
	d.reg = registry.New(d.forward)
	return d
}

func (d *Driver) forward(delta domain.Delta) {
	d.log.V(2).Info("delta", "delta", delta.String())
	if d.sink != nil {
		d.sink.Apply(delta)
	}
}

// consume runs fn with deltas routed to c
func (d *Driver) consume(c Consumer, fn func()) int {
	d.consumerMu.Lock()
	defer d.consumerMu.Unlock()

	cnt := &counter{next: c}
	d.sink = cnt
	defer func() { d.sink = nil }()

	fn()
	return cnt.n
}

func (d *Driver) sequencer() (seq.Sequencer, error) {
	d.seqMu.RLock()
	defer d.seqMu.RUnlock()
	if d.seq == nil {
		return nil, ErrNotAttached
	}
	return d.seq, nil
}

// IsAttached reports whether the sequencer is open and the listener running
func (d *Driver) IsAttached() bool {
	_, err := d.sequencer()
	return err == nil
}

// Attach opens the sequencer and starts the listener. With launchBackend
// the configured Launcher runs first. Attaching an attached driver does
// nothing.
func (d *Driver) Attach(ctx context.Context, launchBackend bool) error {
	d.lifeMu.Lock()
	defer d.lifeMu.Unlock()

	if d.IsAttached() {
		return nil
	}
	if d.opts.Opener == nil {
		return fmt.Errorf("%w: no sequencer backend configured", ErrConnection)
	}

	if launchBackend && d.opts.Launcher != nil {
		if err := d.opts.Launcher.Launch(ctx); err != nil {
			return fmt.Errorf("%w: launch backend: %w", ErrConnection, err)
		}
	}

	sq, err := d.opts.Opener(ctx, d.opts.Sequencer)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}

	lctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	done := make(chan struct{})
	go d.listen(lctx, sq, started, done)

	timer := time.NewTimer(d.opts.AttachTimeout)
	defer timer.Stop()

	var failure error
	select {
	case <-started:
	case <-done:
		failure = fmt.Errorf("%w: listener exited during start-up", ErrThreadLifecycle)
	case <-timer.C:
		failure = fmt.Errorf("%w: listener did not start within %s", ErrThreadLifecycle, d.opts.AttachTimeout)
	case <-ctx.Done():
		failure = fmt.Errorf("%w: %w", ErrThreadLifecycle, ctx.Err())
	}
	if failure != nil {
		cancel()
		sq.Close()
		return failure
	}

	d.seqMu.Lock()
	d.seq = sq
	d.cancel = cancel
	d.done = done
	d.seqMu.Unlock()

	d.log.Info("attached to sequencer", "client", sq.ClientID(), "name", d.opts.Sequencer.ClientName)
	return nil
}

// Detach stops the listener, waits for it to exit, closes the sequencer and
// clears the model. The teardown deltas go to Options.Consumer. Detaching a
// detached driver does nothing.
func (d *Driver) Detach() error {
	d.lifeMu.Lock()
	defer d.lifeMu.Unlock()

	d.seqMu.RLock()
	sq, cancel, done := d.seq, d.cancel, d.done
	d.seqMu.RUnlock()
	if sq == nil {
		return nil
	}

	cancel()
	var joinErr error
	select {
	case <-done:
	case <-time.After(d.opts.DetachTimeout):
		joinErr = fmt.Errorf("%w: listener did not stop within %s", ErrThreadLifecycle, d.opts.DetachTimeout)
	}

	d.seqMu.Lock()
	d.seq = nil
	d.cancel = nil
	d.done = nil
	d.seqMu.Unlock()

	closeErr := sq.Close()

	d.consume(d.opts.Consumer, func() {
		d.reg.Clear()
		d.pushMu.Lock()
		d.ignored.Reset()
		d.queue.Reset()
		d.pushMu.Unlock()
	})

	d.log.Info("detached from sequencer")
	if closeErr != nil {
		closeErr = fmt.Errorf("close sequencer: %w", closeErr)
	}
	return errors.Join(joinErr, closeErr)
}

// Connect asks the sequencer to subscribe dst to src. The model is not
// changed; the connection appears once its announcement is processed.
func (d *Driver) Connect(src, dst domain.PortID) error {
	return d.subscription("connect", src, dst, seq.Sequencer.Subscribe)
}

// Disconnect asks the sequencer to remove the subscription of dst to src
func (d *Driver) Disconnect(src, dst domain.PortID) error {
	return d.subscription("disconnect", src, dst, seq.Sequencer.Unsubscribe)
}

func (d *Driver) subscription(op string, src, dst domain.PortID, call func(seq.Sequencer, domain.Address, domain.Address) error) error {
	sq, err := d.sequencer()
	if err != nil {
		return err
	}

	sp, ok := d.reg.Port(src)
	if !ok {
		return fmt.Errorf("%s: %w #%d", op, ErrUnknownPort, src)
	}
	dp, ok := d.reg.Port(dst)
	if !ok {
		return fmt.Errorf("%s: %w #%d", op, ErrUnknownPort, dst)
	}
	if sp.Direction != domain.DirectionOutput || dp.Direction != domain.DirectionInput {
		return fmt.Errorf("%w: %s %s -> %s: source must be an output and destination an input",
			ErrOperationFailed, op, sp, dp)
	}

	if err := call(sq, sp.Address, dp.Address); err != nil {
		d.log.Error(err, "sequencer rejected request", "op", op, "source", sp.Address.String(), "destination", dp.Address.String())
		return fmt.Errorf("%w: %s %s -> %s: %w", ErrOperationFailed, op, sp.Address, dp.Address, err)
	}
	d.log.V(1).Info("requested", "op", op, "source", sp.Address.String(), "destination", dp.Address.String())
	return nil
}

// Snapshot returns a sorted copy of the model
func (d *Driver) Snapshot() *domain.Graph {
	return d.reg.Snapshot()
}

// Registry exposes the identity registry for read access
func (d *Driver) Registry() *registry.Registry {
	return d.reg
}

// QueueStats reports event queue counters
func (d *Driver) QueueStats() queue.Stats {
	return d.queue.Stats()
}

// Ready is signalled when events are waiting for ProcessEvents
func (d *Driver) Ready() <-chan struct{} {
	return d.queue.Ready()
}

// Ignored lists the addresses currently suppressed from the model
func (d *Driver) Ignored() []domain.Address {
	return d.ignored.List()
}

// SetIgnoreRules replaces the configured ignore rules. Cached ignore
// decisions are forgotten; call Refresh to apply the rules to the model.
func (d *Driver) SetIgnoreRules(clients []string, ports []domain.Address) {
	d.rulesMu.Lock()
	d.rules.IgnoreClients = append([]string(nil), clients...)
	d.rules.IgnorePorts = append([]domain.Address(nil), ports...)
	d.rulesMu.Unlock()

	d.ignored.Reset()
}

// SetSplitRules replaces the per-client module split overrides. Call
// Refresh to regroup existing ports.
func (d *Driver) SetSplitRules(split map[string]bool) {
	copied := make(map[string]bool, len(split))
	for name, v := range split {
		copied[name] = v
	}

	d.rulesMu.Lock()
	d.rules.Split = copied
	d.rulesMu.Unlock()
}

func (d *Driver) currentRules() Rules {
	d.rulesMu.RLock()
	defer d.rulesMu.RUnlock()
	return d.rules
}
