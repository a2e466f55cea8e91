package driver

import (
	"context"
	"errors"
	"time"

	"patchbay/internal/domain"
	"patchbay/internal/seq"
)

const (
	minBackoff = 10 * time.Millisecond
	maxBackoff = time.Second
)

// listen is the refresh thread. It owns the blocking Wait on the sequencer
// and runs until ctx is cancelled or the sequencer is closed.
func (d *Driver) listen(ctx context.Context, sq seq.Sequencer, started chan<- struct{}, done chan<- struct{}) {
	defer close(done)
	log := d.log.WithName("listener")

	close(started)
	log.V(1).Info("listening", "client", sq.ClientID())

	backoff := minBackoff
	for {
		raw, err := sq.Wait(ctx)
		switch {
		case err == nil:
			backoff = minBackoff
		case ctx.Err() != nil, errors.Is(err, seq.ErrClosed):
			log.V(1).Info("stopped")
			return
		case errors.Is(err, seq.ErrOverflow):
			log.Info("sequencer dropped announcements, forcing refresh")
			if !d.deliver(ctx, d.queue.MarkOverflow) {
				return
			}
			continue
		default:
			log.Error(err, "wait for announcement", "retry", backoff.String())
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}

		delivered := d.deliver(ctx, func() {
			ev, ok := d.decode(sq, raw)
			if !ok {
				log.V(2).Info("dropped", "event", raw.String())
				return
			}
			log.V(2).Info("queued", "event", ev.String())
			if !d.queue.Push(ev) {
				log.V(1).Info("event queue full, oldest event dropped")
			}
		})
		if !delivered {
			log.V(1).Info("stopped", "discarded", raw.String())
			return
		}
	}
}

// deliver runs fn unless the listener's attach cycle has ended. Detach
// takes pushMu after cancelling, so nothing from an old cycle reaches the
// queue or the ignore set once it has been reset.
func (d *Driver) deliver(ctx context.Context, fn func()) bool {
	d.pushMu.RLock()
	defer d.pushMu.RUnlock()
	if ctx.Err() != nil {
		return false
	}
	fn()
	return true
}

// decode normalizes one announcement. Port details are fetched now, while
// the port still exists.
func (d *Driver) decode(sq seq.Sequencer, raw seq.RawEvent) (domain.Event, bool) {
	switch raw.Type {
	case seq.EventPortStart:
		if d.ignore(sq, raw.Addr, true) {
			return domain.Event{}, false
		}
		desc, err := describe(sq, raw.Addr)
		if err != nil {
			d.log.V(1).Info("port vanished before it could be described", "addr", raw.Addr.String(), "error", err.Error())
			return domain.Event{}, false
		}
		return domain.Event{Kind: domain.EventPortAppeared, Addr: raw.Addr, Port: &desc}, true

	case seq.EventPortExit:
		if d.ignore(sq, raw.Addr, false) {
			if raw.Addr.Client != sq.ClientID() {
				d.ignored.Unignore(raw.Addr)
			}
			return domain.Event{}, false
		}
		return domain.Event{Kind: domain.EventPortDisappeared, Addr: raw.Addr}, true

	case seq.EventPortChange:
		return d.reclassify(sq, raw.Addr)

	case seq.EventClientChange:
		// a rename can move the client in or out of an ignore.clients glob
		if raw.Addr.Client != sq.ClientID() {
			d.ignored.UnignoreClient(raw.Addr.Client)
		}
		return domain.Event{}, false

	case seq.EventClientExit:
		if raw.Addr.Client == sq.ClientID() {
			return domain.Event{}, false
		}
		return domain.Event{Kind: domain.EventModuleDisappeared, Client: raw.Addr.Client}, true

	case seq.EventPortSubscribed, seq.EventPortUnsubscribed:
		if d.ignore(sq, raw.Sender, true) || d.ignore(sq, raw.Dest, true) {
			return domain.Event{}, false
		}
		kind := domain.EventConnectionAppeared
		if raw.Type == seq.EventPortUnsubscribed {
			kind = domain.EventConnectionDisappeared
		}
		return domain.Event{Kind: kind, Addr: raw.Sender, Dest: raw.Dest}, true
	}
	return domain.Event{}, false
}

// reclassify drops the cached verdict of a changed port and reports a
// port that became visible or hidden
func (d *Driver) reclassify(sq seq.Sequencer, addr domain.Address) (domain.Event, bool) {
	if addr.Client == sq.ClientID() {
		return domain.Event{}, false
	}
	was := d.ignored.Contains(addr)
	d.ignored.Unignore(addr)
	now := d.ignore(sq, addr, true)

	switch {
	case was && !now:
		desc, err := describe(sq, addr)
		if err != nil {
			return domain.Event{}, false
		}
		return domain.Event{Kind: domain.EventPortAppeared, Addr: addr, Port: &desc}, true
	case !was && now:
		return domain.Event{Kind: domain.EventPortDisappeared, Addr: addr}, true
	}
	return domain.Event{}, false
}

func describe(sq seq.Sequencer, addr domain.Address) (domain.PortDescription, error) {
	port, err := sq.PortInfo(addr)
	if err != nil {
		return domain.PortDescription{}, err
	}
	client, err := sq.ClientInfo(addr.Client)
	if err != nil {
		return domain.PortDescription{}, err
	}
	return port.Describe(client), nil
}

// ignore reports whether addr is ignored. With add it classifies an
// address not seen before and remembers the verdict; without add it only
// consults the ignore set.
func (d *Driver) ignore(sq seq.Sequencer, addr domain.Address, add bool) bool {
	if d.ignored.Contains(addr) {
		return true
	}
	if !add {
		return false
	}
	if d.shouldIgnore(sq, addr) {
		d.ignored.Ignore(addr)
		d.log.V(2).Info("ignoring", "addr", addr.String())
		return true
	}
	return false
}

func (d *Driver) shouldIgnore(sq seq.Sequencer, addr domain.Address) bool {
	if addr.Client == sq.ClientID() || addr == seq.TimerPort || addr == seq.AnnouncePort {
		return true
	}

	rules := d.currentRules()
	if rules.ignoresPort(addr) {
		return true
	}

	port, err := sq.PortInfo(addr)
	if err != nil {
		return false
	}
	if !port.Exported() || (!port.Readable() && !port.Writable()) {
		return true
	}

	if len(rules.IgnoreClients) > 0 {
		client, err := sq.ClientInfo(addr.Client)
		if err == nil && rules.ignoresClient(client.Name) {
			return true
		}
	}
	return false
}
