package driver

import (
	"errors"
	"fmt"

	"patchbay/internal/domain"
	"patchbay/internal/registry"
	"patchbay/internal/seq"
)

// ProcessEvents drains the event queue on the calling goroutine and applies
// each event to the model in arrival order, forwarding the resulting deltas
// to c. After a queue overflow the drained events are discarded and a full
// Refresh runs instead. It returns the number of deltas delivered.
func (d *Driver) ProcessEvents(c Consumer) (int, error) {
	if _, err := d.sequencer(); err != nil {
		return 0, err
	}

	var procErr error
	n := d.consume(c, func() {
		// Detach may have run while we waited for the lock
		sq, err := d.sequencer()
		if err != nil {
			procErr = err
			return
		}
		events, overflow := d.queue.Drain()
		if overflow {
			d.log.Info("event queue overflowed, refreshing", "discarded", len(events))
			procErr = d.reconcile(sq)
			return
		}
		for _, ev := range events {
			d.apply(sq, ev)
		}
	})
	return n, procErr
}

func (d *Driver) violation(format string, args ...any) {
	err := fmt.Errorf("%w: %s", ErrProtocolViolation, fmt.Sprintf(format, args...))
	d.log.V(1).Info("self-healing", "error", err.Error())
}

func (d *Driver) apply(sq seq.Sequencer, ev domain.Event) {
	switch ev.Kind {
	case domain.EventPortAppeared:
		if ev.Port == nil {
			d.violation("port %s appeared without description", ev.Addr)
			return
		}
		for _, dir := range ev.Port.Directions() {
			if _, ok := d.reg.Resolve(ev.Addr, dir); ok {
				d.violation("duplicate appearance of %s %s", ev.Addr, dir)
				continue
			}
			if _, _, err := d.createView(*ev.Port, dir); err != nil {
				d.log.Error(err, "create port view", "addr", ev.Addr.String())
			}
		}

	case domain.EventPortDisappeared:
		ids := d.reg.ResolveAny(ev.Addr)
		if len(ids) == 0 {
			d.violation("disappearance of unknown port %s", ev.Addr)
			return
		}
		d.destroyPorts(ids)

	case domain.EventModuleDisappeared:
		for _, m := range d.reg.ModulesOf(ev.Client) {
			d.reg.DestroyModule(m.ID)
		}

	case domain.EventConnectionAppeared:
		src, err := d.view(sq, ev.Addr, domain.DirectionOutput)
		if err != nil {
			d.log.V(1).Info("dropping connection", "source", ev.Addr.String(), "error", err.Error())
			return
		}
		dst, err := d.view(sq, ev.Dest, domain.DirectionInput)
		if err != nil {
			d.log.V(1).Info("dropping connection", "destination", ev.Dest.String(), "error", err.Error())
			return
		}
		if _, created, err := d.reg.AddConnection(src, dst); err != nil {
			d.log.Error(err, "add connection")
		} else if !created {
			d.violation("duplicate connection %s -> %s", ev.Addr, ev.Dest)
		}

	case domain.EventConnectionDisappeared:
		src, okSrc := d.reg.Resolve(ev.Addr, domain.DirectionOutput)
		dst, okDst := d.reg.Resolve(ev.Dest, domain.DirectionInput)
		if !okSrc || !okDst || !d.reg.RemoveConnection(src, dst) {
			d.violation("disappearance of unknown connection %s -> %s", ev.Addr, ev.Dest)
		}

	default:
		d.violation("unexpected event kind %q", ev.Kind)
	}
}

// destroyPorts removes port views and then any module they leave empty
func (d *Driver) destroyPorts(ids []domain.PortID) {
	var modules []domain.ModuleID
	for _, id := range ids {
		if p, ok := d.reg.Port(id); ok {
			modules = append(modules, p.Module)
		}
		d.reg.DestroyPort(id)
	}
	for _, mid := range modules {
		if _, ok := d.reg.Module(mid); ok && len(d.reg.PortsOf(mid)) == 0 {
			d.reg.DestroyModule(mid)
		}
	}
}

// view resolves a port view, creating it on demand
func (d *Driver) view(sq seq.Sequencer, addr domain.Address, dir domain.Direction) (domain.PortID, error) {
	if id, ok := d.reg.Resolve(addr, dir); ok {
		return id, nil
	}
	_, port, err := d.createPortView(sq, addr, dir)
	if err != nil {
		return 0, err
	}
	return port.ID, nil
}

// CreatePortView models the dir view of the port at addr, creating its
// module if needed, and returns both. An already modeled view is returned
// as is. Deltas go to Options.Consumer.
func (d *Driver) CreatePortView(addr domain.Address, dir domain.Direction) (*domain.Module, *domain.Port, error) {
	var (
		mod  *domain.Module
		port *domain.Port
		err  error
	)
	d.consume(d.opts.Consumer, func() {
		sq, serr := d.sequencer()
		if serr != nil {
			err = serr
			return
		}
		mod, port, err = d.createPortView(sq, addr, dir)
	})
	return mod, port, err
}

func (d *Driver) createPortView(sq seq.Sequencer, addr domain.Address, dir domain.Direction) (*domain.Module, *domain.Port, error) {
	if id, ok := d.reg.Resolve(addr, dir); ok {
		p, _ := d.reg.Port(id)
		m, _ := d.reg.Module(p.Module)
		return &m, &p, nil
	}

	if d.ignore(sq, addr, true) {
		return nil, nil, fmt.Errorf("port %s: %w", addr, ErrIgnored)
	}
	desc, err := describe(sq, addr)
	if err != nil {
		if errors.Is(err, seq.ErrNoSuchPort) {
			return nil, nil, fmt.Errorf("port %s: %w: %w", addr, ErrUnknownPort, err)
		}
		return nil, nil, fmt.Errorf("describe port %s: %w", addr, err)
	}
	if (dir == domain.DirectionInput && !desc.Input) || (dir == domain.DirectionOutput && !desc.Output) {
		return nil, nil, fmt.Errorf("port %s: %w: no %s view", addr, ErrUnknownPort, dir)
	}

	m, p, err := d.createView(desc, dir)
	if err != nil {
		return nil, nil, err
	}
	return &m, &p, nil
}

func (d *Driver) createView(desc domain.PortDescription, dir domain.Direction) (domain.Module, domain.Port, error) {
	typ := d.currentRules().moduleType(desc, dir)
	mod := d.reg.FindOrCreateModule(desc.Address.Client, desc.ClientName, typ)

	port, err := d.reg.CreatePort(mod.ID, desc.Name, dir, desc.Address)
	if errors.Is(err, registry.ErrDuplicatePort) {
		d.violation("port %s %s already modeled", desc.Address, dir)
	}
	if err != nil {
		return mod, domain.Port{}, err
	}
	return mod, port, nil
}
