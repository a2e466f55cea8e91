package driver

import (
	"fmt"
	"sort"

	"patchbay/internal/domain"
	"patchbay/internal/seq"
)

// Refresh enumerates every client, port and subscription and reconciles
// the model with what it finds. Stale connections, ports and then empty
// modules are removed first; missing modules, ports and then connections
// are created after. Deltas go to c.
func (d *Driver) Refresh(c Consumer) error {
	var refreshErr error
	d.consume(c, func() {
		sq, err := d.sequencer()
		if err != nil {
			refreshErr = err
			return
		}
		refreshErr = d.reconcile(sq)
	})
	return refreshErr
}

// DestroyAll removes everything from the model without touching the
// hardware. Deltas go to c, leaf to root.
func (d *Driver) DestroyAll(c Consumer) {
	d.consume(c, d.reg.Clear)
}

type wantedPort struct {
	desc domain.PortDescription
	typ  domain.ModuleType
}

type wantedConn struct {
	src, dst domain.Address
}

func (d *Driver) enumerate(sq seq.Sequencer) (map[domain.PortKey]wantedPort, map[wantedConn]struct{}, error) {
	clients, err := sq.Clients()
	if err != nil {
		return nil, nil, fmt.Errorf("enumerate clients: %w", err)
	}

	rules := d.currentRules()
	ports := make(map[domain.PortKey]wantedPort)
	var outputs []domain.Address
	for _, client := range clients {
		if client.Client == sq.ClientID() {
			continue
		}
		infos, err := sq.Ports(client.Client)
		if err != nil {
			return nil, nil, fmt.Errorf("enumerate ports of client %d: %w", client.Client, err)
		}
		for _, info := range infos {
			if d.ignore(sq, info.Addr, true) {
				continue
			}
			desc := info.Describe(client)
			for _, dir := range desc.Directions() {
				key := domain.PortKey{Address: info.Addr, Direction: dir}
				ports[key] = wantedPort{desc: desc, typ: rules.moduleType(desc, dir)}
			}
			if desc.Output {
				outputs = append(outputs, info.Addr)
			}
		}
	}

	conns := make(map[wantedConn]struct{})
	for _, src := range outputs {
		dests, err := sq.Subscribers(src)
		if err != nil {
			return nil, nil, fmt.Errorf("enumerate subscribers of %s: %w", src, err)
		}
		for _, dst := range dests {
			if _, ok := ports[domain.PortKey{Address: dst, Direction: domain.DirectionInput}]; ok {
				conns[wantedConn{src, dst}] = struct{}{}
			}
		}
	}
	return ports, conns, nil
}

func (d *Driver) reconcile(sq seq.Sequencer) error {
	// verdicts are re-derived from what the sequencer reports now; a lost
	// PORT_EXIT or a renamed client would otherwise leave them stale
	d.ignored.Reset()
	ports, conns, err := d.enumerate(sq)
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}

	// stale connections
	for _, c := range d.reg.Connections() {
		if _, ok := conns[wantedConn{c.SourceAddr, c.DestAddr}]; !ok {
			d.reg.RemoveConnection(c.Source, c.Destination)
		}
	}

	// stale or changed ports
	g := d.reg.Snapshot()
	for _, p := range g.Ports {
		want, ok := ports[p.Key()]
		m, _ := g.Module(p.Module)
		if !ok || want.desc.Name != p.Name || want.typ != m.Type || want.desc.ClientName != m.Name {
			d.reg.DestroyPort(p.ID)
		}
	}

	// empty modules
	for _, m := range g.Modules {
		if _, ok := d.reg.Module(m.ID); ok && len(d.reg.PortsOf(m.ID)) == 0 {
			d.reg.DestroyModule(m.ID)
		}
	}

	// missing ports, in address order
	keys := make([]domain.PortKey, 0, len(ports))
	for key := range ports {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	for _, key := range keys {
		if _, ok := d.reg.Resolve(key.Address, key.Direction); ok {
			continue
		}
		if _, _, err := d.createView(ports[key].desc, key.Direction); err != nil {
			d.log.Error(err, "create port view during refresh", "addr", key.Address.String())
		}
	}

	// missing connections
	pairs := make([]wantedConn, 0, len(conns))
	for c := range conns {
		pairs = append(pairs, c)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].src != pairs[j].src {
			return pairs[i].src.Less(pairs[j].src)
		}
		return pairs[i].dst.Less(pairs[j].dst)
	})
	for _, c := range pairs {
		src, okSrc := d.reg.Resolve(c.src, domain.DirectionOutput)
		dst, okDst := d.reg.Resolve(c.dst, domain.DirectionInput)
		if !okSrc || !okDst {
			continue
		}
		if _, _, err := d.reg.AddConnection(src, dst); err != nil {
			d.log.Error(err, "add connection during refresh")
		}
	}

	modules, nports, nconns := d.reg.Len()
	d.log.V(1).Info("refreshed", "modules", modules, "ports", nports, "connections", nconns)
	return nil
}
