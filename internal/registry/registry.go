// Package registry maps volatile sequencer addresses to stable identities.
//
// The Registry owns every module, port and connection known to the driver.
// Identities come from monotonically increasing counters and are never
// reused, so a port that disappears and comes back at the same address gets
// a new PortID. Every mutation reports its structural deltas to the
// Observer given to New, in leaf-to-root order for removals (connections,
// then ports, then modules). Observers run after the registry lock has been
// released and may read the registry.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"patchbay/internal/domain"
)

var (
	// ErrDuplicatePort is returned when a port view already exists at an address
	ErrDuplicatePort = errors.New("port already exists")
	// ErrUnknownModule is returned when a port is created in a module that does not exist
	ErrUnknownModule = errors.New("unknown module")
	// ErrUnknownPort is returned when a connection references a port that does not exist
	ErrUnknownPort = errors.New("unknown port")
	// ErrWrongDirection is returned when a port does not fit its module or connection end
	ErrWrongDirection = errors.New("wrong port direction")
)

// Observer receives deltas produced by registry mutations
type Observer func(domain.Delta)

// Registry is the identity registry. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	observer Observer

	nextModule domain.ModuleID
	nextPort   domain.PortID

	modules map[domain.ModuleID]*domain.Module
	clients map[uint8][]domain.ModuleID
	members map[domain.ModuleID][]domain.PortID

	ports map[domain.PortID]*domain.Port
	byKey map[domain.PortKey]domain.PortID

	conns  map[domain.ConnectionKey]domain.Connection
	byPort map[domain.PortID]map[domain.ConnectionKey]struct{}
}

// New creates an empty registry. A nil observer discards deltas.
func New(observer Observer) *Registry {
	if observer == nil {
		observer = func(domain.Delta) {}
	}
	return &Registry{
		observer: observer,
		modules:  make(map[domain.ModuleID]*domain.Module),
		clients:  make(map[uint8][]domain.ModuleID),
		members:  make(map[domain.ModuleID][]domain.PortID),
		ports:    make(map[domain.PortID]*domain.Port),
		byKey:    make(map[domain.PortKey]domain.PortID),
		conns:    make(map[domain.ConnectionKey]domain.Connection),
		byPort:   make(map[domain.PortID]map[domain.ConnectionKey]struct{}),
	}
}

func (r *Registry) notify(deltas []domain.Delta) {
	for _, d := range deltas {
		r.observer(d)
	}
}

// FindModule returns the module of a client with the given type
func (r *Registry) FindModule(client uint8, typ domain.ModuleType) (domain.Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if m := r.findModuleLocked(client, typ); m != nil {
		return *m, true
	}
	return domain.Module{}, false
}

func (r *Registry) findModuleLocked(client uint8, typ domain.ModuleType) *domain.Module {
	for _, id := range r.clients[client] {
		if m := r.modules[id]; m.Type == typ {
			return m
		}
	}
	return nil
}

// FindOrCreateModule returns the module of a client with the given type,
// creating it on first observation. ModuleAppeared is reported only when the
// module is created.
func (r *Registry) FindOrCreateModule(client uint8, name string, typ domain.ModuleType) domain.Module {
	r.mu.Lock()
	if m := r.findModuleLocked(client, typ); m != nil {
		r.mu.Unlock()
		return *m
	}

	r.nextModule++
	m := &domain.Module{ID: r.nextModule, Client: client, Name: name, Type: typ}
	r.modules[m.ID] = m
	r.clients[client] = append(r.clients[client], m.ID)
	created := *m
	r.mu.Unlock()

	r.notify([]domain.Delta{domain.ModuleDelta(domain.EventModuleAppeared, created)})
	return created
}

// Module returns a module by ID
func (r *Registry) Module(id domain.ModuleID) (domain.Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if m, ok := r.modules[id]; ok {
		return *m, true
	}
	return domain.Module{}, false
}

// ModulesOf returns all modules representing a client
func (r *Registry) ModulesOf(client uint8) []domain.Module {
	r.mu.RLock()
	defer r.mu.RUnlock()

	mods := make([]domain.Module, 0, len(r.clients[client]))
	for _, id := range r.clients[client] {
		mods = append(mods, *r.modules[id])
	}
	return mods
}

// CreatePort adds a port view to a module. It fails with ErrDuplicatePort
// when a view with the same address and direction already exists.
func (r *Registry) CreatePort(module domain.ModuleID, name string, dir domain.Direction, addr domain.Address) (domain.Port, error) {
	r.mu.Lock()

	m, ok := r.modules[module]
	if !ok {
		r.mu.Unlock()
		return domain.Port{}, fmt.Errorf("create port %s: %w %d", addr, ErrUnknownModule, module)
	}
	if !m.Type.Accepts(dir) {
		r.mu.Unlock()
		return domain.Port{}, fmt.Errorf("create port %s: %w: %s port in %s module", addr, ErrWrongDirection, dir, m.Type)
	}

	key := domain.PortKey{Address: addr, Direction: dir}
	if existing, ok := r.byKey[key]; ok {
		r.mu.Unlock()
		return domain.Port{}, fmt.Errorf("create port %s %s: %w as #%d", addr, dir, ErrDuplicatePort, existing)
	}

	r.nextPort++
	p := &domain.Port{ID: r.nextPort, Module: module, Name: name, Direction: dir, Address: addr}
	r.ports[p.ID] = p
	r.byKey[key] = p.ID
	r.members[module] = append(r.members[module], p.ID)
	created := *p
	r.mu.Unlock()

	r.notify([]domain.Delta{domain.PortDelta(domain.EventPortAppeared, created)})
	return created, nil
}

// Resolve translates a hardware address and direction into a PortID
func (r *Registry) Resolve(addr domain.Address, dir domain.Direction) (domain.PortID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byKey[domain.PortKey{Address: addr, Direction: dir}]
	return id, ok
}

// ResolveAny returns every port view at an address, inputs first
func (r *Registry) ResolveAny(addr domain.Address) []domain.PortID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []domain.PortID
	for _, dir := range []domain.Direction{domain.DirectionInput, domain.DirectionOutput} {
		if id, ok := r.byKey[domain.PortKey{Address: addr, Direction: dir}]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// Port returns a port by ID
func (r *Registry) Port(id domain.PortID) (domain.Port, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if p, ok := r.ports[id]; ok {
		return *p, true
	}
	return domain.Port{}, false
}

// PortsOf returns the ports of a module in creation order
func (r *Registry) PortsOf(module domain.ModuleID) []domain.Port {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ports := make([]domain.Port, 0, len(r.members[module]))
	for _, id := range r.members[module] {
		ports = append(ports, *r.ports[id])
	}
	return ports
}

// AddConnection records a subscription from src (an output) to dst (an
// input). It reports false without error when the connection already exists.
func (r *Registry) AddConnection(src, dst domain.PortID) (domain.Connection, bool, error) {
	r.mu.Lock()

	sp, ok := r.ports[src]
	if !ok {
		r.mu.Unlock()
		return domain.Connection{}, false, fmt.Errorf("connect #%d: %w", src, ErrUnknownPort)
	}
	dp, ok := r.ports[dst]
	if !ok {
		r.mu.Unlock()
		return domain.Connection{}, false, fmt.Errorf("connect #%d: %w", dst, ErrUnknownPort)
	}
	if sp.Direction != domain.DirectionOutput || dp.Direction != domain.DirectionInput {
		r.mu.Unlock()
		return domain.Connection{}, false, fmt.Errorf("connect #%d -> #%d: %w", src, dst, ErrWrongDirection)
	}

	conn := domain.NewConnection(*sp, *dp)
	if existing, ok := r.conns[conn.Key()]; ok {
		r.mu.Unlock()
		return existing, false, nil
	}

	r.conns[conn.Key()] = conn
	r.indexConnLocked(src, conn.Key())
	r.indexConnLocked(dst, conn.Key())
	r.mu.Unlock()

	r.notify([]domain.Delta{domain.ConnectionDelta(domain.EventConnectionAppeared, conn)})
	return conn, true, nil
}

func (r *Registry) indexConnLocked(port domain.PortID, key domain.ConnectionKey) {
	set, ok := r.byPort[port]
	if !ok {
		set = make(map[domain.ConnectionKey]struct{})
		r.byPort[port] = set
	}
	set[key] = struct{}{}
}

// RemoveConnection forgets a subscription. It reports whether the
// connection existed.
func (r *Registry) RemoveConnection(src, dst domain.PortID) bool {
	r.mu.Lock()
	key := domain.ConnectionKey{Source: src, Destination: dst}
	conn, ok := r.conns[key]
	if !ok {
		r.mu.Unlock()
		return false
	}
	r.removeConnLocked(key)
	r.mu.Unlock()

	r.notify([]domain.Delta{domain.ConnectionDelta(domain.EventConnectionDisappeared, conn)})
	return true
}

func (r *Registry) removeConnLocked(key domain.ConnectionKey) {
	delete(r.conns, key)
	for _, id := range []domain.PortID{key.Source, key.Destination} {
		if set, ok := r.byPort[id]; ok {
			delete(set, key)
			if len(set) == 0 {
				delete(r.byPort, id)
			}
		}
	}
}

// Connected reports whether src feeds dst
func (r *Registry) Connected(src, dst domain.PortID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.conns[domain.ConnectionKey{Source: src, Destination: dst}]
	return ok
}

// Connections returns all connections
func (r *Registry) Connections() []domain.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]domain.Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	return conns
}

// DestroyPort removes a port view and every connection touching it. It
// reports whether the port existed. The owning module is left in place,
// even when empty.
func (r *Registry) DestroyPort(id domain.PortID) bool {
	r.mu.Lock()
	if _, ok := r.ports[id]; !ok {
		r.mu.Unlock()
		return false
	}

	var deltas []domain.Delta
	deltas = append(deltas, r.dropConnectionsLocked([]domain.PortID{id})...)
	deltas = append(deltas, r.dropPortLocked(id))
	r.mu.Unlock()

	r.notify(deltas)
	return true
}

// DestroyModule removes a module, its ports and their connections. Deltas
// are reported as all connections, then all ports, then the module.
func (r *Registry) DestroyModule(id domain.ModuleID) bool {
	r.mu.Lock()
	deltas, ok := r.destroyModuleLocked(id)
	r.mu.Unlock()

	if ok {
		r.notify(deltas)
	}
	return ok
}

func (r *Registry) destroyModuleLocked(id domain.ModuleID) ([]domain.Delta, bool) {
	m, ok := r.modules[id]
	if !ok {
		return nil, false
	}

	members := append([]domain.PortID(nil), r.members[id]...)

	var deltas []domain.Delta
	deltas = append(deltas, r.dropConnectionsLocked(members)...)
	for _, pid := range members {
		deltas = append(deltas, r.dropPortLocked(pid))
	}

	delete(r.modules, id)
	delete(r.members, id)
	siblings := r.clients[m.Client]
	for i, sid := range siblings {
		if sid == id {
			siblings = append(siblings[:i:i], siblings[i+1:]...)
			break
		}
	}
	if len(siblings) == 0 {
		delete(r.clients, m.Client)
	} else {
		r.clients[m.Client] = siblings
	}

	deltas = append(deltas, domain.ModuleDelta(domain.EventModuleDisappeared, *m))
	return deltas, true
}

// dropConnectionsLocked removes every connection touching any of the ports,
// each exactly once, in a deterministic order.
func (r *Registry) dropConnectionsLocked(ports []domain.PortID) []domain.Delta {
	seen := make(map[domain.ConnectionKey]struct{})
	var keys []domain.ConnectionKey
	for _, pid := range ports {
		for key := range r.byPort[pid] {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Source != keys[j].Source {
			return keys[i].Source < keys[j].Source
		}
		return keys[i].Destination < keys[j].Destination
	})

	deltas := make([]domain.Delta, 0, len(keys))
	for _, key := range keys {
		conn := r.conns[key]
		r.removeConnLocked(key)
		deltas = append(deltas, domain.ConnectionDelta(domain.EventConnectionDisappeared, conn))
	}
	return deltas
}

func (r *Registry) dropPortLocked(id domain.PortID) domain.Delta {
	p := r.ports[id]
	delete(r.ports, id)
	delete(r.byKey, p.Key())

	members := r.members[p.Module]
	for i, mid := range members {
		if mid == id {
			r.members[p.Module] = append(members[:i:i], members[i+1:]...)
			break
		}
	}
	return domain.PortDelta(domain.EventPortDisappeared, *p)
}

// Clear removes everything. All connections are reported first, then each
// module with its ports.
func (r *Registry) Clear() {
	r.mu.Lock()

	all := make([]domain.PortID, 0, len(r.ports))
	for id := range r.ports {
		all = append(all, id)
	}
	deltas := r.dropConnectionsLocked(all)

	ids := make([]domain.ModuleID, 0, len(r.modules))
	for id := range r.modules {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		d, _ := r.destroyModuleLocked(id)
		deltas = append(deltas, d...)
	}
	r.mu.Unlock()

	r.notify(deltas)
}

// Len returns the number of modules, ports and connections
func (r *Registry) Len() (modules, ports, connections int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.modules), len(r.ports), len(r.conns)
}

// Snapshot returns a sorted copy of the model
func (r *Registry) Snapshot() *domain.Graph {
	r.mu.RLock()
	g := domain.NewGraph()
	for _, m := range r.modules {
		g.Modules = append(g.Modules, *m)
	}
	for _, p := range r.ports {
		g.Ports = append(g.Ports, *p)
	}
	for _, c := range r.conns {
		g.Connections = append(g.Connections, c)
	}
	r.mu.RUnlock()

	g.Sort()
	return g
}
