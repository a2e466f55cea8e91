package seq

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"patchbay/internal/domain"
)

// DefaultVirtualBuffer is the number of undelivered announcements a Virtual
// holds before it reports an overrun
const DefaultVirtualBuffer = 256

// highest client number handed to an attached driver; allocation goes
// downward so simulated devices can use the low user range
const virtualTopClient uint8 = 191

func init() {
	Register("virtual", func(ctx context.Context, opts Options) (Sequencer, error) {
		return NewDemoVirtual().Opener()(ctx, opts)
	})
}

type virtualClient struct {
	info  ClientInfo
	ports map[uint8]PortInfo
}

type subscription struct {
	src, dst domain.Address
}

// Virtual is an in-memory sequencer. Its exported mutators act as the
// hardware and other applications; a driver attached through Opener sees
// their effects as announcements, exactly as it would on a real system.
type Virtual struct {
	mu      sync.Mutex
	clients map[uint8]*virtualClient
	subs    map[subscription]struct{}

	attached bool
	self     uint8
	pending  []RawEvent
	limit    int
	overrun  bool
	notify   chan struct{}
	closed   chan struct{}

	openErr      error
	subscribeErr error
}

// NewVirtual creates a sequencer holding only the system client
func NewVirtual() *Virtual {
	v := &Virtual{
		clients: make(map[uint8]*virtualClient),
		subs:    make(map[subscription]struct{}),
		limit:   DefaultVirtualBuffer,
		notify:  make(chan struct{}, 1),
	}
	v.clients[SystemClient] = &virtualClient{
		info: ClientInfo{Client: SystemClient, Name: "System", Type: ClientKernel},
		ports: map[uint8]PortInfo{
			TimerPort.Port: {Addr: TimerPort, Name: "Timer", Caps: CapRead | CapWrite | CapSubsRead | CapSubsWrite},
			AnnouncePort.Port: {Addr: AnnouncePort, Name: "Announce", Caps: CapRead | CapSubsRead | CapNoExport},
		},
	}
	return v
}

// NewDemoVirtual creates a sequencer with a loopback client, a keyboard
// and a synthesizer, wired keyboard to synthesizer
func NewDemoVirtual() *Virtual {
	v := NewVirtual()
	duplex := CapRead | CapWrite | CapSubsRead | CapSubsWrite | CapDuplex

	v.AddClient(14, "Midi Through", ClientKernel)
	v.AddPort(domain.Address{Client: 14, Port: 0}, "Midi Through Port-0", duplex, TypeMIDIGeneric|TypeSoftware|TypePort)

	v.AddClient(20, "USB Keystation", ClientKernel)
	v.AddPort(domain.Address{Client: 20, Port: 0}, "Keystation MIDI 1", CapRead|CapSubsRead, TypeMIDIGeneric|TypeHardware|TypePort)

	v.AddClient(128, "FLUID Synth", ClientUser)
	v.AddPort(domain.Address{Client: 128, Port: 0}, "Synth input port", CapWrite|CapSubsWrite, TypeMIDIGeneric|TypeSoftware|TypeSynthesizer|TypeApplication)

	v.Connect(domain.Address{Client: 20, Port: 0}, domain.Address{Client: 128, Port: 0})
	return v
}

// Opener returns an Opener that attaches a driver to this sequencer. Only
// one driver may be attached at a time.
func (v *Virtual) Opener() Opener {
	return func(ctx context.Context, opts Options) (Sequencer, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := v.attach(opts); err != nil {
			return nil, err
		}
		return v, nil
	}
}

func (v *Virtual) attach(opts Options) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.openErr != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, v.openErr)
	}
	if v.attached {
		return fmt.Errorf("%w: virtual sequencer already open", ErrUnavailable)
	}

	self, ok := v.freeClientLocked()
	if !ok {
		return fmt.Errorf("%w: no free client number", ErrUnavailable)
	}
	name := opts.ClientName
	if name == "" {
		name = "patchbay"
	}
	own := domain.Address{Client: self, Port: 0}
	v.clients[self] = &virtualClient{
		info: ClientInfo{Client: self, Name: name, Type: ClientUser, Ports: 1},
		ports: map[uint8]PortInfo{
			0: {Addr: own, Name: "System Announcement Receiver", Caps: CapWrite | CapSubsWrite | CapNoExport, Type: TypeApplication},
		},
	}

	v.self = self
	v.attached = true
	v.pending = nil
	v.overrun = false
	v.closed = make(chan struct{})

	v.subs[subscription{AnnouncePort, own}] = struct{}{}
	v.emitLocked(RawEvent{Type: EventPortSubscribed, Sender: AnnouncePort, Dest: own})
	return nil
}

func (v *Virtual) freeClientLocked() (uint8, bool) {
	for id := virtualTopClient; id >= 128; id-- {
		if _, used := v.clients[id]; !used {
			return id, true
		}
	}
	return 0, false
}

func (v *Virtual) emitLocked(ev RawEvent) {
	if !v.attached {
		return
	}
	ev.Source = AnnouncePort
	if len(v.pending) >= v.limit {
		v.overrun = true
	} else {
		v.pending = append(v.pending, ev)
	}
	select {
	case v.notify <- struct{}{}:
	default:
	}
}

// FailOpen makes subsequent opens fail with err. A nil err clears it.
func (v *Virtual) FailOpen(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.openErr = err
}

// FailSubscribe makes subsequent Subscribe and Unsubscribe calls fail with
// err. A nil err clears it.
func (v *Virtual) FailSubscribe(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.subscribeErr = err
}

// SetBufferSize sets how many undelivered announcements are held before an
// overrun
func (v *Virtual) SetBufferSize(n int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.limit = n
}

// Overrun discards undelivered announcements and makes the next Wait
// report ErrOverflow
func (v *Virtual) Overrun() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pending = nil
	v.overrun = true
	select {
	case v.notify <- struct{}{}:
	default:
	}
}

// Pending returns the number of undelivered announcements
func (v *Virtual) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.pending)
}

// AddClient registers a client
func (v *Virtual) AddClient(id uint8, name string, typ ClientType) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, exists := v.clients[id]; exists {
		return fmt.Errorf("client %d already exists", id)
	}
	v.clients[id] = &virtualClient{
		info:  ClientInfo{Client: id, Name: name, Type: typ},
		ports: make(map[uint8]PortInfo),
	}
	v.emitLocked(RawEvent{Type: EventClientStart, Addr: domain.Address{Client: id}})
	return nil
}

// AddPort registers a port on an existing client
func (v *Virtual) AddPort(addr domain.Address, name string, caps Capability, typ PortType) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	c, ok := v.clients[addr.Client]
	if !ok {
		return fmt.Errorf("add port %s: %w", addr, ErrNoSuchPort)
	}
	if _, exists := c.ports[addr.Port]; exists {
		return fmt.Errorf("port %s already exists", addr)
	}
	c.ports[addr.Port] = PortInfo{Addr: addr, Name: name, Caps: caps, Type: typ}
	c.info.Ports = len(c.ports)
	v.emitLocked(RawEvent{Type: EventPortStart, Addr: addr})
	return nil
}

// RemovePort unregisters a port, dropping its subscriptions first
func (v *Virtual) RemovePort(addr domain.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.removePortLocked(addr)
}

func (v *Virtual) removePortLocked(addr domain.Address) error {
	c, ok := v.clients[addr.Client]
	if !ok {
		return fmt.Errorf("remove port %s: %w", addr, ErrNoSuchPort)
	}
	if _, ok := c.ports[addr.Port]; !ok {
		return fmt.Errorf("remove port %s: %w", addr, ErrNoSuchPort)
	}

	var gone []subscription
	for s := range v.subs {
		if s.src == addr || s.dst == addr {
			gone = append(gone, s)
		}
	}
	sortSubscriptions(gone)
	for _, s := range gone {
		delete(v.subs, s)
		v.emitLocked(RawEvent{Type: EventPortUnsubscribed, Sender: s.src, Dest: s.dst})
	}

	delete(c.ports, addr.Port)
	c.info.Ports = len(c.ports)
	v.emitLocked(RawEvent{Type: EventPortExit, Addr: addr})
	return nil
}

// RemoveClient unregisters a client and all of its ports
func (v *Virtual) RemoveClient(id uint8) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	c, ok := v.clients[id]
	if !ok {
		return fmt.Errorf("remove client %d: %w", id, ErrNoSuchPort)
	}
	for _, port := range sortedPorts(c.ports) {
		if err := v.removePortLocked(port.Addr); err != nil {
			return err
		}
	}
	delete(v.clients, id)
	v.emitLocked(RawEvent{Type: EventClientExit, Addr: domain.Address{Client: id}})
	return nil
}

// RenameClient changes a client's name
func (v *Virtual) RenameClient(id uint8, name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	c, ok := v.clients[id]
	if !ok {
		return fmt.Errorf("rename client %d: %w", id, ErrNoSuchPort)
	}
	c.info.Name = name
	v.emitLocked(RawEvent{Type: EventClientChange, Addr: domain.Address{Client: id}})
	return nil
}

// SetPortCaps changes a port's capabilities
func (v *Virtual) SetPortCaps(addr domain.Address, caps Capability) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	p, ok := v.portLocked(addr)
	if !ok {
		return fmt.Errorf("change port %s: %w", addr, ErrNoSuchPort)
	}
	p.Caps = caps
	v.clients[addr.Client].ports[addr.Port] = p
	v.emitLocked(RawEvent{Type: EventPortChange, Addr: addr})
	return nil
}

// Connect subscribes dst to src on behalf of another application
func (v *Virtual) Connect(src, dst domain.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.subscribeLocked(src, dst)
}

// Disconnect removes a subscription on behalf of another application
func (v *Virtual) Disconnect(src, dst domain.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.unsubscribeLocked(src, dst)
}

func (v *Virtual) portLocked(addr domain.Address) (PortInfo, bool) {
	c, ok := v.clients[addr.Client]
	if !ok {
		return PortInfo{}, false
	}
	p, ok := c.ports[addr.Port]
	return p, ok
}

func (v *Virtual) subscribeLocked(src, dst domain.Address) error {
	sp, ok := v.portLocked(src)
	if !ok {
		return fmt.Errorf("subscribe %s -> %s: %w", src, dst, ErrNoSuchPort)
	}
	dp, ok := v.portLocked(dst)
	if !ok {
		return fmt.Errorf("subscribe %s -> %s: %w", src, dst, ErrNoSuchPort)
	}
	if sp.Caps&CapSubsRead == 0 || dp.Caps&CapSubsWrite == 0 {
		return fmt.Errorf("subscribe %s -> %s: operation not permitted", src, dst)
	}

	s := subscription{src, dst}
	if _, exists := v.subs[s]; exists {
		return fmt.Errorf("subscribe %s -> %s: already subscribed", src, dst)
	}
	v.subs[s] = struct{}{}
	v.emitLocked(RawEvent{Type: EventPortSubscribed, Sender: src, Dest: dst})
	return nil
}

func (v *Virtual) unsubscribeLocked(src, dst domain.Address) error {
	s := subscription{src, dst}
	if _, exists := v.subs[s]; !exists {
		return fmt.Errorf("unsubscribe %s -> %s: %w", src, dst, ErrNoSuchPort)
	}
	delete(v.subs, s)
	v.emitLocked(RawEvent{Type: EventPortUnsubscribed, Sender: src, Dest: dst})
	return nil
}

// ClientID returns the client number of the attached driver
func (v *Virtual) ClientID() uint8 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.self
}

// Clients lists every client
func (v *Virtual) Clients() ([]ClientInfo, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	infos := make([]ClientInfo, 0, len(v.clients))
	for _, c := range v.clients {
		infos = append(infos, c.info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Client < infos[j].Client })
	return infos, nil
}

// Ports lists the ports of a client
func (v *Virtual) Ports(client uint8) ([]PortInfo, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	c, ok := v.clients[client]
	if !ok {
		return nil, fmt.Errorf("client %d: %w", client, ErrNoSuchPort)
	}
	return sortedPorts(c.ports), nil
}

// ClientInfo describes one client
func (v *Virtual) ClientInfo(client uint8) (ClientInfo, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	c, ok := v.clients[client]
	if !ok {
		return ClientInfo{}, fmt.Errorf("client %d: %w", client, ErrNoSuchPort)
	}
	return c.info, nil
}

// PortInfo describes one port
func (v *Virtual) PortInfo(addr domain.Address) (PortInfo, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	p, ok := v.portLocked(addr)
	if !ok {
		return PortInfo{}, fmt.Errorf("port %s: %w", addr, ErrNoSuchPort)
	}
	return p, nil
}

// Subscribers lists the destinations fed by an output port
func (v *Virtual) Subscribers(addr domain.Address) ([]domain.Address, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.portLocked(addr); !ok {
		return nil, fmt.Errorf("port %s: %w", addr, ErrNoSuchPort)
	}
	var dests []domain.Address
	for s := range v.subs {
		if s.src == addr {
			dests = append(dests, s.dst)
		}
	}
	sort.Slice(dests, func(i, j int) bool { return dests[i].Less(dests[j]) })
	return dests, nil
}

// Subscribe connects src to dst
func (v *Virtual) Subscribe(src, dst domain.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.subscribeErr != nil {
		return v.subscribeErr
	}
	return v.subscribeLocked(src, dst)
}

// Unsubscribe disconnects src from dst
func (v *Virtual) Unsubscribe(src, dst domain.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.subscribeErr != nil {
		return v.subscribeErr
	}
	return v.unsubscribeLocked(src, dst)
}

// Wait returns the next announcement
func (v *Virtual) Wait(ctx context.Context) (RawEvent, error) {
	for {
		v.mu.Lock()
		if !v.attached {
			v.mu.Unlock()
			return RawEvent{}, ErrClosed
		}
		closed := v.closed
		if v.overrun {
			v.overrun = false
			v.mu.Unlock()
			return RawEvent{}, ErrOverflow
		}
		if len(v.pending) > 0 {
			ev := v.pending[0]
			v.pending = v.pending[1:]
			v.mu.Unlock()
			return ev, nil
		}
		v.mu.Unlock()

		select {
		case <-ctx.Done():
			return RawEvent{}, ctx.Err()
		case <-closed:
			return RawEvent{}, ErrClosed
		case <-v.notify:
		}
	}
}

// Close detaches the driver, removing its client without announcements
func (v *Virtual) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.attached {
		return nil
	}
	for s := range v.subs {
		if s.src.Client == v.self || s.dst.Client == v.self {
			delete(v.subs, s)
		}
	}
	delete(v.clients, v.self)
	v.attached = false
	v.pending = nil
	v.overrun = false
	close(v.closed)
	return nil
}

// Subscriptions lists every subscription as source/destination pairs
func (v *Virtual) Subscriptions() [][2]domain.Address {
	v.mu.Lock()
	defer v.mu.Unlock()

	list := make([]subscription, 0, len(v.subs))
	for s := range v.subs {
		list = append(list, s)
	}
	sortSubscriptions(list)

	pairs := make([][2]domain.Address, len(list))
	for i, s := range list {
		pairs[i] = [2]domain.Address{s.src, s.dst}
	}
	return pairs
}

func sortedPorts(ports map[uint8]PortInfo) []PortInfo {
	list := make([]PortInfo, 0, len(ports))
	for _, p := range ports {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Addr.Port < list[j].Addr.Port })
	return list
}

func sortSubscriptions(subs []subscription) {
	sort.Slice(subs, func(i, j int) bool {
		if subs[i].src != subs[j].src {
			return subs[i].src.Less(subs[j].src)
		}
		return subs[i].dst.Less(subs[j].dst)
	})
}
