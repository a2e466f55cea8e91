package driver

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patchbay/internal/domain"
	"patchbay/internal/seq"
)

// ports used by the tests
const (
	capOut    = seq.CapRead | seq.CapSubsRead
	capIn     = seq.CapWrite | seq.CapSubsWrite
	capDuplex = capOut | capIn | seq.CapDuplex
)

// barrierClient hosts marker ports used to wait until every earlier
// announcement has been processed
const barrierClient uint8 = 180

type collector struct {
	mu     sync.Mutex
	deltas []domain.Delta
}

func (c *collector) Apply(d domain.Delta) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deltas = append(c.deltas, d)
}

// take returns and clears collected deltas, leaving out barrier traffic
func (c *collector) take() []domain.Delta {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []domain.Delta
	for _, d := range c.deltas {
		switch {
		case d.Module != nil && d.Module.Client == barrierClient:
		case d.Port != nil && d.Port.Address.Client == barrierClient:
		default:
			out = append(out, d)
		}
	}
	c.deltas = nil
	return out
}

func kinds(deltas []domain.Delta) []domain.EventKind {
	out := make([]domain.EventKind, len(deltas))
	for i, d := range deltas {
		out[i] = d.Kind
	}
	return out
}

func count(deltas []domain.Delta, kind domain.EventKind) int {
	n := 0
	for _, d := range deltas {
		if d.Kind == kind {
			n++
		}
	}
	return n
}

type harness struct {
	t       *testing.T
	v       *seq.Virtual
	d       *Driver
	c       *collector
	barrier uint8
}

func newHarness(t *testing.T, v *seq.Virtual, mutate func(*Options)) *harness {
	t.Helper()
	require.NoError(t, v.AddClient(barrierClient, "barrier", seq.ClientUser))

	h := &harness{t: t, v: v, c: &collector{}}
	opts := Options{
		Opener:   v.Opener(),
		Consumer: h.c,
		Logger:   testr.New(t),
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.d = New(opts)
	t.Cleanup(func() { h.d.Detach() })
	return h
}

func (h *harness) attach() {
	h.t.Helper()
	require.NoError(h.t, h.d.Attach(context.Background(), false))
}

func (h *harness) refresh() {
	h.t.Helper()
	require.NoError(h.t, h.d.Refresh(h.c))
}

func (h *harness) pumpUntil(cond func() bool) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		h.d.ProcessEvents(h.c)
		return cond()
	}, 2*time.Second, 5*time.Millisecond)
}

// sync waits until every announcement made so far has been applied
func (h *harness) sync() {
	h.t.Helper()
	h.barrier++
	marker := domain.Address{Client: barrierClient, Port: h.barrier}
	require.NoError(h.t, h.v.AddPort(marker, "marker", capOut, seq.TypeApplication))
	h.pumpUntil(func() bool {
		_, ok := h.d.Registry().Resolve(marker, domain.DirectionOutput)
		return ok
	})
}

func (h *harness) resolve(client, port uint8, dir domain.Direction) domain.PortID {
	h.t.Helper()
	id, ok := h.d.Registry().Resolve(domain.Address{Client: client, Port: port}, dir)
	require.True(h.t, ok, "%d:%d %s not modeled", client, port, dir)
	return id
}

func addr(client, port uint8) domain.Address {
	return domain.Address{Client: client, Port: port}
}

func TestAttachDetach(t *testing.T) {
	h := newHarness(t, seq.NewDemoVirtual(), nil)

	assert.False(t, h.d.IsAttached())
	h.attach()
	assert.True(t, h.d.IsAttached())
	require.NoError(t, h.d.Attach(context.Background(), false), "attaching twice is a no-op")

	h.refresh()
	h.c.take()

	require.NoError(t, h.d.Detach())
	assert.False(t, h.d.IsAttached())

	teardown := h.c.take()
	assert.Equal(t, 1, count(teardown, domain.EventConnectionDisappeared))
	assert.Equal(t, 4, count(teardown, domain.EventModuleDisappeared))

	modules, ports, conns := h.d.Registry().Len()
	assert.Zero(t, modules+ports+conns)
	assert.Empty(t, h.d.Ignored())

	_, err := h.d.ProcessEvents(h.c)
	assert.ErrorIs(t, err, ErrNotAttached)
	assert.ErrorIs(t, h.d.Refresh(h.c), ErrNotAttached)
	require.NoError(t, h.d.Detach(), "detaching twice is a no-op")

	h.attach()
	assert.True(t, h.d.IsAttached(), "driver can attach again after detach")
}

type fakeLauncher struct {
	calls int
	err   error
}

func (l *fakeLauncher) Launch(context.Context) error {
	l.calls++
	return l.err
}

func TestAttachFailures(t *testing.T) {
	t.Run("sequencer unavailable", func(t *testing.T) {
		v := seq.NewVirtual()
		h := newHarness(t, v, nil)
		v.FailOpen(errors.New("no such device"))

		err := h.d.Attach(context.Background(), false)
		assert.ErrorIs(t, err, ErrConnection)
		assert.ErrorIs(t, err, seq.ErrUnavailable)
		assert.False(t, h.d.IsAttached())

		v.FailOpen(nil)
		h.attach()
	})

	t.Run("launcher fails", func(t *testing.T) {
		launcher := &fakeLauncher{err: errors.New("modprobe failed")}
		h := newHarness(t, seq.NewVirtual(), func(o *Options) { o.Launcher = launcher })

		err := h.d.Attach(context.Background(), true)
		assert.ErrorIs(t, err, ErrConnection)
		assert.Equal(t, 1, launcher.calls)
		assert.False(t, h.d.IsAttached())

		h.attach()
		assert.Equal(t, 1, launcher.calls, "launcher only runs when asked")
	})

	t.Run("no backend", func(t *testing.T) {
		d := New(Options{})
		assert.ErrorIs(t, d.Attach(context.Background(), false), ErrConnection)
	})
}

func TestSpeakerScenario(t *testing.T) {
	v := seq.NewVirtual()
	h := newHarness(t, v, nil)
	h.attach()

	require.NoError(t, v.AddClient(128, "Speaker-client", seq.ClientKernel))
	require.NoError(t, v.AddPort(addr(128, 0), "Speaker", capOut, seq.TypeMIDIGeneric|seq.TypeHardware))
	h.sync()

	deltas := h.c.take()
	require.Equal(t, []domain.EventKind{domain.EventModuleAppeared, domain.EventPortAppeared}, kinds(deltas))

	mod := deltas[0].Module
	assert.Equal(t, uint8(128), mod.Client)
	assert.Equal(t, "Speaker-client", mod.Name)
	assert.Equal(t, domain.ModuleTypeOutput, mod.Type)

	port := deltas[1].Port
	assert.Equal(t, mod.ID, port.Module)
	assert.Equal(t, "Speaker", port.Name)
	assert.Equal(t, domain.DirectionOutput, port.Direction)
	assert.Equal(t, port.ID, h.resolve(128, 0, domain.DirectionOutput))
}

func TestRefreshModelsHardware(t *testing.T) {
	h := newHarness(t, seq.NewDemoVirtual(), nil)
	h.attach()
	h.refresh()

	deltas := h.c.take()
	assert.Equal(t, []domain.EventKind{
		domain.EventModuleAppeared, domain.EventPortAppeared, // Midi Through input
		domain.EventModuleAppeared, domain.EventPortAppeared, // Midi Through output
		domain.EventModuleAppeared, domain.EventPortAppeared, // keyboard
		domain.EventModuleAppeared, domain.EventPortAppeared, // synth
		domain.EventConnectionAppeared,
	}, kinds(deltas))

	g := h.d.Snapshot()
	types := make(map[uint8][]domain.ModuleType)
	for _, m := range g.Modules {
		types[m.Client] = append(types[m.Client], m.Type)
	}
	assert.Equal(t, []domain.ModuleType{domain.ModuleTypeInput, domain.ModuleTypeOutput}, types[14], "duplex ports are split")
	assert.Equal(t, []domain.ModuleType{domain.ModuleTypeOutput}, types[20], "hardware clients are split")
	assert.Equal(t, []domain.ModuleType{domain.ModuleTypeInputOutput}, types[128])

	for _, p := range g.Ports {
		assert.NotEqual(t, h.v.ClientID(), p.Address.Client, "own client is never modeled")
	}

	h.refresh()
	assert.Empty(t, h.c.take(), "refreshing an up to date model changes nothing")
}

func TestRefreshRemovesStaleState(t *testing.T) {
	h := newHarness(t, seq.NewDemoVirtual(), nil)
	h.attach()
	h.refresh()
	h.c.take()

	require.NoError(t, h.v.RemovePort(addr(20, 0)))
	h.refresh()

	assert.Equal(t, []domain.EventKind{
		domain.EventConnectionDisappeared,
		domain.EventPortDisappeared,
		domain.EventModuleDisappeared,
	}, kinds(h.c.take()))

	h.sync()
	assert.Empty(t, h.c.take(), "late announcements of the removal are no-ops")
}

func TestConnectWaitsForAnnouncement(t *testing.T) {
	h := newHarness(t, seq.NewDemoVirtual(), nil)
	h.attach()
	h.refresh()
	h.c.take()

	src := h.resolve(14, 0, domain.DirectionOutput)
	dst := h.resolve(128, 0, domain.DirectionInput)

	require.NoError(t, h.d.Connect(src, dst))
	assert.False(t, h.d.Registry().Connected(src, dst), "connect does not touch the model")
	assert.Empty(t, h.c.take())

	h.pumpUntil(func() bool { return h.d.Registry().Connected(src, dst) })
	h.sync()

	deltas := h.c.take()
	require.Len(t, deltas, 1)
	assert.Equal(t, domain.EventConnectionAppeared, deltas[0].Kind)
	assert.Equal(t, src, deltas[0].Connection.Source)
	assert.Equal(t, dst, deltas[0].Connection.Destination)

	require.NoError(t, h.d.Disconnect(src, dst))
	h.pumpUntil(func() bool { return !h.d.Registry().Connected(src, dst) })
	h.sync()
	assert.Equal(t, []domain.EventKind{domain.EventConnectionDisappeared}, kinds(h.c.take()))
}

func TestConnectFailures(t *testing.T) {
	h := newHarness(t, seq.NewDemoVirtual(), nil)
	h.attach()
	h.refresh()

	src := h.resolve(14, 0, domain.DirectionOutput)
	dst := h.resolve(128, 0, domain.DirectionInput)

	busy := errors.New("device busy")
	h.v.FailSubscribe(busy)
	err := h.d.Connect(src, dst)
	assert.ErrorIs(t, err, ErrOperationFailed)
	assert.ErrorIs(t, err, busy)
	h.v.FailSubscribe(nil)

	assert.ErrorIs(t, h.d.Connect(dst, src), ErrOperationFailed)
	assert.ErrorIs(t, h.d.Connect(9999, dst), ErrUnknownPort)
	assert.ErrorIs(t, h.d.Disconnect(src, dst), ErrOperationFailed, "nothing to disconnect")

	require.NoError(t, h.d.Detach())
	assert.ErrorIs(t, h.d.Connect(src, dst), ErrNotAttached)
}

func TestIgnoredAddressesNeverModeled(t *testing.T) {
	v := seq.NewVirtual()
	require.NoError(t, v.AddClient(130, "a2jmidid - bridge", seq.ClientUser))
	require.NoError(t, v.AddPort(addr(130, 0), "bridge", capDuplex, seq.TypeApplication))
	require.NoError(t, v.AddClient(131, "Mixer", seq.ClientUser))
	require.NoError(t, v.AddPort(addr(131, 0), "private", capIn|seq.CapNoExport, seq.TypeApplication))
	require.NoError(t, v.AddPort(addr(131, 1), "inert", 0, seq.TypeApplication))
	require.NoError(t, v.AddPort(addr(131, 2), "visible", capOut, seq.TypeApplication))
	require.NoError(t, v.AddClient(132, "Synth", seq.ClientUser))
	require.NoError(t, v.AddPort(addr(132, 0), "in", capIn, seq.TypeApplication))
	require.NoError(t, v.AddPort(addr(132, 1), "monitor", capOut, seq.TypeApplication))

	h := newHarness(t, v, func(o *Options) {
		o.Rules.IgnoreClients = []string{"a2j*"}
		o.Rules.IgnorePorts = []domain.Address{addr(132, 1)}
	})
	h.attach()
	h.refresh()

	require.NoError(t, v.Connect(addr(130, 0), addr(132, 0)))
	require.NoError(t, v.Connect(addr(131, 2), addr(132, 0)))
	require.NoError(t, v.Connect(addr(132, 1), addr(130, 0)))
	require.NoError(t, v.Connect(addr(131, 2), addr(131, 0)))
	require.NoError(t, v.RemovePort(addr(131, 0)))
	require.NoError(t, v.AddPort(addr(131, 3), "late", capIn|seq.CapNoExport, seq.TypeApplication))
	require.NoError(t, v.Connect(addr(131, 2), addr(131, 3)))
	h.sync()

	allowed := map[domain.Address]bool{addr(131, 2): true, addr(132, 0): true}
	g := h.d.Snapshot()
	for _, p := range g.Ports {
		if p.Address.Client == barrierClient {
			continue
		}
		assert.True(t, allowed[p.Address], "unexpected port %s", p)
	}
	require.Len(t, g.Connections, 1)
	assert.Equal(t, addr(131, 2), g.Connections[0].SourceAddr)
	assert.Equal(t, addr(132, 0), g.Connections[0].DestAddr)

	ignored := h.d.Ignored()
	for _, a := range []domain.Address{seq.AnnouncePort, addr(130, 0), addr(131, 1), addr(131, 3), addr(132, 1)} {
		assert.Contains(t, ignored, a)
	}
	assert.NotContains(t, ignored, addr(131, 0), "removed ports are forgotten")
}

func TestCreatePortView(t *testing.T) {
	h := newHarness(t, seq.NewDemoVirtual(), nil)
	h.attach()

	mod, port, err := h.d.CreatePortView(addr(14, 0), domain.DirectionInput)
	require.NoError(t, err)
	assert.Equal(t, domain.ModuleTypeInput, mod.Type)
	assert.Equal(t, "Midi Through Port-0", port.Name)
	assert.Equal(t, []domain.EventKind{domain.EventModuleAppeared, domain.EventPortAppeared}, kinds(h.c.take()))

	again, samePort, err := h.d.CreatePortView(addr(14, 0), domain.DirectionInput)
	require.NoError(t, err)
	assert.Equal(t, mod.ID, again.ID)
	assert.Equal(t, port.ID, samePort.ID)
	assert.Empty(t, h.c.take())

	_, _, err = h.d.CreatePortView(seq.AnnouncePort, domain.DirectionOutput)
	assert.ErrorIs(t, err, ErrIgnored)

	_, _, err = h.d.CreatePortView(addr(99, 0), domain.DirectionOutput)
	assert.ErrorIs(t, err, ErrUnknownPort)

	_, _, err = h.d.CreatePortView(addr(128, 0), domain.DirectionOutput)
	assert.ErrorIs(t, err, ErrUnknownPort, "the synth has no output")
}

func TestConnectionToUnmodeledPortCreatesView(t *testing.T) {
	h := newHarness(t, seq.NewDemoVirtual(), nil)
	h.attach()

	require.NoError(t, h.v.Disconnect(addr(20, 0), addr(128, 0)))
	require.NoError(t, h.v.Connect(addr(20, 0), addr(128, 0)))
	h.pumpUntil(func() bool { return len(h.d.Registry().Connections()) == 1 })

	assert.Equal(t, []domain.EventKind{
		domain.EventModuleAppeared, domain.EventPortAppeared,
		domain.EventModuleAppeared, domain.EventPortAppeared,
		domain.EventConnectionAppeared,
	}, kinds(h.c.take()))
}

func TestPortExitRemovesEmptyModule(t *testing.T) {
	h := newHarness(t, seq.NewDemoVirtual(), nil)
	h.attach()
	h.refresh()
	h.c.take()

	require.NoError(t, h.v.RemoveClient(14))
	h.sync()

	assert.Equal(t, []domain.EventKind{
		domain.EventPortDisappeared, domain.EventPortDisappeared,
		domain.EventModuleDisappeared, domain.EventModuleDisappeared,
	}, kinds(h.c.take()))
	assert.Empty(t, h.d.Registry().ModulesOf(14))
}

func TestDestroyAllLeavesHardware(t *testing.T) {
	h := newHarness(t, seq.NewDemoVirtual(), nil)
	h.attach()
	h.refresh()
	h.c.take()

	c := &collector{}
	h.d.DestroyAll(c)
	deltas := c.take()

	require.NotEmpty(t, deltas)
	assert.Equal(t, domain.EventConnectionDisappeared, deltas[0].Kind)
	removed := make(map[domain.ModuleID]bool)
	for _, d := range deltas {
		switch {
		case d.Port != nil:
			assert.False(t, removed[d.Port.Module], "port %s reported after its module", d.Port)
		case d.Module != nil:
			removed[d.Module.ID] = true
		}
	}
	assert.Len(t, removed, 4)

	modules, ports, conns := h.d.Registry().Len()
	assert.Zero(t, modules+ports+conns)
	assert.Len(t, h.v.Subscriptions(), 2, "announce and keyboard subscriptions remain")
}

func TestRulesReload(t *testing.T) {
	h := newHarness(t, seq.NewDemoVirtual(), nil)
	h.attach()
	h.refresh()

	h.d.SetSplitRules(map[string]bool{"FLUID Synth": true, "Midi Through": false})
	h.refresh()

	typeOf := func(client uint8) []domain.ModuleType {
		var types []domain.ModuleType
		for _, m := range h.d.Registry().ModulesOf(client) {
			types = append(types, m.Type)
		}
		return types
	}
	assert.Equal(t, []domain.ModuleType{domain.ModuleTypeInput}, typeOf(128))
	assert.Equal(t, []domain.ModuleType{domain.ModuleTypeInputOutput}, typeOf(14))
	assert.Len(t, h.d.Registry().Connections(), 1, "connections survive regrouping")

	h.d.SetIgnoreRules([]string{"USB*"}, nil)
	h.refresh()
	assert.Empty(t, typeOf(20))
	assert.Empty(t, h.d.Registry().Connections())
}

func TestQueueOverflowConverges(t *testing.T) {
	v := seq.NewVirtual()
	h := newHarness(t, v, func(o *Options) { o.QueueCapacity = 4 })
	h.attach()
	h.refresh()

	for i := uint8(0); i < 8; i++ {
		client := 130 + i
		require.NoError(t, v.AddClient(client, "client", seq.ClientUser))
		require.NoError(t, v.AddPort(addr(client, 0), "out", capOut, seq.TypeApplication))
		require.NoError(t, v.AddPort(addr(client, 1), "in", capIn, seq.TypeApplication))
	}
	for i := uint8(0); i < 7; i++ {
		require.NoError(t, v.Connect(addr(130+i, 0), addr(131+i, 1)))
	}
	require.NoError(t, v.RemoveClient(133))

	require.Eventually(t, func() bool {
		return v.Pending() == 0 && h.d.QueueStats().Overflows > 0
	}, 2*time.Second, 5*time.Millisecond)

	_, err := h.d.ProcessEvents(h.c)
	require.NoError(t, err)
	h.sync()

	got := h.d.Snapshot().Shape()
	require.NoError(t, h.d.Detach())

	fresh := New(Options{Opener: v.Opener()})
	require.NoError(t, fresh.Attach(context.Background(), false))
	defer fresh.Detach()
	require.NoError(t, fresh.Refresh(nil))

	assert.Equal(t, fresh.Snapshot().Shape(), got)
}

func TestOverflowRefreshReclassifiesReusedAddress(t *testing.T) {
	v := seq.NewVirtual()
	require.NoError(t, v.AddClient(140, "Hidden", seq.ClientUser))
	require.NoError(t, v.AddPort(addr(140, 0), "private", capOut|seq.CapNoExport, seq.TypeApplication))

	h := newHarness(t, v, nil)
	h.attach()
	h.refresh()
	require.Contains(t, h.d.Ignored(), addr(140, 0))

	// the exit of the hidden port is lost, and a visible port takes its address
	v.SetBufferSize(0)
	require.NoError(t, v.RemovePort(addr(140, 0)))
	require.NoError(t, v.AddPort(addr(140, 0), "visible", capOut, seq.TypeApplication))
	v.SetBufferSize(seq.DefaultVirtualBuffer)

	require.Eventually(t, func() bool { return h.d.QueueStats().Overflows > 0 }, 2*time.Second, 5*time.Millisecond)
	_, err := h.d.ProcessEvents(h.c)
	require.NoError(t, err)
	h.sync()

	h.resolve(140, 0, domain.DirectionOutput)
	assert.NotContains(t, h.d.Ignored(), addr(140, 0))

	got := h.d.Snapshot().Shape()
	require.NoError(t, h.d.Detach())

	fresh := New(Options{Opener: v.Opener()})
	require.NoError(t, fresh.Attach(context.Background(), false))
	defer fresh.Detach()
	require.NoError(t, fresh.Refresh(nil))

	assert.Equal(t, fresh.Snapshot().Shape(), got)
}

func TestChangeAnnouncementsReclassify(t *testing.T) {
	v := seq.NewVirtual()
	require.NoError(t, v.AddClient(140, "Synth", seq.ClientUser))
	require.NoError(t, v.AddPort(addr(140, 0), "in", capIn, seq.TypeApplication))
	require.NoError(t, v.AddClient(141, "Hidden keys", seq.ClientUser))
	require.NoError(t, v.AddPort(addr(141, 0), "out", capOut, seq.TypeApplication))

	h := newHarness(t, v, func(o *Options) { o.Rules.IgnoreClients = []string{"Hidden*"} })
	h.attach()
	h.refresh()
	require.Contains(t, h.d.Ignored(), addr(141, 0))

	in := h.resolve(140, 0, domain.DirectionInput)
	require.NoError(t, v.SetPortCaps(addr(140, 0), capIn|seq.CapNoExport))
	h.pumpUntil(func() bool {
		_, ok := h.d.Registry().Port(in)
		return !ok
	})

	require.NoError(t, v.SetPortCaps(addr(140, 0), capIn))
	h.sync()
	h.resolve(140, 0, domain.DirectionInput)

	// renamed out of the ignore glob, so its next announcement is modeled
	require.NoError(t, v.RenameClient(141, "Keys"))
	require.NoError(t, v.Connect(addr(141, 0), addr(140, 0)))
	h.sync()
	h.resolve(141, 0, domain.DirectionOutput)
	assert.Len(t, h.d.Registry().Connections(), 1)
}

func TestProcessEventsRacingDetach(t *testing.T) {
	v := seq.NewDemoVirtual()
	h := newHarness(t, v, nil)
	h.attach()
	h.refresh()

	require.NoError(t, v.AddClient(140, "Late", seq.ClientUser))
	require.NoError(t, v.AddPort(addr(140, 0), "out", capOut, seq.TypeApplication))
	require.Eventually(t, func() bool { return h.d.queue.Len() > 0 }, 2*time.Second, 5*time.Millisecond)

	// hold the consumer lock so both calls queue up behind it
	h.d.consumerMu.Lock()
	processed := make(chan error, 1)
	go func() {
		_, err := h.d.ProcessEvents(h.c)
		processed <- err
	}()
	detached := make(chan error, 1)
	go func() { detached <- h.d.Detach() }()
	require.Eventually(t, func() bool { return !h.d.IsAttached() }, 2*time.Second, 5*time.Millisecond)
	h.d.consumerMu.Unlock()

	require.NoError(t, <-detached)
	assert.ErrorIs(t, <-processed, ErrNotAttached)

	modules, ports, conns := h.d.Registry().Len()
	assert.Zero(t, modules+ports+conns)
	assert.Zero(t, h.d.queue.Len())
}

// stuckSequencer blocks its first Wait until released, ignoring
// cancellation, then reports a port exit
type stuckSequencer struct {
	seq.Sequencer
	release chan struct{}
	waits   int
}

func (s *stuckSequencer) Wait(ctx context.Context) (seq.RawEvent, error) {
	s.waits++
	if s.waits > 1 {
		return seq.RawEvent{}, seq.ErrClosed
	}
	<-s.release
	return seq.RawEvent{Type: seq.EventPortExit, Addr: addr(20, 0)}, nil
}

func TestListenerOutlivingDetachIsFenced(t *testing.T) {
	v := seq.NewDemoVirtual()
	stuck := &stuckSequencer{release: make(chan struct{})}
	h := newHarness(t, v, func(o *Options) {
		o.DetachTimeout = 20 * time.Millisecond
		o.Opener = func(ctx context.Context, opts seq.Options) (seq.Sequencer, error) {
			sq, err := v.Opener()(ctx, opts)
			if err != nil {
				return nil, err
			}
			stuck.Sequencer = sq
			return stuck, nil
		}
	})
	h.attach()
	h.refresh()
	done := h.d.done

	assert.ErrorIs(t, h.d.Detach(), ErrThreadLifecycle)

	close(stuck.release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not exit")
	}
	assert.Zero(t, h.d.queue.Len(), "events of a finished attach cycle are dropped")
	assert.Empty(t, h.d.Ignored())
}

func TestSequencerOverrunForcesRefresh(t *testing.T) {
	v := seq.NewVirtual()
	h := newHarness(t, v, nil)
	h.attach()
	h.refresh()

	require.NoError(t, v.AddClient(140, "Late", seq.ClientUser))
	require.NoError(t, v.AddPort(addr(140, 0), "out", capOut, seq.TypeApplication))
	v.Overrun()

	require.Eventually(t, func() bool { return h.d.QueueStats().Overflows > 0 }, 2*time.Second, 5*time.Millisecond)
	h.pumpUntil(func() bool {
		_, ok := h.d.Registry().Resolve(addr(140, 0), domain.DirectionOutput)
		return ok
	})
}

// Random hardware traffic interleaved with processing must leave a model
// that a full refresh finds nothing to change in.
func TestRandomTrafficConverges(t *testing.T) {
	v := seq.NewVirtual()
	h := newHarness(t, v, nil)
	h.attach()
	h.refresh()

	rng := rand.New(rand.NewSource(42))
	caps := []seq.Capability{capOut, capIn, capDuplex}
	types := []seq.PortType{seq.TypeApplication, seq.TypeHardware}

	for step := 0; step < 400; step++ {
		client := uint8(130 + rng.Intn(6))
		a := addr(client, uint8(rng.Intn(3)))
		b := addr(uint8(130+rng.Intn(6)), uint8(rng.Intn(3)))

		switch rng.Intn(7) {
		case 0:
			v.AddClient(client, "client", seq.ClientUser)
		case 1, 2:
			v.AddPort(a, "port", caps[rng.Intn(len(caps))], types[rng.Intn(len(types))])
		case 3:
			v.RemovePort(a)
		case 4:
			v.RemoveClient(client)
		case 5:
			v.Connect(a, b)
		case 6:
			v.Disconnect(a, b)
		}
		if rng.Intn(5) == 0 {
			h.d.ProcessEvents(h.c)
		}
	}
	h.sync()

	g := h.d.Snapshot()
	for _, c := range g.Connections {
		_, srcOK := g.Port(c.Source)
		_, dstOK := g.Port(c.Destination)
		assert.True(t, srcOK && dstOK, "dangling connection %s", c)
	}

	h.c.take()
	h.refresh()
	assert.Empty(t, h.c.take(), "event processing alone kept the model in sync")
}
