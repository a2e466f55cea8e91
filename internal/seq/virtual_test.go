package seq

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patchbay/internal/domain"
)

func addr(client, port uint8) domain.Address {
	return domain.Address{Client: client, Port: port}
}

func openVirtual(t *testing.T, v *Virtual) Sequencer {
	t.Helper()
	s, err := v.Opener()(context.Background(), Options{ClientName: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func nextEvent(t *testing.T, s Sequencer) RawEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := s.Wait(ctx)
	require.NoError(t, err)
	return ev
}

func TestVirtualAttachSubscribesAnnounce(t *testing.T) {
	v := NewVirtual()
	s := openVirtual(t, v)

	self := s.ClientID()
	assert.GreaterOrEqual(t, self, uint8(128))

	ev := nextEvent(t, s)
	assert.Equal(t, EventPortSubscribed, ev.Type)
	assert.Equal(t, AnnouncePort, ev.Sender)
	assert.Equal(t, addr(self, 0), ev.Dest)

	info, err := s.PortInfo(addr(self, 0))
	require.NoError(t, err)
	assert.False(t, info.Exported())

	_, err = v.Opener()(context.Background(), Options{})
	assert.ErrorIs(t, err, ErrUnavailable, "only one driver at a time")
}

func TestVirtualAnnouncements(t *testing.T) {
	v := NewVirtual()
	s := openVirtual(t, v)
	nextEvent(t, s)

	require.NoError(t, v.AddClient(128, "Speaker-client", ClientKernel))
	require.NoError(t, v.AddPort(addr(128, 0), "Speaker", CapRead|CapSubsRead, TypeHardware))
	require.NoError(t, v.AddClient(130, "Synth", ClientUser))
	require.NoError(t, v.AddPort(addr(130, 0), "In", CapWrite|CapSubsWrite, TypeApplication))
	require.NoError(t, v.Connect(addr(128, 0), addr(130, 0)))
	require.NoError(t, v.RenameClient(130, "Mixer"))
	require.NoError(t, v.SetPortCaps(addr(130, 0), CapWrite|CapSubsWrite|CapNoExport))
	require.NoError(t, v.RemoveClient(128))

	var got []string
	for v.Pending() > 0 {
		got = append(got, nextEvent(t, s).String())
	}
	assert.Equal(t, []string{
		"CLIENT_START 128:0",
		"PORT_START 128:0",
		"CLIENT_START 130:0",
		"PORT_START 130:0",
		"PORT_SUBSCRIBED 128:0 -> 130:0",
		"CLIENT_CHANGE 130:0",
		"PORT_CHANGE 130:0",
		"PORT_UNSUBSCRIBED 128:0 -> 130:0",
		"PORT_EXIT 128:0",
		"CLIENT_EXIT 128:0",
	}, got)

	dests, err := s.Subscribers(addr(130, 0))
	require.NoError(t, err)
	assert.Empty(t, dests)

	info, err := s.PortInfo(addr(130, 0))
	require.NoError(t, err)
	assert.False(t, info.Exported())
	client, err := s.ClientInfo(130)
	require.NoError(t, err)
	assert.Equal(t, "Mixer", client.Name)
}

func TestVirtualSubscribe(t *testing.T) {
	v := NewDemoVirtual()
	s := openVirtual(t, v)

	err := s.Subscribe(addr(20, 0), addr(128, 0))
	assert.Error(t, err, "demo keyboard is already wired to the synth")

	require.NoError(t, s.Unsubscribe(addr(20, 0), addr(128, 0)))
	require.NoError(t, s.Subscribe(addr(14, 0), addr(128, 0)))

	dests, err := s.Subscribers(addr(14, 0))
	require.NoError(t, err)
	assert.Equal(t, []domain.Address{addr(128, 0)}, dests)

	err = s.Subscribe(addr(128, 0), addr(14, 0))
	assert.Error(t, err, "synth input cannot feed others")

	err = s.Subscribe(addr(99, 0), addr(14, 0))
	assert.ErrorIs(t, err, ErrNoSuchPort)

	injected := errors.New("device busy")
	v.FailSubscribe(injected)
	assert.ErrorIs(t, s.Subscribe(addr(14, 0), addr(14, 0)), injected)
}

func TestVirtualOverrun(t *testing.T) {
	v := NewVirtual()
	v.SetBufferSize(2)
	s := openVirtual(t, v)

	require.NoError(t, v.AddClient(128, "A", ClientUser))
	require.NoError(t, v.AddClient(129, "B", ClientUser))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := s.Wait(ctx)
	assert.ErrorIs(t, err, ErrOverflow, "overrun is reported before buffered events")

	assert.Equal(t, EventPortSubscribed, nextEvent(t, s).Type)
	ev := nextEvent(t, s)
	assert.Equal(t, EventClientStart, ev.Type)
	assert.Equal(t, uint8(128), ev.Addr.Client)
	assert.Zero(t, v.Pending(), "the announcement of client 129 was lost")
}

func TestVirtualWaitCancellation(t *testing.T) {
	v := NewVirtual()
	s := openVirtual(t, v)
	nextEvent(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := s.Wait(ctx)
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after cancellation")
	}
}

func TestVirtualCloseUnblocksWait(t *testing.T) {
	v := NewVirtual()
	s, err := v.Opener()(context.Background(), Options{})
	require.NoError(t, err)
	nextEvent(t, s)

	done := make(chan error, 1)
	go func() {
		_, err := s.Wait(context.Background())
		done <- err
	}()

	require.NoError(t, s.Close())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Close")
	}

	clients, err := v.Clients()
	require.NoError(t, err)
	assert.Len(t, clients, 1, "only the system client remains")
}

func TestVirtualFailOpen(t *testing.T) {
	v := NewVirtual()
	v.FailOpen(errors.New("no such device"))

	_, err := v.Opener()(context.Background(), Options{})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestPortInfoDescribe(t *testing.T) {
	info := PortInfo{
		Addr: addr(14, 0),
		Name: "Midi Through Port-0",
		Caps: CapRead | CapWrite | CapSubsRead | CapSubsWrite,
		Type: TypeMIDIGeneric | TypeSoftware,
	}
	desc := info.Describe(ClientInfo{Client: 14, Name: "Midi Through"})

	assert.True(t, desc.Duplex())
	assert.False(t, desc.Application)
	assert.Equal(t, "Midi Through", desc.ClientName)
	assert.Equal(t, []domain.Direction{domain.DirectionInput, domain.DirectionOutput}, desc.Directions())
}

func TestBackendRegistry(t *testing.T) {
	assert.Contains(t, Backends(), "virtual")

	_, err := Open(context.Background(), "jack", Options{})
	assert.ErrorIs(t, err, ErrUnavailable)

	s, err := Open(context.Background(), "virtual", Options{ClientName: "demo"})
	require.NoError(t, err)
	defer s.Close()

	clients, err := s.Clients()
	require.NoError(t, err)
	assert.Len(t, clients, 5)

	assert.Panics(t, func() { Register("virtual", func(context.Context, Options) (Sequencer, error) { return nil, nil }) })
}
