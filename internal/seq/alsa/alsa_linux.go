//go:build linux

package alsa

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"patchbay/internal/domain"
	"patchbay/internal/seq"
)

func init() {
	seq.Register("alsa", Open)
}

const readBufferSize = 4096

// Sequencer is an open ALSA sequencer client
type Sequencer struct {
	fd     int
	client uint8
	port   uint8

	// wake pipe polled next to fd so Wait can be interrupted
	wakeR, wakeW int

	buf     []byte
	pending []seq.RawEvent

	mu     sync.Mutex
	closed bool
}

// Open opens the sequencer device, registers a client named after
// opts.ClientName and subscribes it to the system announce port
func Open(ctx context.Context, opts seq.Options) (seq.Sequencer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	device := opts.Device
	if device == "" {
		device = DefaultDevice
	}
	fd, err := unix.Open(device, unix.O_RDWR|unix.O_CLOEXEC|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", seq.ErrUnavailable, device, err)
	}

	s := &Sequencer{fd: fd, wakeR: -1, wakeW: -1, buf: make([]byte, readBufferSize)}
	if err := s.setup(opts.ClientName); err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: %w", seq.ErrUnavailable, err)
	}
	return s, nil
}

func (s *Sequencer) setup(name string) error {
	var id int32
	if err := s.ioctl(ioctlClientID, unsafe.Pointer(&id)); err != nil {
		return fmt.Errorf("query client id: %w", err)
	}
	s.client = uint8(id)

	if name != "" {
		ci := newClientInfo(id)
		if err := s.ioctl(ioctlGetClientInfo, unsafe.Pointer(ci)); err != nil {
			return fmt.Errorf("get client info: %w", err)
		}
		ci.setName(name)
		if err := s.ioctl(ioctlSetClientInfo, unsafe.Pointer(ci)); err != nil {
			return fmt.Errorf("set client name: %w", err)
		}
	}

	pi := newPortInfo(domain.Address{Client: s.client})
	pi.setName("System Announcement Receiver")
	pi.setCaps(seq.CapWrite | seq.CapSubsWrite | seq.CapNoExport)
	pi.setType(seq.TypeApplication)
	if err := s.ioctl(ioctlCreatePort, unsafe.Pointer(pi)); err != nil {
		return fmt.Errorf("create port: %w", err)
	}
	s.port = pi.addr().Port

	own := domain.Address{Client: s.client, Port: s.port}
	if err := s.subscribe(ioctlSubscribePort, seq.AnnouncePort, own); err != nil {
		return fmt.Errorf("subscribe to announcements: %w", err)
	}

	p := make([]int, 2)
	if err := unix.Pipe2(p, unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		return fmt.Errorf("create wake pipe: %w", err)
	}
	s.wakeR, s.wakeW = p[0], p[1]
	return nil
}

func (s *Sequencer) ioctl(req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(s.fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func wrapErrno(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if errors.Is(err, unix.ENOENT) || errors.Is(err, unix.ENXIO) {
		return fmt.Errorf("%s: %w", msg, seq.ErrNoSuchPort)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// ClientID returns the client number assigned by the kernel
func (s *Sequencer) ClientID() uint8 { return s.client }

// Clients lists every client
func (s *Sequencer) Clients() ([]seq.ClientInfo, error) {
	var clients []seq.ClientInfo
	ci := newClientInfo(-1)
	for {
		err := s.ioctl(ioctlQueryNextClient, unsafe.Pointer(ci))
		if errors.Is(err, unix.ENOENT) {
			return clients, nil
		}
		if err != nil {
			return nil, fmt.Errorf("query clients: %w", err)
		}
		clients = append(clients, ci.decode())
	}
}

// Ports lists the ports of a client
func (s *Sequencer) Ports(client uint8) ([]seq.PortInfo, error) {
	var ports []seq.PortInfo
	// the kernel searches above the given port number, which wraps
	pi := newPortInfo(domain.Address{Client: client, Port: 255})
	for {
		err := s.ioctl(ioctlQueryNextPort, unsafe.Pointer(pi))
		if errors.Is(err, unix.ENOENT) {
			return ports, nil
		}
		if err != nil {
			return nil, wrapErrno(err, "query ports of client %d", client)
		}
		ports = append(ports, pi.decode())
	}
}

// ClientInfo describes one client
func (s *Sequencer) ClientInfo(client uint8) (seq.ClientInfo, error) {
	ci := newClientInfo(int32(client))
	if err := s.ioctl(ioctlGetClientInfo, unsafe.Pointer(ci)); err != nil {
		return seq.ClientInfo{}, wrapErrno(err, "client %d", client)
	}
	return ci.decode(), nil
}

// PortInfo describes one port
func (s *Sequencer) PortInfo(addr domain.Address) (seq.PortInfo, error) {
	pi := newPortInfo(addr)
	if err := s.ioctl(ioctlGetPortInfo, unsafe.Pointer(pi)); err != nil {
		return seq.PortInfo{}, wrapErrno(err, "port %s", addr)
	}
	return pi.decode(), nil
}

// Subscribers lists the destinations fed by an output port
func (s *Sequencer) Subscribers(addr domain.Address) ([]domain.Address, error) {
	var dests []domain.Address
	for index := int32(0); ; index++ {
		qs := newQuerySubs(addr, index)
		err := s.ioctl(ioctlQuerySubs, unsafe.Pointer(qs))
		if errors.Is(err, unix.ENOENT) {
			return dests, nil
		}
		if err != nil {
			return nil, wrapErrno(err, "query subscribers of %s", addr)
		}
		dests = append(dests, qs.addr())
		if index+1 >= qs.numSubs() {
			return dests, nil
		}
	}
}

func (s *Sequencer) subscribe(req uintptr, src, dst domain.Address) error {
	return s.ioctl(req, unsafe.Pointer(newPortSubscribe(src, dst)))
}

// Subscribe connects src to dst
func (s *Sequencer) Subscribe(src, dst domain.Address) error {
	if err := s.subscribe(ioctlSubscribePort, src, dst); err != nil {
		return wrapErrno(err, "subscribe %s -> %s", src, dst)
	}
	return nil
}

// Unsubscribe disconnects src from dst
func (s *Sequencer) Unsubscribe(src, dst domain.Address) error {
	if err := s.subscribe(ioctlUnsubscribePort, src, dst); err != nil {
		return wrapErrno(err, "unsubscribe %s -> %s", src, dst)
	}
	return nil
}

func (s *Sequencer) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Sequencer) wake() {
	unix.Write(s.wakeW, []byte{0})
}

func (s *Sequencer) drainWake() {
	var b [64]byte
	for {
		if n, err := unix.Read(s.wakeR, b[:]); n <= 0 || err != nil {
			return
		}
	}
}

// Wait blocks until an announcement is read, ctx is done or the sequencer
// is closed
func (s *Sequencer) Wait(ctx context.Context) (seq.RawEvent, error) {
	if len(s.pending) > 0 {
		ev := s.pending[0]
		s.pending = s.pending[1:]
		return ev, nil
	}

	stop := context.AfterFunc(ctx, s.wake)
	defer stop()

	for {
		if err := ctx.Err(); err != nil {
			return seq.RawEvent{}, err
		}
		if s.isClosed() {
			return seq.RawEvent{}, seq.ErrClosed
		}

		n, err := unix.Read(s.fd, s.buf)
		switch {
		case err == nil && n > 0:
			events, derr := decodeEvents(s.buf[:n])
			if len(events) == 0 {
				if derr != nil {
					return seq.RawEvent{}, derr
				}
				continue
			}
			s.pending = events[1:]
			return events[0], nil
		case errors.Is(err, unix.ENOSPC):
			return seq.RawEvent{}, seq.ErrOverflow
		case err != nil && !errors.Is(err, unix.EAGAIN) && !errors.Is(err, unix.EINTR):
			return seq.RawEvent{}, fmt.Errorf("read sequencer: %w", err)
		}

		fds := []unix.PollFd{
			{Fd: int32(s.fd), Events: unix.POLLIN},
			{Fd: int32(s.wakeR), Events: unix.POLLIN},
		}
		if _, err := unix.Poll(fds, -1); err != nil && !errors.Is(err, unix.EINTR) {
			return seq.RawEvent{}, fmt.Errorf("poll sequencer: %w", err)
		}
		if fds[1].Revents != 0 {
			s.drainWake()
		}
	}
}

// Close releases the client. A blocked Wait returns ErrClosed.
func (s *Sequencer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.wakeW >= 0 {
		s.wake()
	}
	err := unix.Close(s.fd)
	if s.wakeR >= 0 {
		unix.Close(s.wakeR)
		unix.Close(s.wakeW)
	}
	return err
}
