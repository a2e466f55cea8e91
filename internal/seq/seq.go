// Package seq defines the contract between the driver and a MIDI sequencer
// subsystem, plus an in-memory implementation.
//
// A Sequencer enumerates clients and ports, manages subscriptions between
// ports, and delivers announcements of hardware changes through Wait.
// Backends register themselves by name with Register so the daemon can pick
// one from configuration.
package seq

import (
	"context"
	"errors"
	"fmt"

	"patchbay/internal/domain"
)

var (
	// ErrOverflow is returned by Wait when announcements were lost
	ErrOverflow = errors.New("sequencer event buffer overrun")
	// ErrUnavailable is returned when a sequencer cannot be opened
	ErrUnavailable = errors.New("sequencer unavailable")
	// ErrNoSuchPort is returned when a client or port does not exist
	ErrNoSuchPort = errors.New("no such client or port")
	// ErrClosed is returned by operations on a closed sequencer
	ErrClosed = errors.New("sequencer closed")
)

// SystemClient is the kernel client that owns the timer and announce ports
const SystemClient uint8 = 0

var (
	// TimerPort is the system timer port
	TimerPort = domain.Address{Client: SystemClient, Port: 0}
	// AnnouncePort broadcasts client and port changes to its subscribers
	AnnouncePort = domain.Address{Client: SystemClient, Port: 1}
)

// Capability holds the capability bits of a port
type Capability uint32

const (
	CapRead      Capability = 1 << 0
	CapWrite     Capability = 1 << 1
	CapSyncRead  Capability = 1 << 2
	CapSyncWrite Capability = 1 << 3
	CapDuplex    Capability = 1 << 4
	CapSubsRead  Capability = 1 << 5
	CapSubsWrite Capability = 1 << 6
	CapNoExport  Capability = 1 << 7
)

// PortType holds the type bits of a port
type PortType uint32

const (
	TypeSpecific    PortType = 1 << 0
	TypeMIDIGeneric PortType = 1 << 1
	TypeMIDIGM      PortType = 1 << 2
	TypeHardware    PortType = 1 << 16
	TypeSoftware    PortType = 1 << 17
	TypeSynthesizer PortType = 1 << 18
	TypePort        PortType = 1 << 19
	TypeApplication PortType = 1 << 20
)

// ClientType tells kernel clients from user-space clients
type ClientType int32

const (
	ClientUser   ClientType = 1
	ClientKernel ClientType = 2
)

func (t ClientType) String() string {
	switch t {
	case ClientUser:
		return "user"
	case ClientKernel:
		return "kernel"
	default:
		return fmt.Sprintf("client-type(%d)", int32(t))
	}
}

// ClientInfo describes a sequencer client
type ClientInfo struct {
	Client uint8      `json:"client"`
	Name   string     `json:"name"`
	Type   ClientType `json:"type"`
	Ports  int        `json:"ports"`
}

// PortInfo describes a sequencer port
type PortInfo struct {
	Addr domain.Address `json:"addr"`
	Name string         `json:"name"`
	Caps Capability     `json:"caps"`
	Type PortType       `json:"type"`
}

// Readable reports whether the port can feed subscribers
func (p PortInfo) Readable() bool { return p.Caps&CapRead != 0 }

// Writable reports whether the port can be fed by subscribers
func (p PortInfo) Writable() bool { return p.Caps&CapWrite != 0 }

// Exported reports whether the port may be shown to other applications
func (p PortInfo) Exported() bool { return p.Caps&CapNoExport == 0 }

// Application reports whether the port belongs to an application rather
// than a hardware or kernel driver
func (p PortInfo) Application() bool { return p.Type&TypeApplication != 0 }

// Describe combines port and client information into the form the driver
// models
func (p PortInfo) Describe(client ClientInfo) domain.PortDescription {
	return domain.PortDescription{
		Address:     p.Addr,
		Name:        p.Name,
		ClientName:  client.Name,
		Input:       p.Writable(),
		Output:      p.Readable(),
		Application: p.Application(),
	}
}

// EventType is the type byte of a sequencer event record
type EventType uint8

const (
	EventClientStart      EventType = 60
	EventClientExit       EventType = 61
	EventClientChange     EventType = 62
	EventPortStart        EventType = 63
	EventPortExit         EventType = 64
	EventPortChange       EventType = 65
	EventPortSubscribed   EventType = 66
	EventPortUnsubscribed EventType = 67
)

var eventNames = map[EventType]string{
	EventClientStart:      "CLIENT_START",
	EventClientExit:       "CLIENT_EXIT",
	EventClientChange:     "CLIENT_CHANGE",
	EventPortStart:        "PORT_START",
	EventPortExit:         "PORT_EXIT",
	EventPortChange:       "PORT_CHANGE",
	EventPortSubscribed:   "PORT_SUBSCRIBED",
	EventPortUnsubscribed: "PORT_UNSUBSCRIBED",
}

func (t EventType) String() string {
	if name, ok := eventNames[t]; ok {
		return name
	}
	return fmt.Sprintf("EVENT(%d)", uint8(t))
}

// RawEvent is one undecoded announcement. Client and port events carry
// Addr; subscription events carry Sender and Dest.
type RawEvent struct {
	Type   EventType
	Source domain.Address
	Addr   domain.Address
	Sender domain.Address
	Dest   domain.Address
}

func (e RawEvent) String() string {
	switch e.Type {
	case EventPortSubscribed, EventPortUnsubscribed:
		return fmt.Sprintf("%s %s -> %s", e.Type, e.Sender, e.Dest)
	default:
		return fmt.Sprintf("%s %s", e.Type, e.Addr)
	}
}

// Sequencer is an open connection to a sequencer subsystem. Opening it
// registers a client with a private port subscribed to the announce port,
// so Wait sees every change made by anyone.
//
// Wait is called from a single goroutine; the other methods may be called
// concurrently with it.
type Sequencer interface {
	// ClientID returns the client number of this connection
	ClientID() uint8
	// Clients lists every client, ordered by number
	Clients() ([]ClientInfo, error)
	// Ports lists the ports of a client, ordered by number
	Ports(client uint8) ([]PortInfo, error)
	// ClientInfo describes one client
	ClientInfo(client uint8) (ClientInfo, error)
	// PortInfo describes one port
	PortInfo(addr domain.Address) (PortInfo, error)
	// Subscribers lists the destinations fed by an output port
	Subscribers(addr domain.Address) ([]domain.Address, error)
	// Subscribe connects src to dst
	Subscribe(src, dst domain.Address) error
	// Unsubscribe disconnects src from dst
	Unsubscribe(src, dst domain.Address) error
	// Wait blocks until an announcement arrives or ctx is done. It returns
	// ErrOverflow when the subsystem dropped announcements.
	Wait(ctx context.Context) (RawEvent, error)
	// Close releases the connection and unblocks Wait
	Close() error
}

// Options configure how a sequencer is opened
type Options struct {
	// Device is the sequencer device node, for backends that use one
	Device string
	// ClientName is the name registered for this connection
	ClientName string
}

// Opener opens a sequencer
type Opener func(ctx context.Context, opts Options) (Sequencer, error)
