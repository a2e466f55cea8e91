// Package alsa implements the sequencer contract directly over the Linux
// ALSA sequencer device, without linking alsa-lib.
//
// The kernel ABI structures are encoded by hand into fixed-size byte
// buffers matching the layouts in <sound/asequencer.h> for 64-bit targets
// with the generic ioctl encoding.
package alsa

import (
	"encoding/binary"
	"fmt"

	"patchbay/internal/domain"
	"patchbay/internal/seq"
)

// DefaultDevice is the sequencer device node
const DefaultDevice = "/dev/snd/seq"

const (
	iocWrite = 1
	iocRead  = 2
)

func ioc(dir, nr, size uintptr) uintptr {
	return dir<<30 | size<<16 | uintptr('S')<<8 | nr
}

const (
	clientInfoSize    = 188
	portInfoSize      = 168
	portSubscribeSize = 80
	querySubsSize     = 88
	eventSize         = 28
)

var (
	ioctlClientID        = ioc(iocRead, 0x01, 4)
	ioctlGetClientInfo   = ioc(iocRead|iocWrite, 0x10, clientInfoSize)
	ioctlSetClientInfo   = ioc(iocWrite, 0x11, clientInfoSize)
	ioctlCreatePort      = ioc(iocRead|iocWrite, 0x20, portInfoSize)
	ioctlGetPortInfo     = ioc(iocRead|iocWrite, 0x22, portInfoSize)
	ioctlSubscribePort   = ioc(iocWrite, 0x30, portSubscribeSize)
	ioctlUnsubscribePort = ioc(iocWrite, 0x31, portSubscribeSize)
	ioctlQuerySubs       = ioc(iocRead|iocWrite, 0x4f, querySubsSize)
	ioctlQueryNextClient = ioc(iocRead|iocWrite, 0x51, clientInfoSize)
	ioctlQueryNextPort   = ioc(iocRead|iocWrite, 0x52, portInfoSize)
)

// snd_seq_client_info offsets
const (
	ciClient   = 0
	ciType     = 4
	ciName     = 8
	ciNumPorts = 116
)

// snd_seq_port_info offsets
const (
	piAddr = 0
	piName = 2
	piCaps = 68
	piType = 72
)

// snd_seq_query_subs offsets
const (
	qsRoot    = 0
	qsType    = 4
	qsIndex   = 8
	qsNumSubs = 12
	qsAddr    = 16
)

const (
	nameSize = 64

	querySubsRead = 0

	eventLengthMask     = 0x0c
	eventLengthVariable = 0x04
	extLengthMask       = 0xc0000000
)

var native = binary.NativeEndian

func putAddr(b []byte, a domain.Address) {
	b[0] = a.Client
	b[1] = a.Port
}

func getAddr(b []byte) domain.Address {
	return domain.Address{Client: b[0], Port: b[1]}
}

func putName(b []byte, name string) {
	clear(b[:nameSize])
	copy(b[:nameSize-1], name)
}

func getName(b []byte) string {
	b = b[:nameSize]
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

type clientInfo [clientInfoSize]byte

func newClientInfo(client int32) *clientInfo {
	var ci clientInfo
	native.PutUint32(ci[ciClient:], uint32(client))
	return &ci
}

func (ci *clientInfo) client() int32 { return int32(native.Uint32(ci[ciClient:])) }

func (ci *clientInfo) setName(name string) { putName(ci[ciName:], name) }

func (ci *clientInfo) decode() seq.ClientInfo {
	return seq.ClientInfo{
		Client: uint8(ci.client()),
		Name:   getName(ci[ciName:]),
		Type:   seq.ClientType(int32(native.Uint32(ci[ciType:]))),
		Ports:  int(int32(native.Uint32(ci[ciNumPorts:]))),
	}
}

type portInfo [portInfoSize]byte

func newPortInfo(addr domain.Address) *portInfo {
	var pi portInfo
	putAddr(pi[piAddr:], addr)
	return &pi
}

func (pi *portInfo) addr() domain.Address { return getAddr(pi[piAddr:]) }

func (pi *portInfo) setName(name string) { putName(pi[piName:], name) }

func (pi *portInfo) setCaps(caps seq.Capability) { native.PutUint32(pi[piCaps:], uint32(caps)) }

func (pi *portInfo) setType(typ seq.PortType) { native.PutUint32(pi[piType:], uint32(typ)) }

func (pi *portInfo) decode() seq.PortInfo {
	return seq.PortInfo{
		Addr: pi.addr(),
		Name: getName(pi[piName:]),
		Caps: seq.Capability(native.Uint32(pi[piCaps:])),
		Type: seq.PortType(native.Uint32(pi[piType:])),
	}
}

type portSubscribe [portSubscribeSize]byte

func newPortSubscribe(sender, dest domain.Address) *portSubscribe {
	var ps portSubscribe
	putAddr(ps[0:], sender)
	putAddr(ps[2:], dest)
	return &ps
}

type querySubs [querySubsSize]byte

func newQuerySubs(root domain.Address, index int32) *querySubs {
	var qs querySubs
	putAddr(qs[qsRoot:], root)
	native.PutUint32(qs[qsType:], querySubsRead)
	native.PutUint32(qs[qsIndex:], uint32(index))
	return &qs
}

func (qs *querySubs) numSubs() int32 { return int32(native.Uint32(qs[qsNumSubs:])) }

func (qs *querySubs) addr() domain.Address { return getAddr(qs[qsAddr:]) }

// decodeEvents splits a read buffer into event records. Variable-length
// payloads follow their record unpadded and are skipped.
func decodeEvents(buf []byte) ([]seq.RawEvent, error) {
	var events []seq.RawEvent
	for len(buf) > 0 {
		if len(buf) < eventSize {
			return events, fmt.Errorf("truncated event record: %d bytes", len(buf))
		}

		typ, flags := seq.EventType(buf[0]), buf[1]
		data := buf[16:eventSize]
		ev := seq.RawEvent{Type: typ, Source: getAddr(buf[12:])}
		switch typ {
		case seq.EventPortSubscribed, seq.EventPortUnsubscribed:
			ev.Sender = getAddr(data[0:])
			ev.Dest = getAddr(data[2:])
		case seq.EventClientStart, seq.EventClientExit, seq.EventClientChange,
			seq.EventPortStart, seq.EventPortExit, seq.EventPortChange:
			ev.Addr = getAddr(data[0:])
		}

		n := eventSize
		if flags&eventLengthMask == eventLengthVariable {
			n += int(native.Uint32(data[0:]) &^ extLengthMask)
		}
		if n > len(buf) {
			return events, fmt.Errorf("truncated %s payload: need %d bytes, have %d", typ, n, len(buf))
		}

		events = append(events, ev)
		buf = buf[n:]
	}
	return events, nil
}
