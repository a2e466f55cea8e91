package domain

import "fmt"

// EventKind tags events and deltas
type EventKind string

const (
	EventPortAppeared          EventKind = "port_appeared"
	EventPortDisappeared       EventKind = "port_disappeared"
	EventModuleAppeared        EventKind = "module_appeared"
	EventModuleDisappeared     EventKind = "module_disappeared"
	EventConnectionAppeared    EventKind = "connection_appeared"
	EventConnectionDisappeared EventKind = "connection_disappeared"
)

// Appeared reports whether the kind announces a creation
func (k EventKind) Appeared() bool {
	switch k {
	case EventPortAppeared, EventModuleAppeared, EventConnectionAppeared:
		return true
	}
	return false
}

// PortDescription is what the sequencer reported about a port when its
// notification was decoded.
type PortDescription struct {
	Address     Address `json:"address"`
	Name        string  `json:"name"`
	ClientName  string  `json:"client_name"`
	Input       bool    `json:"input"`
	Output      bool    `json:"output"`
	Application bool    `json:"application"`
}

// Duplex reports whether the port is both readable and writable
func (d PortDescription) Duplex() bool {
	return d.Input && d.Output
}

// Directions lists the port views the description produces, inputs first
func (d PortDescription) Directions() []Direction {
	var dirs []Direction
	if d.Input {
		dirs = append(dirs, DirectionInput)
	}
	if d.Output {
		dirs = append(dirs, DirectionOutput)
	}
	return dirs
}

// Event is a normalized hardware notification carried by the event queue.
// Port events use Addr; connection events use Addr as the sender and Dest
// as the receiver; module events use Client.
type Event struct {
	Kind   EventKind        `json:"kind"`
	Addr   Address          `json:"addr"`
	Dest   Address          `json:"dest,omitempty"`
	Client uint8            `json:"client,omitempty"`
	Port   *PortDescription `json:"port,omitempty"`
}

func (e Event) String() string {
	switch e.Kind {
	case EventConnectionAppeared, EventConnectionDisappeared:
		return fmt.Sprintf("%s %s -> %s", e.Kind, e.Addr, e.Dest)
	case EventModuleAppeared, EventModuleDisappeared:
		return fmt.Sprintf("%s client %d", e.Kind, e.Client)
	default:
		return fmt.Sprintf("%s %s", e.Kind, e.Addr)
	}
}

// Delta is a structural change of the model reported to consumers.
// Exactly one of Module, Port or Connection is set, matching Kind.
type Delta struct {
	Kind       EventKind   `json:"kind"`
	Module     *Module     `json:"module,omitempty"`
	Port       *Port       `json:"port,omitempty"`
	Connection *Connection `json:"connection,omitempty"`
}

// ModuleDelta builds a module delta
func ModuleDelta(kind EventKind, m Module) Delta {
	return Delta{Kind: kind, Module: &m}
}

// PortDelta builds a port delta
func PortDelta(kind EventKind, p Port) Delta {
	return Delta{Kind: kind, Port: &p}
}

// ConnectionDelta builds a connection delta
func ConnectionDelta(kind EventKind, c Connection) Delta {
	return Delta{Kind: kind, Connection: &c}
}

func (d Delta) String() string {
	switch {
	case d.Module != nil:
		return fmt.Sprintf("%s %s", d.Kind, d.Module)
	case d.Port != nil:
		return fmt.Sprintf("%s #%d %s", d.Kind, d.Port.ID, d.Port)
	case d.Connection != nil:
		return fmt.Sprintf("%s #%d -> #%d (%s)", d.Kind, d.Connection.Source, d.Connection.Destination, d.Connection)
	default:
		return string(d.Kind)
	}
}
