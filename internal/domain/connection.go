package domain

import "fmt"

// Connection is a live subscription from an output port to an input port
type Connection struct {
	Source      PortID  `json:"source" yaml:"source"`
	Destination PortID  `json:"destination" yaml:"destination"`
	SourceAddr  Address `json:"source_addr" yaml:"source_addr"`
	DestAddr    Address `json:"dest_addr" yaml:"dest_addr"`
}

// NewConnection creates a connection between two port views
func NewConnection(src, dst Port) Connection {
	return Connection{
		Source:      src.ID,
		Destination: dst.ID,
		SourceAddr:  src.Address,
		DestAddr:    dst.Address,
	}
}

// Key returns the identity of the connection
func (c Connection) Key() ConnectionKey {
	return ConnectionKey{Source: c.Source, Destination: c.Destination}
}

// Involves checks if this connection touches the given port
func (c Connection) Involves(id PortID) bool {
	return c.Source == id || c.Destination == id
}

// OtherEnd returns the port on the other end of this connection
func (c Connection) OtherEnd(id PortID) PortID {
	if c.Source == id {
		return c.Destination
	}
	return c.Source
}

func (c Connection) String() string {
	return fmt.Sprintf("%s -> %s", c.SourceAddr, c.DestAddr)
}

// ConnectionKey identifies a connection by its endpoints
type ConnectionKey struct {
	Source      PortID
	Destination PortID
}
