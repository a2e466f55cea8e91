package domain

import "fmt"

// PortID is the stable identity of a port view
type PortID uint64

// Port is one direction of a sequencer port
type Port struct {
	ID        PortID    `json:"id" yaml:"id"`
	Module    ModuleID  `json:"module" yaml:"module"`
	Name      string    `json:"name" yaml:"name"`
	Direction Direction `json:"direction" yaml:"direction"`
	Address   Address   `json:"address" yaml:"address"`
}

// Key returns the hardware key of the port
func (p Port) Key() PortKey {
	return PortKey{Address: p.Address, Direction: p.Direction}
}

func (p Port) String() string {
	return fmt.Sprintf("%s (%s %s)", p.Name, p.Address, p.Direction)
}

// PortKey is the hardware-side identity of a port view
type PortKey struct {
	Address   Address
	Direction Direction
}

// Less orders keys by address, inputs before outputs
func (k PortKey) Less(o PortKey) bool {
	if k.Address != o.Address {
		return k.Address.Less(o.Address)
	}
	return k.Direction == DirectionInput && o.Direction == DirectionOutput
}
