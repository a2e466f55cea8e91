package domain

import "fmt"

// ModuleID is the stable identity of a module
type ModuleID uint64

// ModuleType determines which port directions a module holds
type ModuleType string

const (
	ModuleTypeInput       ModuleType = "input"
	ModuleTypeOutput      ModuleType = "output"
	ModuleTypeInputOutput ModuleType = "input_output"
)

// ModuleTypeFor returns the split module type holding ports of the given direction
func ModuleTypeFor(dir Direction) ModuleType {
	if dir == DirectionInput {
		return ModuleTypeInput
	}
	return ModuleTypeOutput
}

// Accepts reports whether a port of the given direction may live in this module type
func (t ModuleType) Accepts(dir Direction) bool {
	switch t {
	case ModuleTypeInputOutput:
		return true
	case ModuleTypeInput:
		return dir == DirectionInput
	case ModuleTypeOutput:
		return dir == DirectionOutput
	default:
		return false
	}
}

// Module groups the ports of one sequencer client
type Module struct {
	ID     ModuleID   `json:"id" yaml:"id"`
	Client uint8      `json:"client" yaml:"client"`
	Name   string     `json:"name" yaml:"name"`
	Type   ModuleType `json:"type" yaml:"type"`
}

// Key returns the (client, type) pair that identifies the module among its siblings
func (m Module) Key() ModuleKey {
	return ModuleKey{Client: m.Client, Type: m.Type}
}

func (m Module) String() string {
	return fmt.Sprintf("%s [%d/%s]", m.Name, m.Client, m.Type)
}

// ModuleKey is the compound identity of a module within one client
type ModuleKey struct {
	Client uint8
	Type   ModuleType
}
