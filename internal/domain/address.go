package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Address identifies a sequencer port by client and port number.
type Address struct {
	Client uint8 `json:"client" yaml:"client"`
	Port   uint8 `json:"port" yaml:"port"`
}

// String renders the address as "client:port", the notation used by aconnect.
func (a Address) String() string {
	return fmt.Sprintf("%d:%d", a.Client, a.Port)
}

// Less orders addresses by client, then port.
func (a Address) Less(b Address) bool {
	if a.Client != b.Client {
		return a.Client < b.Client
	}
	return a.Port < b.Port
}

// ParseAddress parses the "client:port" notation
func ParseAddress(s string) (Address, error) {
	client, port, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return Address{}, fmt.Errorf("invalid address %q: expected client:port", s)
	}

	c, err := strconv.ParseUint(client, 10, 8)
	if err != nil {
		return Address{}, fmt.Errorf("invalid client in address %q: %w", s, err)
	}
	p, err := strconv.ParseUint(port, 10, 8)
	if err != nil {
		return Address{}, fmt.Errorf("invalid port in address %q: %w", s, err)
	}

	return Address{Client: uint8(c), Port: uint8(p)}, nil
}

// Direction is the data direction of a port as seen by its peers
type Direction string

const (
	// DirectionInput ports receive data (subscription destinations)
	DirectionInput Direction = "input"
	// DirectionOutput ports emit data (subscription sources)
	DirectionOutput Direction = "output"
)

// Opposite returns the other direction
func (d Direction) Opposite() Direction {
	if d == DirectionInput {
		return DirectionOutput
	}
	return DirectionInput
}

// Valid reports whether d is a known direction
func (d Direction) Valid() bool {
	return d == DirectionInput || d == DirectionOutput
}
