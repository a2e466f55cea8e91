package codec

import (
	"fmt"
	"io"
	"sort"

	"patchbay/internal/domain"
)

// Importer reads a patch from a document
type Importer interface {
	Parse(r io.Reader) (*Patch, error)
	Format() string
}

// Exporter writes a graph as a patch document
type Exporter interface {
	Export(g *domain.Graph, w io.Writer) error
	Format() string
}

// Codec both reads and writes a format
type Codec interface {
	Importer
	Exporter
}

// Patch is the address-level form of a graph. Port IDs are local to one
// driver session, so documents name ports by client:port instead.
type Patch struct {
	Clients     []PatchClient `json:"clients" yaml:"clients"`
	Connections []PatchLink   `json:"connections" yaml:"connections"`
}

// PatchClient is one module of a client
type PatchClient struct {
	Client uint8             `json:"client" yaml:"client"`
	Name   string            `json:"name" yaml:"name"`
	Type   domain.ModuleType `json:"type" yaml:"type"`
	Ports  []PatchPort       `json:"ports" yaml:"ports"`
}

// PatchPort is one port view
type PatchPort struct {
	Port      uint8            `json:"port" yaml:"port"`
	Name      string           `json:"name" yaml:"name"`
	Direction domain.Direction `json:"direction" yaml:"direction"`
}

// PatchLink is a subscription in client:port notation
type PatchLink struct {
	Source      string `json:"source" yaml:"source"`
	Destination string `json:"destination" yaml:"destination"`
}

// PatchOf converts a graph to its address-level form, sorted
func PatchOf(g *domain.Graph) *Patch {
	sorted := domain.Graph{
		Modules:     append([]domain.Module(nil), g.Modules...),
		Ports:       append([]domain.Port(nil), g.Ports...),
		Connections: append([]domain.Connection(nil), g.Connections...),
	}
	sorted.Sort()

	p := &Patch{
		Clients:     make([]PatchClient, 0, len(sorted.Modules)),
		Connections: make([]PatchLink, 0, len(sorted.Connections)),
	}
	for _, m := range sorted.Modules {
		pc := PatchClient{Client: m.Client, Name: m.Name, Type: m.Type, Ports: make([]PatchPort, 0)}
		for _, port := range sorted.PortsOf(m.ID) {
			pc.Ports = append(pc.Ports, PatchPort{Port: port.Address.Port, Name: port.Name, Direction: port.Direction})
		}
		p.Clients = append(p.Clients, pc)
	}
	for _, c := range sorted.Connections {
		p.Connections = append(p.Connections, PatchLink{Source: c.SourceAddr.String(), Destination: c.DestAddr.String()})
	}
	return p
}

// Link is a parsed subscription
type Link struct {
	Source      domain.Address
	Destination domain.Address
}

// Links parses the connections of the patch, sorted and without duplicates
func (p *Patch) Links() ([]Link, error) {
	seen := make(map[Link]struct{}, len(p.Connections))
	links := make([]Link, 0, len(p.Connections))
	for i, c := range p.Connections {
		src, err := domain.ParseAddress(c.Source)
		if err != nil {
			return nil, fmt.Errorf("connection %d: source: %w", i, err)
		}
		dst, err := domain.ParseAddress(c.Destination)
		if err != nil {
			return nil, fmt.Errorf("connection %d: destination: %w", i, err)
		}
		l := Link{Source: src, Destination: dst}
		if _, dup := seen[l]; dup {
			continue
		}
		seen[l] = struct{}{}
		links = append(links, l)
	}
	sort.Slice(links, func(i, j int) bool {
		if links[i].Source != links[j].Source {
			return links[i].Source.Less(links[j].Source)
		}
		return links[i].Destination.Less(links[j].Destination)
	})
	return links, nil
}

// ForFormat returns the codec for a format name
func ForFormat(format string) (Codec, error) {
	switch format {
	case "json":
		return NewJSONCodec(), nil
	case "yaml", "yml":
		return NewYAMLCodec(), nil
	default:
		return nil, fmt.Errorf("unknown format %q, want json or yaml", format)
	}
}
