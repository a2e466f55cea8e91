package domain

import "sort"

// Graph is a point-in-time snapshot of the model
type Graph struct {
	Modules     []Module     `json:"modules" yaml:"modules"`
	Ports       []Port       `json:"ports" yaml:"ports"`
	Connections []Connection `json:"connections" yaml:"connections"`
}

// NewGraph creates an empty graph
func NewGraph() *Graph {
	return &Graph{
		Modules:     make([]Module, 0),
		Ports:       make([]Port, 0),
		Connections: make([]Connection, 0),
	}
}

// Sort orders modules by (client, type), ports by (address, direction) and
// connections by endpoint addresses so snapshots compare deterministically.
func (g *Graph) Sort() {
	sort.Slice(g.Modules, func(i, j int) bool {
		a, b := g.Modules[i], g.Modules[j]
		if a.Client != b.Client {
			return a.Client < b.Client
		}
		return a.Type < b.Type
	})
	sort.Slice(g.Ports, func(i, j int) bool {
		return g.Ports[i].Key().Less(g.Ports[j].Key())
	})
	sort.Slice(g.Connections, func(i, j int) bool {
		a, b := g.Connections[i], g.Connections[j]
		if a.SourceAddr != b.SourceAddr {
			return a.SourceAddr.Less(b.SourceAddr)
		}
		return a.DestAddr.Less(b.DestAddr)
	})
}

// Module returns the module with the given ID
func (g *Graph) Module(id ModuleID) (Module, bool) {
	for _, m := range g.Modules {
		if m.ID == id {
			return m, true
		}
	}
	return Module{}, false
}

// Port returns the port with the given ID
func (g *Graph) Port(id PortID) (Port, bool) {
	for _, p := range g.Ports {
		if p.ID == id {
			return p, true
		}
	}
	return Port{}, false
}

// PortsOf returns the ports belonging to a module
func (g *Graph) PortsOf(id ModuleID) []Port {
	var ports []Port
	for _, p := range g.Ports {
		if p.Module == id {
			ports = append(ports, p)
		}
	}
	return ports
}

// Shape is the identity-free form of a graph: what a fresh enumeration of
// the same hardware would produce regardless of which IDs were handed out.
type Shape struct {
	Modules     []ModuleShape
	Ports       []PortShape
	Connections [][2]PortKey
}

// ModuleShape is a module without its ID
type ModuleShape struct {
	Client uint8
	Name   string
	Type   ModuleType
}

// PortShape is a port without its IDs
type PortShape struct {
	Key        PortKey
	Name       string
	ModuleType ModuleType
}

// Shape strips identities from the graph
func (g *Graph) Shape() Shape {
	c := Graph{
		Modules:     append([]Module(nil), g.Modules...),
		Ports:       append([]Port(nil), g.Ports...),
		Connections: append([]Connection(nil), g.Connections...),
	}
	c.Sort()

	types := make(map[ModuleID]ModuleType, len(c.Modules))
	s := Shape{}
	for _, m := range c.Modules {
		types[m.ID] = m.Type
		s.Modules = append(s.Modules, ModuleShape{Client: m.Client, Name: m.Name, Type: m.Type})
	}
	for _, p := range c.Ports {
		s.Ports = append(s.Ports, PortShape{Key: p.Key(), Name: p.Name, ModuleType: types[p.Module]})
	}
	for _, conn := range c.Connections {
		s.Connections = append(s.Connections, [2]PortKey{
			{Address: conn.SourceAddr, Direction: DirectionOutput},
			{Address: conn.DestAddr, Direction: DirectionInput},
		})
	}
	return s
}
