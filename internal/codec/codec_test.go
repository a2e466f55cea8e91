package codec

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patchbay/internal/domain"
)

func sampleGraph() *domain.Graph {
	g := domain.NewGraph()
	g.Modules = []domain.Module{
		{ID: 2, Client: 128, Name: "FLUID Synth", Type: domain.ModuleTypeInputOutput},
		{ID: 1, Client: 20, Name: "USB Keystation", Type: domain.ModuleTypeOutput},
	}
	g.Ports = []domain.Port{
		{ID: 2, Module: 2, Name: "Synth input port", Direction: domain.DirectionInput, Address: domain.Address{Client: 128}},
		{ID: 1, Module: 1, Name: "Keystation MIDI 1", Direction: domain.DirectionOutput, Address: domain.Address{Client: 20}},
	}
	g.Connections = []domain.Connection{{
		Source: 1, Destination: 2,
		SourceAddr: domain.Address{Client: 20}, DestAddr: domain.Address{Client: 128},
	}}
	return g
}

func TestPatchOf(t *testing.T) {
	p := PatchOf(sampleGraph())

	require.Len(t, p.Clients, 2)
	assert.Equal(t, uint8(20), p.Clients[0].Client)
	assert.Equal(t, "USB Keystation", p.Clients[0].Name)
	require.Len(t, p.Clients[0].Ports, 1)
	assert.Equal(t, domain.DirectionOutput, p.Clients[0].Ports[0].Direction)
	assert.Equal(t, uint8(128), p.Clients[1].Client)

	assert.Equal(t, []PatchLink{{Source: "20:0", Destination: "128:0"}}, p.Connections)
}

func TestPatchOfEmptyGraph(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewJSONCodec().Export(domain.NewGraph(), &buf))
	assert.JSONEq(t, `{"clients":[],"connections":[]}`, buf.String())
}

func TestRoundTrip(t *testing.T) {
	for _, format := range []string{"json", "yaml"} {
		t.Run(format, func(t *testing.T) {
			c, err := ForFormat(format)
			require.NoError(t, err)
			assert.Equal(t, format, c.Format())

			var buf bytes.Buffer
			require.NoError(t, c.Export(sampleGraph(), &buf))

			p, err := c.Parse(&buf)
			require.NoError(t, err)
			assert.Equal(t, PatchOf(sampleGraph()), p)
		})
	}
}

func TestYAMLExportShape(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewYAMLCodec().Export(sampleGraph(), &buf))

	out := buf.String()
	assert.Contains(t, out, "name: USB Keystation")
	assert.Contains(t, out, "source: \"20:0\"")
	assert.Contains(t, out, "destination: \"128:0\"")
}

func TestLinks(t *testing.T) {
	p := &Patch{Connections: []PatchLink{
		{Source: "20:0", Destination: "130:0"},
		{Source: "20:0", Destination: "128:0"},
		{Source: "20:0", Destination: "128:0"},
		{Source: "14:0", Destination: "14:0"},
	}}

	links, err := p.Links()
	require.NoError(t, err)
	assert.Equal(t, []Link{
		{Source: domain.Address{Client: 14}, Destination: domain.Address{Client: 14}},
		{Source: domain.Address{Client: 20}, Destination: domain.Address{Client: 128}},
		{Source: domain.Address{Client: 20}, Destination: domain.Address{Client: 130}},
	}, links)

	p.Connections = append(p.Connections, PatchLink{Source: "x", Destination: "1:1"})
	_, err = p.Links()
	assert.ErrorContains(t, err, "connection 4: source")
}

func TestParseErrors(t *testing.T) {
	_, err := NewJSONCodec().Parse(strings.NewReader("{"))
	assert.ErrorContains(t, err, "failed to parse JSON")

	_, err = NewYAMLCodec().Parse(strings.NewReader("clients: [\n"))
	assert.ErrorContains(t, err, "failed to parse YAML")

	_, err = ForFormat("ansible")
	assert.Error(t, err)
}
