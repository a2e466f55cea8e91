package codec

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"patchbay/internal/domain"
)

// YAMLCodec handles YAML import/export
type YAMLCodec struct{}

// NewYAMLCodec creates a new YAML codec
func NewYAMLCodec() *YAMLCodec {
	return &YAMLCodec{}
}

// Format returns the codec format identifier
func (c *YAMLCodec) Format() string {
	return "yaml"
}

// Parse imports a patch from YAML
func (c *YAMLCodec) Parse(r io.Reader) (*Patch, error) {
	var p Patch
	decoder := yaml.NewDecoder(r)
	if err := decoder.Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return &p, nil
}

// Export exports a graph to YAML
func (c *YAMLCodec) Export(g *domain.Graph, w io.Writer) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	defer encoder.Close()

	if err := encoder.Encode(PatchOf(g)); err != nil {
		return fmt.Errorf("failed to encode YAML: %w", err)
	}

	return nil
}
