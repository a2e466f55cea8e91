package codec

import (
	"encoding/json"
	"fmt"
	"io"

	"patchbay/internal/domain"
)

// JSONCodec handles JSON import/export
type JSONCodec struct{}

// NewJSONCodec creates a new JSON codec
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{}
}

// Format returns the codec format identifier
func (c *JSONCodec) Format() string {
	return "json"
}

// Parse imports a patch from JSON
func (c *JSONCodec) Parse(r io.Reader) (*Patch, error) {
	var p Patch
	decoder := json.NewDecoder(r)
	if err := decoder.Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	return &p, nil
}

// Export exports a graph to JSON
func (c *JSONCodec) Export(g *domain.Graph, w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(PatchOf(g)); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}

	return nil
}
