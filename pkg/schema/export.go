package schema

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// GenerateChainJSONSchema produces a JSON Schema Draft 2020-12 document
// from the Chain Go types.
func GenerateChainJSONSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	s := r.Reflect(&Chain{})
	s.ID = "https://github.com/handley-lab/chainer/schemas/chain-v0.json"
	s.Title = "Tool Chain — chain/v0"
	s.Description = "Schema for chain/v0 definition documents (Draft 2020-12)"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal chain schema: %w", err)
	}
	return data, nil
}

// GenerateBindingsJSONSchema produces a JSON Schema Draft 2020-12 document
// from the BindingsFile Go types.
func GenerateBindingsJSONSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	s := r.Reflect(&BindingsFile{})
	s.ID = "https://github.com/handley-lab/chainer/schemas/bindings-v0.json"
	s.Title = "Tool Bindings — bindings/v0"
	s.Description = "Schema for bindings/v0 bulk registration documents (Draft 2020-12)"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal bindings schema: %w", err)
	}
	return data, nil
}
