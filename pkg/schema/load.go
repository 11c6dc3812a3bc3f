package schema

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadChainFile reads and structurally decodes a chain definition YAML.
// Returns a structural error if the document contains unknown fields.
func LoadChainFile(path string) (*Chain, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open chain definition: %w", err)
	}
	defer f.Close()
	return LoadChain(f)
}

// LoadChain reads a chain definition from a reader.
func LoadChain(r io.Reader) (*Chain, error) {
	var c Chain
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true) // strict: reject unknown fields
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("structural decode: %w", err)
	}
	return &c, nil
}

// LoadBindingsFile reads and structurally decodes a bulk bindings YAML.
func LoadBindingsFile(path string) (*BindingsFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bindings file: %w", err)
	}
	defer f.Close()

	var bf BindingsFile
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&bf); err != nil {
		return nil, fmt.Errorf("structural decode: %w", err)
	}
	return &bf, nil
}
