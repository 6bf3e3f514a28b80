package spec

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile reads, validates and decodes a spec file. YAML and JSON documents
// are both accepted.
func LoadFile(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read spec file %s: %w", path, err)
	}

	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("spec %s: %w", path, err)
	}
	return s, nil
}

// Parse validates and decodes a spec document.
func Parse(data []byte) (*Spec, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &Error{Message: fmt.Sprintf("failed to parse spec document: %v", err)}
	}
	return New(raw)
}

// New validates a raw document (map[string]any as produced by a YAML or JSON
// decoder) and converts it into a Spec with defaults applied.
func New(raw any) (*Spec, error) {
	if err := Validate(raw); err != nil {
		return nil, err
	}

	// Round-trip through YAML so the typed model is decoded by the same rules
	// regardless of which decoder produced raw.
	data, err := yaml.Marshal(raw)
	if err != nil {
		return nil, &Error{Message: fmt.Sprintf("failed to re-encode spec: %v", err)}
	}

	var s Spec
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, &Error{Message: fmt.Sprintf("failed to decode spec: %v", err)}
	}

	applyDefaults(&s)

	if err := validateSemantics(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Marshal serializes a Spec to YAML.
func Marshal(s *Spec) ([]byte, error) {
	return yaml.Marshal(s)
}
