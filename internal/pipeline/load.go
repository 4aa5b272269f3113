package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Parse decodes a YAML pipeline definition, applies default selections and
// validates the result.
//
//	name: medical-summary
//	stages:
//	  - name: extract
//	    kind: map
//	    prompt: Extract the key findings.
//	    candidates: [gpt-4o-mini, gpt-4o]
func Parse(data []byte) (*Config, error) {
	var c Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty pipeline definition", ErrInvariant)
		}
		return nil, fmt.Errorf("decode pipeline: %w", err)
	}
	if len(c.Stages) == 0 {
		return nil, fmt.Errorf("%w: pipeline %q has no stages", ErrInvariant, c.Name)
	}
	for i := range c.Stages {
		c.Stages[i].applyDefaults()
	}
	if c.Name == "" {
		c.Name = "pipeline"
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadFile reads and parses a YAML pipeline definition.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}
