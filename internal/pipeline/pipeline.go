package pipeline

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zeebo/xxh3"
)

// Config is one configuration of a linear pipeline: an ordered sequence of
// stages, each with exactly one selected implementation.
type Config struct {
	// Name is a display name; it does not take part in identity.
	Name string `json:"name" yaml:"name"`

	// Stages run in order.
	Stages []Stage `json:"stages" yaml:"stages"`

	// Metadata is free-form and does not take part in identity.
	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// New builds a validated configuration from stages. The stages are copied.
func New(name string, stages ...Stage) (*Config, error) {
	c := &Config{Name: name, Stages: make([]Stage, len(stages))}
	for i, s := range stages {
		c.Stages[i] = s.Clone()
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// MustNew is New for statically known pipelines; it panics on invalid input.
func MustNew(name string, stages ...Stage) *Config {
	c, err := New(name, stages...)
	if err != nil {
		panic(err)
	}
	return c
}

// Validate checks every stage and that stage names are unique.
func (c *Config) Validate() error {
	names := make(map[string]struct{}, len(c.Stages))
	for _, s := range c.Stages {
		if err := s.Validate(); err != nil {
			return err
		}
		if _, dup := names[s.Name]; dup {
			return fmt.Errorf("%w: stage name %q is used twice", ErrInvariant, s.Name)
		}
		names[s.Name] = struct{}{}
	}
	return nil
}

// Len returns the number of stages.
func (c *Config) Len() int {
	return len(c.Stages)
}

// Clone returns a fully independent copy.
func (c *Config) Clone() *Config {
	out := &Config{
		Name:     c.Name,
		Stages:   make([]Stage, len(c.Stages)),
		Metadata: cloneParams(c.Metadata),
	}
	for i, s := range c.Stages {
		out.Stages[i] = s.Clone()
	}
	return out
}

// StageAt returns a copy of the stage at index i.
func (c *Config) StageAt(i int) (Stage, error) {
	if i < 0 || i >= len(c.Stages) {
		return Stage{}, fmt.Errorf("%w: %d (len %d)", ErrIndexOutOfRange, i, len(c.Stages))
	}
	return c.Stages[i].Clone(), nil
}

// StageByName returns the stage with the given name.
func (c *Config) StageByName(name string) (Stage, bool) {
	for _, s := range c.Stages {
		if s.Name == name {
			return s.Clone(), true
		}
	}
	return Stage{}, false
}

// ReplaceStage replaces the stage at index i. The config is left unchanged
// on error.
func (c *Config) ReplaceStage(i int, s Stage) error {
	if i < 0 || i >= len(c.Stages) {
		return fmt.Errorf("%w: %d (len %d)", ErrIndexOutOfRange, i, len(c.Stages))
	}
	if err := s.Validate(); err != nil {
		return err
	}
	c.Stages[i] = s.Clone()
	return nil
}

// SwapStages exchanges the stages at i and j.
func (c *Config) SwapStages(i, j int) error {
	n := len(c.Stages)
	if i < 0 || i >= n || j < 0 || j >= n {
		return fmt.Errorf("%w: swap %d,%d (len %d)", ErrIndexOutOfRange, i, j, n)
	}
	c.Stages[i], c.Stages[j] = c.Stages[j], c.Stages[i]
	return nil
}

// stageIdentity is the canonical form hashed by Digest. Field order is fixed
// by the struct; json sorts map keys, so params encode deterministically.
type stageIdentity struct {
	Name     string         `json:"name"`
	Kind     Kind           `json:"kind"`
	Prompt   string         `json:"prompt"`
	Selected string         `json:"selected"`
	Params   map[string]any `json:"params"`
}

func (s Stage) identity() stageIdentity {
	params := s.Params
	if params == nil {
		params = map[string]any{}
	}
	return stageIdentity{
		Name:     s.Name,
		Kind:     s.Kind,
		Prompt:   s.Prompt,
		Selected: s.Selected,
		Params:   params,
	}
}

func (c *Config) canonical() []byte {
	ids := make([]stageIdentity, len(c.Stages))
	for i, s := range c.Stages {
		ids[i] = s.identity()
	}
	data, err := json.Marshal(ids)
	if err != nil {
		// Validate rejects unencodable params, so this is a caller bug.
		panic(fmt.Sprintf("pipeline: canonical encoding failed: %v", err))
	}
	return data
}

// Digest returns a content hash of the stage sequence. It is stable across
// processes and ignores Name, Metadata and candidate ordering.
func (c *Config) Digest() string {
	sum := xxh3.Hash128(c.canonical()).Bytes()
	return hex.EncodeToString(sum[:])
}

// Equal reports content equality of the two stage sequences.
func (c *Config) Equal(o *Config) bool {
	if c == nil || o == nil {
		return c == o
	}
	if len(c.Stages) != len(o.Stages) {
		return false
	}
	return string(c.canonical()) == string(o.canonical())
}

func (c *Config) String() string {
	parts := make([]string, len(c.Stages))
	for i, s := range c.Stages {
		parts[i] = s.String()
	}
	return "Pipeline(" + strings.Join(parts, " -> ") + ")"
}
