// Package pipeline models linear data-processing pipelines whose stages each
// offer several interchangeable implementations.
//
// A Config is one full assignment of implementations to every stage. Configs
// are plain values: the search clones them before any structural change, so a
// Config referenced by a search node is never mutated after the node exists.
package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// Kind is the category of a stage. Reordering legality is defined per kind.
type Kind string

const (
	KindMap       Kind = "map"
	KindFilter    Kind = "filter"
	KindReduce    Kind = "reduce"
	KindTransform Kind = "transform"
)

// Valid reports whether k is one of the known stage kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindMap, KindFilter, KindReduce, KindTransform:
		return true
	default:
		return false
	}
}

// UsesModel reports whether stages of this kind are usually backed by a model call.
func (k Kind) UsesModel() bool {
	return k == KindMap || k == KindFilter
}

// DefaultModelCandidates is the candidate list used by LLMStage when none is given.
var DefaultModelCandidates = []string{"gpt-4o-mini", "gpt-4o", "claude-3-5-sonnet-20241022"}

// Errors returned by the configuration model.
var (
	// ErrInvariant wraps every structural invariant violation.
	ErrInvariant = errors.New("pipeline invariant violated")

	// ErrIndexOutOfRange is returned by positional mutations with a bad index.
	ErrIndexOutOfRange = errors.New("stage index out of range")
)

// Stage is one step of a pipeline.
type Stage struct {
	// Name identifies the stage within its pipeline.
	Name string `json:"name" yaml:"name"`

	// Kind is the stage category.
	Kind Kind `json:"kind" yaml:"kind"`

	// Candidates are the interchangeable implementation identifiers, in declaration order.
	Candidates []string `json:"candidates" yaml:"candidates"`

	// Selected is the implementation currently assigned. Always one of Candidates.
	Selected string `json:"selected" yaml:"selected,omitempty"`

	// Prompt is the instruction for model-backed implementations.
	Prompt string `json:"prompt,omitempty" yaml:"prompt,omitempty"`

	// Params holds implementation-specific settings.
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// StageOption customizes a stage built by NewStage.
type StageOption func(*Stage)

// WithSelected chooses the initial implementation.
func WithSelected(id string) StageOption {
	return func(s *Stage) { s.Selected = id }
}

// WithPrompt sets the stage prompt.
func WithPrompt(prompt string) StageOption {
	return func(s *Stage) { s.Prompt = prompt }
}

// WithParams sets the stage parameters. The map is copied.
func WithParams(params map[string]any) StageOption {
	return func(s *Stage) { s.Params = cloneParams(params) }
}

// NewStage builds a validated stage. When no selection is given the first
// candidate is selected.
func NewStage(name string, kind Kind, candidates []string, opts ...StageOption) (Stage, error) {
	s := Stage{
		Name:       name,
		Kind:       kind,
		Candidates: slices.Clone(candidates),
	}
	for _, opt := range opts {
		opt(&s)
	}
	s.applyDefaults()
	if err := s.Validate(); err != nil {
		return Stage{}, err
	}
	return s, nil
}

// MustStage is NewStage for statically known stages; it panics on invalid input.
func MustStage(name string, kind Kind, candidates []string, opts ...StageOption) Stage {
	s, err := NewStage(name, kind, candidates, opts...)
	if err != nil {
		panic(err)
	}
	return s
}

// LLMStage builds a model-backed stage. Empty candidates fall back to DefaultModelCandidates.
func LLMStage(name string, kind Kind, prompt string, candidates ...string) (Stage, error) {
	if len(candidates) == 0 {
		candidates = DefaultModelCandidates
	}
	return NewStage(name, kind, candidates, WithPrompt(prompt))
}

// TransformStage builds a non-model transform stage.
func TransformStage(name string, candidates []string, params map[string]any) (Stage, error) {
	return NewStage(name, KindTransform, candidates, WithParams(params))
}

func (s *Stage) applyDefaults() {
	if s.Selected == "" && len(s.Candidates) > 0 {
		s.Selected = s.Candidates[0]
	}
}

// Validate checks the stage invariants.
func (s Stage) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: stage name is empty", ErrInvariant)
	}
	if !s.Kind.Valid() {
		return fmt.Errorf("%w: stage %q has unknown kind %q", ErrInvariant, s.Name, s.Kind)
	}
	if len(s.Candidates) == 0 {
		return fmt.Errorf("%w: stage %q has no candidates", ErrInvariant, s.Name)
	}
	seen := make(map[string]struct{}, len(s.Candidates))
	for _, c := range s.Candidates {
		if c == "" {
			return fmt.Errorf("%w: stage %q has an empty candidate", ErrInvariant, s.Name)
		}
		if _, dup := seen[c]; dup {
			return fmt.Errorf("%w: stage %q lists candidate %q twice", ErrInvariant, s.Name, c)
		}
		seen[c] = struct{}{}
	}
	if _, ok := seen[s.Selected]; !ok {
		return fmt.Errorf("%w: stage %q selects %q which is not a candidate", ErrInvariant, s.Name, s.Selected)
	}
	if len(s.Params) > 0 {
		if _, err := json.Marshal(s.Params); err != nil {
			return fmt.Errorf("%w: stage %q params are not encodable: %v", ErrInvariant, s.Name, err)
		}
	}
	return nil
}

// HasCandidate reports whether id is one of the stage's candidates.
func (s Stage) HasCandidate(id string) bool {
	return slices.Contains(s.Candidates, id)
}

// Alternatives returns the candidates other than the selected one, in order.
func (s Stage) Alternatives() []string {
	out := make([]string, 0, len(s.Candidates))
	for _, c := range s.Candidates {
		if c != s.Selected {
			out = append(out, c)
		}
	}
	return out
}

// WithSelected returns a copy of the stage selecting id.
func (s Stage) WithSelected(id string) (Stage, error) {
	if !s.HasCandidate(id) {
		return Stage{}, fmt.Errorf("%w: stage %q selects %q which is not a candidate", ErrInvariant, s.Name, id)
	}
	out := s.Clone()
	out.Selected = id
	return out, nil
}

// Clone returns a deep copy of the stage.
func (s Stage) Clone() Stage {
	return Stage{
		Name:       s.Name,
		Kind:       s.Kind,
		Candidates: slices.Clone(s.Candidates),
		Selected:   s.Selected,
		Prompt:     s.Prompt,
		Params:     cloneParams(s.Params),
	}
}

// Equal reports content equality. Candidate order is ignored; only the
// selected value takes part in identity.
func (s Stage) Equal(o Stage) bool {
	a, errA := json.Marshal(s.identity())
	b, errB := json.Marshal(o.identity())
	return errA == nil && errB == nil && string(a) == string(b)
}

func (s Stage) String() string {
	return fmt.Sprintf("%s(%s)", s.Name, s.Selected)
}

func cloneParams(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneParams(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return slices.Clone(t)
	default:
		return v
	}
}
