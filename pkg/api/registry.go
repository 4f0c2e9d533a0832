package api

import (
	"fmt"
	"sort"
)

// Registry is the fixed, validated graph of named steps an engine executes.
// It is immutable after construction: a misconfigured graph is rejected at
// build time, never mid-flight for some unlucky instance.
type Registry struct {
	entry    string
	required []string
	steps    map[string]StepDefinition
}

// NewRegistry validates and builds a registry.
//
// Validation rules:
//   - entry must name one of the definitions
//   - step names must be non-empty and unique, with a non-nil Fn
//   - every declared Next target must exist in the registry
func NewRegistry(entry string, required []string, defs []StepDefinition) (*Registry, error) {
	if entry == "" {
		return nil, &ConfigurationError{Message: "entry step name is required"}
	}
	if len(defs) == 0 {
		return nil, &ConfigurationError{Message: "registry must have at least one step"}
	}

	steps := make(map[string]StepDefinition, len(defs))
	for _, def := range defs {
		if def.Name == "" {
			return nil, &ConfigurationError{Message: "step name must not be empty"}
		}
		if def.Fn == nil {
			return nil, &ConfigurationError{Message: fmt.Sprintf("step %q has nil function", def.Name)}
		}
		if _, dup := steps[def.Name]; dup {
			return nil, &ConfigurationError{Message: fmt.Sprintf("duplicate step name %q", def.Name)}
		}
		steps[def.Name] = def
	}

	if _, ok := steps[entry]; !ok {
		return nil, &ConfigurationError{Message: fmt.Sprintf("entry step %q is not registered", entry)}
	}
	for _, def := range defs {
		for _, next := range def.Next {
			if _, ok := steps[next]; !ok {
				return nil, &ConfigurationError{
					Message: fmt.Sprintf("step %q advances to unknown step %q", def.Name, next),
				}
			}
		}
	}

	req := make([]string, len(required))
	copy(req, required)

	return &Registry{entry: entry, required: req, steps: steps}, nil
}

// Entry returns the name of the designated entry step.
func (r *Registry) Entry() string { return r.entry }

// Required returns the state fields Start validates as present and non-empty.
func (r *Registry) Required() []string {
	out := make([]string, len(r.required))
	copy(out, r.required)
	return out
}

// Step looks up a step definition by name.
func (r *Registry) Step(name string) (StepDefinition, bool) {
	def, ok := r.steps[name]
	return def, ok
}

// CanAdvance reports whether from declared to as a transition target.
func (r *Registry) CanAdvance(from, to string) bool {
	def, ok := r.steps[from]
	if !ok {
		return false
	}
	for _, next := range def.Next {
		if next == to {
			return true
		}
	}
	return false
}

// Names returns all registered step names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.steps))
	for name := range r.steps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
