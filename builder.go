package virta

import (
	"fmt"

	"github.com/jalehto/virta/pkg/api"
)

// FlowBuilder provides a fluent API for defining the step registry:
//
//	reg, err := virta.NewFlow().
//	    Require("clientName", "clientEmail").
//	    Step("intake", intake, "review").
//	    Step("review", review, "intake", "publish").
//	    Step("publish", publish).
//	    Build()
//
// The first step added becomes the entry step unless Entry overrides it.
// Build validates the graph is closed: every declared transition target
// must exist.
type FlowBuilder struct {
	entry    string
	required []string
	defs     []api.StepDefinition
}

// NewFlow creates a new registry builder.
func NewFlow() *FlowBuilder {
	return &FlowBuilder{}
}

// Entry designates the entry step. Without it, the first Step call wins.
func (b *FlowBuilder) Entry(name string) *FlowBuilder {
	b.entry = name
	return b
}

// Require adds state fields that Start validates as present and non-empty.
func (b *FlowBuilder) Require(fields ...string) *FlowBuilder {
	b.required = append(b.required, fields...)
	return b
}

// Step appends a named step. next lists every step name fn is allowed to
// Advance to; a step with no next entries can only Interrupt, Complete or
// Fail.
func (b *FlowBuilder) Step(name string, fn api.StepFunc, next ...string) *FlowBuilder {
	if name == "" {
		panic("virta: step name must not be empty")
	}
	if fn == nil {
		panic(fmt.Sprintf("virta: step %q has nil function", name))
	}

	if b.entry == "" {
		b.entry = name
	}
	b.defs = append(b.defs, api.StepDefinition{
		Name: name,
		Fn:   fn,
		Next: next,
	})
	return b
}

// Build validates the graph and returns the immutable registry.
func (b *FlowBuilder) Build() (*api.Registry, error) {
	return api.NewRegistry(b.entry, b.required, b.defs)
}

// MustBuild is like Build but panics on error.
// Useful for initialization in main().
func (b *FlowBuilder) MustBuild() *api.Registry {
	reg, err := b.Build()
	if err != nil {
		panic(err)
	}
	return reg
}
