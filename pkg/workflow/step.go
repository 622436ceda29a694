package workflow

import (
	"context"
	"slices"

	"github.com/kode4food/stepwise/pkg/api"
)

type (
	// Step is one unit of work within an Action. It receives the context
	// values named by RequiredInputs and returns new or updated entries.
	// Steps may run more than once and must be idempotent
	Step interface {
		Name() api.StepName
		RequiredInputs() []api.Name
		Run(ctx context.Context, in api.Args) (api.Args, error)
	}

	// Provider is implemented by steps that declare the context keys they
	// return, letting a Workflow check required inputs before running
	Provider interface {
		ProvidedOutputs() ([]api.Name, bool)
	}

	// StepFunc is the body of a FuncStep
	StepFunc func(ctx context.Context, in api.Args) (api.Args, error)

	// FuncStep adapts a function into a Step
	FuncStep struct {
		fn       StepFunc
		name     api.StepName
		inputs   []api.Name
		outputs  []api.Name
		declared bool
	}
)

var (
	_ Step     = (*FuncStep)(nil)
	_ Provider = (*FuncStep)(nil)
)

// NewStep creates a Step with the specified name and body
func NewStep(name api.StepName, fn StepFunc) *FuncStep {
	return &FuncStep{
		name: name,
		fn:   fn,
	}
}

// Required returns a copy of the step that also requires the named inputs
func (s *FuncStep) Required(names ...api.Name) *FuncStep {
	res := *s
	res.inputs = append(slices.Clone(s.inputs), names...)
	return &res
}

// Provides returns a copy of the step that declares the named outputs.
// Calling it with no names declares that the step returns nothing
func (s *FuncStep) Provides(names ...api.Name) *FuncStep {
	res := *s
	res.outputs = append(slices.Clone(s.outputs), names...)
	res.declared = true
	return &res
}

func (s *FuncStep) Name() api.StepName {
	return s.name
}

func (s *FuncStep) RequiredInputs() []api.Name {
	return slices.Clone(s.inputs)
}

// ProvidedOutputs returns the declared outputs, and false if the step never
// declared them
func (s *FuncStep) ProvidedOutputs() ([]api.Name, bool) {
	return slices.Clone(s.outputs), s.declared
}

func (s *FuncStep) Run(ctx context.Context, in api.Args) (api.Args, error) {
	return s.fn(ctx, in)
}
