package workflow

import (
	"slices"

	"github.com/kode4food/stepwise/pkg/api"
)

type (
	// Action is a named group of sequential Steps plus its transitions. It
	// is a state of the engine's state machine
	Action struct {
		name    api.ActionName
		next    api.ActionName
		onError api.ActionName
		steps   []Step
	}

	// Transition is where execution goes once an Action stops running
	Transition struct {
		Target api.ActionName
		Kind   TransitionKind
	}

	// TransitionKind tags a Transition
	TransitionKind uint8
)

const (
	// TransitionTerminal ends the workflow. When produced for a failed step
	// the failure propagates to the caller
	TransitionTerminal TransitionKind = iota

	// TransitionNext moves to the success target
	TransitionNext

	// TransitionError moves to the error-handling target
	TransitionError
)

// NewAction creates an Action running the steps in order, with no
// transitions
func NewAction(name api.ActionName, steps ...Step) *Action {
	return &Action{
		name:  name,
		steps: slices.Clone(steps),
	}
}

// WithNext returns a copy of the action that continues to name on success
func (a *Action) WithNext(name api.ActionName) *Action {
	res := *a
	res.next = name
	return &res
}

// WithOnError returns a copy of the action that routes step failures to name
func (a *Action) WithOnError(name api.ActionName) *Action {
	res := *a
	res.onError = name
	return &res
}

func (a *Action) Name() api.ActionName {
	return a.name
}

// Steps returns the ordered steps of the action
func (a *Action) Steps() []Step {
	return slices.Clone(a.steps)
}

// StepCount returns the number of steps in the action
func (a *Action) StepCount() int {
	return len(a.steps)
}

// Next returns the success target, if any
func (a *Action) Next() (api.ActionName, bool) {
	return a.next, a.next != ""
}

// OnError returns the error-handling target, if any
func (a *Action) OnError() (api.ActionName, bool) {
	return a.onError, a.onError != ""
}

// Route decides the transition taken after the action stops, given the
// step error that stopped it (nil when every step succeeded)
func (a *Action) Route(err error) Transition {
	if err != nil {
		if a.onError != "" {
			return Transition{Kind: TransitionError, Target: a.onError}
		}
		return Transition{Kind: TransitionTerminal}
	}
	if a.next != "" {
		return Transition{Kind: TransitionNext, Target: a.next}
	}
	return Transition{Kind: TransitionTerminal}
}

func (k TransitionKind) String() string {
	switch k {
	case TransitionNext:
		return "next"
	case TransitionError:
		return "error"
	default:
		return "terminal"
	}
}
