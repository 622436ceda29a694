package workflow

import (
	"errors"
	"fmt"
	"slices"

	"github.com/kode4food/stepwise/pkg/api"
)

// Workflow is an immutable registry of Actions keyed by name
type Workflow struct {
	actions map[api.ActionName]*Action
	order   []api.ActionName
}

var (
	ErrNoActions           = errors.New("workflow requires at least one action")
	ErrNilAction           = errors.New("action is nil")
	ErrEmptyActionName     = errors.New("action name is empty")
	ErrDuplicateAction     = errors.New("duplicate action name")
	ErrUnknownAction       = errors.New("transition targets unknown action")
	ErrActionNotRegistered = errors.New("action not registered")
	ErrNilStep             = errors.New("step is nil")
	ErrEmptyStepName       = errors.New("step name is empty")
	ErrExceptionNotRouted  = errors.New(
		"step requires exception info outside an error-handling action",
	)
	ErrReservedProvide = errors.New("step declares a reserved output")
	ErrUnresolvedInput = errors.New("step input is never provided")
)

// New indexes the actions by name and validates the graph: names must be
// unique and non-empty, every transition must target a registered action,
// and only actions reachable as error targets may consume exception info
func New(actions ...*Action) (*Workflow, error) {
	if len(actions) == 0 {
		return nil, ErrNoActions
	}

	res := &Workflow{
		actions: make(map[api.ActionName]*Action, len(actions)),
	}
	for _, a := range actions {
		if a == nil {
			return nil, ErrNilAction
		}
		if a.name == "" {
			return nil, ErrEmptyActionName
		}
		if _, ok := res.actions[a.name]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateAction, a.name)
		}
		res.actions[a.name] = a
		res.order = append(res.order, a.name)
	}

	if err := res.validate(); err != nil {
		return nil, err
	}
	return res, nil
}

// Must is like New but panics on an invalid graph. Intended for statically
// declared workflows
func Must(actions ...*Action) *Workflow {
	res, err := New(actions...)
	if err != nil {
		panic(err)
	}
	return res
}

// Action resolves a registered action by name
func (w *Workflow) Action(name api.ActionName) (*Action, error) {
	if a, ok := w.actions[name]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrActionNotRegistered, name)
}

// Has reports whether an action is registered under name
func (w *Workflow) Has(name api.ActionName) bool {
	_, ok := w.actions[name]
	return ok
}

// Actions returns the registered action names in declaration order
func (w *Workflow) Actions() []api.ActionName {
	return slices.Clone(w.order)
}

// CheckInputs walks the success path from start and reports the first
// required input that is neither in initial nor declared by an earlier
// step. The walk stops at the first step that does not implement Provider.
// Exception info is only available on error paths and is not checked
func (w *Workflow) CheckInputs(start api.ActionName, initial []api.Name) error {
	avail := map[api.Name]bool{}
	for _, n := range api.ReservedKeys {
		avail[n] = true
	}
	for _, n := range initial {
		avail[n] = true
	}

	seen := map[api.ActionName]bool{}
	name := start
	for name != "" && !seen[name] {
		seen[name] = true
		a, err := w.Action(name)
		if err != nil {
			return err
		}
		for _, s := range a.steps {
			for _, in := range s.RequiredInputs() {
				if in == api.KeyUnexpectedRuntimeException || avail[in] {
					continue
				}
				return fmt.Errorf("%w: %s for step %s in action %s",
					ErrUnresolvedInput, in, s.Name(), name)
			}
			p, ok := s.(Provider)
			if !ok {
				return nil
			}
			outputs, declared := p.ProvidedOutputs()
			if !declared {
				return nil
			}
			for _, out := range outputs {
				avail[out] = true
			}
		}
		name, _ = a.Next()
	}
	return nil
}

func checkProvided(action api.ActionName, s Step) error {
	p, ok := s.(Provider)
	if !ok {
		return nil
	}
	outputs, _ := p.ProvidedOutputs()
	for _, out := range outputs {
		if api.IsReserved(out) || out == api.KeyUnexpectedRuntimeException {
			return fmt.Errorf("%w: %s by %s in action %s",
				ErrReservedProvide, out, s.Name(), action)
		}
	}
	return nil
}

func (w *Workflow) validate() error {
	errorTargets := map[api.ActionName]bool{}
	for _, name := range w.order {
		a := w.actions[name]
		if next, ok := a.Next(); ok && !w.Has(next) {
			return fmt.Errorf("%w: %s -> %s", ErrUnknownAction, name, next)
		}
		if onError, ok := a.OnError(); ok {
			if !w.Has(onError) {
				return fmt.Errorf("%w: %s -> %s",
					ErrUnknownAction, name, onError)
			}
			errorTargets[onError] = true
		}
	}

	for _, name := range w.order {
		for _, s := range w.actions[name].steps {
			if s == nil {
				return fmt.Errorf("%w: action %s", ErrNilStep, name)
			}
			if s.Name() == "" {
				return fmt.Errorf("%w: action %s", ErrEmptyStepName, name)
			}
			if err := checkProvided(name, s); err != nil {
				return err
			}
			needsException := slices.Contains(
				s.RequiredInputs(), api.KeyUnexpectedRuntimeException,
			)
			if needsException && !errorTargets[name] {
				return fmt.Errorf("%w: %s in action %s",
					ErrExceptionNotRouted, s.Name(), name)
			}
		}
	}
	return nil
}
