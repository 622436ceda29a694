package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/kode4food/stepwise/internal/store"
	"github.com/kode4food/stepwise/pkg/api"
	"github.com/kode4food/stepwise/pkg/log"
	"github.com/kode4food/stepwise/pkg/workflow"
)

type (
	// Runner walks a Workflow for one schedule, persisting its position in
	// the schedule's Context before every step
	Runner struct {
		workflow *workflow.Workflow
		hooks    Hooks
		publish  func(Event)
	}

	// Hooks are optional callbacks invoked around every step
	Hooks struct {
		BeforeStep StepHook
		AfterStep  StepHook
	}

	// StepHook is called with the Action and step being executed. An error
	// returned by a hook stops the schedule without being routed
	StepHook func(
		ctx context.Context, action api.ActionName, step api.StepName,
	) error

	// stepFailure is a step error eligible for routing
	stepFailure struct {
		err  error
		info *api.ExceptionInfo
	}

	// PanicError wraps a value recovered from a panicking step
	PanicError struct {
		Value any
	}
)

var (
	ErrInputNotFound  = errors.New("step input not found in context")
	ErrHookFailed     = errors.New("step hook failed")
	ErrInvalidIndex   = errors.New("invalid step index")
	ErrReservedOutput = errors.New("step output uses a reserved key")
)

// NewRunner creates a Runner for the workflow
func NewRunner(wf *workflow.Workflow, hooks Hooks, publish func(Event)) *Runner {
	if publish == nil {
		publish = func(Event) {}
	}
	return &Runner{
		workflow: wf,
		hooks:    hooks,
		publish:  publish,
	}
}

// Run executes the schedule from the position recorded in wctx until the
// workflow completes, a step error goes unhandled, or ctx is cancelled. On
// cancellation the cause of ctx is returned
func (r *Runner) Run(ctx context.Context, wctx *Context) error {
	name, index, err := wctx.Position(ctx)
	if err != nil {
		return r.interrupted(ctx, err)
	}
	action, err := r.workflow.Action(name)
	if err != nil {
		return err
	}
	if index < 0 {
		return fmt.Errorf("%w: %d in action %s", ErrInvalidIndex, index, name)
	}

	for {
		failure, err := r.runAction(ctx, wctx, action, index)
		if err != nil {
			return r.interrupted(ctx, err)
		}

		var stepErr error
		if failure != nil {
			stepErr = failure.err
		}
		t := action.Route(stepErr)
		switch t.Kind {
		case workflow.TransitionTerminal:
			return stepErr
		case workflow.TransitionError:
			slog.Warn("Routing step failure",
				log.ScheduleID(wctx.ScheduleID()),
				log.Action(action.Name()),
				log.Step(failure.info.StepName),
				slog.String("target", string(t.Target)),
				log.Error(stepErr))
			err := wctx.Save(
				ctx, api.KeyUnexpectedRuntimeException, failure.info.Value(),
			)
			if err != nil {
				return r.interrupted(ctx, err)
			}
		}

		if action, err = r.workflow.Action(t.Target); err != nil {
			return err
		}
		index = 0
	}
}

func (r *Runner) runAction(
	ctx context.Context, wctx *Context, action *workflow.Action, start int,
) (*stepFailure, error) {
	steps := action.Steps()
	for i := start; i < len(steps); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		failure, err := r.runStep(ctx, wctx, action.Name(), i, steps[i])
		if err != nil || failure != nil {
			return failure, err
		}
	}
	return nil, nil
}

func (r *Runner) runStep(
	ctx context.Context, wctx *Context, action api.ActionName, index int,
	step workflow.Step,
) (*stepFailure, error) {
	id := wctx.ScheduleID()
	name := step.Name()
	if err := wctx.setPosition(ctx, action, index, name); err != nil {
		return nil, err
	}

	meta := store.NewStepStoreProxy(
		wctx.store, id, wctx.Operation(), api.GroupName(action),
		api.DirectionExecuting, name,
	)
	if err := meta.SetStatus(ctx, api.StepRunning); err != nil {
		return nil, err
	}

	slog.Debug("Step started",
		log.ScheduleID(id),
		log.Action(action),
		log.Step(name),
		log.StepIndex(index))
	r.publish(Event{
		Type:       EventStepStarted,
		ScheduleID: id,
		Action:     action,
		Step:       name,
	})

	if err := r.callHook(ctx, r.hooks.BeforeStep, action, name); err != nil {
		return nil, err
	}

	in, err := wctx.LoadMultiple(ctx, step.RequiredInputs()...)
	if err != nil {
		if errors.Is(err, ErrNotInContext) {
			return nil, fmt.Errorf("%w: step %s: %w", ErrInputNotFound, name, err)
		}
		return nil, err
	}

	out, stack, err := invoke(ctx, step, in)
	if err != nil {
		if ctx.Err() != nil {
			_ = meta.SetStatus(context.WithoutCancel(ctx), api.StepCancelled)
			return nil, ctx.Err()
		}
		return r.stepFailed(ctx, meta, id, action, name, err, stack)
	}

	if err := checkOutputs(name, out); err != nil {
		return nil, err
	}
	if err := wctx.SaveMultiple(ctx, out); err != nil {
		return nil, err
	}
	if err := meta.SetStatus(ctx, api.StepSuccess); err != nil {
		return nil, err
	}

	slog.Debug("Step completed",
		log.ScheduleID(id),
		log.Action(action),
		log.Step(name))
	r.publish(Event{
		Type:       EventStepCompleted,
		ScheduleID: id,
		Action:     action,
		Step:       name,
	})

	return nil, r.callHook(ctx, r.hooks.AfterStep, action, name)
}

func (r *Runner) stepFailed(
	ctx context.Context, meta *store.StepStoreProxy, id api.ScheduleID,
	action api.ActionName, name api.StepName, err error, stack []byte,
) (*stepFailure, error) {
	info := api.NewExceptionInfo(action, name, err, stack)
	if err := meta.CreateOrUpdateMultiple(ctx, api.Args{
		api.FieldStatus:         api.String(string(api.StepFailed)),
		api.FieldErrorTraceback: api.String(info.SerializedTraceback),
	}); err != nil {
		return nil, err
	}

	r.publish(Event{
		Type:       EventStepFailed,
		ScheduleID: id,
		Action:     action,
		Step:       name,
		Error:      err.Error(),
	})
	return &stepFailure{err: err, info: info}, nil
}

func (r *Runner) callHook(
	ctx context.Context, hook StepHook, action api.ActionName,
	step api.StepName,
) error {
	if hook == nil {
		return nil
	}
	if err := hook(ctx, action, step); err != nil {
		return fmt.Errorf("%w: %w", ErrHookFailed, err)
	}
	return nil
}

// interrupted reports the cause of cancellation in place of whatever error
// the cancellation provoked
func (r *Runner) interrupted(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	return err
}

// checkOutputs keeps steps from overwriting the keys resumption depends on
func checkOutputs(step api.StepName, out api.Args) error {
	for _, name := range out.Names() {
		if api.IsReserved(name) || name == api.KeyUnexpectedRuntimeException {
			return fmt.Errorf("%w: step %s returned %s",
				ErrReservedOutput, step, name)
		}
	}
	return nil
}

func invoke(
	ctx context.Context, step workflow.Step, in api.Args,
) (out api.Args, stack []byte, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			out = nil
			err = &PanicError{Value: rec}
			stack = debug.Stack()
		}
	}()
	out, err = step.Run(ctx, in)
	if err != nil {
		stack = debug.Stack()
	}
	return out, stack, err
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("step panicked: %v", e.Value)
}
