package engine_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	wrapper "github.com/kode4food/stepwise/internal/assert"
	"github.com/kode4food/stepwise/internal/assert/helpers"
	"github.com/kode4food/stepwise/internal/engine"
	"github.com/kode4food/stepwise/internal/store"
	"github.com/kode4food/stepwise/pkg/api"
	"github.com/kode4food/stepwise/pkg/workflow"
)

func newRunContext(
	t *testing.T, st *store.Store, action string, index int,
) *engine.Context {
	t.Helper()
	wctx := engine.NewContext(st, "s1", "op")
	err := wctx.Deserialize(context.Background(), api.Args{
		api.KeyWorkflowName:     api.String("s1"),
		api.KeyActionName:       api.String(action),
		api.KeyCurrentStepIndex: api.Int(int64(index)),
		api.KeyCurrentStepName:  api.String(""),
	})
	assert.NoError(t, err)
	return wctx
}

func TestRunnerMergesOutputs(t *testing.T) {
	helpers.WithStore(t, func(st *store.Store) {
		ctx := context.Background()
		double := workflow.NewStep("double",
			func(_ context.Context, in api.Args) (api.Args, error) {
				n := in.GetInt("n", 0)
				return api.Args{"n": api.Int(n * 2)}, nil
			},
		).Required("n")
		wf := workflow.Must(workflow.NewAction("main", double, double))

		wctx := newRunContext(t, st, "main", 0)
		assert.NoError(t, wctx.Save(ctx, "n", api.Int(3)))

		r := engine.NewRunner(wf, engine.Hooks{}, nil)
		assert.NoError(t, r.Run(ctx, wctx))

		as := wrapper.New(t)
		as.ContextEquals(ctx, wctx, "n", api.Int(12))
		as.ContextEquals(ctx, wctx, api.KeyCurrentStepIndex, api.Int(1))
		as.StepStatus(ctx, store.NewStepStoreProxy(
			st, "s1", "op", "main", api.DirectionExecuting, "double",
		), api.StepSuccess)
	})
}

func TestRunnerStartsAtRecordedIndex(t *testing.T) {
	helpers.WithStore(t, func(st *store.Store) {
		var first, second atomic.Int32
		wf := workflow.Must(workflow.NewAction("main",
			helpers.CountingStep("first", &first, nil),
			helpers.CountingStep("second", &second, nil),
		))

		wctx := newRunContext(t, st, "main", 1)
		r := engine.NewRunner(wf, engine.Hooks{}, nil)
		assert.NoError(t, r.Run(context.Background(), wctx))
		assert.Equal(t, int32(0), first.Load())
		assert.Equal(t, int32(1), second.Load())
	})
}

func TestRunnerMissingInput(t *testing.T) {
	helpers.WithStore(t, func(st *store.Store) {
		var handled atomic.Int32
		needy := workflow.NewStep("needy",
			func(context.Context, api.Args) (api.Args, error) {
				return nil, nil
			},
		).Required("absent")
		wf := workflow.Must(
			workflow.NewAction("main", needy).WithOnError("handler"),
			workflow.NewAction("handler",
				helpers.CountingStep("handle", &handled, nil),
			),
		)

		wctx := newRunContext(t, st, "main", 0)
		r := engine.NewRunner(wf, engine.Hooks{}, nil)
		err := r.Run(context.Background(), wctx)
		assert.ErrorIs(t, err, engine.ErrInputNotFound)
		assert.ErrorIs(t, err, engine.ErrNotInContext)
		assert.Equal(t, int32(0), handled.Load())
	})
}

func TestRunnerRecoversPanic(t *testing.T) {
	helpers.WithStore(t, func(st *store.Store) {
		ctx := context.Background()
		var seen atomic.Pointer[api.ExceptionInfo]
		boom := workflow.NewStep("boom",
			func(context.Context, api.Args) (api.Args, error) {
				panic("kaboom")
			},
		)
		handle := workflow.NewStep("handle",
			func(_ context.Context, in api.Args) (api.Args, error) {
				info, err := api.ExceptionInfoFromValue(
					in[api.KeyUnexpectedRuntimeException],
				)
				if err != nil {
					return nil, err
				}
				seen.Store(info)
				return nil, nil
			},
		).Required(api.KeyUnexpectedRuntimeException)
		wf := workflow.Must(
			workflow.NewAction("main", boom).WithOnError("handler"),
			workflow.NewAction("handler", handle),
		)

		wctx := newRunContext(t, st, "main", 0)
		r := engine.NewRunner(wf, engine.Hooks{}, nil)
		assert.NoError(t, r.Run(ctx, wctx))

		info := seen.Load()
		if assert.NotNil(t, info) {
			assert.Equal(t, api.ClassOf(&engine.PanicError{}), info.ExceptionClass)
			assert.Equal(t, api.ActionName("main"), info.ActionName)
			assert.Equal(t, api.StepName("boom"), info.StepName)
			assert.Contains(t, info.SerializedTraceback, "kaboom")
			assert.Contains(t, info.SerializedTraceback, "goroutine")
		}

		meta := store.NewStepStoreProxy(
			st, "s1", "op", "main", api.DirectionExecuting, "boom",
		)
		all, err := meta.ReadAll(ctx)
		assert.NoError(t, err)
		assert.Equal(t, string(api.StepFailed),
			all.GetString(api.FieldStatus, ""))
		assert.Contains(t, all.GetString(api.FieldErrorTraceback, ""), "kaboom")
	})
}

func TestRunnerHookFailure(t *testing.T) {
	helpers.WithStore(t, func(st *store.Store) {
		var count atomic.Int32
		hookErr := errors.New("hook refused")
		wf := workflow.Must(workflow.NewAction("main",
			helpers.CountingStep("only", &count, nil),
		).WithOnError("main"))

		wctx := newRunContext(t, st, "main", 0)
		r := engine.NewRunner(wf, engine.Hooks{
			BeforeStep: func(
				context.Context, api.ActionName, api.StepName,
			) error {
				return hookErr
			},
		}, nil)
		err := r.Run(context.Background(), wctx)
		assert.ErrorIs(t, err, engine.ErrHookFailed)
		assert.ErrorIs(t, err, hookErr)
		assert.Equal(t, int32(0), count.Load())
	})
}

func TestRunnerOutputKindChange(t *testing.T) {
	helpers.WithStore(t, func(st *store.Store) {
		ctx := context.Background()
		wf := workflow.Must(workflow.NewAction("main",
			workflow.NewStep("retype",
				func(context.Context, api.Args) (api.Args, error) {
					return api.Args{"n": api.String("nope")}, nil
				},
			),
		))

		wctx := newRunContext(t, st, "main", 0)
		assert.NoError(t, wctx.Save(ctx, "n", api.Int(1)))

		r := engine.NewRunner(wf, engine.Hooks{}, nil)
		err := r.Run(ctx, wctx)
		assert.ErrorIs(t, err, engine.ErrSetTypeMismatch)
	})
}

func TestRunnerRejectsReservedOutput(t *testing.T) {
	reserved := []api.Name{
		api.KeyWorkflowName,
		api.KeyActionName,
		api.KeyCurrentStepIndex,
		api.KeyCurrentStepName,
		api.KeyUnexpectedRuntimeException,
	}

	for _, key := range reserved {
		t.Run(string(key), func(t *testing.T) {
			helpers.WithStore(t, func(st *store.Store) {
				ctx := context.Background()
				var handled, after atomic.Int32
				hijack := workflow.NewStep("hijack",
					func(context.Context, api.Args) (api.Args, error) {
						return api.Args{
							key:      api.String("other"),
							"useful": api.Int(1),
						}, nil
					},
				)
				wf := workflow.Must(
					workflow.NewAction("main",
						hijack,
						helpers.CountingStep("after", &after, nil),
					).WithOnError("handler"),
					workflow.NewAction("handler",
						helpers.CountingStep("handle", &handled, nil),
					),
				)

				wctx := newRunContext(t, st, "main", 0)
				r := engine.NewRunner(wf, engine.Hooks{}, nil)
				err := r.Run(ctx, wctx)
				assert.ErrorIs(t, err, engine.ErrReservedOutput)
				assert.Contains(t, err.Error(), string(key))
				assert.Equal(t, int32(0), handled.Load())
				assert.Equal(t, int32(0), after.Load())

				as := wrapper.New(t)
				as.ContextEquals(ctx, wctx,
					api.KeyWorkflowName, api.String("s1"))
				as.ContextEquals(ctx, wctx,
					api.KeyActionName, api.String("main"))
				as.ContextEquals(ctx, wctx,
					api.KeyCurrentStepName, api.String("hijack"))

				has, err := wctx.Load(ctx, "useful")
				assert.ErrorIs(t, err, engine.ErrNotInContext)
				assert.True(t, has.IsNull())
			})
		})
	}
}

func TestRunnerPublishesEvents(t *testing.T) {
	helpers.WithStore(t, func(st *store.Store) {
		var count atomic.Int32
		stepErr := errors.New("failed")
		wf := workflow.Must(
			workflow.NewAction("main",
				helpers.CountingStep("ok", &count, nil),
				helpers.FailingStep("bad", stepErr),
			),
		)

		var got []api.EventType
		r := engine.NewRunner(wf, engine.Hooks{}, func(ev engine.Event) {
			got = append(got, ev.Type)
		})
		err := r.Run(context.Background(), newRunContext(t, st, "main", 0))
		assert.Equal(t, stepErr, err)
		assert.Equal(t, []api.EventType{
			engine.EventStepStarted,
			engine.EventStepCompleted,
			engine.EventStepStarted,
			engine.EventStepFailed,
		}, got)
	})
}
