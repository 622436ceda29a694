package helpers

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kode4food/stepwise/pkg/api"
	"github.com/kode4food/stepwise/pkg/workflow"
)

type (
	// StepRecorder records the steps seen by a StepHook, in call order
	StepRecorder struct {
		calls []StepCall
		mu    sync.Mutex
	}

	// StepCall identifies one hook invocation
	StepCall struct {
		Action api.ActionName
		Step   api.StepName
	}
)

// Hook records its invocation
func (r *StepRecorder) Hook(
	_ context.Context, action api.ActionName, step api.StepName,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, StepCall{Action: action, Step: step})
	return nil
}

// Calls returns the recorded invocations
func (r *StepRecorder) Calls() []StepCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := make([]StepCall, len(r.calls))
	copy(res, r.calls)
	return res
}

// CountingStep counts its invocations and returns out
func CountingStep(
	name api.StepName, count *atomic.Int32, out api.Args,
) *workflow.FuncStep {
	return workflow.NewStep(name,
		func(context.Context, api.Args) (api.Args, error) {
			count.Add(1)
			return out, nil
		},
	)
}

// FailingStep always returns err
func FailingStep(name api.StepName, err error) *workflow.FuncStep {
	return workflow.NewStep(name,
		func(context.Context, api.Args) (api.Args, error) {
			return nil, err
		},
	)
}

// BlockingStep signals started and then blocks until its context is
// cancelled
func BlockingStep(
	name api.StepName, started chan<- struct{},
) *workflow.FuncStep {
	return workflow.NewStep(name,
		func(ctx context.Context, _ api.Args) (api.Args, error) {
			started <- struct{}{}
			<-ctx.Done()
			return nil, ctx.Err()
		},
	)
}

// AwaitSignal fails the test unless ch is signalled within timeout
func AwaitSignal(t *testing.T, ch <-chan struct{}, timeout time.Duration) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(timeout):
		t.Fatal("timeout waiting for signal")
	}
}
