package assert

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kode4food/stepwise/internal/config"
	"github.com/kode4food/stepwise/internal/store"
	"github.com/kode4food/stepwise/pkg/api"
)

type (
	Loader interface {
		Load(ctx context.Context, key api.Name) (api.Value, error)
	}

	// Wrapper wraps testify assertions with workflow-specific helpers
	Wrapper struct {
		*testing.T
		*assert.Assertions
	}
)

// DefaultRetryInterval is the default polling interval for Eventually checks
const DefaultRetryInterval = 10 * time.Millisecond

// New creates a new test assertion wrapper around testify's assert plus
// workflow-specific helpers
func New(t *testing.T) *Wrapper {
	return &Wrapper{
		T:          t,
		Assertions: assert.New(t),
	}
}

// ValueEqual asserts that two Values are deeply equal, kinds included
func (w *Wrapper) ValueEqual(expected, actual api.Value) {
	w.Helper()
	w.True(expected.Equal(actual), "expected %s, got %s", expected, actual)
}

// ContextEquals asserts that a context key holds the expected value
func (w *Wrapper) ContextEquals(
	ctx context.Context, l Loader, key api.Name, expected api.Value,
) {
	w.Helper()
	v, err := l.Load(ctx, key)
	w.NoError(err, "failed to load context key: %s", key)
	w.ValueEqual(expected, v)
}

// StepStatus asserts the recorded status of a step
func (w *Wrapper) StepStatus(
	ctx context.Context, p *store.StepStoreProxy, expected api.StepStatus,
) {
	w.Helper()
	status, err := p.Status(ctx)
	w.NoError(err)
	w.Equal(expected, status)
}

// ConfigValid asserts that a configuration is valid
func (w *Wrapper) ConfigValid(cfg *config.Config) {
	w.Helper()
	w.NoError(cfg.Validate())
	w.NotEmpty(cfg.Operation)
	w.True(cfg.ShutdownTimeout > 0)
}

// ConfigInvalid asserts that a configuration is invalid
func (w *Wrapper) ConfigInvalid(cfg *config.Config, contains string) {
	w.Helper()
	err := cfg.Validate()
	w.Error(err)
	if err != nil && contains != "" {
		w.Contains(err.Error(), contains)
	}
}

// Eventually runs a condition repeatedly until it passes or times out
func (w *Wrapper) Eventually(
	condition func() bool, timeout time.Duration, msg string, args ...any,
) {
	w.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(DefaultRetryInterval)
	}
	w.Fail(msg, args...)
}
