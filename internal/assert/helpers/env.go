package helpers

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"

	"github.com/kode4food/stepwise/internal/engine"
	"github.com/kode4food/stepwise/internal/store"
	"github.com/kode4food/stepwise/pkg/workflow"
)

// TestEnv holds a Store backed by an in-memory Redis server
type TestEnv struct {
	Store    *store.Store
	Redis    *miniredis.Miniredis
	Cleanup  func()
	managers []*engine.Manager
}

const defaultTeardownTimeout = 5 * time.Second

// NewTestEnv starts an in-memory Redis server and connects a Store to it
func NewTestEnv(t *testing.T) *TestEnv {
	t.Helper()

	server, err := miniredis.Run()
	assert.NoError(t, err)

	st, err := store.New(store.Config{Addr: server.Addr()})
	assert.NoError(t, err)

	env := &TestEnv{
		Store: st,
		Redis: server,
	}
	env.Cleanup = func() {
		ctx, cancel := context.WithTimeout(
			context.Background(), defaultTeardownTimeout,
		)
		defer cancel()
		for _, m := range env.managers {
			_ = m.Teardown(ctx)
		}
		_ = st.Close()
		server.Close()
	}
	return env
}

// NewManager creates a Manager over the environment's Store and sets it up.
// It is torn down by Cleanup
func (e *TestEnv) NewManager(
	t *testing.T, wf *workflow.Workflow, opts ...engine.Option,
) *engine.Manager {
	t.Helper()
	return e.NewManagerWithStore(t, e.Store, wf, opts...)
}

// NewManagerWithStore creates a Manager over the given Store and sets it up.
// It is torn down by Cleanup
func (e *TestEnv) NewManagerWithStore(
	t *testing.T, st *store.Store, wf *workflow.Workflow,
	opts ...engine.Option,
) *engine.Manager {
	t.Helper()
	m := engine.NewManager(st, wf, opts...)
	assert.NoError(t, m.Setup(context.Background()))
	e.managers = append(e.managers, m)
	return m
}

// NewStore connects an additional Store to the same Redis server. Used to
// simulate a second process sharing the backend
func (e *TestEnv) NewStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(store.Config{Addr: e.Redis.Addr()})
	assert.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// Keys returns every key currently held by the server
func (e *TestEnv) Keys() []string {
	return e.Redis.Keys()
}

// WithTestEnv creates a test environment, executes the provided function
// with it, and ensures cleanup happens automatically
func WithTestEnv(t *testing.T, fn func(*TestEnv)) {
	t.Helper()
	env := NewTestEnv(t)
	defer env.Cleanup()
	fn(env)
}

// WithStore creates a test environment and executes the provided function
// with its Store
func WithStore(t *testing.T, fn func(*store.Store)) {
	t.Helper()
	WithTestEnv(t, func(env *TestEnv) {
		fn(env.Store)
	})
}
