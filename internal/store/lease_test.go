package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kode4food/stepwise/internal/assert/helpers"
	"github.com/kode4food/stepwise/internal/store"
)

func TestNewLeaseInvalidTTL(t *testing.T) {
	helpers.WithStore(t, func(st *store.Store) {
		_, err := store.NewLease(st, "s1", 0)
		assert.ErrorIs(t, err, store.ErrInvalidLeaseTTL)
	})
}

func TestLeaseExclusive(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEnv) {
		ctx := context.Background()

		first, err := store.NewLease(env.Store, "s1", time.Minute)
		assert.NoError(t, err)
		second, err := store.NewLease(env.NewStore(t), "s1", time.Minute)
		assert.NoError(t, err)
		assert.NotEqual(t, first.Owner(), second.Owner())

		assert.NoError(t, first.Acquire(ctx))
		assert.ErrorIs(t, second.Acquire(ctx), store.ErrLeaseHeld)

		assert.NoError(t, first.Renew(ctx))
		assert.ErrorIs(t, second.Renew(ctx), store.ErrLeaseLost)

		assert.NoError(t, second.Release(ctx))
		assert.True(t, env.Redis.Exists(store.LeaseKey("s1")))

		assert.NoError(t, first.Release(ctx))
		assert.False(t, env.Redis.Exists(store.LeaseKey("s1")))
		assert.NoError(t, second.Acquire(ctx))
	})
}

func TestLeaseExpiry(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEnv) {
		ctx := context.Background()
		l, err := store.NewLease(env.Store, "s1", time.Second)
		assert.NoError(t, err)
		assert.NoError(t, l.Acquire(ctx))

		env.Redis.FastForward(2 * time.Second)
		assert.ErrorIs(t, l.Renew(ctx), store.ErrLeaseLost)

		other, err := store.NewLease(env.Store, "s1", time.Second)
		assert.NoError(t, err)
		assert.NoError(t, other.Acquire(ctx))
	})
}

func TestLeaseKeepReportsLoss(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEnv) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		l, err := store.NewLease(env.Store, "s1", 30*time.Millisecond)
		assert.NoError(t, err)
		assert.NoError(t, l.Acquire(ctx))

		env.Redis.Del(store.LeaseKey("s1"))

		lost := make(chan error, 1)
		go l.Keep(ctx, func(err error) { lost <- err })

		select {
		case err := <-lost:
			assert.ErrorIs(t, err, store.ErrLeaseLost)
		case <-time.After(2 * time.Second):
			t.Fatal("lease loss not reported")
		}
	})
}

func TestLeaseKeepStopsOnCancel(t *testing.T) {
	helpers.WithStore(t, func(st *store.Store) {
		ctx, cancel := context.WithCancel(context.Background())
		l, err := store.NewLease(st, "s1", 30*time.Millisecond)
		assert.NoError(t, err)
		assert.NoError(t, l.Acquire(ctx))

		done := make(chan struct{})
		go func() {
			l.Keep(ctx, func(error) { t.Error("unexpected lease loss") })
			close(done)
		}()

		time.Sleep(50 * time.Millisecond)
		cancel()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("keeper did not stop")
		}
	})
}
