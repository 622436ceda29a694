package store_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kode4food/stepwise/internal/assert/helpers"
	"github.com/kode4food/stepwise/internal/store"
	"github.com/kode4food/stepwise/pkg/api"
)

func TestKeyFormat(t *testing.T) {
	assert.Equal(t, "SCH:s1", store.ScheduleKey("s1"))
	assert.Equal(t, "SCH:s1:STEPS:op:grp:E:step",
		store.StepKey("s1", "op", "grp", api.DirectionExecuting, "step"))
	assert.Equal(t, "SCH:s1:GROUPS:op:grp:R",
		store.GroupKey("s1", "op", "grp", api.DirectionReverting))
	assert.Equal(t, "SCH:s1:OP_CTX:op", store.OperationContextKey("s1", "op"))
	assert.Equal(t, "SCH:s1:EVENTS:started", store.EventKey("s1", "started"))
	assert.Equal(t, "SCH:s1:LEASE", store.LeaseKey("s1"))
	assert.Equal(t, "SCH:s1:*", store.ScheduleChildrenPattern("s1"))
	assert.Equal(t, `SCH:a\*b:*`, store.ScheduleChildrenPattern("a*b"))
	assert.Equal(t, "SCH:*:OP_CTX:op", store.OperationContextPattern("op"))
}

func TestScheduleIDFromOperationContextKey(t *testing.T) {
	id, ok := store.ScheduleIDFromOperationContextKey(
		store.OperationContextKey("with:colon", "op"), "op",
	)
	assert.True(t, ok)
	assert.Equal(t, api.ScheduleID("with:colon"), id)

	_, ok = store.ScheduleIDFromOperationContextKey("SCH:x:OP_CTX:other", "op")
	assert.False(t, ok)

	_, ok = store.ScheduleIDFromOperationContextKey("NOPE:x:OP_CTX:op", "op")
	assert.False(t, ok)
}

func TestProxyKeysArePrefixed(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEnv) {
		ctx := context.Background()
		st := env.Store
		proxies := []interface {
			CreateOrUpdate(context.Context, api.Name, api.Value) error
			Key() string
		}{
			store.NewScheduleDataStoreProxy(st, "s1"),
			store.NewStepStoreProxy(
				st, "s1", "op", "grp", api.DirectionExecuting, "step",
			),
			store.NewStepGroupProxy(st, "s1", "op", "grp", api.DirectionExecuting),
			store.NewOperationContextProxy(st, "s1", "op"),
			store.NewOperationEventsProxy(st, "s1", "started"),
		}
		for _, p := range proxies {
			assert.NoError(t, p.CreateOrUpdate(ctx, "f", api.Int(1)))
		}

		keys := env.Keys()
		assert.Len(t, keys, len(proxies))
		for _, k := range keys {
			assert.Regexp(t, `^SCH:s1(:|$)`, k)
		}
	})
}

func TestHashProxy(t *testing.T) {
	helpers.WithStore(t, func(st *store.Store) {
		ctx := context.Background()
		p := store.NewOperationContextProxy(st, "s1", "op")

		ok, err := p.Exists(ctx)
		assert.NoError(t, err)
		assert.False(t, ok)

		err = p.CreateOrUpdateMultiple(ctx, api.Args{
			"a": api.Int(1),
			"b": api.String("two"),
		})
		assert.NoError(t, err)

		res, err := p.Read(ctx, "b", "a")
		assert.NoError(t, err)
		assert.True(t, res[0].Equal(api.String("two")))
		assert.True(t, res[1].Equal(api.Int(1)))

		has, err := p.Has(ctx, "a")
		assert.NoError(t, err)
		assert.True(t, has)

		assert.NoError(t, p.DeleteKeys(ctx, "a"))
		all, err := p.ReadAll(ctx)
		assert.NoError(t, err)
		assert.True(t, all.Equal(api.Args{"b": api.String("two")}))

		assert.NoError(t, p.Delete(ctx))
		ok, err = p.Exists(ctx)
		assert.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestStepStoreProxy(t *testing.T) {
	helpers.WithStore(t, func(st *store.Store) {
		ctx := context.Background()
		p := store.NewStepStoreProxy(
			st, "s1", "op", "grp", api.DirectionExecuting, "step",
		)

		status, err := p.Status(ctx)
		assert.NoError(t, err)
		assert.Empty(t, status)

		assert.NoError(t, p.SetStatus(ctx, api.StepRunning))
		assert.NoError(t, p.SetDeferredTaskUID(ctx, "task-1"))
		assert.NoError(t, p.SetErrorTraceback(ctx, "boom"))
		assert.NoError(t, p.SetRequiresManualIntervention(ctx, true))

		status, err = p.Status(ctx)
		assert.NoError(t, err)
		assert.Equal(t, api.StepRunning, status)

		all, err := p.ReadAll(ctx)
		assert.NoError(t, err)
		assert.Equal(t, "task-1", all.GetString(api.FieldDeferredTaskUID, ""))
		assert.Equal(t, "boom", all.GetString(api.FieldErrorTraceback, ""))
		assert.True(t, all.GetBool(api.FieldRequiresManualIntervention, false))
	})
}

func TestStepGroupProxyCounter(t *testing.T) {
	helpers.WithStore(t, func(st *store.Store) {
		ctx := context.Background()
		p := store.NewStepGroupProxy(st, "s1", "op", "grp", api.DirectionExecuting)

		for want := int64(1); want <= 4; want++ {
			got, err := p.IncrementAndGetDoneStepsCount(ctx)
			assert.NoError(t, err)
			assert.Equal(t, want, got)
		}
		got, err := p.DecrementAndGetDoneStepsCount(ctx)
		assert.NoError(t, err)
		assert.Equal(t, int64(3), got)
	})
}

func TestStepGroupProxyConcurrentIncrement(t *testing.T) {
	helpers.WithStore(t, func(st *store.Store) {
		ctx := context.Background()
		const workers = 32

		var mu sync.Mutex
		seen := map[int64]bool{}
		var wg sync.WaitGroup
		for range workers {
			wg.Go(func() {
				p := store.NewStepGroupProxy(
					st, "s1", "op", "grp", api.DirectionExecuting,
				)
				got, err := p.IncrementAndGetDoneStepsCount(ctx)
				assert.NoError(t, err)
				mu.Lock()
				defer mu.Unlock()
				assert.False(t, seen[got], "count %d returned twice", got)
				seen[got] = true
			})
		}
		wg.Wait()

		assert.Len(t, seen, workers)
		for want := int64(1); want <= workers; want++ {
			assert.True(t, seen[want])
		}
		all, err := store.NewStepGroupProxy(
			st, "s1", "op", "grp", api.DirectionExecuting,
		).ReadAll(ctx)
		assert.NoError(t, err)
		assert.Equal(t, int64(workers), all.GetInt(api.FieldDoneSteps, 0))
	})
}

func TestOperationRemoval(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEnv) {
		ctx := context.Background()
		st := env.Store

		seed := func(id api.ScheduleID) {
			assert.NoError(t, store.NewScheduleDataStoreProxy(st, id).
				CreateOrUpdate(ctx, "f", api.Int(1)))
			for _, op := range []api.OperationName{"op1", "op2"} {
				assert.NoError(t, store.NewOperationContextProxy(st, id, op).
					CreateOrUpdate(ctx, "f", api.Int(1)))
				for i := range 3 {
					step := api.StepName(fmt.Sprintf("step-%d", i))
					assert.NoError(t, store.NewStepStoreProxy(
						st, id, op, "grp", api.DirectionExecuting, step,
					).SetStatus(ctx, api.StepSuccess))
				}
			}
		}
		seed("a")
		seed("ab")

		removal := store.NewOperationRemovalProxy(st, "a")
		assert.NoError(t, removal.Delete(ctx))

		for _, k := range env.Keys() {
			assert.Regexp(t, `^SCH:ab(:|$)`, k)
		}
		assert.Len(t, env.Keys(), 1+2+2*3)

		assert.NoError(t, removal.Delete(ctx))
		assert.NoError(t, store.NewOperationRemovalProxy(st, "ab").Delete(ctx))
		assert.Empty(t, env.Keys())
	})
}

func TestOperationRemovalManyKeys(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEnv) {
		ctx := context.Background()
		for i := range 1200 {
			step := api.StepName(fmt.Sprintf("step-%d", i))
			p := store.NewStepStoreProxy(
				env.Store, "big", "op", "grp", api.DirectionExecuting, step,
			)
			assert.NoError(t, p.SetStatus(ctx, api.StepCreated))
		}

		err := store.NewOperationRemovalProxy(env.Store, "big").Delete(ctx)
		assert.NoError(t, err)
		assert.Empty(t, env.Keys())
	})
}
