package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kode4food/stepwise/internal/assert/helpers"
	"github.com/kode4food/stepwise/internal/engine"
	"github.com/kode4food/stepwise/pkg/api"
	"github.com/kode4food/stepwise/pkg/workflow"
)

func TestProvisioningWorkflow(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEnv) {
		ctx := context.Background()
		after := &helpers.StepRecorder{}
		m := env.NewManager(t, NewProvisioningWorkflow(),
			engine.WithAfterStepHook(after.Hook),
		)

		err := m.Start(ctx, "alpha", ActionProvision, api.Args{
			KeyClusterName: api.String("alpha"),
		})
		assert.NoError(t, err)
		assert.NoError(t, m.Wait(ctx, "alpha"))

		assert.Equal(t, []helpers.StepCall{
			{Action: ActionProvision, Step: "validate_request"},
			{Action: ActionProvision, Step: "allocate_nodes"},
			{Action: ActionProvision, Step: "configure_network"},
			{Action: ActionVerify, Step: "health_check"},
		}, after.Calls())
		assert.Empty(t, env.Keys())
	})
}

func TestProvisioningRollback(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEnv) {
		ctx := context.Background()
		after := &helpers.StepRecorder{}
		m := env.NewManager(t, NewProvisioningWorkflow(),
			engine.WithAfterStepHook(after.Hook),
		)

		err := m.Start(ctx, "beta", ActionProvision, api.Args{
			KeyClusterName: api.String(""),
		})
		assert.NoError(t, err)
		assert.NoError(t, m.Wait(ctx, "beta"))

		assert.Equal(t, []helpers.StepCall{
			{Action: ActionRollback, Step: "record_failure"},
		}, after.Calls())
	})
}

func TestProvisioningRequiresClusterName(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEnv) {
		m := env.NewManager(t, NewProvisioningWorkflow())

		err := m.Start(context.Background(), "gamma", ActionProvision, nil)
		assert.ErrorIs(t, err, workflow.ErrUnresolvedInput)
		assert.False(t, m.Running("gamma"))
		assert.Empty(t, env.Keys())
	})
}

func TestAllocateNodes(t *testing.T) {
	out, err := allocateNodes(context.Background(), api.Args{
		KeyClusterName: api.String("c"),
		KeyNodeCount:   api.Int(2),
	})
	assert.NoError(t, err)
	assert.True(t, out[KeyNodeIDs].Equal(
		api.List(api.String("c-node-0"), api.String("c-node-1")),
	))

	_, err = allocateNodes(context.Background(), api.Args{
		KeyClusterName: api.String("c"),
		KeyNodeCount:   api.Int(0),
	})
	assert.Error(t, err)
}
