package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kode4food/stepwise/pkg/api"
	"github.com/kode4food/stepwise/pkg/log"
	"github.com/kode4food/stepwise/pkg/workflow"
)

const (
	ActionProvision api.ActionName = "provision"
	ActionVerify    api.ActionName = "verify"
	ActionRollback  api.ActionName = "rollback"

	KeyClusterName api.Name = "cluster_name"
	KeyNodeCount   api.Name = "node_count"
	KeyNodeIDs     api.Name = "node_ids"
	KeyNetwork     api.Name = "network"
	KeyHealthy     api.Name = "healthy"
	KeyFailedStep  api.Name = "failed_step"

	defaultNodeCount = 3
)

// NewProvisioningWorkflow builds the cluster provisioning workflow hosted by
// the service
func NewProvisioningWorkflow() *workflow.Workflow {
	return workflow.Must(
		workflow.NewAction(ActionProvision,
			workflow.NewStep("validate_request", validateRequest).
				Required(KeyClusterName).
				Provides(KeyNodeCount),
			workflow.NewStep("allocate_nodes", allocateNodes).
				Required(KeyClusterName, KeyNodeCount).
				Provides(KeyNodeIDs),
			workflow.NewStep("configure_network", configureNetwork).
				Required(KeyNodeIDs).
				Provides(KeyNetwork),
		).WithNext(ActionVerify).WithOnError(ActionRollback),

		workflow.NewAction(ActionVerify,
			workflow.NewStep("health_check", healthCheck).
				Required(KeyNodeIDs, KeyNetwork).
				Provides(KeyHealthy),
		).WithOnError(ActionRollback),

		workflow.NewAction(ActionRollback,
			workflow.NewStep("record_failure", recordFailure).
				Required(KeyClusterName, api.KeyUnexpectedRuntimeException).
				Provides(KeyFailedStep),
		),
	)
}

func validateRequest(_ context.Context, in api.Args) (api.Args, error) {
	name := in.GetString(KeyClusterName, "")
	if name == "" {
		return nil, fmt.Errorf("%s must be a non-empty string", KeyClusterName)
	}
	return api.Args{KeyNodeCount: api.Int(defaultNodeCount)}, nil
}

func allocateNodes(_ context.Context, in api.Args) (api.Args, error) {
	name := in.GetString(KeyClusterName, "")
	count := in.GetInt(KeyNodeCount, defaultNodeCount)
	if count <= 0 {
		return nil, fmt.Errorf("%s must be positive, got %d", KeyNodeCount, count)
	}

	ids := make([]api.Value, count)
	for i := range ids {
		ids[i] = api.String(fmt.Sprintf("%s-node-%d", name, i))
	}
	return api.Args{KeyNodeIDs: api.List(ids...)}, nil
}

func configureNetwork(_ context.Context, in api.Args) (api.Args, error) {
	ids, ok := in[KeyNodeIDs].AsList()
	if !ok || len(ids) == 0 {
		return nil, fmt.Errorf("%s must be a non-empty list", KeyNodeIDs)
	}

	hosts := make(map[string]api.Value, len(ids))
	for i, id := range ids {
		node, _ := id.AsString()
		hosts[node] = api.String(fmt.Sprintf("10.0.0.%d", i+10))
	}
	return api.Args{KeyNetwork: api.Map(hosts)}, nil
}

func healthCheck(_ context.Context, in api.Args) (api.Args, error) {
	ids, _ := in[KeyNodeIDs].AsList()
	hosts, _ := in[KeyNetwork].AsMap()
	for _, id := range ids {
		node, _ := id.AsString()
		if _, ok := hosts[node]; !ok {
			return nil, fmt.Errorf("node %s has no address", node)
		}
	}
	return api.Args{KeyHealthy: api.Bool(true)}, nil
}

func recordFailure(_ context.Context, in api.Args) (api.Args, error) {
	info, err := api.ExceptionInfoFromValue(
		in[api.KeyUnexpectedRuntimeException],
	)
	if err != nil {
		return nil, err
	}
	slog.Warn("Provisioning rolled back",
		slog.String("cluster", in.GetString(KeyClusterName, "")),
		log.Action(info.ActionName),
		log.Step(info.StepName),
		slog.String("exception_class", info.ExceptionClass))
	return api.Args{KeyFailedStep: api.String(string(info.StepName))}, nil
}
