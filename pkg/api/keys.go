package api

// Reserved context keys maintained by the runner. They are always present in
// a serialized context and anchor resumption
const (
	KeyWorkflowName     Name = "workflow_name"
	KeyActionName       Name = "action_name"
	KeyCurrentStepIndex Name = "current_step_index"
	KeyCurrentStepName  Name = "current_step_name"

	// KeyUnexpectedRuntimeException holds the ExceptionInfo of the step
	// failure that routed execution to an error-handling action
	KeyUnexpectedRuntimeException Name = "unexpected_runtime_exception"
)

// ReservedKeys lists the bookkeeping keys every context carries
var ReservedKeys = []Name{
	KeyWorkflowName,
	KeyActionName,
	KeyCurrentStepIndex,
	KeyCurrentStepName,
}

// IsReserved reports whether name is one of the bookkeeping keys
func IsReserved(name Name) bool {
	switch name {
	case KeyWorkflowName, KeyActionName, KeyCurrentStepIndex,
		KeyCurrentStepName:
		return true
	default:
		return false
	}
}
