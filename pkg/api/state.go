package api

type (
	// StepStatus represents the current state of a step execution
	StepStatus string
)

const (
	StepCreated   StepStatus = "CREATED"
	StepRunning   StepStatus = "RUNNING"
	StepSuccess   StepStatus = "SUCCESS"
	StepFailed    StepStatus = "FAILED"
	StepCancelled StepStatus = "CANCELLED"
)

// Step metadata fields stored in a step hash
const (
	FieldStatus                     Name = "status"
	FieldDeferredTaskUID            Name = "deferred_task_uid"
	FieldErrorTraceback             Name = "error_traceback"
	FieldRequiresManualIntervention Name = "requires_manual_intervention"
)

// FieldDoneSteps is the group hash counter of finished steps
const FieldDoneSteps Name = "done_steps"

// IsTerminal reports whether no further transition is expected for s
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepSuccess, StepFailed, StepCancelled:
		return true
	default:
		return false
	}
}
