package api

type (
	// ScheduleID identifies one running or resumable operation instance
	ScheduleID string

	// ActionName identifies an Action within a Workflow
	ActionName string

	// StepName identifies a Step and is persisted as current_step_name
	StepName string

	// OperationName scopes store keys for a category of operation
	OperationName string

	// GroupName scopes step and group keys within an operation
	GroupName string

	// EventType scopes operation event keys
	EventType string

	// Direction tells whether a step group is executing or reverting
	Direction string
)

const (
	// DirectionExecuting marks the forward direction of a step group
	DirectionExecuting Direction = "E"

	// DirectionReverting marks the reverting direction of a step group
	DirectionReverting Direction = "R"
)

// IsValid reports whether d is one of the two known directions
func (d Direction) IsValid() bool {
	return d == DirectionExecuting || d == DirectionReverting
}
