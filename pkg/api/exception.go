package api

import (
	"errors"
	"fmt"
)

// ExceptionInfo describes a step failure. It is the only channel through
// which failure detail reaches error-handling steps
type ExceptionInfo struct {
	ActionName          ActionName `json:"action_name"`
	StepName            StepName   `json:"step_name"`
	ExceptionClass      string     `json:"exception_class"`
	SerializedTraceback string     `json:"serialized_traceback"`
}

var ErrInvalidExceptionInfo = errors.New("invalid exception info")

// NewExceptionInfo captures err as raised by step within action. The
// exception class is the dynamic type of err, the traceback the error text
// followed by the supplied stack
func NewExceptionInfo(
	action ActionName, step StepName, err error, stack []byte,
) *ExceptionInfo {
	tb := err.Error()
	if len(stack) > 0 {
		tb += "\n\n" + string(stack)
	}
	return &ExceptionInfo{
		ActionName:          action,
		StepName:            step,
		ExceptionClass:      fmt.Sprintf("%T", err),
		SerializedTraceback: tb,
	}
}

// ClassOf returns the exception class NewExceptionInfo would record for err
func ClassOf(err error) string {
	return fmt.Sprintf("%T", err)
}

// Value converts e into the map Value stored in a context
func (e *ExceptionInfo) Value() Value {
	return Map(map[string]Value{
		"action_name":          String(string(e.ActionName)),
		"step_name":            String(string(e.StepName)),
		"exception_class":      String(e.ExceptionClass),
		"serialized_traceback": String(e.SerializedTraceback),
	})
}

// ExceptionInfoFromValue reverses ExceptionInfo.Value
func ExceptionInfoFromValue(v Value) (*ExceptionInfo, error) {
	m, ok := v.AsMap()
	if !ok {
		return nil, fmt.Errorf("%w: expected map, got %s",
			ErrInvalidExceptionInfo, v.Kind())
	}
	get := func(key string) (string, error) {
		s, ok := m[key].AsString()
		if !ok {
			return "", fmt.Errorf("%w: missing %s", ErrInvalidExceptionInfo, key)
		}
		return s, nil
	}

	var res ExceptionInfo
	var err error
	var action, step string
	if action, err = get("action_name"); err != nil {
		return nil, err
	}
	if step, err = get("step_name"); err != nil {
		return nil, err
	}
	if res.ExceptionClass, err = get("exception_class"); err != nil {
		return nil, err
	}
	if res.SerializedTraceback, err = get("serialized_traceback"); err != nil {
		return nil, err
	}
	res.ActionName = ActionName(action)
	res.StepName = StepName(step)
	return &res, nil
}
