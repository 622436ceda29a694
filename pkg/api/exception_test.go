package api_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kode4food/stepwise/pkg/api"
)

type customError struct{ msg string }

func (e *customError) Error() string { return e.msg }

func TestExceptionInfo(t *testing.T) {
	err := &customError{msg: "went wrong"}
	info := api.NewExceptionInfo("act", "step", err, []byte("stack here"))

	assert.Equal(t, api.ActionName("act"), info.ActionName)
	assert.Equal(t, api.StepName("step"), info.StepName)
	assert.Equal(t, "*api_test.customError", info.ExceptionClass)
	assert.Equal(t, api.ClassOf(err), info.ExceptionClass)
	assert.Contains(t, info.SerializedTraceback, "went wrong")
	assert.Contains(t, info.SerializedTraceback, "stack here")

	got, err2 := api.ExceptionInfoFromValue(info.Value())
	assert.NoError(t, err2)
	assert.Equal(t, info, got)
}

func TestExceptionInfoFromInvalidValue(t *testing.T) {
	_, err := api.ExceptionInfoFromValue(api.Int(1))
	assert.ErrorIs(t, err, api.ErrInvalidExceptionInfo)

	_, err = api.ExceptionInfoFromValue(api.Map(map[string]api.Value{
		"action_name": api.String("a"),
	}))
	assert.ErrorIs(t, err, api.ErrInvalidExceptionInfo)

	info := api.NewExceptionInfo("a", "s", errors.New("plain"), nil)
	assert.Equal(t, "plain", info.SerializedTraceback)
}
