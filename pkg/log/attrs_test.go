package log_test

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kode4food/stepwise/pkg/api"
	"github.com/kode4food/stepwise/pkg/log"
)

type errStub string

func TestScheduleID(t *testing.T) {
	attr := log.ScheduleID(api.ScheduleID("sched-123"))
	assertAttrEqual(t, attr, "schedule_id", "sched-123")
}

func TestAction(t *testing.T) {
	attr := log.Action(api.ActionName("provision"))
	assertAttrEqual(t, attr, "action", "provision")
}

func TestStep(t *testing.T) {
	attr := log.Step(api.StepName("create_volume"))
	assertAttrEqual(t, attr, "step", "create_volume")
}

func TestStepIndex(t *testing.T) {
	attr := log.StepIndex(3)
	assertAttrEqual(t, attr, "step_index", "3")
}

func TestOperation(t *testing.T) {
	attr := log.Operation(api.OperationName("start"))
	assertAttrEqual(t, attr, "operation", "start")
}

func TestError(t *testing.T) {
	attr := log.Error(nil)
	assertAttrEqual(t, attr, "error", "")

	attr = log.Error(errStub("boom"))
	assertAttrEqual(t, attr, "error", "boom")
}

func TestErrorString(t *testing.T) {
	attr := log.ErrorString("badness")
	assertAttrEqual(t, attr, "error", "badness")
}

func (e errStub) Error() string { return string(e) }

func assertAttrEqual(t *testing.T, attr slog.Attr, key, value string) {
	t.Helper()
	assert.Equal(t, key, attr.Key)
	assert.Equal(t, value, attr.Value.String())
}
