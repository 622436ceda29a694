package store

import (
	"strings"

	"github.com/kode4food/stepwise/pkg/api"
)

const (
	schedulePrefix   = "SCH"
	categorySteps    = "STEPS"
	categoryGroups   = "GROUPS"
	categoryOpCtx    = "OP_CTX"
	categoryEvents   = "EVENTS"
	categoryLease    = "LEASE"
	keySeparator     = ":"
	globSpecialChars = `\*?[]^`
)

// ScheduleKey is SCH:{schedule_id}
func ScheduleKey(id api.ScheduleID) string {
	return schedulePrefix + keySeparator + string(id)
}

// StepKey is SCH:{schedule_id}:STEPS:{operation}:{group}:{E|R}:{step_name}
func StepKey(
	id api.ScheduleID, op api.OperationName, group api.GroupName,
	dir api.Direction, step api.StepName,
) string {
	return join(ScheduleKey(id), categorySteps, string(op), string(group),
		string(dir), string(step))
}

// GroupKey is SCH:{schedule_id}:GROUPS:{operation}:{group}:{E|R}
func GroupKey(
	id api.ScheduleID, op api.OperationName, group api.GroupName,
	dir api.Direction,
) string {
	return join(ScheduleKey(id), categoryGroups, string(op), string(group),
		string(dir))
}

// OperationContextKey is SCH:{schedule_id}:OP_CTX:{operation}
func OperationContextKey(id api.ScheduleID, op api.OperationName) string {
	return join(ScheduleKey(id), categoryOpCtx, string(op))
}

// EventKey is SCH:{schedule_id}:EVENTS:{event_type}
func EventKey(id api.ScheduleID, eventType api.EventType) string {
	return join(ScheduleKey(id), categoryEvents, string(eventType))
}

// LeaseKey is SCH:{schedule_id}:LEASE
func LeaseKey(id api.ScheduleID) string {
	return join(ScheduleKey(id), categoryLease)
}

// ScheduleChildrenPattern matches every key nested under SCH:{schedule_id},
// but not the keys of another schedule whose id merely shares a prefix
func ScheduleChildrenPattern(id api.ScheduleID) string {
	return ScheduleKey(api.ScheduleID(escapeGlob(string(id)))) +
		keySeparator + "*"
}

// OperationContextPattern matches the operation context keys of every
// schedule for the given operation
func OperationContextPattern(op api.OperationName) string {
	return join(schedulePrefix, "*", categoryOpCtx, escapeGlob(string(op)))
}

// ScheduleIDFromOperationContextKey extracts the schedule id from a key
// produced by OperationContextKey
func ScheduleIDFromOperationContextKey(
	key string, op api.OperationName,
) (api.ScheduleID, bool) {
	rest, ok := strings.CutPrefix(key, schedulePrefix+keySeparator)
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, join("", categoryOpCtx, string(op)))
	if !ok || id == "" {
		return "", false
	}
	return api.ScheduleID(id), true
}

func join(parts ...string) string {
	return strings.Join(parts, keySeparator)
}

func escapeGlob(s string) string {
	if !strings.ContainsAny(s, globSpecialChars) {
		return s
	}
	var sb strings.Builder
	for _, r := range s {
		if strings.ContainsRune(globSpecialChars, r) {
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
