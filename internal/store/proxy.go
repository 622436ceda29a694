package store

import (
	"context"
	"fmt"

	"github.com/kode4food/stepwise/pkg/api"
)

type (
	// HashProxy is a key-scoped view over a single Store hash
	HashProxy struct {
		store *Store
		key   string
	}

	// ScheduleDataStoreProxy scopes SCH:{schedule_id}
	ScheduleDataStoreProxy struct {
		HashProxy
	}

	// StepStoreProxy scopes the metadata hash of one step
	StepStoreProxy struct {
		HashProxy
	}

	// StepGroupProxy scopes the hash of a group of steps, holding the
	// done_steps counter used to detect completion of parallel steps
	StepGroupProxy struct {
		HashProxy
	}

	// OperationContextProxy scopes the context hash of an operation
	OperationContextProxy struct {
		HashProxy
	}

	// OperationEventsProxy scopes the hash of one event type
	OperationEventsProxy struct {
		HashProxy
	}

	// OperationRemovalProxy deletes every key belonging to a schedule
	OperationRemovalProxy struct {
		store      *Store
		scheduleID api.ScheduleID
	}
)

// NewScheduleDataStoreProxy returns a proxy over SCH:{schedule_id}
func NewScheduleDataStoreProxy(
	s *Store, id api.ScheduleID,
) *ScheduleDataStoreProxy {
	return &ScheduleDataStoreProxy{
		HashProxy: HashProxy{store: s, key: ScheduleKey(id)},
	}
}

// NewStepStoreProxy returns a proxy over the hash of a single step
func NewStepStoreProxy(
	s *Store, id api.ScheduleID, op api.OperationName, group api.GroupName,
	dir api.Direction, step api.StepName,
) *StepStoreProxy {
	return &StepStoreProxy{
		HashProxy: HashProxy{
			store: s,
			key:   StepKey(id, op, group, dir, step),
		},
	}
}

// NewStepGroupProxy returns a proxy over the hash of a step group
func NewStepGroupProxy(
	s *Store, id api.ScheduleID, op api.OperationName, group api.GroupName,
	dir api.Direction,
) *StepGroupProxy {
	return &StepGroupProxy{
		HashProxy: HashProxy{store: s, key: GroupKey(id, op, group, dir)},
	}
}

// NewOperationContextProxy returns a proxy over an operation's context
func NewOperationContextProxy(
	s *Store, id api.ScheduleID, op api.OperationName,
) *OperationContextProxy {
	return &OperationContextProxy{
		HashProxy: HashProxy{store: s, key: OperationContextKey(id, op)},
	}
}

// NewOperationEventsProxy returns a proxy over the hash of an event type
func NewOperationEventsProxy(
	s *Store, id api.ScheduleID, eventType api.EventType,
) *OperationEventsProxy {
	return &OperationEventsProxy{
		HashProxy: HashProxy{store: s, key: EventKey(id, eventType)},
	}
}

// NewOperationRemovalProxy returns a proxy able to delete all keys of a
// schedule
func NewOperationRemovalProxy(
	s *Store, id api.ScheduleID,
) *OperationRemovalProxy {
	return &OperationRemovalProxy{store: s, scheduleID: id}
}

// Key returns the Store key this proxy is scoped to
func (p *HashProxy) Key() string {
	return p.key
}

func (p *HashProxy) CreateOrUpdate(
	ctx context.Context, field api.Name, value api.Value,
) error {
	return p.store.SetKeyInHash(ctx, p.key, field, value)
}

func (p *HashProxy) CreateOrUpdateMultiple(
	ctx context.Context, values api.Args,
) error {
	return p.store.SetKeysInHash(ctx, p.key, values)
}

func (p *HashProxy) Read(
	ctx context.Context, fields ...api.Name,
) ([]api.Value, error) {
	return p.store.GetKeysFromHash(ctx, p.key, fields...)
}

func (p *HashProxy) ReadAll(ctx context.Context) (api.Args, error) {
	return p.store.GetAllFromHash(ctx, p.key)
}

func (p *HashProxy) Has(ctx context.Context, field api.Name) (bool, error) {
	return p.store.HasKeyInHash(ctx, p.key, field)
}

func (p *HashProxy) DeleteKeys(ctx context.Context, fields ...api.Name) error {
	return p.store.DeleteKeyFromHash(ctx, p.key, fields...)
}

func (p *HashProxy) Delete(ctx context.Context) error {
	return p.store.Delete(ctx, p.key)
}

func (p *HashProxy) Exists(ctx context.Context) (bool, error) {
	return p.store.Exists(ctx, p.key)
}

// SetStatus records the execution status of the step
func (p *StepStoreProxy) SetStatus(
	ctx context.Context, status api.StepStatus,
) error {
	return p.CreateOrUpdate(ctx, api.FieldStatus, api.String(string(status)))
}

// Status returns the recorded status, or empty if none was recorded
func (p *StepStoreProxy) Status(ctx context.Context) (api.StepStatus, error) {
	res, err := p.Read(ctx, api.FieldStatus)
	if err != nil {
		return "", err
	}
	s, _ := res[0].AsString()
	return api.StepStatus(s), nil
}

// SetDeferredTaskUID links the step to an external asynchronous task
func (p *StepStoreProxy) SetDeferredTaskUID(
	ctx context.Context, uid string,
) error {
	return p.CreateOrUpdate(ctx, api.FieldDeferredTaskUID, api.String(uid))
}

// SetErrorTraceback records the failure detail of the step
func (p *StepStoreProxy) SetErrorTraceback(
	ctx context.Context, tb string,
) error {
	return p.CreateOrUpdate(ctx, api.FieldErrorTraceback, api.String(tb))
}

// SetRequiresManualIntervention flags the step for operator attention
func (p *StepStoreProxy) SetRequiresManualIntervention(
	ctx context.Context, required bool,
) error {
	return p.CreateOrUpdate(
		ctx, api.FieldRequiresManualIntervention, api.Bool(required),
	)
}

// IncrementAndGetDoneStepsCount atomically bumps done_steps
func (p *StepGroupProxy) IncrementAndGetDoneStepsCount(
	ctx context.Context,
) (int64, error) {
	return p.store.IncreaseKeyInHashAndGet(ctx, p.key, api.FieldDoneSteps)
}

// DecrementAndGetDoneStepsCount atomically lowers done_steps
func (p *StepGroupProxy) DecrementAndGetDoneStepsCount(
	ctx context.Context,
) (int64, error) {
	return p.store.DecreaseKeyInHashAndGet(ctx, p.key, api.FieldDoneSteps)
}

// Delete removes every key of the schedule, however many operations, groups
// and steps it holds. Deleting an empty schedule is a no-op
func (p *OperationRemovalProxy) Delete(ctx context.Context) error {
	keys, err := p.store.Keys(ctx, ScheduleChildrenPattern(p.scheduleID))
	if err != nil {
		return fmt.Errorf("failed to list schedule keys: %w", err)
	}
	keys = append(keys, ScheduleKey(p.scheduleID))

	for len(keys) > 0 {
		n := min(len(keys), scanBatchSize)
		if err := p.store.Delete(ctx, keys[:n]...); err != nil {
			return err
		}
		keys = keys[n:]
	}
	return nil
}
