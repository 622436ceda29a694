package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kode4food/stepwise/internal/store"
	"github.com/kode4food/stepwise/pkg/api"
)

// Context is the persisted data of one schedule's operation: the values
// steps read and produce, plus the reserved keys recording the current
// position. Only the task running the schedule writes to it
type Context struct {
	store      *store.Store
	proxy      *store.OperationContextProxy
	scheduleID api.ScheduleID
	operation  api.OperationName
	mu         sync.RWMutex
	closed     bool
}

var (
	ErrContextClosed            = errors.New("context is closed")
	ErrContextNotFound          = errors.New("context not found")
	ErrNotInContext             = errors.New("key not in context")
	ErrGetTypeMismatch          = errors.New("context value has unexpected kind")
	ErrSetTypeMismatch          = errors.New("context value kind cannot change")
	ErrInvalidSerializedContext = errors.New("invalid serialized context")
)

// NewContext binds a Context to the operation context hash of a schedule
func NewContext(
	s *store.Store, id api.ScheduleID, op api.OperationName,
) *Context {
	return &Context{
		store:      s,
		proxy:      store.NewOperationContextProxy(s, id, op),
		scheduleID: id,
		operation:  op,
	}
}

// ScheduleID returns the schedule this context belongs to
func (c *Context) ScheduleID() api.ScheduleID {
	return c.scheduleID
}

// Operation returns the operation this context belongs to
func (c *Context) Operation() api.OperationName {
	return c.operation
}

// Setup opens the context for writing
func (c *Context) Setup(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = false
	return nil
}

// Teardown closes the context. Persisted data is left untouched
func (c *Context) Teardown(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Serialize returns every persisted entry, reserved keys included
func (c *Context) Serialize(ctx context.Context) (api.Args, error) {
	data, err := c.proxy.ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrContextNotFound, c.scheduleID)
	}
	return data, nil
}

// Deserialize replaces the persisted entries with data, which must hold
// every reserved key with its expected kind
func (c *Context) Deserialize(ctx context.Context, data api.Args) error {
	if err := validateSerialized(data); err != nil {
		return err
	}
	if err := c.checkOpen(); err != nil {
		return err
	}
	if err := c.proxy.Delete(ctx); err != nil {
		return err
	}
	return c.proxy.CreateOrUpdateMultiple(ctx, data)
}

// Load returns the value stored under key
func (c *Context) Load(ctx context.Context, key api.Name) (api.Value, error) {
	res, err := c.LoadMultiple(ctx, key)
	if err != nil {
		return api.Value{}, err
	}
	return res[key], nil
}

// LoadKind returns the value stored under key, which must be of kind
func (c *Context) LoadKind(
	ctx context.Context, key api.Name, kind api.Kind,
) (api.Value, error) {
	v, err := c.Load(ctx, key)
	if err != nil {
		return api.Value{}, err
	}
	if v.Kind() != kind {
		return api.Value{}, fmt.Errorf("%w: %s is %s, expected %s",
			ErrGetTypeMismatch, key, v.Kind(), kind)
	}
	return v, nil
}

// LoadMultiple returns the values stored under keys. Every key must be
// present, though it may hold null
func (c *Context) LoadMultiple(
	ctx context.Context, keys ...api.Name,
) (api.Args, error) {
	vals, err := c.proxy.Read(ctx, keys...)
	if err != nil {
		return nil, err
	}
	res := make(api.Args, len(keys))
	var missing []api.Name
	for i, key := range keys {
		if vals[i].IsNull() {
			ok, err := c.proxy.Has(ctx, key)
			if err != nil {
				return nil, err
			}
			if !ok {
				missing = append(missing, key)
				continue
			}
		}
		res[key] = vals[i]
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrNotInContext, missing)
	}
	return res, nil
}

// Save stores a single value
func (c *Context) Save(
	ctx context.Context, key api.Name, value api.Value,
) error {
	return c.SaveMultiple(ctx, api.Args{key: value})
}

// SaveMultiple stores several values at once. A key already holding a
// non-null value only accepts values of the same kind, or null
func (c *Context) SaveMultiple(ctx context.Context, values api.Args) error {
	if len(values) == 0 {
		return nil
	}
	if err := c.checkOpen(); err != nil {
		return err
	}

	names := values.Names()
	existing, err := c.proxy.Read(ctx, names...)
	if err != nil {
		return err
	}
	for i, name := range names {
		prev, next := existing[i], values[name]
		if prev.IsNull() || next.IsNull() || prev.Kind() == next.Kind() {
			continue
		}
		return fmt.Errorf("%w: %s is %s, got %s",
			ErrSetTypeMismatch, name, prev.Kind(), next.Kind())
	}
	return c.proxy.CreateOrUpdateMultiple(ctx, values)
}

// WorkflowName returns the schedule name recorded in the context
func (c *Context) WorkflowName(ctx context.Context) (api.ScheduleID, error) {
	s, err := c.loadString(ctx, api.KeyWorkflowName)
	return api.ScheduleID(s), err
}

// ActionName returns the Action the schedule is positioned in
func (c *Context) ActionName(ctx context.Context) (api.ActionName, error) {
	s, err := c.loadString(ctx, api.KeyActionName)
	return api.ActionName(s), err
}

// StepName returns the name of the step the schedule is positioned at
func (c *Context) StepName(ctx context.Context) (api.StepName, error) {
	s, err := c.loadString(ctx, api.KeyCurrentStepName)
	return api.StepName(s), err
}

// StepIndex returns the index of the step the schedule is positioned at
func (c *Context) StepIndex(ctx context.Context) (int, error) {
	v, err := c.LoadKind(ctx, api.KeyCurrentStepIndex, api.KindInt)
	if err != nil {
		return 0, err
	}
	i, _ := v.AsInt()
	return int(i), nil
}

// Position returns the recorded Action and step index in one read
func (c *Context) Position(
	ctx context.Context,
) (api.ActionName, int, error) {
	vals, err := c.LoadMultiple(ctx, api.KeyActionName, api.KeyCurrentStepIndex)
	if err != nil {
		return "", 0, err
	}
	action, ok := vals[api.KeyActionName].AsString()
	if !ok {
		return "", 0, fmt.Errorf("%w: %s", ErrGetTypeMismatch, api.KeyActionName)
	}
	index, ok := vals[api.KeyCurrentStepIndex].AsInt()
	if !ok {
		return "", 0, fmt.Errorf("%w: %s",
			ErrGetTypeMismatch, api.KeyCurrentStepIndex)
	}
	return api.ActionName(action), int(index), nil
}

// Remove deletes every key of the schedule, not just the context
func (c *Context) Remove(ctx context.Context) error {
	return store.NewOperationRemovalProxy(c.store, c.scheduleID).Delete(ctx)
}

func (c *Context) setPosition(
	ctx context.Context, action api.ActionName, index int, step api.StepName,
) error {
	return c.SaveMultiple(ctx, api.Args{
		api.KeyActionName:       api.String(string(action)),
		api.KeyCurrentStepIndex: api.Int(int64(index)),
		api.KeyCurrentStepName:  api.String(string(step)),
	})
}

func (c *Context) loadString(ctx context.Context, key api.Name) (string, error) {
	v, err := c.LoadKind(ctx, key, api.KindString)
	if err != nil {
		return "", err
	}
	s, _ := v.AsString()
	return s, nil
}

func (c *Context) checkOpen() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return fmt.Errorf("%w: %s", ErrContextClosed, c.scheduleID)
	}
	return nil
}

func validateSerialized(data api.Args) error {
	kinds := map[api.Name]api.Kind{
		api.KeyWorkflowName:     api.KindString,
		api.KeyActionName:       api.KindString,
		api.KeyCurrentStepIndex: api.KindInt,
		api.KeyCurrentStepName:  api.KindString,
	}
	for _, key := range api.ReservedKeys {
		v, ok := data[key]
		if !ok {
			return fmt.Errorf("%w: missing %s", ErrInvalidSerializedContext, key)
		}
		if v.Kind() != kinds[key] {
			return fmt.Errorf("%w: %s is %s, expected %s",
				ErrInvalidSerializedContext, key, v.Kind(), kinds[key])
		}
	}
	return nil
}
