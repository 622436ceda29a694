package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kode4food/stepwise/internal/store"
	"github.com/kode4food/stepwise/pkg/api"
	"github.com/kode4food/stepwise/pkg/log"
	"github.com/kode4food/stepwise/pkg/workflow"
)

type (
	// Manager supervises the Runner tasks of many schedules, at most one
	// per schedule name
	Manager struct {
		store     *store.Store
		workflow  *workflow.Workflow
		runner    *Runner
		events    atomic.Pointer[EventQueue]
		archive   Archive
		ctx       context.Context
		cancel    context.CancelFunc
		tasks     map[api.ScheduleID]*task
		contexts  map[api.ScheduleID]*Context
		starting  map[api.ScheduleID]bool
		operation api.OperationName
		hooks     Hooks
		listeners []Listener
		leaseTTL  time.Duration
		mu        sync.Mutex
	}

	// Option configures a Manager
	Option func(*Manager)

	// Archive keeps serialized contexts outside the Store while their
	// schedules are hibernated
	Archive interface {
		Put(ctx context.Context, id api.ScheduleID, data api.Args) error
		Get(ctx context.Context, id api.ScheduleID) (api.Args, error)
		Delete(ctx context.Context, id api.ScheduleID) error
		Exists(ctx context.Context, id api.ScheduleID) (bool, error)
	}

	task struct {
		cancel context.CancelCauseFunc
		done   chan struct{}
		err    error
	}
)

// DefaultOperation is the operation name used when none is configured
const DefaultOperation api.OperationName = "workflow"

var (
	ErrNotSetup                = errors.New("manager is not set up")
	ErrWorkflowAlreadyRunning  = errors.New("workflow already running")
	ErrWorkflowNotFound        = errors.New("workflow not found")
	ErrWorkflowNotInitialized  = errors.New("workflow context not initialized")
	ErrArchiveNotConfigured    = errors.New("archive not configured")
	ErrScheduleMismatch        = errors.New("context belongs to another schedule")
	ErrWorkflowNameUnavailable = errors.New("workflow name unavailable")
	ErrTeardownIncomplete      = errors.New("task still running at teardown")
)

// WithOperation sets the operation name scoping every context
func WithOperation(op api.OperationName) Option {
	return func(m *Manager) {
		m.operation = op
	}
}

// WithBeforeStepHook registers a hook called before every step
func WithBeforeStepHook(h StepHook) Option {
	return func(m *Manager) {
		m.hooks.BeforeStep = h
	}
}

// WithAfterStepHook registers a hook called after every successful step
func WithAfterStepHook(h StepHook) Option {
	return func(m *Manager) {
		m.hooks.AfterStep = h
	}
}

// WithLeaseTTL makes every task hold a Store lease on its schedule, so that
// no two processes run the same schedule at once
func WithLeaseTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		m.leaseTTL = ttl
	}
}

// WithArchive enables Hibernate and Wake
func WithArchive(a Archive) Option {
	return func(m *Manager) {
		m.archive = a
	}
}

// WithListener registers a lifecycle event listener
func WithListener(l Listener) Option {
	return func(m *Manager) {
		m.listeners = append(m.listeners, l)
	}
}

// NewManager creates a Manager running wf against the store
func NewManager(
	s *store.Store, wf *workflow.Workflow, opts ...Option,
) *Manager {
	m := &Manager{
		store:     s,
		workflow:  wf,
		operation: DefaultOperation,
		tasks:     map[api.ScheduleID]*task{},
		contexts:  map[api.ScheduleID]*Context{},
		starting:  map[api.ScheduleID]bool{},
	}
	for _, opt := range opts {
		opt(m)
	}
	m.runner = NewRunner(wf, m.hooks, m.publish)
	return m
}

// Setup verifies the store is reachable and readies the Manager to run
// schedules
func (m *Manager) Setup(ctx context.Context) error {
	if err := m.store.Ping(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx != nil {
		return nil
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	events := NewEventQueue(m.listeners...)
	events.Start()
	m.events.Store(events)
	slog.Info("Workflow manager started",
		log.Operation(m.operation))
	return nil
}

// Teardown cancels and waits for every running task, then stops event
// delivery. Persisted contexts are kept for a later resume. If ctx expires
// first, the tasks still running are reported but cleanup continues
func (m *Manager) Teardown(ctx context.Context) error {
	m.mu.Lock()
	if m.ctx == nil {
		m.mu.Unlock()
		return nil
	}
	m.cancel()
	tasks := m.tasks
	contexts := m.contexts
	m.tasks = map[api.ScheduleID]*task{}
	m.contexts = map[api.ScheduleID]*Context{}
	m.ctx, m.cancel = nil, nil
	m.mu.Unlock()

	var errs []error
	for name, t := range tasks {
		select {
		case <-t.done:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("%w: %s: %w",
				ErrTeardownIncomplete, name, ctx.Err()))
		}
		if err := contexts[name].Teardown(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if events := m.events.Swap(nil); events != nil {
		events.Flush()
	}
	slog.Info("Workflow manager stopped",
		log.Operation(m.operation))
	return errors.Join(errs...)
}

// Start runs the workflow from the first step of action under a fresh
// context seeded with init
func (m *Manager) Start(
	ctx context.Context, name api.ScheduleID, action api.ActionName,
	init api.Args,
) error {
	a, err := m.workflow.Action(action)
	if err != nil {
		return err
	}
	if err := m.workflow.CheckInputs(action, init.Names()); err != nil {
		return err
	}

	var first api.StepName
	if steps := a.Steps(); len(steps) > 0 {
		first = steps[0].Name()
	}
	seed := init.Merge(api.Args{
		api.KeyWorkflowName:     api.String(string(name)),
		api.KeyActionName:       api.String(string(action)),
		api.KeyCurrentStepIndex: api.Int(0),
		api.KeyCurrentStepName:  api.String(string(first)),
	})

	if err := m.reserve(name); err != nil {
		return err
	}
	lease, err := m.acquireLease(ctx, name)
	if err != nil {
		m.unreserve(name)
		return err
	}
	wctx := m.NewContext(name)
	if err := wctx.Deserialize(ctx, seed); err != nil {
		m.releaseLease(ctx, lease)
		m.unreserve(name)
		return err
	}
	return m.launch(ctx, name, wctx, lease)
}

// Resume runs the schedule recorded in wctx from its persisted position
func (m *Manager) Resume(ctx context.Context, wctx *Context) error {
	name, err := wctx.WorkflowName(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWorkflowNameUnavailable, err)
	}
	if name != wctx.ScheduleID() {
		return fmt.Errorf("%w: %s holds %s",
			ErrScheduleMismatch, wctx.ScheduleID(), name)
	}
	action, _, err := wctx.Position(ctx)
	if err != nil {
		return err
	}
	if _, err := m.workflow.Action(action); err != nil {
		return err
	}

	if err := m.reserve(name); err != nil {
		return err
	}
	lease, err := m.acquireLease(ctx, name)
	if err != nil {
		m.unreserve(name)
		return err
	}
	if err := wctx.Setup(ctx); err != nil {
		m.releaseLease(ctx, lease)
		m.unreserve(name)
		return err
	}
	return m.launch(ctx, name, wctx, lease)
}

// Context returns the context of a schedule started or resumed by this
// Manager
func (m *Manager) Context(name api.ScheduleID) (*Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if wctx, ok := m.contexts[name]; ok {
		return wctx, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrWorkflowNotInitialized, name)
}

// NewContext creates a Context for the named schedule, bound to this
// Manager's store and operation
func (m *Manager) NewContext(name api.ScheduleID) *Context {
	return NewContext(m.store, name, m.operation)
}

// Running reports whether the named schedule has an unfinished task
func (m *Manager) Running(name api.ScheduleID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[name]
	return ok && !t.finished()
}

// Wait blocks until the named schedule's task finishes and returns its
// error unchanged, including a cancellation
func (m *Manager) Wait(ctx context.Context, name api.ScheduleID) error {
	t, err := m.task(name)
	if err != nil {
		return err
	}
	select {
	case <-t.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	m.forget(ctx, name, t)
	return t.err
}

// CancelAndWait cancels the named schedule's task and waits for it to stop.
// The resulting cancellation is not reported as an error
func (m *Manager) CancelAndWait(ctx context.Context, name api.ScheduleID) error {
	t, err := m.task(name)
	if err != nil {
		return err
	}
	t.cancel(context.Canceled)
	select {
	case <-t.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	m.forget(ctx, name, t)
	if errors.Is(t.err, context.Canceled) {
		return nil
	}
	return t.err
}

// Schedules lists every schedule of this Manager's operation that has a
// persisted context, running or not
func (m *Manager) Schedules(ctx context.Context) ([]api.ScheduleID, error) {
	keys, err := m.store.Keys(ctx, store.OperationContextPattern(m.operation))
	if err != nil {
		return nil, err
	}
	res := make([]api.ScheduleID, 0, len(keys))
	for _, key := range keys {
		if id, ok := store.ScheduleIDFromOperationContextKey(
			key, m.operation,
		); ok {
			res = append(res, id)
		}
	}
	return res, nil
}

// Recover resumes every schedule of this Manager's operation that has a
// persisted context and is not already running here
func (m *Manager) Recover(ctx context.Context) ([]api.ScheduleID, error) {
	ids, err := m.Schedules(ctx)
	if err != nil {
		return nil, err
	}

	var resumed []api.ScheduleID
	var errs []error
	for _, id := range ids {
		if m.Running(id) {
			continue
		}
		err := m.Resume(ctx, m.NewContext(id))
		if errors.Is(err, store.ErrLeaseHeld) {
			slog.Debug("Workflow lease held elsewhere",
				log.ScheduleID(id))
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
			continue
		}
		if err != nil {
			slog.Error("Failed to recover workflow",
				log.ScheduleID(id),
				log.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
			continue
		}
		slog.Info("Workflow recovered",
			log.ScheduleID(id))
		resumed = append(resumed, id)
	}
	return resumed, errors.Join(errs...)
}

// Supervise calls Recover every interval until ctx is done. Schedules left
// behind by a crashed process are picked up once their lease expires.
// onResume, if not nil, is called for every resumed schedule
func (m *Manager) Supervise(
	ctx context.Context, interval time.Duration,
	onResume func(api.ScheduleID),
) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		resumed, err := m.Recover(ctx)
		if err != nil && !isLeaseHeldOnly(err) {
			slog.Warn("Workflow recovery incomplete",
				log.Error(err))
		}
		if onResume == nil {
			continue
		}
		for _, id := range resumed {
			onResume(id)
		}
	}
}

// Hibernated reports whether the archive holds the named schedule
func (m *Manager) Hibernated(
	ctx context.Context, name api.ScheduleID,
) (bool, error) {
	if m.archive == nil {
		return false, ErrArchiveNotConfigured
	}
	return m.archive.Exists(ctx, name)
}

// Hibernate stops the named schedule, moves its context into the archive,
// and removes its keys from the store
func (m *Manager) Hibernate(ctx context.Context, name api.ScheduleID) error {
	if m.archive == nil {
		return ErrArchiveNotConfigured
	}
	err := m.CancelAndWait(ctx, name)
	if err != nil && !errors.Is(err, ErrWorkflowNotFound) {
		return err
	}

	wctx := m.NewContext(name)
	data, err := wctx.Serialize(ctx)
	if err != nil {
		return err
	}
	if err := m.archive.Put(ctx, name, data); err != nil {
		return err
	}
	if err := wctx.Remove(ctx); err != nil {
		return err
	}
	slog.Info("Workflow hibernated",
		log.ScheduleID(name))
	return nil
}

// Wake restores a hibernated schedule from the archive and resumes it
func (m *Manager) Wake(ctx context.Context, name api.ScheduleID) error {
	if m.archive == nil {
		return ErrArchiveNotConfigured
	}
	if m.Running(name) {
		return fmt.Errorf("%w: %s", ErrWorkflowAlreadyRunning, name)
	}
	data, err := m.archive.Get(ctx, name)
	if err != nil {
		return err
	}

	wctx := m.NewContext(name)
	if err := wctx.Deserialize(ctx, data); err != nil {
		return err
	}
	if err := m.Resume(ctx, wctx); err != nil {
		return err
	}
	if err := m.archive.Delete(ctx, name); err != nil {
		slog.Warn("Failed to delete woken workflow from archive",
			log.ScheduleID(name),
			log.Error(err))
	}
	return nil
}

// checkStartable must be called with m.mu held
func (m *Manager) checkStartable(name api.ScheduleID) error {
	if m.ctx == nil {
		return ErrNotSetup
	}
	if m.starting[name] {
		return fmt.Errorf("%w: %s", ErrWorkflowAlreadyRunning, name)
	}
	if t, ok := m.tasks[name]; ok && !t.finished() {
		return fmt.Errorf("%w: %s", ErrWorkflowAlreadyRunning, name)
	}
	return nil
}

// reserve claims name while its context is prepared outside the lock
func (m *Manager) reserve(name api.ScheduleID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkStartable(name); err != nil {
		return err
	}
	m.starting[name] = true
	return nil
}

func (m *Manager) unreserve(name api.ScheduleID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.starting, name)
}

func (m *Manager) acquireLease(
	ctx context.Context, name api.ScheduleID,
) (*store.Lease, error) {
	if m.leaseTTL <= 0 {
		return nil, nil
	}
	lease, err := store.NewLease(m.store, name, m.leaseTTL)
	if err != nil {
		return nil, err
	}
	if err := lease.Acquire(ctx); err != nil {
		return nil, err
	}
	return lease, nil
}

func (m *Manager) releaseLease(ctx context.Context, lease *store.Lease) {
	if lease == nil {
		return
	}
	if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
		slog.Warn("Failed to release schedule lease",
			log.Error(err))
	}
}

// launch starts the task of a reserved name. It fails if the Manager was
// torn down while the context was being prepared
func (m *Manager) launch(
	ctx context.Context, name api.ScheduleID, wctx *Context,
	lease *store.Lease,
) error {
	m.mu.Lock()
	delete(m.starting, name)
	if m.ctx == nil {
		m.mu.Unlock()
		m.releaseLease(ctx, lease)
		return ErrNotSetup
	}
	defer m.mu.Unlock()

	taskCtx, cancel := context.WithCancelCause(m.ctx)
	t := &task{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.tasks[name] = t
	m.contexts[name] = wctx

	go func() {
		defer close(t.done)
		defer cancel(nil)

		if lease != nil {
			keepCtx, stopKeep := context.WithCancel(taskCtx)
			go lease.Keep(keepCtx, func(err error) { cancel(err) })
			defer m.releaseLease(taskCtx, lease)
			defer stopKeep()
		}
		t.err = m.run(taskCtx, name, wctx)
	}()
	return nil
}

func (m *Manager) run(
	ctx context.Context, name api.ScheduleID, wctx *Context,
) error {
	m.publish(Event{Type: EventWorkflowStarted, ScheduleID: name})
	slog.Debug("Workflow started",
		log.ScheduleID(name))

	err := m.runner.Run(ctx, wctx)
	switch {
	case err == nil:
		if err := wctx.Remove(context.WithoutCancel(ctx)); err != nil {
			slog.Error("Failed to remove completed workflow",
				log.ScheduleID(name),
				log.Error(err))
			return err
		}
		m.publish(Event{Type: EventWorkflowCompleted, ScheduleID: name})
		slog.Debug("Workflow completed",
			log.ScheduleID(name))
		return nil

	case ctx.Err() != nil:
		m.publish(Event{
			Type:       EventWorkflowCancelled,
			ScheduleID: name,
			Error:      err.Error(),
		})
		slog.Info("Workflow cancelled",
			log.ScheduleID(name),
			log.Error(err))
		return err

	default:
		m.publish(Event{
			Type:       EventWorkflowFailed,
			ScheduleID: name,
			Error:      err.Error(),
		})
		slog.Error("Workflow failed",
			log.ScheduleID(name),
			log.Error(err))
		return err
	}
}

func (m *Manager) publish(ev Event) {
	if events := m.events.Load(); events != nil {
		events.Publish(ev)
	}
}

func (m *Manager) task(name api.ScheduleID) (*task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tasks[name]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, name)
}

func (m *Manager) forget(ctx context.Context, name api.ScheduleID, t *task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tasks[name] != t {
		return
	}
	if wctx, ok := m.contexts[name]; ok {
		_ = wctx.Teardown(ctx)
	}
	delete(m.tasks, name)
	delete(m.contexts, name)
}

func isLeaseHeldOnly(err error) bool {
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		return errors.Is(err, store.ErrLeaseHeld)
	}
	for _, e := range joined.Unwrap() {
		if !errors.Is(e, store.ErrLeaseHeld) {
			return false
		}
	}
	return true
}

func (t *task) finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}
