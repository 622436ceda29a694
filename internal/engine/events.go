package engine

import (
	"log/slog"
	"sync"

	"github.com/kode4food/caravan"
	"github.com/kode4food/caravan/message"
	"github.com/kode4food/caravan/topic"

	"github.com/kode4food/stepwise/pkg/api"
	"github.com/kode4food/stepwise/pkg/log"
)

type (
	// EventQueue delivers lifecycle events to listeners sequentially
	EventQueue struct {
		queue     topic.Topic[Event]
		prod      topic.Producer[Event]
		cons      topic.Consumer[Event]
		listeners []Listener
		stop      chan struct{}
		mu        sync.RWMutex
		closed    bool
		stopOnce  sync.Once
		started   sync.Once
		runWG     sync.WaitGroup
	}

	// Event describes a change in the lifecycle of a schedule
	Event struct {
		Type       api.EventType  `json:"type"`
		ScheduleID api.ScheduleID `json:"schedule_id"`
		Action     api.ActionName `json:"action,omitempty"`
		Step       api.StepName   `json:"step,omitempty"`
		Error      string         `json:"error,omitempty"`
	}

	// Listener receives lifecycle events. Listeners are called from the
	// queue goroutine, one event at a time
	Listener func(Event)
)

const (
	EventWorkflowStarted   api.EventType = "workflow_started"
	EventStepStarted       api.EventType = "step_started"
	EventStepCompleted     api.EventType = "step_completed"
	EventStepFailed        api.EventType = "step_failed"
	EventWorkflowCompleted api.EventType = "workflow_completed"
	EventWorkflowFailed    api.EventType = "workflow_failed"
	EventWorkflowCancelled api.EventType = "workflow_cancelled"
)

// NewEventQueue creates a queue that forwards events to the listeners
func NewEventQueue(listeners ...Listener) *EventQueue {
	queue := caravan.NewTopic[Event]()
	return &EventQueue{
		queue:     queue,
		prod:      queue.NewProducer(),
		cons:      queue.NewConsumer(),
		listeners: listeners,
		stop:      make(chan struct{}),
	}
}

// Start begins delivering queued events
func (q *EventQueue) Start() {
	q.started.Do(func() {
		q.runWG.Go(func() {
			for {
				select {
				case <-q.stop:
					return
				case ev, ok := <-q.cons.Receive():
					if !ok {
						return
					}
					q.deliver(ev)
				}
			}
		})
	})
}

// Publish queues an event. Events published after Flush are dropped
func (q *EventQueue) Publish(ev Event) {
	if ev.Type == "" {
		return
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return
	}
	message.Send(q.prod, ev)
}

// Flush delivers the events still queued and stops the queue
func (q *EventQueue) Flush() {
	q.stopOnce.Do(func() {
		close(q.stop)
	})
	q.runWG.Wait()

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	for {
		select {
		case ev, ok := <-q.cons.Receive():
			if !ok {
				q.prod.Close()
				q.cons.Close()
				return
			}
			q.deliver(ev)
		default:
			q.prod.Close()
			q.cons.Close()
			return
		}
	}
}

func (q *EventQueue) deliver(ev Event) {
	slog.Debug("Workflow event",
		slog.String("event_type", string(ev.Type)),
		log.ScheduleID(ev.ScheduleID),
		log.Action(ev.Action),
		log.Step(ev.Step),
		log.ErrorString(ev.Error))

	for _, l := range q.listeners {
		q.notify(l, ev)
	}
}

func (q *EventQueue) notify(l Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Event listener panic",
				slog.String("event_type", string(ev.Type)),
				slog.Any("panic", r))
		}
	}()
	l(ev)
}
