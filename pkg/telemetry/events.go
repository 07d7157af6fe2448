package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a notable occurrence in the activator, delivered to subscribers
// and persisted by the store.
type Event struct {
	ID            string                 `json:"id"`
	Timestamp     time.Time              `json:"timestamp"`
	Type          string                 `json:"type"`
	Source        string                 `json:"source"`
	TaskID        string                 `json:"task_id,omitempty"`
	EnvironmentID string                 `json:"environment_id,omitempty"`
	ResourceID    string                 `json:"resource_id,omitempty"`
	Message       string                 `json:"message"`
	Level         string                 `json:"level"`
	Data          map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeTaskStarted             = "task.started"
	EventTypeTaskCompleted           = "task.completed"
	EventTypeTaskFailed              = "task.failed"
	EventTypeEnvironmentStateChanged = "environment.state_changed"
	EventTypeResourceStateChanged    = "resource.state_changed"
	EventTypePolicyViolation         = "policy.violation"
)

// Event levels, in increasing severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

var levelRank = map[string]int{
	EventLevelInfo:    0,
	EventLevelWarning: 1,
	EventLevelError:   2,
}

var (
	errPublisherStopped = errors.New("event publisher stopped")
	errBufferFull       = errors.New("event buffer full, event dropped")
)

// EventSubscriber receives delivered events.
type EventSubscriber func(event Event)

// EventFilter reports whether an event should pass.
type EventFilter func(event Event) bool

type subscription struct {
	deliver EventSubscriber
	accept  EventFilter
}

// EventPublisher fans events out to subscribers, synchronously or through a
// bounded queue. A nil or disabled publisher drops every event.
type EventPublisher struct {
	cfg EventsConfig

	mu     sync.RWMutex
	subs   []subscription
	gates  []EventFilter
	queue  chan Event
	done   chan struct{}
	closed sync.Once
	wg     sync.WaitGroup
}

// NewEventPublisher creates a publisher from cfg. With EnableAsync set one
// goroutine delivers queued events in publication order.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	ep := &EventPublisher{cfg: cfg}
	if !cfg.Enabled {
		return ep, nil
	}
	if cfg.BufferSize <= 0 {
		return nil, fmt.Errorf("event buffer size must be positive, got: %d", cfg.BufferSize)
	}
	if cfg.MinLevel != "" {
		ep.gates = append(ep.gates, FilterByLevel(cfg.MinLevel))
	}

	ep.done = make(chan struct{})
	if cfg.EnableAsync {
		ep.queue = make(chan Event, cfg.BufferSize)
		ep.wg.Add(1)
		go ep.run()
	}
	return ep, nil
}

func (ep *EventPublisher) active() bool {
	return ep != nil && ep.cfg.Enabled
}

// Publish stamps the event and delivers it. Async publishers fail when the
// queue is full or the publisher has shut down.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.active() {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if !ep.admit(event) {
		return nil
	}

	if ep.queue == nil {
		ep.deliver(event)
		return nil
	}
	select {
	case <-ep.done:
		return errPublisherStopped
	default:
	}
	select {
	case ep.queue <- event:
		return nil
	default:
		return errBufferFull
	}
}

func (ep *EventPublisher) admit(event Event) bool {
	ep.mu.RLock()
	defer ep.mu.RUnlock()
	for _, gate := range ep.gates {
		if !gate(event) {
			return false
		}
	}
	return true
}

func (ep *EventPublisher) deliver(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()
	for _, sub := range ep.subs {
		if sub.accept == nil || sub.accept(event) {
			sub.deliver(event)
		}
	}
}

func (ep *EventPublisher) run() {
	defer ep.wg.Done()
	for {
		select {
		case event := <-ep.queue:
			ep.deliver(event)
		case <-ep.done:
			for {
				select {
				case event := <-ep.queue:
					ep.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func stateChange(eventType, source, subject, from, to string) Event {
	return Event{
		Type:    eventType,
		Source:  source,
		Level:   EventLevelInfo,
		Message: fmt.Sprintf("%s state changed from %s to %s", subject, from, to),
		Data:    map[string]interface{}{"old_state": from, "new_state": to},
	}
}

// PublishTaskTransition publishes the start or settlement of a tracked task.
// state is an engine task state name.
func (ep *EventPublisher) PublishTaskTransition(taskID, resourceID, state, title, errMsg string) error {
	event := Event{
		Type:       EventTypeTaskStarted,
		Source:     "tracker",
		TaskID:     taskID,
		ResourceID: resourceID,
		Level:      EventLevelInfo,
		Message:    fmt.Sprintf("Task %s started: %s", taskID, title),
		Data:       map[string]interface{}{"state": state, "title": title},
	}
	switch state {
	case "FINISHED_OK":
		event.Type = EventTypeTaskCompleted
		event.Message = fmt.Sprintf("Task %s completed: %s", taskID, title)
	case "FINISHED_FAILED":
		event.Type = EventTypeTaskFailed
		event.Level = EventLevelError
		event.Message = fmt.Sprintf("Task %s failed: %s", taskID, errMsg)
		event.Data["error"] = errMsg
	}
	return ep.Publish(event)
}

// PublishEnvironmentStateChanged publishes an environment transition. A move
// to FAILED is an error-level event.
func (ep *EventPublisher) PublishEnvironmentStateChanged(environmentID, oldState, newState string) error {
	event := stateChange(EventTypeEnvironmentStateChanged, "orchestrator", "Environment "+environmentID, oldState, newState)
	event.EnvironmentID = environmentID
	if newState == "FAILED" {
		event.Level = EventLevelError
	}
	return ep.Publish(event)
}

// PublishResourceStateChanged publishes a resource activation transition.
func (ep *EventPublisher) PublishResourceStateChanged(resourceID, oldState, newState string) error {
	event := stateChange(EventTypeResourceStateChanged, "plugins", "Resource "+resourceID, oldState, newState)
	event.ResourceID = resourceID
	return ep.Publish(event)
}

// PublishPolicyViolation publishes a denied admission.
func (ep *EventPublisher) PublishPolicyViolation(environmentID, policyName, reason string) error {
	return ep.Publish(Event{
		Type:          EventTypePolicyViolation,
		Source:        "policy",
		EnvironmentID: environmentID,
		Level:         EventLevelError,
		Message:       fmt.Sprintf("Policy %s denied environment %s: %s", policyName, environmentID, reason),
		Data:          map[string]interface{}{"policy": policyName, "reason": reason},
	})
}

// Subscribe registers subscriber for events passing filter. A nil filter
// accepts everything.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	if ep == nil {
		return
	}
	ep.mu.Lock()
	ep.subs = append(ep.subs, subscription{deliver: subscriber, accept: filter})
	ep.mu.Unlock()
}

// AddFilter adds a filter every published event must pass.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	if ep == nil {
		return
	}
	ep.mu.Lock()
	ep.gates = append(ep.gates, filter)
	ep.mu.Unlock()
}

// Shutdown stops accepting events and waits for the queue to drain.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.active() {
		return nil
	}
	ep.closed.Do(func() { close(ep.done) })

	drained := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown: %w", ctx.Err())
	}
}

// FilterByLevel passes events at minLevel or above.
func FilterByLevel(minLevel string) EventFilter {
	floor := levelRank[minLevel]
	return func(event Event) bool { return levelRank[event.Level] >= floor }
}

// FilterByType passes events of the given types.
func FilterByType(types ...string) EventFilter {
	wanted := make(map[string]struct{}, len(types))
	for _, t := range types {
		wanted[t] = struct{}{}
	}
	return func(event Event) bool {
		_, ok := wanted[event.Type]
		return ok
	}
}

// FilterByEnvironmentID passes events of one environment.
func FilterByEnvironmentID(environmentID string) EventFilter {
	return func(event Event) bool { return event.EnvironmentID == environmentID }
}
