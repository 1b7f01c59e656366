package telemetry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a single entry in the engine's lifecycle event stream.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies the component that emitted the event.
	Source string `json:"source"`

	// ServiceID is the associated service deployment, if applicable.
	ServiceID string `json:"service_id,omitempty"`

	// OrderID is the associated lifecycle order, if applicable.
	OrderID string `json:"order_id,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for common event types.
const (
	EventTypeOrderAdmitted       = "order.admitted"
	EventTypeOrderCompleted      = "order.completed"
	EventTypeCallbackReceived    = "callback.received"
	EventTypePowerAction         = "power.action"
	EventTypeServiceStateChanged = "service.state_changed"
	EventTypeError               = "error"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher fans lifecycle events out to registered subscribers.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config:      cfg,
		buffer:      make(chan Event, cfg.BufferSize),
		subscribers: make([]subscriberEntry, 0),
		filters:     make([]EventFilter, 0),
		ctx:         ctx,
		cancel:      cancel,
	}

	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil
		}
	}
	ep.mu.RUnlock()

	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishOrderAdmitted publishes an order admission event.
func (ep *EventPublisher) PublishOrderAdmitted(serviceID, orderID, orderType string) error {
	return ep.Publish(Event{
		Type:      EventTypeOrderAdmitted,
		Source:    "orchestrator",
		ServiceID: serviceID,
		OrderID:   orderID,
		Message:   fmt.Sprintf("%s order %s admitted for service %s", orderType, orderID, serviceID),
		Level:     EventLevelInfo,
		Data: map[string]interface{}{
			"order_type": orderType,
		},
	})
}

// PublishOrderCompleted publishes an order terminal-status event. Failed
// orders are published at warning level so subscribers can filter on them.
func (ep *EventPublisher) PublishOrderCompleted(serviceID, orderID, orderType, status string) error {
	level := EventLevelInfo
	if strings.EqualFold(status, "failed") {
		level = EventLevelWarning
	}
	return ep.Publish(Event{
		Type:      EventTypeOrderCompleted,
		Source:    "orchestrator",
		ServiceID: serviceID,
		OrderID:   orderID,
		Message:   fmt.Sprintf("%s order %s completed with status %s", orderType, orderID, status),
		Level:     level,
		Data: map[string]interface{}{
			"order_type": orderType,
			"status":     status,
		},
	})
}

// PublishCallbackReceived publishes a deployment result callback event.
func (ep *EventPublisher) PublishCallbackReceived(serviceID, scenario, outcome string) error {
	return ep.Publish(Event{
		Type:      EventTypeCallbackReceived,
		Source:    "orchestrator",
		ServiceID: serviceID,
		Message:   fmt.Sprintf("%s callback for service %s: %s", scenario, serviceID, outcome),
		Level:     EventLevelInfo,
		Data: map[string]interface{}{
			"scenario": scenario,
			"outcome":  outcome,
		},
	})
}

// PublishPowerAction publishes a runtime power action event.
func (ep *EventPublisher) PublishPowerAction(serviceID, orderID, action, status string) error {
	level := EventLevelInfo
	if strings.EqualFold(status, "failed") {
		level = EventLevelWarning
	}
	return ep.Publish(Event{
		Type:      EventTypePowerAction,
		Source:    "orchestrator",
		ServiceID: serviceID,
		OrderID:   orderID,
		Message:   fmt.Sprintf("power action %s on service %s: %s", action, serviceID, status),
		Level:     level,
		Data: map[string]interface{}{
			"action": action,
			"status": status,
		},
	})
}

// PublishServiceStateChanged publishes a deployment state transition event.
func (ep *EventPublisher) PublishServiceStateChanged(serviceID, oldState, newState string) error {
	return ep.Publish(Event{
		Type:      EventTypeServiceStateChanged,
		Source:    "orchestrator",
		ServiceID: serviceID,
		Message:   fmt.Sprintf("service %s moved from %s to %s", serviceID, oldState, newState),
		Level:     EventLevelInfo,
		Data: map[string]interface{}{
			"old_state": oldState,
			"new_state": newState,
		},
	})
}

// Subscribe adds a new event subscriber. A nil filter receives everything.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents drains the buffer asynchronously.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	for {
		select {
		case event := <-ep.buffer:
			ep.deliverEvent(event)
		case <-ep.ctx.Done():
			// Drain what is left before shutting down.
			for {
				select {
				case event := <-ep.buffer:
					ep.deliverEvent(event)
				default:
					return
				}
			}
		}
	}
}

// deliverEvent delivers an event to all subscribers.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown gracefully shuts down the event publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// Common event filters.

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByServiceID creates a filter that only allows events for a specific service.
func FilterByServiceID(serviceID string) EventFilter {
	return func(event Event) bool {
		return event.ServiceID == serviceID
	}
}
