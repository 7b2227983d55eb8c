// Package bus provides an internal event bus for component communication
package bus

import (
	"sync"
)

// EventType identifies different event types
type EventType string

// Event types for GazeProbe
const (
	// Session lifecycle events
	EventTypeSessionStarted  EventType = "session.started"
	EventTypeSessionFinished EventType = "session.finished"
	EventTypeSessionStopped  EventType = "session.stopped"
	EventTypeCountdownTick   EventType = "session.countdown"

	// Sampling events
	EventTypeSampleRecorded EventType = "session.sample_recorded"
	EventTypePointerMoved   EventType = "session.pointer_moved"

	// Detection events
	EventTypeDetectorConnected    EventType = "detector.connected"
	EventTypeDetectorDisconnected EventType = "detector.disconnected"
	EventTypeFrameReceived        EventType = "detector.frame_received"

	// Config events
	EventTypeConfigReloaded EventType = "config.reloaded"
)

// Event represents a bus event
type Event struct {
	Type EventType
	Data map[string]any
}

// Handler is a function that handles events
type Handler func(Event)

// subscription feeds one handler through a buffered queue drained by a
// dedicated goroutine, so a single subscriber sees events in publish
// order. Consumers of session state rely on that: a countdown tick must
// not overtake the start event it follows.
type subscription struct {
	handler Handler
	events  chan Event
	done    chan struct{}
}

const subscriberQueueSize = 64

func newSubscription(handler Handler) *subscription {
	sub := &subscription{
		handler: handler,
		events:  make(chan Event, subscriberQueueSize),
		done:    make(chan struct{}),
	}
	go sub.run()
	return sub
}

func (s *subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case event := <-s.events:
			s.handler(event)
		}
	}
}

// EventBus is a pub/sub event bus. Delivery is asynchronous but ordered
// per subscriber; a subscriber that falls more than a queue's worth
// behind loses the oldest undelivered events rather than blocking
// publishers.
type EventBus struct {
	mu   sync.RWMutex
	subs map[EventType][]*subscription
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subs: make(map[EventType][]*subscription),
	}
}

// Subscribe adds a handler for an event type
func (b *EventBus) Subscribe(eventType EventType, handler Handler) {
	sub := newSubscription(handler)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[eventType] = append(b.subs[eventType], sub)
}

// SubscribeMultiple adds a handler for multiple event types. The
// handler shares one queue, so events of the subscribed types arrive in
// publish order relative to each other.
func (b *EventBus) SubscribeMultiple(eventTypes []EventType, handler Handler) {
	sub := newSubscription(handler)

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, et := range eventTypes {
		b.subs[et] = append(b.subs[et], sub)
	}
}

// Publish queues an event for all subscribed handlers without blocking
// the caller
func (b *EventBus) Publish(event Event) {
	b.mu.RLock()
	subs := make([]*subscription, len(b.subs[event.Type]))
	copy(subs, b.subs[event.Type])
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.events <- event:
		default:
			// Queue full: shed the oldest event to keep the stream moving
			select {
			case <-sub.events:
			default:
			}
			select {
			case sub.events <- event:
			default:
			}
		}
	}
}

// PublishSync invokes all handlers for the event in the caller's
// goroutine and returns when they have run. It bypasses the per-
// subscriber queues.
func (b *EventBus) PublishSync(event Event) {
	b.mu.RLock()
	subs := make([]*subscription, len(b.subs[event.Type]))
	copy(subs, b.subs[event.Type])
	b.mu.RUnlock()

	for _, sub := range subs {
		sub.handler(event)
	}
}

// Clear removes all handlers and stops their delivery goroutines
func (b *EventBus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	stopped := make(map[*subscription]struct{})
	for _, subs := range b.subs {
		for _, sub := range subs {
			if _, ok := stopped[sub]; ok {
				continue
			}
			close(sub.done)
			stopped[sub] = struct{}{}
		}
	}
	b.subs = make(map[EventType][]*subscription)
}
