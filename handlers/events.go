package handlers

import "sync"

// ConfigEvent is a single config-change notification. Username is empty for
// events that every subscriber should see regardless of who they are.
type ConfigEvent struct {
	Name     string
	Username string
}

// EventBus is a simple pub/sub for broadcasting config-change events.
type EventBus struct {
	mu      sync.Mutex
	clients map[chan ConfigEvent]struct{}
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{
		clients: make(map[chan ConfigEvent]struct{}),
	}
}

// Subscribe returns a channel that receives broadcast events.
func (eb *EventBus) Subscribe() chan ConfigEvent {
	ch := make(chan ConfigEvent, 16)
	eb.mu.Lock()
	eb.clients[ch] = struct{}{}
	eb.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel.
func (eb *EventBus) Unsubscribe(ch chan ConfigEvent) {
	eb.mu.Lock()
	delete(eb.clients, ch)
	eb.mu.Unlock()
}

// Broadcast sends a named event, scoped to username, to all subscribers.
// Subscribers that don't belong to username filter it out themselves.
func (eb *EventBus) Broadcast(name, username string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	evt := ConfigEvent{Name: name, Username: username}
	for ch := range eb.clients {
		select {
		case ch <- evt:
		default:
			// Drop if buffer full
		}
	}
}
