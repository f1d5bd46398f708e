// Package events provides the in-process event bus used for observability and
// the websocket event stream.
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType identifies the kind of event
type EventType string

const (
	EventTradeExecuted   EventType = "TRADE_EXECUTED"
	EventOrderRejected   EventType = "ORDER_REJECTED"
	EventSnapshotTaken   EventType = "SNAPSHOT_TAKEN"
	EventBackupCompleted EventType = "BACKUP_COMPLETED"
	EventErrorOccurred   EventType = "ERROR_OCCURRED"
)

// Event represents something that happened in the system
type Event struct {
	Type      EventType              `json:"type"`
	Module    string                 `json:"module"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Manager fans events out to subscribers and logs them. Emit never blocks:
// a subscriber that falls behind has events dropped rather than stalling
// the emitter.
type Manager struct {
	log  zerolog.Logger
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// NewManager creates a new event manager
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		log:  log.With().Str("component", "events").Logger(),
		subs: make(map[int]chan Event),
	}
}

// Emit publishes an event to all subscribers
func (m *Manager) Emit(eventType EventType, module string, data map[string]interface{}) {
	event := Event{
		Type:      eventType,
		Module:    module,
		Timestamp: time.Now(),
		Data:      data,
	}

	m.log.Debug().
		Str("event", string(eventType)).
		Str("module", module).
		Msg("Event emitted")

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ch := range m.subs {
		select {
		case ch <- event:
		default:
			// Subscriber buffer full, drop the event for this subscriber
		}
	}
}

// EmitError publishes an ERROR_OCCURRED event carrying the error message
func (m *Manager) EmitError(module string, err error) {
	m.Emit(EventErrorOccurred, module, map[string]interface{}{
		"error": err.Error(),
	})
}

// Subscribe registers a new subscriber. The returned cancel function must be
// called when the subscriber is done; it closes the channel.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)

	m.mu.Lock()
	id := m.next
	m.next++
	m.subs[id] = ch
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		if _, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(ch)
		}
		m.mu.Unlock()
	}

	return ch, cancel
}

// SubscriberCount returns the number of active subscribers
func (m *Manager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs)
}
