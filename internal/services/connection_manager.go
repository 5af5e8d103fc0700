package services

import (
	"context"
	"log"
	"sync"

	"realtycrm/internal/crm"
)

// subscriberBuffer is how many events may queue for a slow websocket client
// before further events are dropped for it
const subscriberBuffer = 32

// Subscriber is one live pipeline feed connection
type Subscriber struct {
	ID     string
	UserID string
	// Kinds limits delivery; empty means every kind
	Kinds map[crm.EntityKind]bool
	Send  chan RecordEvent
}

// NewSubscriber creates a subscriber with a buffered send queue
func NewSubscriber(id, userID string, kinds ...crm.EntityKind) *Subscriber {
	s := &Subscriber{ID: id, UserID: userID, Send: make(chan RecordEvent, subscriberBuffer)}
	if len(kinds) > 0 {
		s.Kinds = make(map[crm.EntityKind]bool, len(kinds))
		for _, k := range kinds {
			s.Kinds[k] = true
		}
	}
	return s
}

func (s *Subscriber) wants(kind crm.EntityKind) bool {
	return len(s.Kinds) == 0 || s.Kinds[kind]
}

// ConnectionManager tracks the pipeline feed subscribers of this instance
type ConnectionManager struct {
	connections map[string]*Subscriber
	mutex       sync.RWMutex
	metrics     *Metrics
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]*Subscriber),
	}
}

// SetMetrics attaches metrics for dropped and delivered events
func (cm *ConnectionManager) SetMetrics(m *Metrics) {
	cm.metrics = m
}

// Add adds a new subscriber
func (cm *ConnectionManager) Add(sub *Subscriber) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	cm.connections[sub.ID] = sub
	cm.metrics.RecordWebSocketConnect()
	log.Printf("✅ [FEED] Subscriber added: %s (Total: %d)", sub.ID, len(cm.connections))
}

// Remove removes a subscriber and closes its queue
func (cm *ConnectionManager) Remove(id string) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	if sub, exists := cm.connections[id]; exists {
		close(sub.Send)
		delete(cm.connections, id)
		cm.metrics.RecordWebSocketDisconnect()
		log.Printf("❌ [FEED] Subscriber removed: %s (Total: %d)", id, len(cm.connections))
	}
}

// Get retrieves a subscriber by ID
func (cm *ConnectionManager) Get(id string) (*Subscriber, bool) {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	sub, exists := cm.connections[id]
	return sub, exists
}

// Count returns the number of active subscribers
func (cm *ConnectionManager) Count() int {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	return len(cm.connections)
}

// Notify delivers event to every interested subscriber without blocking.
// A subscriber whose queue is full misses the event.
func (cm *ConnectionManager) Notify(_ context.Context, event RecordEvent) {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	for _, sub := range cm.connections {
		if !sub.wants(event.Kind) {
			continue
		}
		select {
		case sub.Send <- event:
			cm.metrics.RecordWebSocketMessage(event.Type, "outbound")
		default:
			cm.metrics.RecordDroppedEvent()
			log.Printf("⚠️ [FEED] Queue full for subscriber %s, dropping %s", sub.ID, event.Type)
		}
	}
}
