package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"realtycrm/internal/crm"
)

// recordChannelPattern matches the per-kind record event channels
const recordChannelPattern = "crm:*:events"

// RecordChannel is the Redis channel that carries events for kind
func RecordChannel(kind crm.EntityKind) string {
	return "crm:" + string(kind) + ":events"
}

// kindFromChannel extracts the kind from "crm:<kind>:events"
func kindFromChannel(channel string) (crm.EntityKind, bool) {
	parts := strings.Split(channel, ":")
	if len(parts) != 3 || parts[0] != "crm" || parts[2] != "events" {
		return "", false
	}
	kind, err := crm.ParseKind(parts[1])
	return kind, err == nil
}

// EventHandler is called for record events published by other instances
type EventHandler func(event RecordEvent)

// PubSubService relays record events between instances through Redis.
// It implements Notifier for the local side and hands events from other
// instances to the registered handlers.
type PubSubService struct {
	redis      *RedisService
	pubsub     *redis.PubSub
	handlers   []EventHandler
	mu         sync.RWMutex
	instanceID string
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewPubSubService creates a new pub/sub service
func NewPubSubService(redisService *RedisService, instanceID string) *PubSubService {
	ctx, cancel := context.WithCancel(context.Background())
	return &PubSubService{
		redis:      redisService,
		instanceID: instanceID,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// InstanceID identifies this process on the bus
func (s *PubSubService) InstanceID() string {
	return s.instanceID
}

// OnRemoteEvent registers a handler for events from other instances
func (s *PubSubService) OnRemoteEvent(handler EventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, handler)
}

// Start begins listening for record events
func (s *PubSubService) Start() error {
	s.pubsub = s.redis.Client().PSubscribe(s.ctx, recordChannelPattern)

	if _, err := s.pubsub.Receive(s.ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", recordChannelPattern, err)
	}

	go s.processMessages()

	log.Printf("✅ [PUBSUB] Started listening for record events (instance: %s)", s.instanceID)
	return nil
}

func (s *PubSubService) processMessages() {
	ch := s.pubsub.Channel()

	for {
		select {
		case <-s.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			s.handleMessage(msg.Channel, []byte(msg.Payload))
		}
	}
}

// handleMessage decodes one payload and dispatches it unless this instance
// published it
func (s *PubSubService) handleMessage(channel string, payload []byte) {
	var event RecordEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		log.Printf("⚠️ [PUBSUB] Failed to unmarshal event on %s: %v", channel, err)
		return
	}

	if event.InstanceID == s.instanceID {
		return
	}
	if kind, ok := kindFromChannel(channel); ok && event.Kind == "" {
		event.Kind = kind
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, handler := range s.handlers {
		handler(event)
	}
}

// Notify publishes a local event for the other instances
func (s *PubSubService) Notify(ctx context.Context, event RecordEvent) {
	event.InstanceID = s.instanceID
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("⚠️ [PUBSUB] Failed to marshal %s event: %v", event.Type, err)
		return
	}
	if err := s.redis.Publish(ctx, RecordChannel(event.Kind), data); err != nil {
		log.Printf("⚠️ [PUBSUB] Failed to publish %s event for %s %s: %v", event.Type, event.Kind, event.RecordID, err)
	}
}

// Stop stops the pub/sub service
func (s *PubSubService) Stop() error {
	s.cancel()
	if s.pubsub != nil {
		return s.pubsub.Close()
	}
	return nil
}
