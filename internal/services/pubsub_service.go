package services

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Pub/sub event types.
const (
	EventConfigInvalidate = "config_invalidate"
	EventCatalogReload    = "catalog_reload"
)

// PubSubService fans workspace invalidation events out across replicas.
// Each replica skips its own messages; a scope-matched config_invalidate
// from elsewhere means another replica changed this user's settings and
// the local workspace must reload.
type PubSubService struct {
	redis     *RedisService
	pubsub    *redis.PubSub
	handlers  map[string][]EventHandler
	mu        sync.RWMutex
	replicaID string
	ctx       context.Context
	cancel    context.CancelFunc
}

// EventHandler is a callback for handling pub/sub events
type EventHandler func(channel string, event *WorkspaceEvent)

// WorkspaceEvent is the message shape published between replicas.
type WorkspaceEvent struct {
	Type    string         `json:"type"`
	UserID  string         `json:"userId,omitempty"` // empty scope = guest
	Origin  string         `json:"origin"`           // publishing replica id
	Payload map[string]any `json:"payload,omitempty"`
}

// NewPubSubService creates a new pub/sub service
func NewPubSubService(redisService *RedisService, replicaID string) *PubSubService {
	ctx, cancel := context.WithCancel(context.Background())
	return &PubSubService{
		redis:     redisService,
		handlers:  make(map[string][]EventHandler),
		replicaID: replicaID,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Subscribe registers a handler for a channel pattern
func (s *PubSubService) Subscribe(pattern string, handler EventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.handlers[pattern] = append(s.handlers[pattern], handler)
	log.Printf("📡 [PUBSUB] Subscribed to pattern: %s", pattern)
}

// Start begins listening for pub/sub events
func (s *PubSubService) Start() error {
	s.pubsub = s.redis.Subscribe(s.ctx,
		"workspace:*:events", // per-scope invalidation
		"broadcast:events",   // catalog reloads and other global events
	)

	// Wait for subscription confirmation
	if _, err := s.pubsub.Receive(s.ctx); err != nil {
		return err
	}

	go s.processEvents()

	log.Printf("✅ [PUBSUB] Started listening for events (replica: %s)", s.replicaID)
	return nil
}

func (s *PubSubService) processEvents() {
	ch := s.pubsub.Channel()

	for {
		select {
		case <-s.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			s.handleEvent(msg)
		}
	}
}

func (s *PubSubService) handleEvent(msg *redis.Message) {
	var event WorkspaceEvent
	if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
		log.Printf("⚠️ [PUBSUB] Failed to unmarshal event: %v", err)
		return
	}

	// Skip events this replica published itself
	if event.Origin == s.replicaID {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for pattern, handlers := range s.handlers {
		if matchChannel(pattern, msg.Channel) {
			for _, handler := range handlers {
				go handler(msg.Channel, &event)
			}
		}
	}
}

// PublishConfigInvalidate announces that a scope's provider or workspace
// configuration changed. The empty user id addresses the guest scope.
func (s *PubSubService) PublishConfigInvalidate(ctx context.Context, userID string) error {
	return s.publish(ctx, scopeChannel(userID), WorkspaceEvent{
		Type:   EventConfigInvalidate,
		UserID: userID,
	})
}

// PublishCatalogReload announces that the provider catalog file changed so
// every replica re-reads its own copy.
func (s *PubSubService) PublishCatalogReload(ctx context.Context) error {
	return s.publish(ctx, "broadcast:events", WorkspaceEvent{
		Type: EventCatalogReload,
	})
}

func (s *PubSubService) publish(ctx context.Context, channel string, event WorkspaceEvent) error {
	event.Origin = s.replicaID
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return s.redis.Publish(ctx, channel, data)
}

// Stop stops the pub/sub service
func (s *PubSubService) Stop() error {
	s.cancel()
	if s.pubsub != nil {
		return s.pubsub.Close()
	}
	return nil
}

// scopeChannel names the per-scope event channel. The guest scope has no
// user id and gets a fixed slot.
func scopeChannel(userID string) string {
	if userID == "" {
		return "workspace:guest:events"
	}
	return "workspace:" + userID + ":events"
}

// matchChannel checks a channel name against a pattern where "*" matches
// exactly one segment.
func matchChannel(pattern, channel string) bool {
	if pattern == channel {
		return true
	}

	patternParts := strings.Split(pattern, ":")
	channelParts := strings.Split(channel, ":")
	if len(patternParts) != len(channelParts) {
		return false
	}
	for i, part := range patternParts {
		if part != "*" && part != channelParts[i] {
			return false
		}
	}
	return true
}
