// Package distributed shares switch decisions between processes over Redis
// pub/sub.
package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"streamguard/internal/core/domain"
	"streamguard/internal/core/ports"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultChannel = "streamguard:decisions"

// EventType represents the type of event
type EventType string

const EventDecisionChanged EventType = "decision.changed"

// Event is published when a server's effective decision changes. Previous
// is empty for the first decision seen after startup.
type Event struct {
	Type       EventType          `json:"type"`
	InstanceID string             `json:"instance_id"`
	Timestamp  time.Time          `json:"timestamp"`
	TickID     string             `json:"tick_id"`
	Server     string             `json:"server"`
	Previous   *domain.SwitchType `json:"previous,omitempty"`
	Decision   domain.SwitchType  `json:"decision"`
	Scene      string             `json:"scene"`
}

// EventBus provides event publishing and subscription for coordination
type EventBus struct {
	client     *redis.Client
	instanceID string
	channel    string
	logger     *zap.SugaredLogger
}

// NewEventBus creates a new event bus
func NewEventBus(
	client *redis.Client,
	instanceID string,
	channel string,
	logger *zap.SugaredLogger,
) *EventBus {
	if channel == "" {
		channel = DefaultChannel
	}
	return &EventBus{
		client:     client,
		instanceID: instanceID,
		channel:    channel,
		logger:     logger,
	}
}

// Publish publishes an event to the event bus
func (eb *EventBus) Publish(ctx context.Context, event *Event) error {
	event.InstanceID = eb.instanceID
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := eb.client.Publish(ctx, eb.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	eb.logger.Debugw("published event",
		"type", event.Type,
		"server", event.Server,
		"decision", event.Decision,
	)
	return nil
}

// Subscribe calls handler for every event published by other instances
// until ctx is done.
func (eb *EventBus) Subscribe(ctx context.Context, handler func(*Event) error) error {
	pubsub := eb.client.Subscribe(ctx, eb.channel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				eb.logger.Warnw("failed to unmarshal event",
					"error", err,
					"payload", msg.Payload,
				)
				continue
			}

			// Skip events from this instance
			if event.InstanceID == eb.instanceID {
				continue
			}

			if err := handler(&event); err != nil {
				eb.logger.Warnw("error handling event",
					"type", event.Type,
					"error", err,
				)
			}
		}
	}
}

// Forward publishes a DecisionChanged event whenever the monitor reports a
// new effective decision for a server. It returns when ctx is done.
func (eb *EventBus) Forward(ctx context.Context, monitor ports.MonitorService) error {
	evaluations, unsubscribe := monitor.Subscribe()
	defer unsubscribe()

	tracker := newChangeTracker()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-evaluations:
			if !ok {
				return nil
			}
			event, changed := tracker.observe(e)
			if !changed {
				continue
			}
			if err := eb.Publish(ctx, event); err != nil {
				eb.logger.Warnw("failed to publish decision change",
					"server", e.Server,
					"error", err,
				)
			}
		}
	}
}

// changeTracker remembers the last effective decision per server. A
// Previous decision keeps the current scene, so it never counts as a change.
type changeTracker struct {
	mu   sync.Mutex
	last map[string]domain.SwitchType
}

func newChangeTracker() *changeTracker {
	return &changeTracker{last: make(map[string]domain.SwitchType)}
}

func (t *changeTracker) observe(e domain.Evaluation) (*Event, bool) {
	if e.Decision == domain.SwitchPrevious {
		return nil, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	prev, seen := t.last[e.Server]
	if seen && prev == e.Decision {
		return nil, false
	}
	t.last[e.Server] = e.Decision

	event := &Event{
		Type:      EventDecisionChanged,
		Timestamp: e.At,
		TickID:    e.TickID,
		Server:    e.Server,
		Decision:  e.Decision,
		Scene:     e.Scene,
	}
	if seen {
		event.Previous = &prev
	}
	return event, true
}
