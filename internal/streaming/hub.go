// Package streaming fans instance events out to live subscribers.
package streaming

import (
	"context"
	"time"
)

// StreamEvent is a real-time event emitted while an instance progresses.
type StreamEvent struct {
	InstanceID string    `json:"instance_id"`
	StepID     string    `json:"step_id,omitempty"`
	EventType  string    `json:"event_type"`
	Timestamp  time.Time `json:"timestamp"`
	Payload    any       `json:"payload,omitempty"`
}

// EventFilter specifies which events a subscriber wants to receive.
// Empty fields match everything.
type EventFilter struct {
	InstanceID string   `json:"instance_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for real-time instance events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
