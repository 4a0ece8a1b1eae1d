package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/floridafirst/sopflow/internal/logging"
	"github.com/floridafirst/sopflow/internal/store"
	"github.com/floridafirst/sopflow/internal/streaming"
)

// eventRecorder appends events to the store and mirrors them to the hub.
type eventRecorder struct {
	store  store.Store
	hub    streaming.EventHub
	now    func() time.Time
	logger *slog.Logger
}

func (r *eventRecorder) AppendEvent(ctx context.Context, event *store.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = r.now().UTC()
	}
	if event.ActorID == "" {
		event.ActorID = logging.ActorID(ctx)
	}
	if err := r.store.AppendEvent(ctx, event); err != nil {
		return err
	}
	if r.hub == nil {
		return nil
	}
	if err := r.hub.Publish(ctx, streaming.StreamEvent{
		InstanceID: event.InstanceID,
		StepID:     event.StepID,
		EventType:  event.Type,
		Timestamp:  event.Timestamp,
		Payload:    event.Payload,
	}); err != nil {
		r.logger.DebugContext(ctx, "publish event failed", "event_type", event.Type, "error", err)
	}
	return nil
}

// record appends a non-transition event.
func (r *eventRecorder) record(ctx context.Context, instanceID, stepID, eventType string, payload map[string]any) error {
	return r.AppendEvent(ctx, &store.Event{
		InstanceID: instanceID,
		StepID:     stepID,
		Type:       eventType,
		Payload:    encodePayload(payload),
	})
}
