// Package notify delivers orchestrator notifications, escalations and approval
// requests to people and to live subscribers.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/floridafirst/sopflow/internal/streaming"
)

// Notifier is the notification adapter the orchestrator depends on.
type Notifier interface {
	Notify(ctx context.Context, eventType string, payload map[string]any) error
	SendApprovalRequest(ctx context.Context, req ApprovalRequest) error
}

// ApprovalRequest asks the approvers of an approval step to sign off.
type ApprovalRequest struct {
	InstanceID  string         `json:"instance_id"`
	StepID      string         `json:"step_id"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	RequestedBy string         `json:"requested_by"`
	Approvers   []string       `json:"approvers"`
	DueAt       time.Time      `json:"due_at"`
	Context     map[string]any `json:"context,omitempty"`
}

// --- Log ---

// LogNotifier writes every notification as a structured log record.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier. A nil logger uses slog.Default.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, eventType string, payload map[string]any) error {
	level := slog.LevelInfo
	if eventType == "escalation" {
		level = slog.LevelWarn
	}
	n.logger.Log(ctx, level, "notification",
		"event_type", eventType,
		"instance_id", payload["instance_id"],
		"step_id", payload["step_id"],
		"recipients", payload["recipients"],
	)
	return nil
}

func (n *LogNotifier) SendApprovalRequest(ctx context.Context, req ApprovalRequest) error {
	n.logger.InfoContext(ctx, "approval requested",
		"instance_id", req.InstanceID,
		"step_id", req.StepID,
		"approvers", req.Approvers,
		"due_at", req.DueAt,
	)
	return nil
}

// --- Hub ---

// HubEventPrefix marks hub events that carry a notification.
const HubEventPrefix = "notify."

// HubNotifier publishes notifications to a streaming hub.
type HubNotifier struct {
	hub streaming.EventHub
	now func() time.Time
}

// NewHubNotifier creates a HubNotifier.
func NewHubNotifier(hub streaming.EventHub) *HubNotifier {
	return &HubNotifier{hub: hub, now: time.Now}
}

func (n *HubNotifier) Notify(ctx context.Context, eventType string, payload map[string]any) error {
	instanceID, _ := payload["instance_id"].(string)
	stepID, _ := payload["step_id"].(string)
	return n.hub.Publish(ctx, streaming.StreamEvent{
		InstanceID: instanceID,
		StepID:     stepID,
		EventType:  HubEventPrefix + eventType,
		Timestamp:  n.now().UTC(),
		Payload:    payload,
	})
}

func (n *HubNotifier) SendApprovalRequest(ctx context.Context, req ApprovalRequest) error {
	return n.hub.Publish(ctx, streaming.StreamEvent{
		InstanceID: req.InstanceID,
		StepID:     req.StepID,
		EventType:  HubEventPrefix + "approval_request",
		Timestamp:  n.now().UTC(),
		Payload:    req,
	})
}

// --- Fanout ---

// Fanout delivers to Primary and returns only its error. Side notifiers are
// best effort: their failures are logged and never fail a step.
type Fanout struct {
	Primary Notifier
	Side    []Notifier
	Logger  *slog.Logger
}

func (f Fanout) Notify(ctx context.Context, eventType string, payload map[string]any) error {
	var err error
	if f.Primary != nil {
		err = f.Primary.Notify(ctx, eventType, payload)
	}
	for _, n := range f.Side {
		if sideErr := n.Notify(ctx, eventType, payload); sideErr != nil {
			f.logger().WarnContext(ctx, "side notification failed", "event_type", eventType, "error", sideErr)
		}
	}
	return err
}

func (f Fanout) SendApprovalRequest(ctx context.Context, req ApprovalRequest) error {
	var err error
	if f.Primary != nil {
		err = f.Primary.SendApprovalRequest(ctx, req)
	}
	for _, n := range f.Side {
		if sideErr := n.SendApprovalRequest(ctx, req); sideErr != nil {
			f.logger().WarnContext(ctx, "side approval request failed", "step_id", req.StepID, "error", sideErr)
		}
	}
	return err
}

func (f Fanout) logger() *slog.Logger {
	if f.Logger == nil {
		return slog.Default()
	}
	return f.Logger
}

var (
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = (*HubNotifier)(nil)
	_ Notifier = Fanout{}
)
