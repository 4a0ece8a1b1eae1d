package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/server"

	"github.com/floridafirst/sopflow/internal/notify"
	"github.com/floridafirst/sopflow/internal/streaming"
)

// NotificationMethod is the MCP method notifications are pushed under.
const NotificationMethod = "notifications/message"

// ClientSender pushes a notification to one MCP session. *server.MCPServer
// satisfies it.
type ClientSender interface {
	SendNotificationToSpecificClient(sessionID string, method string, params map[string]any) error
}

// SessionNotifier is a notify.Notifier that pushes notifications to the MCP
// sessions of their recipients. Recipients without a known session are
// skipped. The sender is attached after the server is built, since the
// server needs the orchestrator. In the binary it is fed from the streaming
// hub by Relay rather than called by the orchestrator directly.
type SessionNotifier struct {
	sessions *SessionRegistry

	mu     sync.RWMutex
	sender ClientSender
}

var _ notify.Notifier = (*SessionNotifier)(nil)

// NewSessionNotifier creates a notifier over sessions. It is a no-op until Attach.
func NewSessionNotifier(sessions *SessionRegistry) *SessionNotifier {
	return &SessionNotifier{sessions: sessions}
}

// Attach sets the sender notifications are delivered through.
func (n *SessionNotifier) Attach(sender ClientSender) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sender = sender
}

func (n *SessionNotifier) Notify(_ context.Context, eventType string, payload map[string]any) error {
	params := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		params[k] = v
	}
	params["event_type"] = eventType
	return n.push(recipientsOf(payload["recipients"]), params)
}

func (n *SessionNotifier) SendApprovalRequest(_ context.Context, req notify.ApprovalRequest) error {
	return n.push(req.Approvers, map[string]any{
		"event_type":   "approval_request",
		"instance_id":  req.InstanceID,
		"step_id":      req.StepID,
		"title":        req.Title,
		"description":  req.Description,
		"requested_by": req.RequestedBy,
		"due_at":       req.DueAt,
		"context":      req.Context,
	})
}

func (n *SessionNotifier) push(recipients []string, params map[string]any) error {
	n.mu.RLock()
	sender := n.sender
	n.mu.RUnlock()
	if sender == nil {
		return nil
	}

	var errs []error
	for _, r := range recipients {
		sid, ok := n.sessions.SessionFor(r)
		if !ok {
			continue
		}
		err := sender.SendNotificationToSpecificClient(sid, NotificationMethod, params)
		if errors.Is(err, server.ErrSessionNotFound) {
			// Session went away between lookup and send.
			n.sessions.Remove(sid)
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("notify %s: %w", r, err))
		}
	}
	return errors.Join(errs...)
}

func recipientsOf(v any) []string {
	switch rs := v.(type) {
	case []string:
		return rs
	case []any:
		out := make([]string, 0, len(rs))
		for _, r := range rs {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{rs}
	}
	return nil
}

// Relay subscribes to hub and pushes every notify.* event to the recipients'
// sessions until ctx is done. Delivery failures are logged.
func (n *SessionNotifier) Relay(ctx context.Context, hub streaming.EventHub, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	events, unsubscribe, err := hub.Subscribe(ctx, streaming.EventFilter{})
	if err != nil {
		return fmt.Errorf("relay subscribe: %w", err)
	}
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := n.deliver(ctx, ev); err != nil {
				logger.WarnContext(ctx, "session relay failed",
					"event_type", ev.EventType, "instance_id", ev.InstanceID, "error", err)
			}
		}
	}
}

// deliver forwards one hub event. Events other than notifications are ignored.
func (n *SessionNotifier) deliver(ctx context.Context, ev streaming.StreamEvent) error {
	eventType, ok := strings.CutPrefix(ev.EventType, notify.HubEventPrefix)
	if !ok {
		return nil
	}
	switch p := ev.Payload.(type) {
	case notify.ApprovalRequest:
		return n.SendApprovalRequest(ctx, p)
	case *notify.ApprovalRequest:
		return n.SendApprovalRequest(ctx, *p)
	case map[string]any:
		return n.Notify(ctx, eventType, p)
	}
	return nil
}
