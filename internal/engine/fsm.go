package engine

import (
	"context"
	"encoding/json"

	"github.com/floridafirst/sopflow/internal/store"
	"github.com/floridafirst/sopflow/pkg/schema"
)

// EventAppender is satisfied by the Store and the event recorder; used by FSMs to emit events on transitions.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *store.Event) error
}

// --- Instance FSM ---

// InstanceFSM validates instance lifecycle transitions and records them.
type InstanceFSM struct {
	appender EventAppender
}

// NewInstanceFSM creates an InstanceFSM that emits events via the given appender.
func NewInstanceFSM(appender EventAppender) *InstanceFSM {
	return &InstanceFSM{appender: appender}
}

// Transition validates from -> to and emits the matching event.
// The caller is responsible for persisting the new status.
func (f *InstanceFSM) Transition(ctx context.Context, instanceID string, from, to schema.InstanceStatus, payload map[string]any) error {
	if !isValidInstanceTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid instance transition: %s -> %s", from, to).
			WithDetails(map[string]any{"instance_id": instanceID, "from": string(from), "to": string(to)})
	}

	eventType := instanceEventType(from, to)
	if eventType == "" {
		return nil
	}
	event := &store.Event{
		InstanceID: instanceID,
		Type:       eventType,
		Payload:    encodePayload(payload),
	}
	if err := f.appender.AppendEvent(ctx, event); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "emit instance event: %s", err.Error()).WithCause(err)
	}
	return nil
}

func isValidInstanceTransition(from, to schema.InstanceStatus) bool {
	for _, a := range ValidInstanceTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

func instanceEventType(from, to schema.InstanceStatus) string {
	switch to {
	case schema.InstanceStatusActive:
		if from == schema.InstanceStatusPaused {
			return schema.EventInstanceResumed
		}
		return schema.EventInstanceStarted
	case schema.InstanceStatusPaused:
		return schema.EventInstancePaused
	case schema.InstanceStatusCompleted:
		return schema.EventInstanceCompleted
	case schema.InstanceStatusFailed:
		return schema.EventInstanceFailed
	case schema.InstanceStatusCancelled:
		return schema.EventInstanceCancelled
	default:
		return ""
	}
}

// --- Execution FSM ---

// ExecutionFSM validates step execution transitions and records them.
type ExecutionFSM struct {
	appender EventAppender
}

// NewExecutionFSM creates an ExecutionFSM that emits events via the given appender.
func NewExecutionFSM(appender EventAppender) *ExecutionFSM {
	return &ExecutionFSM{appender: appender}
}

// Transition validates from -> to for one execution and emits the matching event.
func (f *ExecutionFSM) Transition(ctx context.Context, instanceID, stepID string, from, to schema.ExecutionStatus, payload map[string]any) error {
	if !isValidExecutionTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid execution transition: %s -> %s", from, to).
			WithStep(stepID).
			WithDetails(map[string]any{"instance_id": instanceID, "from": string(from), "to": string(to)})
	}

	eventType := executionEventType(to)
	if eventType == "" {
		return nil
	}
	event := &store.Event{
		InstanceID: instanceID,
		StepID:     stepID,
		Type:       eventType,
		Payload:    encodePayload(payload),
	}
	if err := f.appender.AppendEvent(ctx, event); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "emit step event: %s", err.Error()).
			WithStep(stepID).WithCause(err)
	}
	return nil
}

func isValidExecutionTransition(from, to schema.ExecutionStatus) bool {
	for _, a := range ValidExecutionTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

func executionEventType(to schema.ExecutionStatus) string {
	switch to {
	case schema.ExecutionStatusRunning:
		return schema.EventStepStarted
	case schema.ExecutionStatusCompleted:
		return schema.EventStepCompleted
	case schema.ExecutionStatusFailed:
		return schema.EventStepFailed
	case schema.ExecutionStatusSkipped:
		return schema.EventStepSkipped
	default:
		return ""
	}
}

// --- Cancel Cascade ---

// CancelInstance transitions an instance to cancelled and skips every
// non-terminal execution. The skipped executions are updated in place and
// returned so the caller can persist them.
func CancelInstance(ctx context.Context, instFSM *InstanceFSM, execFSM *ExecutionFSM, inst *schema.WorkflowInstance, execs []*schema.WorkflowExecution, reason string) ([]*schema.WorkflowExecution, error) {
	if err := instFSM.Transition(ctx, inst.ID, inst.Status, schema.InstanceStatusCancelled,
		map[string]any{"reason": reason}); err != nil {
		return nil, err
	}
	inst.Status = schema.InstanceStatusCancelled

	var skipped []*schema.WorkflowExecution
	for _, exec := range execs {
		if exec.Status.Terminal() || !isValidExecutionTransition(exec.Status, schema.ExecutionStatusSkipped) {
			continue
		}
		if err := execFSM.Transition(ctx, inst.ID, exec.StepID, exec.Status, schema.ExecutionStatusSkipped,
			map[string]any{"reason": "instance cancelled"}); err != nil {
			return skipped, err
		}
		exec.Status = schema.ExecutionStatusSkipped
		skipped = append(skipped, exec)
	}
	return skipped, nil
}

// --- Transition tables ---

// ValidInstanceTransitions defines the allowed state transitions for instances.
var ValidInstanceTransitions = map[schema.InstanceStatus][]schema.InstanceStatus{
	schema.InstanceStatusActive:    {schema.InstanceStatusPaused, schema.InstanceStatusCompleted, schema.InstanceStatusFailed, schema.InstanceStatusCancelled},
	schema.InstanceStatusPaused:    {schema.InstanceStatusActive, schema.InstanceStatusCancelled, schema.InstanceStatusFailed},
	schema.InstanceStatusCompleted: {},
	schema.InstanceStatusFailed:    {},
	schema.InstanceStatusCancelled: {},
}

// ValidExecutionTransitions defines the allowed state transitions for step executions.
// Status only ever moves forward.
var ValidExecutionTransitions = map[schema.ExecutionStatus][]schema.ExecutionStatus{
	schema.ExecutionStatusPending:   {schema.ExecutionStatusRunning, schema.ExecutionStatusSkipped},
	schema.ExecutionStatusRunning:   {schema.ExecutionStatusCompleted, schema.ExecutionStatusFailed, schema.ExecutionStatusSkipped},
	schema.ExecutionStatusCompleted: {},
	schema.ExecutionStatusFailed:    {},
	schema.ExecutionStatusSkipped:   {},
}

func encodePayload(payload map[string]any) json.RawMessage {
	if len(payload) == 0 {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return data
}
