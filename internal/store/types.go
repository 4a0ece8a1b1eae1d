package store

import (
	"encoding/json"
	"time"

	"github.com/floridafirst/sopflow/pkg/schema"
)

// Event is an immutable entry in an instance's event log.
type Event struct {
	ID         int64           `json:"id"`
	InstanceID string          `json:"instance_id"`
	StepID     string          `json:"step_id,omitempty"`
	Type       string          `json:"event_type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	ActorID    string          `json:"actor_id,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Sequence   int64           `json:"sequence"`
}

// InstanceFilter narrows ListInstances. Zero value lists everything, oldest first.
type InstanceFilter struct {
	Statuses     []schema.InstanceStatus
	DefinitionID string
	Limit        int
}

// ExecutionFilter narrows ListExecutions. Results are ordered by instance
// creation, then by step sequence.
type ExecutionFilter struct {
	InstanceID string
	Status     schema.ExecutionStatus
	StepType   schema.StepType
	// ActiveOnly keeps executions whose instance is active or paused.
	ActiveOnly bool
}

// EventFilter narrows GetEventsByType.
type EventFilter struct {
	InstanceID string
	Since      time.Time
	Limit      int
}

// ActiveStatuses are the statuses of instances still under active tracking.
var ActiveStatuses = []schema.InstanceStatus{schema.InstanceStatusActive, schema.InstanceStatusPaused}

func (f InstanceFilter) matches(inst *schema.WorkflowInstance) bool {
	if f.DefinitionID != "" && inst.DefinitionID != f.DefinitionID {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if inst.Status == s {
			return true
		}
	}
	return false
}

func (f ExecutionFilter) matches(exec *schema.WorkflowExecution) bool {
	if f.InstanceID != "" && exec.InstanceID != f.InstanceID {
		return false
	}
	if f.Status != "" && exec.Status != f.Status {
		return false
	}
	if f.StepType != "" && exec.StepType != f.StepType {
		return false
	}
	return true
}
