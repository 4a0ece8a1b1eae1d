package schema

import "time"

// Urgency is the coarse label attached to a triggering event.
type Urgency string

const (
	UrgencyEmergency Urgency = "emergency"
	UrgencyHigh      Urgency = "high"
	UrgencyMedium    Urgency = "medium"
	UrgencyLow       Urgency = "low"
)

// Priority is the instance priority derived from urgency.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Rank orders priorities; higher wins.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// PriorityFor maps an urgency label onto an instance priority.
func PriorityFor(u Urgency) Priority {
	switch u {
	case UrgencyEmergency:
		return PriorityCritical
	case UrgencyHigh:
		return PriorityHigh
	case UrgencyMedium:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// CompletionMultiplier scales a definition's estimated total time by urgency.
// Unknown urgencies scale by 1.
func CompletionMultiplier(u Urgency) float64 {
	switch u {
	case UrgencyEmergency:
		return 0.25
	case UrgencyHigh:
		return 0.5
	case UrgencyLow:
		return 2
	default:
		return 1
	}
}

// InstanceStatus represents the lifecycle state of a workflow instance.
type InstanceStatus string

const (
	InstanceStatusActive    InstanceStatus = "active"
	InstanceStatusPaused    InstanceStatus = "paused"
	InstanceStatusCompleted InstanceStatus = "completed"
	InstanceStatusCancelled InstanceStatus = "cancelled"
	InstanceStatusFailed    InstanceStatus = "failed"
)

// Terminal reports whether the instance has been retired from active tracking.
func (s InstanceStatus) Terminal() bool {
	return s == InstanceStatusCompleted || s == InstanceStatusCancelled || s == InstanceStatusFailed
}

// ExecutionStatus represents the lifecycle state of a step execution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusSkipped   ExecutionStatus = "skipped"
)

// Terminal reports whether the execution can no longer change status.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed || s == ExecutionStatusSkipped
}

// InstanceContext is the data an instance was triggered with.
type InstanceContext struct {
	Urgency      Urgency        `json:"urgency"`
	LeadID       string         `json:"lead_id,omitempty"`
	CustomerID   string         `json:"customer_id,omitempty"`
	ProjectID    string         `json:"project_id,omitempty"`
	TriggerEvent map[string]any `json:"trigger_event,omitempty"`
	Variables    map[string]any `json:"variables,omitempty"`
}

// AsMap flattens the context into the map handed to collaborators.
func (c InstanceContext) AsMap() map[string]any {
	m := map[string]any{
		"urgency":     string(c.Urgency),
		"lead_id":     c.LeadID,
		"customer_id": c.CustomerID,
		"project_id":  c.ProjectID,
	}
	if c.TriggerEvent != nil {
		m["trigger_event"] = c.TriggerEvent
	}
	vars := make(map[string]any, len(c.Variables))
	for k, v := range c.Variables {
		vars[k] = v
	}
	m["variables"] = vars
	return m
}

// InstanceProgress holds the progress counters of an instance.
type InstanceProgress struct {
	TotalSteps         int     `json:"total_steps"`
	CompletedSteps     int     `json:"completed_steps"`
	ProgressPercentage float64 `json:"progress_percentage"`
	Escalations        int     `json:"escalations"`
}

// WorkflowInstance is one triggered occurrence of a definition.
type WorkflowInstance struct {
	ID                   string            `json:"id"`
	DefinitionID         string            `json:"definition_id"`
	Status               InstanceStatus    `json:"status"`
	Priority             Priority          `json:"priority"`
	Context              InstanceContext   `json:"context"`
	CurrentStep          string            `json:"current_step,omitempty"`
	CompletedSteps       []string          `json:"completed_steps"`
	FailedSteps          []string          `json:"failed_steps"`
	AssignedTeam         map[string]string `json:"assigned_team"`
	StartedAt            time.Time         `json:"started_at"`
	ExpectedCompletionAt time.Time         `json:"expected_completion_at"`
	ActualCompletionAt   *time.Time        `json:"actual_completion_at,omitempty"`
	Progress             InstanceProgress  `json:"progress"`
}

// Clone returns a deep copy so callers cannot alias stored state.
func (w *WorkflowInstance) Clone() *WorkflowInstance {
	if w == nil {
		return nil
	}
	cp := *w
	cp.CompletedSteps = append([]string{}, w.CompletedSteps...)
	cp.FailedSteps = append([]string{}, w.FailedSteps...)
	cp.AssignedTeam = make(map[string]string, len(w.AssignedTeam))
	for k, v := range w.AssignedTeam {
		cp.AssignedTeam[k] = v
	}
	cp.Context.TriggerEvent = cloneMap(w.Context.TriggerEvent)
	cp.Context.Variables = cloneMap(w.Context.Variables)
	if w.ActualCompletionAt != nil {
		t := *w.ActualCompletionAt
		cp.ActualCompletionAt = &t
	}
	return &cp
}

// HasCompleted reports whether stepID is in the completed list.
func (w *WorkflowInstance) HasCompleted(stepID string) bool {
	for _, id := range w.CompletedSteps {
		if id == stepID {
			return true
		}
	}
	return false
}

// WorkflowExecution is the runtime record of one step within one instance.
type WorkflowExecution struct {
	InstanceID       string          `json:"instance_id"`
	StepID           string          `json:"step_id"`
	StepType         StepType        `json:"step_type"`
	Status           ExecutionStatus `json:"status"`
	AssignedTo       string          `json:"assigned_to"`
	StartedAt        *time.Time      `json:"started_at,omitempty"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	DueAt            time.Time       `json:"due_at"`
	Overdue          bool            `json:"overdue"`
	Attempts         int             `json:"attempts"`
	Escalated        bool            `json:"escalated"`
	EscalationReason string          `json:"escalation_reason,omitempty"`
	Result           map[string]any  `json:"result,omitempty"`
	CompletedBy      string          `json:"completed_by,omitempty"`
	Notes            string          `json:"notes,omitempty"`
	Error            string          `json:"error,omitempty"`
}

// Clone returns a deep copy of the execution.
func (e *WorkflowExecution) Clone() *WorkflowExecution {
	if e == nil {
		return nil
	}
	cp := *e
	if e.StartedAt != nil {
		t := *e.StartedAt
		cp.StartedAt = &t
	}
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		cp.CompletedAt = &t
	}
	cp.Result = cloneMap(e.Result)
	return &cp
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
