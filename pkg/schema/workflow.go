package schema

// WorkflowDefinition is an immutable SOP workflow template.
// Definitions are registered once at startup and never mutated afterwards.
type WorkflowDefinition struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Category    string              `json:"category,omitempty"`
	Version     string              `json:"version,omitempty"`
	Steps       []WorkflowStep      `json:"steps"`
	Triggers    []WorkflowTrigger   `json:"triggers,omitempty"`
	Variables   []WorkflowVariable  `json:"variables,omitempty"`
	Conditions  []WorkflowCondition `json:"conditions,omitempty"`
	Metadata    DefinitionMetadata  `json:"metadata"`
}

// DefinitionMetadata carries planning data for a definition.
type DefinitionMetadata struct {
	EstimatedTotalMinutes float64         `json:"estimated_total_minutes"`
	RequiredRoles         []string        `json:"required_roles,omitempty"`
	Complexity            string          `json:"complexity,omitempty"`       // low | medium | high
	ComplianceLevel       ComplianceLevel `json:"compliance_level,omitempty"` // basic | enhanced | critical
}

// ComplianceLevel grades how strictly a workflow is audited.
type ComplianceLevel string

const (
	ComplianceBasic    ComplianceLevel = "basic"
	ComplianceEnhanced ComplianceLevel = "enhanced"
	ComplianceCritical ComplianceLevel = "critical"
)

// StepType enumerates the five step behaviors.
type StepType string

const (
	StepTypeAutomated    StepType = "automated"
	StepTypeManual       StepType = "manual"
	StepTypeApproval     StepType = "approval"
	StepTypeNotification StepType = "notification"
	StepTypeIntegration  StepType = "integration"
)

// StepTypes lists every StepType. The engine requires one handler per entry.
var StepTypes = []StepType{
	StepTypeAutomated,
	StepTypeManual,
	StepTypeApproval,
	StepTypeNotification,
	StepTypeIntegration,
}

// Valid reports whether t is one of the known step types.
func (t StepType) Valid() bool {
	for _, known := range StepTypes {
		if t == known {
			return true
		}
	}
	return false
}

// WorkflowStep describes a single step of a definition.
type WorkflowStep struct {
	ID                 string              `json:"id"`
	Title              string              `json:"title"`
	Description        string              `json:"description,omitempty"`
	Type               StepType            `json:"type"`
	SequenceNumber     int                 `json:"sequence_number"`
	Dependencies       []string            `json:"dependencies,omitempty"`
	AssignedRole       string              `json:"assigned_role"`
	EstimatedMinutes   float64             `json:"estimated_minutes,omitempty"`
	Action             string              `json:"action,omitempty"` // automated steps only; defaults to the step id
	Due                DueCalculation      `json:"due"`
	CompletionCriteria CompletionCriteria  `json:"completion_criteria"`
	Notifications      NotificationConfig  `json:"notifications"`
	Integrations       IntegrationManifest `json:"integrations"`
}

// DueCalculation maps urgency levels to hours-to-complete.
type DueCalculation struct {
	Hours             map[Urgency]float64 `json:"hours"`
	BusinessHoursOnly bool                `json:"business_hours_only,omitempty"`
	ExcludeWeekends   bool                `json:"exclude_weekends,omitempty"`
}

// HoursFor returns the hours for urgency, falling back to the medium entry
// when the urgency has no entry of its own.
func (d DueCalculation) HoursFor(u Urgency) float64 {
	if h, ok := d.Hours[u]; ok {
		return h
	}
	return d.Hours[UrgencyMedium]
}

// CompletionCriteria lists what must be supplied to mark a step done.
type CompletionCriteria struct {
	Type           string   `json:"type,omitempty"` // manual | automated | approval
	RequiredFields []string `json:"required_fields,omitempty"`
}

// NotificationConfig is the step's notification manifest.
type NotificationConfig struct {
	OnStart    bool     `json:"on_start,omitempty"`
	OnDue      bool     `json:"on_due,omitempty"`
	OnOverdue  bool     `json:"on_overdue,omitempty"`
	OnComplete bool     `json:"on_complete,omitempty"`
	Recipients []string `json:"recipients,omitempty"`
}

// IntegrationManifest lists the named integrations an integration step runs.
// External integrations run before internal ones, each in list order.
type IntegrationManifest struct {
	External []string `json:"external,omitempty"`
	Internal []string `json:"internal,omitempty"`
}

// TriggerType enumerates the business events that can start a workflow.
type TriggerType string

const (
	TriggerLeadReceived TriggerType = "lead_received"
	TriggerStatusChange TriggerType = "status_change"
	TriggerTimeBased    TriggerType = "time_based"
	TriggerManual       TriggerType = "manual"
	TriggerExternalAPI  TriggerType = "external_api"
)

// WorkflowTrigger selects a definition for an incoming business event.
type WorkflowTrigger struct {
	Type       TriggerType    `json:"type"`
	Conditions map[string]any `json:"conditions,omitempty"` // equality matches against event data
	Expression string         `json:"expression,omitempty"` // optional CEL guard over event and data
	Priority   Priority       `json:"priority"`
	Enabled    bool           `json:"enabled"`
}

// VariableSource says where a variable's value comes from.
type VariableSource string

const (
	SourceLeadData        VariableSource = "lead_data"
	SourceCustomerData    VariableSource = "customer_data"
	SourceProjectData     VariableSource = "project_data"
	SourceUserInput       VariableSource = "user_input"
	SourceSystemGenerated VariableSource = "system_generated"
)

// FromEvent reports whether the source reads from the triggering event payload.
func (s VariableSource) FromEvent() bool {
	return s == SourceLeadData || s == SourceCustomerData || s == SourceProjectData
}

// WorkflowVariable declares a typed variable resolved at trigger time.
type WorkflowVariable struct {
	Name         string         `json:"name"`
	Type         string         `json:"type"` // string | number | boolean | date | object
	DefaultValue any            `json:"default_value,omitempty"`
	Required     bool           `json:"required,omitempty"`
	Source       VariableSource `json:"source"`
	Path         string         `json:"path,omitempty"` // jq path into the event payload; defaults to .<name>
}

// ConditionAction enumerates what a satisfied condition does.
type ConditionAction string

const (
	ConditionSkipStep         ConditionAction = "skip_step"
	ConditionAddStep          ConditionAction = "add_step"
	ConditionChangeAssignment ConditionAction = "change_assignment"
	ConditionEscalate         ConditionAction = "escalate"
	ConditionNotify           ConditionAction = "notify"
)

// WorkflowCondition is a guard expression plus the action taken when it holds.
type WorkflowCondition struct {
	ID         string          `json:"id"`
	Expression string          `json:"expression"`
	Action     ConditionAction `json:"action"`
	Parameters map[string]any  `json:"parameters,omitempty"`
}

// Step returns the step with the given id.
func (d *WorkflowDefinition) Step(id string) (*WorkflowStep, bool) {
	for i := range d.Steps {
		if d.Steps[i].ID == id {
			return &d.Steps[i], true
		}
	}
	return nil, false
}

// NextStep returns the step following id in sequence order, or nil when id is last.
func (d *WorkflowDefinition) NextStep(id string) *WorkflowStep {
	for i := range d.Steps {
		if d.Steps[i].ID == id && i+1 < len(d.Steps) {
			return &d.Steps[i+1]
		}
	}
	return nil
}

// FirstStep returns the first step in sequence order, or nil for an empty definition.
func (d *WorkflowDefinition) FirstStep() *WorkflowStep {
	if len(d.Steps) == 0 {
		return nil
	}
	return &d.Steps[0]
}
