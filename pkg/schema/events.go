package schema

// Event type constants for the instance event log and the notification adapter.
const (
	EventInstanceStarted   = "instance_started"
	EventInstanceCompleted = "instance_completed"
	EventInstanceFailed    = "instance_failed"
	EventInstanceCancelled = "instance_cancelled"
	EventInstancePaused    = "instance_paused"
	EventInstanceResumed   = "instance_resumed"

	EventStepStarted   = "step_started"
	EventStepCompleted = "step_completed"
	EventStepFailed    = "step_failed"
	EventStepSkipped   = "step_skipped"

	EventTaskAssigned      = "task_assigned"
	EventApprovalRequested = "approval_requested"
	EventStepNotification  = "step_notification"
	EventIntegrationRun    = "integration_run"

	EventStepOverdue = "step_overdue"
	EventEscalation  = "escalation"

	EventConditionApplied  = "condition_applied"
	EventConditionDeferred = "condition_deferred"
	EventVariableMissing   = "variable_missing"
)
