// Package engine drives SOP workflow instances: it creates instances from
// registered definitions, dispatches their steps in sequence order and records
// every transition in the instance event log.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/floridafirst/sopflow/internal/actions"
	"github.com/floridafirst/sopflow/internal/expressions"
	"github.com/floridafirst/sopflow/internal/integrations"
	"github.com/floridafirst/sopflow/internal/logging"
	"github.com/floridafirst/sopflow/internal/notify"
	"github.com/floridafirst/sopflow/internal/registry"
	"github.com/floridafirst/sopflow/internal/roles"
	"github.com/floridafirst/sopflow/internal/store"
	"github.com/floridafirst/sopflow/internal/streaming"
	"github.com/floridafirst/sopflow/pkg/schema"
)

// Orchestrator is the public surface of the workflow engine.
type Orchestrator interface {
	// TriggerWorkflow creates an instance of definitionID and advances its first step.
	TriggerWorkflow(ctx context.Context, definitionID string, tc TriggerContext) (*schema.WorkflowInstance, error)

	// DispatchEvent routes a business event to the best matching trigger and starts that workflow.
	DispatchEvent(ctx context.Context, ev BusinessEvent) (*schema.WorkflowInstance, error)

	// CompleteManualStep records the result of a running manual or approval step
	// and advances the instance. Fails with NOT_RUNNING unless the step is running.
	CompleteManualStep(ctx context.Context, instanceID, stepID string, result map[string]any, completedBy string) (bool, error)

	PauseWorkflow(ctx context.Context, instanceID string) (bool, error)
	ResumeWorkflow(ctx context.Context, instanceID string) (bool, error)
	CancelWorkflow(ctx context.Context, instanceID, reason string) (bool, error)

	GetActiveWorkflows(ctx context.Context) ([]*schema.WorkflowInstance, error)
	GetWorkflowStatus(ctx context.Context, instanceID string) (*schema.WorkflowInstance, error)
	GetExecutions(ctx context.Context, instanceID string) ([]*schema.WorkflowExecution, error)
	GetEvents(ctx context.Context, instanceID string, since int64) ([]*store.Event, error)

	// RunAutomationPass advances pending automated steps that are current on an active instance.
	RunAutomationPass(ctx context.Context) (int, error)
	// RunOverduePass flags running executions whose due time has passed.
	RunOverduePass(ctx context.Context) (int, error)
}

// TriggerContext is the caller-supplied data a workflow is triggered with.
type TriggerContext struct {
	Urgency      schema.Urgency `json:"urgency" validate:"max=32"`
	LeadID       string         `json:"lead_id,omitempty" validate:"max=128"`
	CustomerID   string         `json:"customer_id,omitempty" validate:"max=128"`
	ProjectID    string         `json:"project_id,omitempty" validate:"max=128"`
	TriggerEvent map[string]any `json:"trigger_event,omitempty"`
	Variables    map[string]any `json:"variables,omitempty"`
}

// Deps are the orchestrator's collaborators. Store and Registry are required;
// everything else has an in-process default.
type Deps struct {
	Store        store.Store
	Registry     *registry.Registry
	Actions      *actions.Registry
	Integrations integrations.Adapter
	Roles        roles.Resolver
	Notifier     notify.Notifier
	Hub          streaming.EventHub

	// Conditions evaluates condition guards (expr syntax).
	Conditions expressions.Engine
	// Triggers evaluates trigger expressions (CEL).
	Triggers  expressions.Engine
	Extractor VariableExtractor

	Logger *slog.Logger
	Now    func() time.Time
}

type orchestratorImpl struct {
	store      store.Store
	registry   *registry.Registry
	roles      roles.Resolver
	notifier   notify.Notifier
	conditions expressions.Engine
	extractor  VariableExtractor
	router     *Router
	handlers   map[schema.StepType]StepHandler
	events     *eventRecorder
	instFSM    *InstanceFSM
	execFSM    *ExecutionFSM
	locks      *keyedMutex
	validate   *validator.Validate
	logger     *slog.Logger
	now        func() time.Time
}

// NewOrchestrator wires an Orchestrator from deps.
func NewOrchestrator(deps Deps) (Orchestrator, error) {
	if deps.Store == nil {
		return nil, errors.New("engine: store is required")
	}
	if deps.Registry == nil {
		return nil, errors.New("engine: registry is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	adapter := deps.Integrations
	if adapter == nil {
		adapter = integrations.NewRegistry(logger)
	}
	resolver := deps.Roles
	if resolver == nil {
		resolver = roles.NewStaticResolver(nil, "")
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.NewLogNotifier(logger)
	}
	acts := deps.Actions
	if acts == nil {
		acts = actions.NewRegistry()
		if err := actions.RegisterBuiltins(acts, actions.BuiltinDeps{
			Roles:        resolver,
			Integrations: adapter,
			Logger:       logger,
		}); err != nil {
			return nil, fmt.Errorf("engine: register builtin actions: %w", err)
		}
	}
	conditions := deps.Conditions
	if conditions == nil {
		conditions = expressions.NewExprEngine()
	}
	triggers := deps.Triggers
	if triggers == nil {
		cel, err := expressions.NewCELEngine()
		if err != nil {
			return nil, fmt.Errorf("engine: cel engine: %w", err)
		}
		triggers = cel
	}
	extractor := deps.Extractor
	if extractor == nil {
		extractor = expressions.NewGoJQEngine()
	}

	events := &eventRecorder{store: deps.Store, hub: deps.Hub, now: now, logger: logger}
	handlers, err := newHandlers(acts, adapter, notifier, events)
	if err != nil {
		return nil, err
	}

	return &orchestratorImpl{
		store:      deps.Store,
		registry:   deps.Registry,
		roles:      resolver,
		notifier:   notifier,
		conditions: conditions,
		extractor:  extractor,
		router:     NewRouter(deps.Registry, triggers, logger),
		handlers:   handlers,
		events:     events,
		instFSM:    NewInstanceFSM(events),
		execFSM:    NewExecutionFSM(events),
		locks:      newKeyedMutex(),
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		logger:     logger,
		now:        now,
	}, nil
}

// --- Trigger ---

func (o *orchestratorImpl) TriggerWorkflow(ctx context.Context, definitionID string, tc TriggerContext) (*schema.WorkflowInstance, error) {
	def, err := o.registry.Lookup(definitionID)
	if err != nil {
		return nil, err
	}
	if err := o.validate.Struct(tc); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid trigger context: %s", err.Error()).WithCause(err)
	}

	now := o.now()
	inst := &schema.WorkflowInstance{
		ID:           newInstanceID(now),
		DefinitionID: def.ID,
		Status:       schema.InstanceStatusActive,
		Priority:     schema.PriorityFor(tc.Urgency),
		Context: schema.InstanceContext{
			Urgency:      tc.Urgency,
			LeadID:       tc.LeadID,
			CustomerID:   tc.CustomerID,
			ProjectID:    tc.ProjectID,
			TriggerEvent: tc.TriggerEvent,
		},
		CompletedSteps:       []string{},
		FailedSteps:          []string{},
		AssignedTeam:         map[string]string{},
		StartedAt:            now,
		ExpectedCompletionAt: now.Add(minutes(def.Metadata.EstimatedTotalMinutes * schema.CompletionMultiplier(tc.Urgency))),
		Progress:             schema.InstanceProgress{TotalSteps: len(def.Steps)},
	}
	if first := def.FirstStep(); first != nil {
		inst.CurrentStep = first.ID
	}

	ctx = logging.WithInstanceID(ctx, inst.ID)
	vars, missing := o.resolveVariables(ctx, def, inst, tc.Variables)
	inst.Context.Variables = vars

	execs := make([]*schema.WorkflowExecution, 0, len(def.Steps))
	for i := range def.Steps {
		step := &def.Steps[i]
		execs = append(execs, &schema.WorkflowExecution{
			InstanceID: inst.ID,
			StepID:     step.ID,
			StepType:   step.Type,
			Status:     schema.ExecutionStatusPending,
			AssignedTo: o.roles.Resolve(ctx, step.AssignedRole, inst.Context),
			DueAt:      now.Add(hours(step.Due.HoursFor(tc.Urgency))),
		})
	}

	unlock := o.locks.Lock(inst.ID)
	defer unlock()

	if err := o.store.CreateInstance(ctx, inst, execs); err != nil {
		return nil, err
	}
	if err := o.events.record(ctx, inst.ID, "", schema.EventInstanceStarted, map[string]any{
		"definition_id": def.ID,
		"urgency":       string(tc.Urgency),
		"priority":      string(inst.Priority),
	}); err != nil {
		return nil, err
	}
	o.logger.InfoContext(ctx, "workflow triggered",
		"definition_id", def.ID, "priority", inst.Priority, "steps", len(def.Steps))

	for _, name := range missing {
		o.logger.WarnContext(ctx, "required variable missing", "variable", name)
		if err := o.events.record(ctx, inst.ID, "", schema.EventVariableMissing, map[string]any{"variable": name}); err != nil {
			return nil, err
		}
	}

	escalations := inst.Progress.Escalations
	if err := o.applyConditions(ctx, def, inst); err != nil {
		return nil, err
	}
	if inst.Progress.Escalations != escalations {
		if err := o.store.UpdateInstance(ctx, inst); err != nil {
			return nil, err
		}
	}

	if inst.CurrentStep == "" {
		if err := o.finishInstance(ctx, inst); err != nil {
			return nil, err
		}
	} else if err := o.advance(ctx, inst.ID); err != nil {
		return nil, err
	}
	return o.store.GetInstance(ctx, inst.ID)
}

func (o *orchestratorImpl) DispatchEvent(ctx context.Context, ev BusinessEvent) (*schema.WorkflowInstance, error) {
	if err := o.validate.Struct(ev); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid event: %s", err.Error()).WithCause(err)
	}
	m, err := o.router.Match(ctx, ev)
	if err != nil {
		return nil, err
	}
	o.logger.InfoContext(ctx, "event routed",
		"event_type", ev.Type, "definition_id", m.Definition.ID, "trigger_priority", m.Trigger.Priority)
	return o.TriggerWorkflow(ctx, m.Definition.ID, triggerContextFor(ev))
}

// --- Advancement ---

// advance runs the instance's current step and keeps going while steps
// complete synchronously. The caller holds the instance lock.
func (o *orchestratorImpl) advance(ctx context.Context, instanceID string) error {
	for {
		inst, err := o.store.GetInstance(ctx, instanceID)
		if err != nil {
			return err
		}
		if inst.Status != schema.InstanceStatusActive || inst.CurrentStep == "" {
			return nil
		}
		exec, err := o.store.GetExecution(ctx, inst.ID, inst.CurrentStep)
		if err != nil {
			if schema.CodeOf(err) == schema.ErrCodeNotFound {
				return nil
			}
			return err
		}
		if exec.Status != schema.ExecutionStatusPending {
			return nil
		}
		def, err := o.registry.Lookup(inst.DefinitionID)
		if err != nil {
			return err
		}
		step, ok := def.Step(exec.StepID)
		if !ok {
			return schema.NewErrorf(schema.ErrCodeExecution, "step %q not in definition %q", exec.StepID, def.ID).WithStep(exec.StepID)
		}

		more, err := o.runStep(logging.WithStepID(ctx, step.ID), def, inst, exec, step)
		if err != nil || !more {
			return err
		}
	}
}

// runStep starts one pending execution and dispatches it to its handler.
// It reports whether the instance moved on to a next step.
func (o *orchestratorImpl) runStep(ctx context.Context, def *schema.WorkflowDefinition, inst *schema.WorkflowInstance, exec *schema.WorkflowExecution, step *schema.WorkflowStep) (bool, error) {
	if err := o.execFSM.Transition(ctx, inst.ID, step.ID, exec.Status, schema.ExecutionStatusRunning,
		map[string]any{"step_type": string(step.Type), "assigned_to": exec.AssignedTo}); err != nil {
		return false, err
	}
	started := o.now()
	exec.Status = schema.ExecutionStatusRunning
	exec.StartedAt = &started
	if err := o.store.UpdateExecution(ctx, exec); err != nil {
		return false, err
	}
	if step.Notifications.OnStart {
		o.notifyRecipients(ctx, schema.EventStepStarted, inst, step)
	}

	handler, ok := o.handlers[step.Type]
	if !ok {
		return false, o.failStep(ctx, inst, exec,
			schema.NewErrorf(schema.ErrCodeExecution, "unknown step type %q", step.Type).WithStep(step.ID))
	}
	res, err := handler.Handle(ctx, StepRun{Instance: inst, Execution: exec, Step: step})
	if err != nil {
		return false, o.failStep(ctx, inst, exec, err)
	}
	if res.Outcome == OutcomeAwaiting {
		o.logger.DebugContext(ctx, "step awaiting completion", "step_type", step.Type, "assigned_to", exec.AssignedTo)
		return false, nil
	}
	return o.completeStep(ctx, def, inst, exec, step, res, "")
}

// completeStep marks a running execution completed and moves the instance to
// the next step in sequence order, or completes the instance after the last one.
func (o *orchestratorImpl) completeStep(ctx context.Context, def *schema.WorkflowDefinition, inst *schema.WorkflowInstance, exec *schema.WorkflowExecution, step *schema.WorkflowStep, res StepResult, completedBy string) (bool, error) {
	if err := o.execFSM.Transition(ctx, inst.ID, step.ID, exec.Status, schema.ExecutionStatusCompleted,
		map[string]any{"completed_by": completedBy, "result": res.Result}); err != nil {
		return false, err
	}
	done := o.now()
	exec.Status = schema.ExecutionStatusCompleted
	exec.CompletedAt = &done
	exec.Result = res.Result
	if completedBy != "" {
		exec.CompletedBy = completedBy
		exec.Notes = "Completed by: " + completedBy
	}
	if err := o.store.UpdateExecution(ctx, exec); err != nil {
		return false, err
	}

	if !inst.HasCompleted(step.ID) {
		inst.CompletedSteps = append(inst.CompletedSteps, step.ID)
	}
	if len(res.Team) > 0 && inst.AssignedTeam == nil {
		inst.AssignedTeam = make(map[string]string, len(res.Team))
	}
	for role, actor := range res.Team {
		inst.AssignedTeam[role] = actor
	}
	inst.Progress.CompletedSteps = len(inst.CompletedSteps)
	inst.Progress.ProgressPercentage = progressPercentage(inst.Progress.CompletedSteps, inst.Progress.TotalSteps)

	if step.Notifications.OnComplete {
		o.notifyRecipients(ctx, schema.EventStepCompleted, inst, step)
	}

	next := def.NextStep(step.ID)
	if next == nil && inst.Status != schema.InstanceStatusActive {
		// A paused instance cannot complete; ResumeWorkflow finishes it.
		inst.CurrentStep = ""
		if err := o.store.UpdateInstance(ctx, inst); err != nil {
			return false, err
		}
		o.logger.InfoContext(ctx, "last step completed, completion deferred", "status", inst.Status)
		return false, nil
	}
	if next == nil {
		return false, o.finishInstance(ctx, inst)
	}
	inst.CurrentStep = next.ID
	if err := o.store.UpdateInstance(ctx, inst); err != nil {
		return false, err
	}
	return true, nil
}

func (o *orchestratorImpl) finishInstance(ctx context.Context, inst *schema.WorkflowInstance) error {
	if err := o.instFSM.Transition(ctx, inst.ID, inst.Status, schema.InstanceStatusCompleted,
		map[string]any{"completed_steps": len(inst.CompletedSteps)}); err != nil {
		return err
	}
	done := o.now()
	inst.Status = schema.InstanceStatusCompleted
	inst.CurrentStep = ""
	inst.ActualCompletionAt = &done
	inst.Progress.ProgressPercentage = progressPercentage(inst.Progress.CompletedSteps, inst.Progress.TotalSteps)
	if err := o.store.UpdateInstance(ctx, inst); err != nil {
		return err
	}
	o.logger.InfoContext(ctx, "workflow completed", "definition_id", inst.DefinitionID)
	return nil
}

// failStep records a step failure. The instance stays at the failed step and
// nothing retries it.
func (o *orchestratorImpl) failStep(ctx context.Context, inst *schema.WorkflowInstance, exec *schema.WorkflowExecution, cause error) error {
	o.logger.ErrorContext(ctx, "step failed", "error", cause)

	payload := map[string]any{"error": cause.Error()}
	if code := schema.CodeOf(cause); code != "" {
		payload["code"] = code
	}
	if err := o.execFSM.Transition(ctx, inst.ID, exec.StepID, exec.Status, schema.ExecutionStatusFailed, payload); err != nil {
		return err
	}
	exec.Status = schema.ExecutionStatusFailed
	exec.Attempts++
	exec.Error = cause.Error()
	if err := o.store.UpdateExecution(ctx, exec); err != nil {
		return err
	}

	inst.FailedSteps = append(inst.FailedSteps, exec.StepID)
	if err := o.store.UpdateInstance(ctx, inst); err != nil {
		return err
	}
	o.sideNotify(ctx, schema.EventStepFailed, map[string]any{
		"instance_id": inst.ID,
		"step_id":     exec.StepID,
		"error":       cause.Error(),
	})
	return nil
}

// --- Manual completion ---

func (o *orchestratorImpl) CompleteManualStep(ctx context.Context, instanceID, stepID string, result map[string]any, completedBy string) (bool, error) {
	ctx = logging.WithIDs(ctx, instanceID, stepID, completedBy)
	unlock := o.locks.Lock(instanceID)
	defer unlock()

	inst, err := o.store.GetInstance(ctx, instanceID)
	if err != nil {
		return false, err
	}
	if inst.Status.Terminal() {
		return false, schema.NewErrorf(schema.ErrCodeNotRunning, "instance is %s", inst.Status).
			WithStep(stepID).
			WithDetails(map[string]any{"instance_id": instanceID, "status": string(inst.Status)})
	}
	exec, err := o.store.GetExecution(ctx, instanceID, stepID)
	if err != nil {
		return false, err
	}
	if exec.Status != schema.ExecutionStatusRunning {
		return false, schema.NewErrorf(schema.ErrCodeNotRunning, "step is %s, not running", exec.Status).
			WithStep(stepID).
			WithDetails(map[string]any{"instance_id": instanceID, "status": string(exec.Status)})
	}
	def, err := o.registry.Lookup(inst.DefinitionID)
	if err != nil {
		return false, err
	}
	step, ok := def.Step(stepID)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeNotFound, "step %q not in definition %q", stepID, def.ID).WithStep(stepID)
	}
	if missing := missingFields(step.CompletionCriteria.RequiredFields, result); len(missing) > 0 {
		return false, schema.NewErrorf(schema.ErrCodeValidation, "result is missing required fields: %s", strings.Join(missing, ", ")).
			WithStep(stepID).
			WithDetails(map[string]any{"missing_fields": missing})
	}

	if _, err := o.completeStep(ctx, def, inst, exec, step, StepResult{Outcome: OutcomeCompleted, Result: result}, completedBy); err != nil {
		return false, err
	}
	if err := o.advance(ctx, instanceID); err != nil {
		return true, err
	}
	return true, nil
}

// --- Lifecycle ---

func (o *orchestratorImpl) PauseWorkflow(ctx context.Context, instanceID string) (bool, error) {
	ctx = logging.WithInstanceID(ctx, instanceID)
	unlock := o.locks.Lock(instanceID)
	defer unlock()

	inst, err := o.store.GetInstance(ctx, instanceID)
	if err != nil {
		return false, err
	}
	if inst.Status != schema.InstanceStatusActive {
		return false, nil
	}
	if err := o.instFSM.Transition(ctx, instanceID, inst.Status, schema.InstanceStatusPaused, nil); err != nil {
		return false, err
	}
	inst.Status = schema.InstanceStatusPaused
	if err := o.store.UpdateInstance(ctx, inst); err != nil {
		return false, err
	}
	o.logger.InfoContext(ctx, "workflow paused", "current_step", inst.CurrentStep)
	return true, nil
}

func (o *orchestratorImpl) ResumeWorkflow(ctx context.Context, instanceID string) (bool, error) {
	ctx = logging.WithInstanceID(ctx, instanceID)
	unlock := o.locks.Lock(instanceID)
	defer unlock()

	inst, err := o.store.GetInstance(ctx, instanceID)
	if err != nil {
		return false, err
	}
	if inst.Status != schema.InstanceStatusPaused {
		return false, nil
	}
	if err := o.instFSM.Transition(ctx, instanceID, inst.Status, schema.InstanceStatusActive, nil); err != nil {
		return false, err
	}
	inst.Status = schema.InstanceStatusActive
	if err := o.store.UpdateInstance(ctx, inst); err != nil {
		return false, err
	}
	o.logger.InfoContext(ctx, "workflow resumed", "current_step", inst.CurrentStep)
	if inst.CurrentStep == "" {
		// Every step finished while paused.
		return true, o.finishInstance(ctx, inst)
	}
	if err := o.advance(ctx, instanceID); err != nil {
		return true, err
	}
	return true, nil
}

func (o *orchestratorImpl) CancelWorkflow(ctx context.Context, instanceID, reason string) (bool, error) {
	ctx = logging.WithInstanceID(ctx, instanceID)
	unlock := o.locks.Lock(instanceID)
	defer unlock()

	inst, err := o.store.GetInstance(ctx, instanceID)
	if err != nil {
		return false, err
	}
	if inst.Status.Terminal() {
		return false, nil
	}
	execs, err := o.store.ListExecutions(ctx, store.ExecutionFilter{InstanceID: instanceID})
	if err != nil {
		return false, err
	}
	skipped, err := CancelInstance(ctx, o.instFSM, o.execFSM, inst, execs, reason)
	for _, exec := range skipped {
		if uerr := o.store.UpdateExecution(ctx, exec); uerr != nil {
			return false, uerr
		}
	}
	if err != nil {
		return false, err
	}
	done := o.now()
	inst.ActualCompletionAt = &done
	if err := o.store.UpdateInstance(ctx, inst); err != nil {
		return false, err
	}
	o.logger.InfoContext(ctx, "workflow cancelled", "reason", reason, "skipped_steps", len(skipped))
	return true, nil
}

// --- Queries ---

func (o *orchestratorImpl) GetActiveWorkflows(ctx context.Context) ([]*schema.WorkflowInstance, error) {
	return o.store.ListInstances(ctx, store.InstanceFilter{Statuses: store.ActiveStatuses})
}

func (o *orchestratorImpl) GetWorkflowStatus(ctx context.Context, instanceID string) (*schema.WorkflowInstance, error) {
	return o.store.GetInstance(ctx, instanceID)
}

func (o *orchestratorImpl) GetExecutions(ctx context.Context, instanceID string) ([]*schema.WorkflowExecution, error) {
	if _, err := o.store.GetInstance(ctx, instanceID); err != nil {
		return nil, err
	}
	return o.store.ListExecutions(ctx, store.ExecutionFilter{InstanceID: instanceID})
}

func (o *orchestratorImpl) GetEvents(ctx context.Context, instanceID string, since int64) ([]*store.Event, error) {
	if _, err := o.store.GetInstance(ctx, instanceID); err != nil {
		return nil, err
	}
	return o.store.GetEvents(ctx, instanceID, since)
}

// --- Scheduler passes ---

func (o *orchestratorImpl) RunAutomationPass(ctx context.Context) (int, error) {
	pending, err := o.store.ListExecutions(ctx, store.ExecutionFilter{
		Status:     schema.ExecutionStatusPending,
		StepType:   schema.StepTypeAutomated,
		ActiveOnly: true,
	})
	if err != nil {
		return 0, err
	}

	advanced := 0
	var errs []error
	for _, exec := range pending {
		ok, err := o.automate(ctx, exec.InstanceID, exec.StepID)
		if err != nil {
			o.logger.ErrorContext(ctx, "automation pass: advance failed",
				"instance_id", exec.InstanceID, "step_id", exec.StepID, "error", err)
			errs = append(errs, fmt.Errorf("%s/%s: %w", exec.InstanceID, exec.StepID, err))
			continue
		}
		if ok {
			advanced++
		}
	}
	return advanced, errors.Join(errs...)
}

func (o *orchestratorImpl) automate(ctx context.Context, instanceID, stepID string) (bool, error) {
	ctx = logging.WithInstanceID(ctx, instanceID)
	unlock := o.locks.Lock(instanceID)
	defer unlock()

	inst, err := o.store.GetInstance(ctx, instanceID)
	if err != nil {
		return false, err
	}
	if inst.Status != schema.InstanceStatusActive || inst.CurrentStep != stepID {
		return false, nil
	}
	exec, err := o.store.GetExecution(ctx, instanceID, stepID)
	if err != nil {
		return false, err
	}
	if exec.Status != schema.ExecutionStatusPending {
		return false, nil
	}
	return true, o.advance(ctx, instanceID)
}

func (o *orchestratorImpl) RunOverduePass(ctx context.Context) (int, error) {
	running, err := o.store.ListExecutions(ctx, store.ExecutionFilter{
		Status:     schema.ExecutionStatusRunning,
		ActiveOnly: true,
	})
	if err != nil {
		return 0, err
	}

	now := o.now()
	flagged := 0
	var errs []error
	for _, exec := range running {
		if exec.Overdue || !now.After(exec.DueAt) {
			continue
		}
		ok, err := o.flagOverdue(ctx, exec.InstanceID, exec.StepID, now)
		if err != nil {
			o.logger.ErrorContext(ctx, "overdue pass: escalation failed",
				"instance_id", exec.InstanceID, "step_id", exec.StepID, "error", err)
			errs = append(errs, fmt.Errorf("%s/%s: %w", exec.InstanceID, exec.StepID, err))
			continue
		}
		if ok {
			flagged++
		}
	}
	return flagged, errors.Join(errs...)
}

func (o *orchestratorImpl) flagOverdue(ctx context.Context, instanceID, stepID string, now time.Time) (bool, error) {
	ctx = logging.WithIDs(ctx, instanceID, stepID, "")
	unlock := o.locks.Lock(instanceID)
	defer unlock()

	exec, err := o.store.GetExecution(ctx, instanceID, stepID)
	if err != nil {
		return false, err
	}
	if exec.Status != schema.ExecutionStatusRunning || exec.Overdue || !now.After(exec.DueAt) {
		return false, nil
	}
	inst, err := o.store.GetInstance(ctx, instanceID)
	if err != nil {
		return false, err
	}

	exec.Overdue = true
	exec.Escalated = true
	exec.EscalationReason = "overdue"
	if err := o.store.UpdateExecution(ctx, exec); err != nil {
		return false, err
	}
	inst.Progress.Escalations++
	if err := o.store.UpdateInstance(ctx, inst); err != nil {
		return false, err
	}

	overdueBy := now.Sub(exec.DueAt).Round(time.Second)
	if err := o.events.record(ctx, instanceID, stepID, schema.EventStepOverdue, map[string]any{
		"assigned_to": exec.AssignedTo,
		"due_at":      exec.DueAt.UTC().Format(time.RFC3339),
		"overdue_by":  overdueBy.String(),
	}); err != nil {
		return false, err
	}
	o.logger.WarnContext(ctx, "step overdue", "assigned_to", exec.AssignedTo, "overdue_by", overdueBy)

	payload := map[string]any{
		"instance_id": instanceID,
		"step_id":     stepID,
		"assigned_to": exec.AssignedTo,
		"reason":      exec.EscalationReason,
		"priority":    string(inst.Priority),
		"due_at":      exec.DueAt.UTC().Format(time.RFC3339),
	}
	if def, ok := o.registry.Get(inst.DefinitionID); ok {
		if step, ok := def.Step(stepID); ok && step.Notifications.OnOverdue {
			payload["recipients"] = append([]string{}, step.Notifications.Recipients...)
		}
	}
	o.sideNotify(ctx, schema.EventEscalation, payload)
	return true, nil
}

// --- Helpers ---

// notifyRecipients sends a step notification to the step's recipients.
func (o *orchestratorImpl) notifyRecipients(ctx context.Context, eventType string, inst *schema.WorkflowInstance, step *schema.WorkflowStep) {
	payload := stepPayload(inst, step)
	payload["recipients"] = append([]string{}, step.Notifications.Recipients...)
	o.sideNotify(ctx, eventType, payload)
}

// sideNotify delivers a notification whose failure must not affect the instance.
func (o *orchestratorImpl) sideNotify(ctx context.Context, eventType string, payload map[string]any) {
	if err := o.notifier.Notify(ctx, eventType, payload); err != nil {
		o.logger.WarnContext(ctx, "notification failed", "event_type", eventType, "error", err)
	}
}

func newInstanceID(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return fmt.Sprintf("WF-%d-%s", now.UnixMilli(), suffix)
}

func missingFields(required []string, result map[string]any) []string {
	var missing []string
	for _, f := range required {
		if v, ok := result[f]; !ok || v == nil {
			missing = append(missing, f)
		}
	}
	return missing
}

func progressPercentage(completed, total int) float64 {
	if total == 0 {
		return 100
	}
	return 100 * float64(completed) / float64(total)
}

func minutes(m float64) time.Duration {
	return time.Duration(m * float64(time.Minute))
}

func hours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}
