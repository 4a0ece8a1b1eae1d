package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/floridafirst/sopflow/internal/actions"
	"github.com/floridafirst/sopflow/internal/integrations"
	"github.com/floridafirst/sopflow/internal/notify"
	"github.com/floridafirst/sopflow/pkg/schema"
)

// Outcome says what happened to a dispatched step.
type Outcome int

const (
	// OutcomeCompleted means the step finished and the instance may advance.
	OutcomeCompleted Outcome = iota
	// OutcomeAwaiting means the step stays running until CompleteManualStep.
	OutcomeAwaiting
)

// StepRun is everything a handler sees about the step it runs.
type StepRun struct {
	Instance  *schema.WorkflowInstance
	Execution *schema.WorkflowExecution
	Step      *schema.WorkflowStep
}

// StepResult is returned by a handler. Result is recorded on the execution;
// Team entries are merged into the instance's assigned team.
type StepResult struct {
	Outcome Outcome
	Result  map[string]any
	Team    map[string]string
}

// StepHandler runs one step type. Errors fail the execution.
type StepHandler interface {
	Type() schema.StepType
	Handle(ctx context.Context, run StepRun) (StepResult, error)
}

// newHandlers builds one handler per step type.
func newHandlers(acts *actions.Registry, adapter integrations.Adapter, notifier notify.Notifier, events *eventRecorder) (map[schema.StepType]StepHandler, error) {
	handlers := make(map[schema.StepType]StepHandler, len(schema.StepTypes))
	for _, t := range schema.StepTypes {
		var h StepHandler
		switch t {
		case schema.StepTypeAutomated:
			h = &automatedHandler{actions: acts}
		case schema.StepTypeManual:
			h = &manualHandler{events: events}
		case schema.StepTypeApproval:
			h = &approvalHandler{notifier: notifier, events: events}
		case schema.StepTypeNotification:
			h = &notificationHandler{notifier: notifier, events: events}
		case schema.StepTypeIntegration:
			h = &integrationHandler{adapter: adapter, events: events}
		default:
			return nil, fmt.Errorf("no handler for step type %q", t)
		}
		handlers[t] = h
	}
	return handlers, nil
}

// --- automated ---

type automatedHandler struct {
	actions *actions.Registry
}

func (h *automatedHandler) Type() schema.StepType { return schema.StepTypeAutomated }

func (h *automatedHandler) Handle(ctx context.Context, run StepRun) (StepResult, error) {
	action, err := h.actions.For(run.Step)
	if err != nil {
		return StepResult{}, err
	}
	out, err := action.Execute(ctx, actions.ActionInput{
		InstanceID:   run.Instance.ID,
		Step:         run.Step,
		Context:      run.Instance.Context,
		AssignedTeam: run.Instance.AssignedTeam,
	})
	if err != nil {
		return StepResult{}, err
	}
	res := StepResult{Outcome: OutcomeCompleted}
	if out != nil {
		res.Result = out.Result
		res.Team = out.Team
	}
	return res, nil
}

// --- manual ---

type manualHandler struct {
	events *eventRecorder
}

func (h *manualHandler) Type() schema.StepType { return schema.StepTypeManual }

func (h *manualHandler) Handle(ctx context.Context, run StepRun) (StepResult, error) {
	err := h.events.record(ctx, run.Instance.ID, run.Step.ID, schema.EventTaskAssigned, map[string]any{
		"title":       run.Step.Title,
		"assigned_to": run.Execution.AssignedTo,
		"role":        run.Step.AssignedRole,
		"due_at":      run.Execution.DueAt.Format(time.RFC3339),
	})
	if err != nil {
		return StepResult{}, err
	}
	return StepResult{Outcome: OutcomeAwaiting}, nil
}

// --- approval ---

type approvalHandler struct {
	notifier notify.Notifier
	events   *eventRecorder
}

func (h *approvalHandler) Type() schema.StepType { return schema.StepTypeApproval }

func (h *approvalHandler) Handle(ctx context.Context, run StepRun) (StepResult, error) {
	req := notify.ApprovalRequest{
		InstanceID:  run.Instance.ID,
		StepID:      run.Step.ID,
		Title:       run.Step.Title,
		Description: run.Step.Description,
		RequestedBy: run.Execution.AssignedTo,
		Approvers:   append([]string{}, run.Step.Notifications.Recipients...),
		DueAt:       run.Execution.DueAt,
		Context:     run.Instance.Context.AsMap(),
	}
	if err := h.notifier.SendApprovalRequest(ctx, req); err != nil {
		return StepResult{}, schema.NewError(schema.ErrCodeIntegration, "send approval request").
			WithStep(run.Step.ID).WithCause(err)
	}
	if err := h.events.record(ctx, run.Instance.ID, run.Step.ID, schema.EventApprovalRequested, map[string]any{
		"approvers": req.Approvers,
		"due_at":    req.DueAt.Format(time.RFC3339),
	}); err != nil {
		return StepResult{}, err
	}
	return StepResult{Outcome: OutcomeAwaiting}, nil
}

// --- notification ---

type notificationHandler struct {
	notifier notify.Notifier
	events   *eventRecorder
}

func (h *notificationHandler) Type() schema.StepType { return schema.StepTypeNotification }

func (h *notificationHandler) Handle(ctx context.Context, run StepRun) (StepResult, error) {
	recipients := append([]string{}, run.Step.Notifications.Recipients...)
	payload := stepPayload(run.Instance, run.Step)
	payload["recipients"] = recipients
	if err := h.notifier.Notify(ctx, schema.EventStepNotification, payload); err != nil {
		return StepResult{}, schema.NewError(schema.ErrCodeIntegration, "deliver step notification").
			WithStep(run.Step.ID).WithCause(err)
	}
	if err := h.events.record(ctx, run.Instance.ID, run.Step.ID, schema.EventStepNotification,
		map[string]any{"recipients": recipients}); err != nil {
		return StepResult{}, err
	}
	return StepResult{
		Outcome: OutcomeCompleted,
		Result:  map[string]any{"notified": len(recipients)},
	}, nil
}

// --- integration ---

type integrationHandler struct {
	adapter integrations.Adapter
	events  *eventRecorder
}

func (h *integrationHandler) Type() schema.StepType { return schema.StepTypeIntegration }

func (h *integrationHandler) Handle(ctx context.Context, run StepRun) (StepResult, error) {
	payload := run.Instance.Context.AsMap()
	payload["instance_id"] = run.Instance.ID
	payload["step_id"] = run.Step.ID

	var ran []string
	for _, name := range run.Step.Integrations.External {
		if err := h.adapter.RunExternal(ctx, name, payload); err != nil {
			return StepResult{}, err
		}
		ran = append(ran, name)
		h.recordRun(ctx, run, integrations.KindExternal, name)
	}
	for _, name := range run.Step.Integrations.Internal {
		if err := h.adapter.RunInternal(ctx, name, payload); err != nil {
			return StepResult{}, err
		}
		ran = append(ran, name)
		h.recordRun(ctx, run, integrations.KindInternal, name)
	}
	return StepResult{
		Outcome: OutcomeCompleted,
		Result:  map[string]any{"integrations": ran},
	}, nil
}

func (h *integrationHandler) recordRun(ctx context.Context, run StepRun, kind integrations.Kind, name string) {
	err := h.events.record(ctx, run.Instance.ID, run.Step.ID, schema.EventIntegrationRun,
		map[string]any{"kind": string(kind), "name": name})
	if err != nil {
		// The integration already ran; losing the audit entry must not fail the step.
		h.events.logger.WarnContext(ctx, "record integration run failed",
			"integration", name, "kind", string(kind), "error", err)
	}
}

// stepPayload is the base payload for step notifications.
func stepPayload(inst *schema.WorkflowInstance, step *schema.WorkflowStep) map[string]any {
	return map[string]any{
		"instance_id":   inst.ID,
		"definition_id": inst.DefinitionID,
		"step_id":       step.ID,
		"title":         step.Title,
		"priority":      string(inst.Priority),
	}
}
