package engine

import (
	"context"

	"github.com/floridafirst/sopflow/internal/expressions"
	"github.com/floridafirst/sopflow/internal/logging"
	"github.com/floridafirst/sopflow/pkg/schema"
)

// applyConditions evaluates every condition of def against the instance
// variables and applies the satisfied ones. Evaluation errors are logged and
// the condition is skipped. The caller holds the instance lock and persists inst.
func (o *orchestratorImpl) applyConditions(ctx context.Context, def *schema.WorkflowDefinition, inst *schema.WorkflowInstance) error {
	if len(def.Conditions) == 0 {
		return nil
	}
	env := make(map[string]any, len(inst.Context.Variables))
	for k, v := range inst.Context.Variables {
		env[k] = v
	}

	for _, cond := range def.Conditions {
		out, err := o.conditions.Evaluate(ctx, cond.Expression, env)
		if err != nil {
			o.logger.WarnContext(ctx, "condition evaluation failed",
				"condition_id", cond.ID, "expression", cond.Expression, "error", err)
			continue
		}
		if !expressions.Truthy(out) {
			continue
		}
		if err := o.applyCondition(ctx, inst, cond); err != nil {
			return err
		}
	}
	return nil
}

func (o *orchestratorImpl) applyCondition(ctx context.Context, inst *schema.WorkflowInstance, cond schema.WorkflowCondition) error {
	payload := map[string]any{
		"condition_id": cond.ID,
		"action":       string(cond.Action),
		"parameters":   cond.Parameters,
	}

	switch cond.Action {
	case schema.ConditionEscalate:
		inst.Progress.Escalations++
		to := stringParam(cond.Parameters, "to")
		payload["to"] = to
		payload["reason"] = "condition:" + cond.ID
		if err := o.events.record(ctx, inst.ID, "", schema.EventEscalation, payload); err != nil {
			return err
		}
		var recipients []string
		if to != "" {
			recipients = []string{to}
		}
		o.sideNotify(ctx, schema.EventEscalation, map[string]any{
			"instance_id":  inst.ID,
			"condition_id": cond.ID,
			"priority":     string(inst.Priority),
			"recipients":   recipients,
		})
		return nil

	case schema.ConditionNotify:
		if err := o.events.record(ctx, inst.ID, "", schema.EventConditionApplied, payload); err != nil {
			return err
		}
		o.sideNotify(ctx, "condition_notification", map[string]any{
			"instance_id":  inst.ID,
			"condition_id": cond.ID,
			"parameters":   cond.Parameters,
		})
		return nil

	case schema.ConditionChangeAssignment:
		stepID := stringParam(cond.Parameters, "stepId")
		assignee := stringParam(cond.Parameters, "assignee")
		if stepID == "" || assignee == "" {
			o.logger.WarnContext(ctx, "change_assignment condition missing stepId or assignee", "condition_id", cond.ID)
			return nil
		}
		exec, err := o.store.GetExecution(ctx, inst.ID, stepID)
		if err != nil {
			if schema.CodeOf(err) == schema.ErrCodeNotFound {
				o.logger.WarnContext(ctx, "change_assignment names unknown step", "condition_id", cond.ID, "step_id", stepID)
				return nil
			}
			return err
		}
		if exec.Status.Terminal() {
			return nil
		}
		payload["from"] = exec.AssignedTo
		exec.AssignedTo = assignee
		if err := o.store.UpdateExecution(ctx, exec); err != nil {
			return err
		}
		return o.events.record(logging.WithStepID(ctx, stepID), inst.ID, stepID, schema.EventConditionApplied, payload)

	default:
		// skip_step and add_step change the static step sequence; they are recorded only.
		return o.events.record(ctx, inst.ID, "", schema.EventConditionDeferred, payload)
	}
}

func stringParam(params map[string]any, key string) string {
	s, _ := params[key].(string)
	return s
}
