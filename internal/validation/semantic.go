package validation

import (
	"fmt"
	"sort"

	"github.com/floridafirst/sopflow/pkg/schema"
)

// validateSemantic checks what JSON Schema cannot express: unique step ids,
// dependencies on earlier steps only, and compilable guard expressions.
func validateSemantic(def *schema.WorkflowDefinition, conditions, triggers ExpressionChecker) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	order := sequenceOrder(def.Steps)
	declared := make(map[string]bool, len(def.Steps))

	for _, i := range order {
		step := &def.Steps[i]
		path := fmt.Sprintf("steps[%d]", i)

		if declared[step.ID] {
			result.AddError(path+".id", schema.ErrCodeDuplicateStepID,
				fmt.Sprintf("duplicate step id %q", step.ID))
			continue
		}

		for j, dep := range step.Dependencies {
			if !declared[dep] {
				result.AddError(fmt.Sprintf("%s.dependencies[%d]", path, j), schema.ErrCodeInvalidDependency,
					fmt.Sprintf("step %q depends on %q, which is not declared earlier", step.ID, dep))
			}
		}
		declared[step.ID] = true

		if !step.Type.Valid() {
			result.AddError(path+".type", schema.ErrCodeValidation,
				fmt.Sprintf("unknown step type %q", step.Type))
		}
		if _, ok := step.Due.Hours[schema.UrgencyMedium]; !ok {
			result.AddWarning(path+".due.hours", schema.ErrCodeValidation,
				fmt.Sprintf("step %q has no medium due entry; missing urgencies get a zero-hour due time", step.ID))
		}
		if step.Type == schema.StepTypeApproval && len(step.Notifications.Recipients) == 0 {
			result.AddWarning(path+".notifications.recipients", schema.ErrCodeValidation,
				fmt.Sprintf("approval step %q has no approvers", step.ID))
		}
	}

	for i, c := range def.Conditions {
		path := fmt.Sprintf("conditions[%d]", i)
		if conditions != nil {
			if err := conditions.Check(c.Expression); err != nil {
				result.AddError(path+".expression", schema.ErrCodeInvalidCondition,
					fmt.Sprintf("condition %q: %s", c.ID, err.Error()))
			}
		}
		if c.Action == schema.ConditionChangeAssignment {
			target, _ := c.Parameters["stepId"].(string)
			if !declared[target] {
				result.AddWarning(path+".parameters.stepId", schema.ErrCodeValidation,
					fmt.Sprintf("condition %q reassigns unknown step %q", c.ID, target))
			}
		}
	}

	for i, tr := range def.Triggers {
		if tr.Expression == "" || triggers == nil {
			continue
		}
		if err := triggers.Check(tr.Expression); err != nil {
			result.AddError(fmt.Sprintf("triggers[%d].expression", i), schema.ErrCodeInvalidCondition,
				fmt.Sprintf("trigger expression: %s", err.Error()))
		}
	}

	return result
}

// sequenceOrder returns step indices ordered by sequence number, stable on declaration order.
func sequenceOrder(steps []schema.WorkflowStep) []int {
	order := make([]int, len(steps))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return steps[order[a]].SequenceNumber < steps[order[b]].SequenceNumber
	})
	return order
}
