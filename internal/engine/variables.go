package engine

import (
	"context"
	"time"

	"github.com/floridafirst/sopflow/pkg/schema"
)

// VariableExtractor pulls a value out of an event payload by path.
// Satisfied by expressions.GoJQEngine.
type VariableExtractor interface {
	Extract(ctx context.Context, path, name string, data map[string]any) (any, bool, error)
}

// resolveVariables computes the instance variables for a new instance.
// Caller-supplied values win, then the declared source, then the default.
// Required variables that end up unset are returned by name.
func (o *orchestratorImpl) resolveVariables(ctx context.Context, def *schema.WorkflowDefinition, inst *schema.WorkflowInstance, caller map[string]any) (map[string]any, []string) {
	vars := make(map[string]any, len(caller)+len(def.Variables))
	for k, v := range caller {
		vars[k] = v
	}

	var missing []string
	for _, v := range def.Variables {
		if _, ok := vars[v.Name]; ok {
			continue
		}
		val, found := o.variableFromSource(ctx, v, inst)
		if !found && v.DefaultValue != nil {
			val, found = v.DefaultValue, true
		}
		if !found {
			if v.Required {
				missing = append(missing, v.Name)
			}
			continue
		}
		vars[v.Name] = val
	}
	return vars, missing
}

func (o *orchestratorImpl) variableFromSource(ctx context.Context, v schema.WorkflowVariable, inst *schema.WorkflowInstance) (any, bool) {
	switch {
	case v.Source.FromEvent():
		if inst.Context.TriggerEvent == nil {
			return nil, false
		}
		val, found, err := o.extractor.Extract(ctx, v.Path, v.Name, inst.Context.TriggerEvent)
		if err != nil {
			o.logger.WarnContext(ctx, "variable extraction failed",
				"variable", v.Name, "path", v.Path, "error", err)
			return nil, false
		}
		return val, found
	case v.Source == schema.SourceSystemGenerated:
		switch v.Name {
		case "instance_id":
			return inst.ID, true
		case "definition_id":
			return inst.DefinitionID, true
		case "triggered_at":
			return inst.StartedAt.UTC().Format(time.RFC3339), true
		case "urgency":
			return string(inst.Context.Urgency), true
		}
	}
	// user_input only comes from the caller.
	return nil, false
}
