package engine

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/floridafirst/sopflow/internal/expressions"
	"github.com/floridafirst/sopflow/internal/registry"
	"github.com/floridafirst/sopflow/pkg/schema"
)

// BusinessEvent is an incoming event that may start a workflow.
type BusinessEvent struct {
	Type   string         `json:"type" validate:"required,max=64"`
	Source string         `json:"source,omitempty" validate:"max=128"`
	Data   map[string]any `json:"data,omitempty"`
}

// Match is the trigger chosen for an event.
type Match struct {
	Definition *schema.WorkflowDefinition
	Trigger    schema.WorkflowTrigger
}

// Router selects a definition for a business event from the registered triggers.
type Router struct {
	registry *registry.Registry
	cel      expressions.Engine
	logger   *slog.Logger
}

// NewRouter creates a Router. cel evaluates trigger expressions.
func NewRouter(reg *registry.Registry, cel expressions.Engine, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{registry: reg, cel: cel, logger: logger}
}

// Match returns the highest-priority enabled trigger matching ev.
// Ties go to the definition registered first.
func (r *Router) Match(ctx context.Context, ev BusinessEvent) (*Match, error) {
	var best *Match
	for _, def := range r.registry.List() {
		for _, trig := range def.Triggers {
			if !r.matches(ctx, def.ID, trig, ev) {
				continue
			}
			if best == nil || trig.Priority.Rank() > best.Trigger.Priority.Rank() {
				best = &Match{Definition: def, Trigger: trig}
			}
		}
	}
	if best == nil {
		return nil, schema.NewErrorf(schema.ErrCodeNoMatchingTrigger, "no workflow trigger matches event %q", ev.Type).
			WithDetails(map[string]any{"event_type": ev.Type, "source": ev.Source})
	}
	return best, nil
}

func (r *Router) matches(ctx context.Context, defID string, trig schema.WorkflowTrigger, ev BusinessEvent) bool {
	if !trig.Enabled || string(trig.Type) != ev.Type {
		return false
	}
	for key, want := range trig.Conditions {
		got, ok := ev.Data[key]
		if !ok || !valuesEqual(want, got) {
			return false
		}
	}
	if trig.Expression == "" {
		return true
	}

	data := ev.Data
	if data == nil {
		data = map[string]any{}
	}
	out, err := r.cel.Evaluate(ctx, trig.Expression, map[string]any{
		"event": map[string]any{"type": ev.Type, "source": ev.Source},
		"data":  data,
	})
	if err != nil {
		r.logger.WarnContext(ctx, "trigger expression failed",
			"definition_id", defID, "expression", trig.Expression, "error", err)
		return false
	}
	return expressions.Truthy(out)
}

// valuesEqual compares trigger condition values with event data, treating
// all numeric kinds as float64 so JSON and Go callers compare alike.
func valuesEqual(a, b any) bool {
	if fa, ok := asFloat(a); ok {
		fb, ok := asFloat(b)
		return ok && fa == fb
	}
	if sa, ok := a.(string); ok {
		sb, ok := b.(string)
		return ok && sa == sb
	}
	return reflect.DeepEqual(a, b)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// triggerContextFor builds the trigger context for a routed event.
func triggerContextFor(ev BusinessEvent) TriggerContext {
	urgency := schema.UrgencyMedium
	if u, ok := ev.Data["urgency"].(string); ok && u != "" {
		urgency = schema.Urgency(u)
	}
	return TriggerContext{
		Urgency:      urgency,
		LeadID:       dataString(ev.Data, "leadId"),
		CustomerID:   dataString(ev.Data, "customerId"),
		ProjectID:    dataString(ev.Data, "projectId"),
		TriggerEvent: ev.Data,
	}
}

func dataString(data map[string]any, key string) string {
	switch v := data[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
