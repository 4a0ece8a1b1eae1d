package actions

import (
	"context"

	"github.com/floridafirst/sopflow/pkg/schema"
)

// Action is the built-in logic an automated step runs.
type Action interface {
	Name() string
	Description() string
	Execute(ctx context.Context, input ActionInput) (*ActionOutput, error)
}

// ActionInput is the data provided to an action at execution time.
type ActionInput struct {
	InstanceID   string
	Step         *schema.WorkflowStep
	Context      schema.InstanceContext
	AssignedTeam map[string]string
}

// ActionOutput is the result of an action execution.
type ActionOutput struct {
	// Result is recorded on the step execution.
	Result map[string]any
	// Team entries are merged into the instance's assigned team.
	Team map[string]string
}

// ActionInfo is a summary of a registered action for listing.
type ActionInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// RoleResolver resolves a role to an actor. Satisfied by roles.Resolver.
type RoleResolver interface {
	Resolve(ctx context.Context, role string, ictx schema.InstanceContext) string
}

// InternalRunner runs an internal integration. Satisfied by integrations.Adapter.
type InternalRunner interface {
	RunInternal(ctx context.Context, name string, payload map[string]any) error
}

// lookup returns a field from the instance variables, then the trigger event.
func lookup(ictx schema.InstanceContext, field string) (any, bool) {
	if v, ok := ictx.Variables[field]; ok && v != nil && v != "" {
		return v, true
	}
	if v, ok := ictx.TriggerEvent[field]; ok && v != nil && v != "" {
		return v, true
	}
	return nil, false
}
