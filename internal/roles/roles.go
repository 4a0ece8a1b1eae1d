// Package roles maps step roles onto the actor responsible for them.
package roles

import (
	"context"

	"github.com/floridafirst/sopflow/pkg/schema"
)

// Well-known role names used by the standard definitions.
const (
	RoleSystem               = "system"
	RoleSalesRep             = "sales_rep"
	RoleEmergencyCoordinator = "emergency_coordinator"
	RoleDispatchSystem       = "dispatch_system"
)

// Default actors.
const (
	DefaultActor     = "admin@floridafirstroofing.com"
	EmergencyActor   = "emergency@floridafirstroofing.com"
	SystemActor      = "system"
	DispatchActor    = "dispatch-system"
	assignedRepField = "assignedSalesRep"
)

// Resolver resolves a role name to an actor identity for one instance.
type Resolver interface {
	Resolve(ctx context.Context, role string, ictx schema.InstanceContext) string
}

// StaticResolver resolves roles from a fixed table plus configured overrides.
// A sales rep named on the instance (variable or trigger field "assignedSalesRep")
// always wins for the sales_rep role.
type StaticResolver struct {
	overrides    map[string]string
	defaultActor string
}

// NewStaticResolver creates a resolver. An empty defaultActor uses DefaultActor.
func NewStaticResolver(overrides map[string]string, defaultActor string) *StaticResolver {
	if defaultActor == "" {
		defaultActor = DefaultActor
	}
	cp := make(map[string]string, len(overrides))
	for k, v := range overrides {
		cp[k] = v
	}
	return &StaticResolver{overrides: cp, defaultActor: defaultActor}
}

// Resolve returns the actor for role.
func (r *StaticResolver) Resolve(_ context.Context, role string, ictx schema.InstanceContext) string {
	if role == RoleSalesRep {
		if rep := assignedSalesRep(ictx); rep != "" {
			return rep
		}
	}
	if actor, ok := r.overrides[role]; ok && actor != "" {
		return actor
	}

	switch role {
	case RoleSystem:
		return SystemActor
	case RoleEmergencyCoordinator:
		return EmergencyActor
	case RoleDispatchSystem:
		return DispatchActor
	default:
		return r.defaultActor
	}
}

func assignedSalesRep(ictx schema.InstanceContext) string {
	if s, ok := ictx.Variables[assignedRepField].(string); ok && s != "" {
		return s
	}
	if s, ok := ictx.TriggerEvent[assignedRepField].(string); ok && s != "" {
		return s
	}
	return ""
}

var _ Resolver = (*StaticResolver)(nil)
