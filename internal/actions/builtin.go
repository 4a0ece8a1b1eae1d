package actions

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/floridafirst/sopflow/internal/roles"
	"github.com/floridafirst/sopflow/pkg/schema"
)

// Built-in action names.
const (
	ValidateLeadDataName      = "validate-lead-data"
	AssignSalesRepName        = "assign-sales-rep"
	DispatchEmergencyTeamName = "dispatch-emergency-team"
	GenericActionName         = "generic"

	dispatchIntegration = "dispatch-system"
	salesRepTeamKey     = "salesRep"
	emergencyTeamKey    = "emergencyTeam"
)

// BuiltinDeps are the collaborators the built-in actions need.
type BuiltinDeps struct {
	Roles        RoleResolver
	Integrations InternalRunner
	Logger       *slog.Logger
}

// RegisterBuiltins registers all built-in actions in the given registry.
func RegisterBuiltins(reg *Registry, deps BuiltinDeps) error {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	all := []Action{
		&validateLeadData{},
		&assignSalesRep{roles: deps.Roles},
		&dispatchEmergencyTeam{integrations: deps.Integrations},
		&generic{logger: logger},
	}
	for _, a := range all {
		if err := reg.Register(a); err != nil {
			return err
		}
	}
	return nil
}

// --- validate-lead-data ---

type validateLeadData struct{}

func (validateLeadData) Name() string { return ValidateLeadDataName }
func (validateLeadData) Description() string {
	return "Fails when any completion-criteria field is missing from the lead data"
}

func (validateLeadData) Execute(_ context.Context, in ActionInput) (*ActionOutput, error) {
	var missing []string
	for _, f := range in.Step.CompletionCriteria.RequiredFields {
		if _, ok := lookup(in.Context, f); !ok {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "lead data missing required fields: %v", missing).
			WithStep(in.Step.ID).
			WithDetails(map[string]any{"missing_fields": missing})
	}
	return &ActionOutput{Result: map[string]any{
		"validated":        true,
		"validated_fields": len(in.Step.CompletionCriteria.RequiredFields),
	}}, nil
}

// --- assign-sales-rep ---

type assignSalesRep struct {
	roles RoleResolver
}

func (a *assignSalesRep) Name() string { return AssignSalesRepName }
func (a *assignSalesRep) Description() string {
	return "Resolves the sales rep for the lead and records it on the instance team"
}

func (a *assignSalesRep) Execute(ctx context.Context, in ActionInput) (*ActionOutput, error) {
	if a.roles == nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "no role resolver configured").WithStep(in.Step.ID)
	}
	rep := a.roles.Resolve(ctx, roles.RoleSalesRep, in.Context)
	return &ActionOutput{
		Result: map[string]any{"sales_rep": rep},
		Team:   map[string]string{salesRepTeamKey: rep},
	}, nil
}

// --- dispatch-emergency-team ---

type dispatchEmergencyTeam struct {
	integrations InternalRunner
}

func (d *dispatchEmergencyTeam) Name() string { return DispatchEmergencyTeamName }
func (d *dispatchEmergencyTeam) Description() string {
	return "Dispatches the emergency crew through the dispatch system"
}

func (d *dispatchEmergencyTeam) Execute(ctx context.Context, in ActionInput) (*ActionOutput, error) {
	payload := in.Context.AsMap()
	payload["instance_id"] = in.InstanceID
	payload["step_id"] = in.Step.ID

	if d.integrations != nil {
		if err := d.integrations.RunInternal(ctx, dispatchIntegration, payload); err != nil {
			return nil, err
		}
	}

	team := fmt.Sprintf("emergency-crew/%s", in.InstanceID)
	return &ActionOutput{
		Result: map[string]any{
			"team_assigned":     true,
			"eta_calculated":    true,
			"customer_notified": true,
			"dispatched_via":    dispatchIntegration,
		},
		Team: map[string]string{emergencyTeamKey: team},
	}, nil
}

// --- generic ---

type generic struct {
	logger *slog.Logger
}

func (g *generic) Name() string        { return GenericActionName }
func (g *generic) Description() string { return "Records that the automated step ran" }

func (g *generic) Execute(ctx context.Context, in ActionInput) (*ActionOutput, error) {
	g.logger.InfoContext(ctx, "generic automation", "step_id", in.Step.ID, "instance_id", in.InstanceID)
	return &ActionOutput{Result: map[string]any{"automated": true}}, nil
}
