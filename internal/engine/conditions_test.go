package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floridafirst/sopflow/internal/definitions"
	"github.com/floridafirst/sopflow/internal/store"
	"github.com/floridafirst/sopflow/internal/validation"
	"github.com/floridafirst/sopflow/pkg/schema"
)

func eventsOfType(t *testing.T, h *harness, instanceID, eventType string) []*store.Event {
	t.Helper()
	events, err := h.store.GetEventsByType(context.Background(), eventType, store.EventFilter{InstanceID: instanceID})
	require.NoError(t, err)
	return events
}

// --- Variables ---

func TestVariables_ResolvedFromSources(t *testing.T) {
	def := definition("SOP-V", manual("contact"))
	def.Variables = []schema.WorkflowVariable{
		{Name: "county", Type: "string", Source: schema.SourceLeadData, Path: ".address.county", Required: true},
		{Name: "serviceType", Type: "string", Source: schema.SourceLeadData},
		{Name: "roof_age", Type: "number", Source: schema.SourceProjectData, DefaultValue: float64(10)},
		{Name: "notes", Type: "string", Source: schema.SourceUserInput},
		{Name: "instance_id", Type: "string", Source: schema.SourceSystemGenerated},
		{Name: "triggered_at", Type: "date", Source: schema.SourceSystemGenerated},
		{Name: "insurance_claim", Type: "boolean", Source: schema.SourceCustomerData, Required: true},
	}
	h := newHarness(t, def)

	inst, err := h.orch.TriggerWorkflow(context.Background(), "SOP-V", TriggerContext{
		Urgency: schema.UrgencyHigh,
		TriggerEvent: map[string]any{
			"address":     map[string]any{"county": "brevard"},
			"serviceType": "repair",
			"roof_age":    nil,
		},
		Variables: map[string]any{"notes": "gate code 1234", "serviceType": "replacement"},
	})
	require.NoError(t, err)

	vars := inst.Context.Variables
	assert.Equal(t, "brevard", vars["county"])
	assert.Equal(t, "replacement", vars["serviceType"], "caller values win")
	assert.Equal(t, float64(10), vars["roof_age"], "null in payload falls back to default")
	assert.Equal(t, "gate code 1234", vars["notes"])
	assert.Equal(t, inst.ID, vars["instance_id"])
	assert.Equal(t, t0.Format(time.RFC3339), vars["triggered_at"])
	assert.NotContains(t, vars, "insurance_claim")

	missing := eventsOfType(t, h, inst.ID, schema.EventVariableMissing)
	require.Len(t, missing, 1)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(missing[0].Payload, &payload))
	assert.Equal(t, "insurance_claim", payload["variable"])
}

// --- Conditions ---

func TestConditions_EscalateAndReassign(t *testing.T) {
	def := definition("SOP-K", manual("contact"), manual("inspect"))
	def.Variables = []schema.WorkflowVariable{
		{Name: "lead_urgency", Type: "string", Source: schema.SourceLeadData, Path: ".urgency"},
		{Name: "county", Type: "string", Source: schema.SourceLeadData},
	}
	def.Conditions = []schema.WorkflowCondition{
		{ID: "emergency", Expression: `lead_urgency == "emergency"`, Action: schema.ConditionEscalate,
			Parameters: map[string]any{"to": "emergency-manager@floridafirstroofing.com"}},
		{ID: "brevard-inspector", Expression: `county == "brevard"`, Action: schema.ConditionChangeAssignment,
			Parameters: map[string]any{"stepId": "inspect", "assignee": "brevard-inspector@floridafirstroofing.com"}},
		{ID: "never", Expression: `county == "miami-dade"`, Action: schema.ConditionNotify},
	}
	h := newHarness(t, def)

	inst, err := h.orch.TriggerWorkflow(context.Background(), "SOP-K", TriggerContext{
		Urgency:      schema.UrgencyEmergency,
		TriggerEvent: map[string]any{"urgency": "emergency", "county": "brevard"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, inst.Progress.Escalations)
	esc := h.notifier.ofType(schema.EventEscalation)
	require.Len(t, esc, 1)
	assert.Equal(t, []string{"emergency-manager@floridafirstroofing.com"}, esc[0].payload["recipients"])
	assert.Len(t, eventsOfType(t, h, inst.ID, schema.EventEscalation), 1)

	assert.Equal(t, "brevard-inspector@floridafirstroofing.com", h.exec(t, inst.ID, "inspect").AssignedTo)
	applied := eventsOfType(t, h, inst.ID, schema.EventConditionApplied)
	require.Len(t, applied, 1)
	assert.Equal(t, "inspect", applied[0].StepID)

	assert.Empty(t, h.notifier.ofType("condition_notification"))
}

func TestConditions_StructuralActionsAreDeferred(t *testing.T) {
	def := definition("SOP-K", manual("contact"))
	def.Variables = []schema.WorkflowVariable{
		{Name: "estimated_value", Type: "number", Source: schema.SourceLeadData, Path: ".estimatedValue"},
	}
	def.Conditions = []schema.WorkflowCondition{
		{ID: "high-value", Expression: `estimated_value != nil && estimated_value > 50000`, Action: schema.ConditionAddStep,
			Parameters: map[string]any{"stepId": "manager-approval"}},
		{ID: "not-a-bool", Expression: `"yes"`, Action: schema.ConditionSkipStep},
	}
	h := newHarness(t, def)
	ctx := context.Background()

	inst, err := h.orch.TriggerWorkflow(ctx, "SOP-K", TriggerContext{
		Urgency: schema.UrgencyMedium, TriggerEvent: map[string]any{"estimatedValue": 80000},
	})
	require.NoError(t, err)

	deferred := eventsOfType(t, h, inst.ID, schema.EventConditionDeferred)
	require.Len(t, deferred, 1, "only boolean true applies a condition")
	var payload map[string]any
	require.NoError(t, json.Unmarshal(deferred[0].Payload, &payload))
	assert.Equal(t, "high-value", payload["condition_id"])
	assert.Equal(t, 1, inst.Progress.TotalSteps, "step list is unchanged")

	low, err := h.orch.TriggerWorkflow(ctx, "SOP-K", TriggerContext{Urgency: schema.UrgencyMedium})
	require.NoError(t, err)
	assert.Empty(t, eventsOfType(t, h, low.ID, schema.EventConditionDeferred))
}

// --- Standard definitions ---

func standardHarness(t *testing.T) *harness {
	t.Helper()
	jsv, err := validation.NewJSONSchemaValidator()
	require.NoError(t, err)
	defs, err := definitions.Standard(jsv)
	require.NoError(t, err)
	return newHarness(t, defs...)
}

func TestStandardLeadIntake_RunsToInitialContact(t *testing.T) {
	h := standardHarness(t)
	ctx := context.Background()

	inst, err := h.orch.DispatchEvent(ctx, BusinessEvent{
		Type:   "lead_received",
		Source: "website",
		Data: map[string]any{
			"leadSource":       "website",
			"leadId":           "L-7",
			"firstName":        "Dana",
			"lastName":         "Reyes",
			"email":            "dana@example.com",
			"phone":            "321-555-0100",
			"address":          "12 Palm Ave, Melbourne FL",
			"serviceType":      "roof_repair",
			"county":           "brevard",
			"assignedSalesRep": "jo@floridafirstroofing.com",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "SOP-001-LEAD-INTAKE", inst.DefinitionID)
	assert.Equal(t, []string{"validate-lead-data", "assign-sales-rep"}, inst.CompletedSteps)
	assert.Equal(t, "initial-contact", inst.CurrentStep)
	assert.Equal(t, 50.0, inst.Progress.ProgressPercentage)
	assert.Equal(t, "jo@floridafirstroofing.com", inst.AssignedTeam["salesRep"])
	assert.Equal(t, "brevard", inst.Context.Variables["county"])

	e := h.exec(t, inst.ID, "initial-contact")
	assert.Equal(t, schema.ExecutionStatusRunning, e.Status)
	assert.Equal(t, "jo@floridafirstroofing.com", e.AssignedTo)
	assert.True(t, e.DueAt.Equal(t0.Add(24*time.Hour)))
	assertProgressInvariants(t, inst)
}

func TestStandardLeadIntake_MissingLeadDataFails(t *testing.T) {
	h := standardHarness(t)

	inst, err := h.orch.TriggerWorkflow(context.Background(), "SOP-001-LEAD-INTAKE", TriggerContext{
		Urgency:      schema.UrgencyMedium,
		TriggerEvent: map[string]any{"firstName": "Dana"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"validate-lead-data"}, inst.FailedSteps)
	assert.Equal(t, "validate-lead-data", inst.CurrentStep)
	assert.Len(t, eventsOfType(t, h, inst.ID, schema.EventVariableMissing), 3)
}

func TestStandardEmergency_RoutesAndEscalates(t *testing.T) {
	h := standardHarness(t)
	ctx := context.Background()

	inst, err := h.orch.DispatchEvent(ctx, BusinessEvent{
		Type: "lead_received",
		Data: map[string]any{"leadSource": "website", "urgency": "emergency", "emergencyType": "storm_damage"},
	})
	require.NoError(t, err)

	assert.Equal(t, "SOP-010-EMERGENCY-RESPONSE", inst.DefinitionID)
	assert.Equal(t, true, inst.Context.Variables["safety_concern"], "default applies")
	assert.Equal(t, 1, inst.Progress.Escalations)
	assert.Equal(t, "emergency-assessment", inst.CurrentStep)

	ok, err := h.orch.CompleteManualStep(ctx, inst.ID, "emergency-assessment", map[string]any{
		"safety_status": "unsafe", "severity_level": "high", "immediate_action_required": true,
	}, "emergency@floridafirstroofing.com")
	require.NoError(t, err)
	require.True(t, ok)

	got := h.status(t, inst.ID)
	assert.Equal(t, schema.InstanceStatusCompleted, got.Status)
	assert.Equal(t, "emergency-crew/"+inst.ID, got.AssignedTeam["emergencyTeam"])
	assert.Equal(t, []string{"dispatch-system"}, *h.calls)

	dispatch := h.exec(t, inst.ID, "dispatch-emergency-team")
	assert.Equal(t, "dispatch-system", dispatch.AssignedTo)
	assert.Equal(t, true, dispatch.Result["team_assigned"])
}
