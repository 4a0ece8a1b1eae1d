package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floridafirst/sopflow/pkg/schema"
)

func withTriggers(def *schema.WorkflowDefinition, triggers ...schema.WorkflowTrigger) *schema.WorkflowDefinition {
	def.Triggers = triggers
	return def
}

func routingHarness(t *testing.T) *harness {
	t.Helper()
	return newHarness(t,
		withTriggers(definition("SOP-WEB", manual("contact")), schema.WorkflowTrigger{
			Type: schema.TriggerLeadReceived, Conditions: map[string]any{"leadSource": "website"},
			Priority: schema.PriorityMedium, Enabled: true,
		}),
		withTriggers(definition("SOP-REFERRAL", manual("contact")), schema.WorkflowTrigger{
			Type: schema.TriggerLeadReceived, Conditions: map[string]any{"leadSource": "website"},
			Priority: schema.PriorityMedium, Enabled: true,
		}),
		withTriggers(definition("SOP-EMERGENCY", manual("assess")), schema.WorkflowTrigger{
			Type: schema.TriggerLeadReceived, Conditions: map[string]any{"urgency": "emergency"},
			Priority: schema.PriorityCritical, Enabled: true,
		}),
		withTriggers(definition("SOP-BREVARD", manual("contact")), schema.WorkflowTrigger{
			Type: schema.TriggerStatusChange, Expression: `data.county == "brevard" && event.source == "crm"`,
			Priority: schema.PriorityHigh, Enabled: true,
		}),
		withTriggers(definition("SOP-DISABLED", manual("contact")), schema.WorkflowTrigger{
			Type: schema.TriggerLeadReceived, Priority: schema.PriorityCritical, Enabled: false,
		}),
	)
}

func TestRouter_HighestPriorityWins(t *testing.T) {
	h := routingHarness(t)
	o := h.orch.(*orchestratorImpl)

	m, err := o.router.Match(context.Background(), BusinessEvent{
		Type: "lead_received",
		Data: map[string]any{"leadSource": "website", "urgency": "emergency"},
	})
	require.NoError(t, err)
	assert.Equal(t, "SOP-EMERGENCY", m.Definition.ID)
	assert.Equal(t, schema.PriorityCritical, m.Trigger.Priority)
}

func TestRouter_TiesGoToRegistrationOrder(t *testing.T) {
	h := routingHarness(t)
	o := h.orch.(*orchestratorImpl)

	m, err := o.router.Match(context.Background(), BusinessEvent{
		Type: "lead_received",
		Data: map[string]any{"leadSource": "website"},
	})
	require.NoError(t, err)
	assert.Equal(t, "SOP-WEB", m.Definition.ID)
}

func TestRouter_CELExpression(t *testing.T) {
	h := routingHarness(t)
	o := h.orch.(*orchestratorImpl)
	ctx := context.Background()

	m, err := o.router.Match(ctx, BusinessEvent{
		Type: "status_change", Source: "crm", Data: map[string]any{"county": "brevard"},
	})
	require.NoError(t, err)
	assert.Equal(t, "SOP-BREVARD", m.Definition.ID)

	_, err = o.router.Match(ctx, BusinessEvent{
		Type: "status_change", Source: "crm", Data: map[string]any{"county": "orange"},
	})
	assert.True(t, errors.Is(err, schema.ErrNoMatchingTrigger))

	// Missing data keys make the expression error out, which counts as no match.
	_, err = o.router.Match(ctx, BusinessEvent{Type: "status_change", Source: "crm"})
	assert.True(t, errors.Is(err, schema.ErrNoMatchingTrigger))
}

func TestRouter_NoMatch(t *testing.T) {
	h := routingHarness(t)
	o := h.orch.(*orchestratorImpl)

	_, err := o.router.Match(context.Background(), BusinessEvent{
		Type: "lead_received", Data: map[string]any{"leadSource": "phone"},
	})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeNoMatchingTrigger, schema.CodeOf(err))
}

func TestDispatchEvent_StartsMatchedWorkflow(t *testing.T) {
	h := routingHarness(t)
	ctx := context.Background()

	inst, err := h.orch.DispatchEvent(ctx, BusinessEvent{
		Type:   "lead_received",
		Source: "website",
		Data: map[string]any{
			"leadSource": "website",
			"urgency":    "emergency",
			"leadId":     "L-42",
			"customerId": float64(7),
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "SOP-EMERGENCY", inst.DefinitionID)
	assert.Equal(t, schema.UrgencyEmergency, inst.Context.Urgency)
	assert.Equal(t, schema.PriorityCritical, inst.Priority)
	assert.Equal(t, "L-42", inst.Context.LeadID)
	assert.Equal(t, "7", inst.Context.CustomerID)
	assert.Equal(t, "website", inst.Context.TriggerEvent["leadSource"])
}

func TestDispatchEvent_DefaultsToMediumUrgency(t *testing.T) {
	h := routingHarness(t)

	inst, err := h.orch.DispatchEvent(context.Background(), BusinessEvent{
		Type: "lead_received", Data: map[string]any{"leadSource": "website"},
	})
	require.NoError(t, err)
	assert.Equal(t, schema.UrgencyMedium, inst.Context.Urgency)
	assert.Equal(t, schema.PriorityMedium, inst.Priority)
}

func TestDispatchEvent_Validation(t *testing.T) {
	h := routingHarness(t)

	_, err := h.orch.DispatchEvent(context.Background(), BusinessEvent{})
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestValuesEqual(t *testing.T) {
	assert.True(t, valuesEqual("website", "website"))
	assert.False(t, valuesEqual("website", "phone"))
	assert.True(t, valuesEqual(float64(3), 3))
	assert.True(t, valuesEqual(int64(3), float64(3)))
	assert.False(t, valuesEqual(3, "3"))
	assert.True(t, valuesEqual(true, true))
	assert.False(t, valuesEqual(true, "true"))
}
