package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floridafirst/sopflow/internal/definitions"
	"github.com/floridafirst/sopflow/internal/engine"
	"github.com/floridafirst/sopflow/internal/expressions"
	"github.com/floridafirst/sopflow/internal/registry"
	"github.com/floridafirst/sopflow/internal/store"
	"github.com/floridafirst/sopflow/internal/validation"
	"github.com/floridafirst/sopflow/pkg/schema"
)

// --- Harness ---

type toolHarness struct {
	srv   *SOPServer
	orch  engine.Orchestrator
	store *store.MemoryStore
}

func newToolHarness(t *testing.T) *toolHarness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cel, err := expressions.NewCELEngine()
	require.NoError(t, err)
	v, err := validation.NewWorkflowValidator(expressions.NewExprEngine(), cel)
	require.NoError(t, err)
	reg := registry.New(v)

	jsv, err := validation.NewJSONSchemaValidator()
	require.NoError(t, err)
	defs, err := definitions.Standard(jsv)
	require.NoError(t, err)
	for _, d := range defs {
		require.NoError(t, reg.Register(d))
	}

	st := store.NewMemoryStore()
	orch, err := engine.NewOrchestrator(engine.Deps{Store: st, Registry: reg, Triggers: cel, Logger: logger})
	require.NoError(t, err)

	return &toolHarness{
		srv:   NewSOPServer(SOPServerDeps{Orchestrator: orch, Registry: reg, Logger: logger}),
		orch:  orch,
		store: st,
	}
}

func leadData() map[string]any {
	return map[string]any{
		"leadSource":       "website",
		"leadId":           "L-9",
		"firstName":        "Dana",
		"lastName":         "Reyes",
		"email":            "dana@example.com",
		"phone":            "321-555-0100",
		"address":          "12 Palm Ave, Melbourne FL",
		"serviceType":      "roof_repair",
		"assignedSalesRep": "jo@floridafirstroofing.com",
	}
}

// trigger starts a lead-intake instance that stops at the initial-contact step.
func (h *toolHarness) trigger(t *testing.T) *schema.WorkflowInstance {
	t.Helper()
	result, err := h.srv.handleDispatch(context.Background(), buildRequest("sop.dispatch_event", map[string]any{
		"type":   "lead_received",
		"source": "website",
		"data":   leadData(),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var inst schema.WorkflowInstance
	unmarshalResult(t, result, &inst)
	return &inst
}

// mockOrchestrator returns canned errors; unimplemented methods panic.
type mockOrchestrator struct {
	engine.Orchestrator
	err error
}

func (m *mockOrchestrator) TriggerWorkflow(context.Context, string, engine.TriggerContext) (*schema.WorkflowInstance, error) {
	return nil, m.err
}

func (m *mockOrchestrator) CompleteManualStep(context.Context, string, string, map[string]any, string) (bool, error) {
	return false, m.err
}

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

// --- Tests ---

func TestDispatchTool(t *testing.T) {
	h := newToolHarness(t)
	inst := h.trigger(t)

	assert.Equal(t, "SOP-001-LEAD-INTAKE", inst.DefinitionID)
	assert.Equal(t, schema.InstanceStatusActive, inst.Status)
	assert.Equal(t, "initial-contact", inst.CurrentStep)
	assert.Equal(t, "L-9", inst.Context.LeadID)
}

func TestDispatchToolNoMatch(t *testing.T) {
	h := newToolHarness(t)

	result, err := h.srv.handleDispatch(context.Background(), buildRequest("sop.dispatch_event", map[string]any{
		"type": "lead_received",
		"data": map[string]any{"leadSource": "billboard"},
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)

	var body map[string]any
	unmarshalResult(t, result, &body)
	assert.Equal(t, schema.ErrCodeNoMatchingTrigger, body["code"])
}

func TestDispatchToolMissingType(t *testing.T) {
	h := newToolHarness(t)

	result, err := h.srv.handleDispatch(context.Background(), buildRequest("sop.dispatch_event", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestTriggerTool(t *testing.T) {
	h := newToolHarness(t)

	data := leadData()
	result, err := h.srv.handleTrigger(context.Background(), buildRequest("sop.trigger", map[string]any{
		"definition_id": "SOP-001-LEAD-INTAKE",
		"urgency":       "high",
		"lead_id":       "L-10",
		"trigger_event": data,
		"actor":         "office@floridafirstroofing.com",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var inst schema.WorkflowInstance
	unmarshalResult(t, result, &inst)
	assert.Equal(t, schema.PriorityHigh, inst.Priority)
	assert.Equal(t, "L-10", inst.Context.LeadID)

	events, err := h.store.GetEvents(context.Background(), inst.ID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, "office@floridafirstroofing.com", events[0].ActorID)
}

func TestTriggerToolUnknownDefinition(t *testing.T) {
	h := newToolHarness(t)

	result, err := h.srv.handleTrigger(context.Background(), buildRequest("sop.trigger", map[string]any{
		"definition_id": "SOP-999",
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), schema.ErrCodeNotFound)
}

func TestTriggerToolMissingDefinition(t *testing.T) {
	h := newToolHarness(t)

	result, err := h.srv.handleTrigger(context.Background(), buildRequest("sop.trigger", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestCompleteStepTool(t *testing.T) {
	h := newToolHarness(t)
	inst := h.trigger(t)

	result, err := h.srv.handleCompleteStep(context.Background(), buildRequest("sop.complete_step", map[string]any{
		"instance_id": inst.ID,
		"step_id":     "initial-contact",
		"result": map[string]any{
			"contact_method":    "phone",
			"customer_response": "interested",
			"next_steps":        "schedule inspection",
		},
		"completed_by": "jo@floridafirstroofing.com",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var body map[string]any
	unmarshalResult(t, result, &body)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "schedule-assessment", body["current_step"])

	// Missing completion fields are rejected with their names.
	result, err = h.srv.handleCompleteStep(context.Background(), buildRequest("sop.complete_step", map[string]any{
		"instance_id":  inst.ID,
		"step_id":      "schedule-assessment",
		"result":       map[string]any{"assessment_date": "2026-10-20"},
		"completed_by": "jo@floridafirstroofing.com",
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)
	unmarshalResult(t, result, &body)
	assert.Equal(t, schema.ErrCodeValidation, body["code"])

	// Completing the same step again is rejected.
	result, err = h.srv.handleCompleteStep(context.Background(), buildRequest("sop.complete_step", map[string]any{
		"instance_id":  inst.ID,
		"step_id":      "initial-contact",
		"completed_by": "jo@floridafirstroofing.com",
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)
	unmarshalResult(t, result, &body)
	assert.Equal(t, schema.ErrCodeNotRunning, body["code"])
}

func TestCompleteStepToolMissingParams(t *testing.T) {
	h := newToolHarness(t)

	for _, args := range []map[string]any{
		{"step_id": "s", "completed_by": "x"},
		{"instance_id": "i", "completed_by": "x"},
		{"instance_id": "i", "step_id": "s"},
	} {
		result, err := h.srv.handleCompleteStep(context.Background(), buildRequest("sop.complete_step", args))
		require.NoError(t, err)
		assert.True(t, result.IsError)
	}
}

func TestCompleteStepToolValidationDetails(t *testing.T) {
	missing := schema.NewError(schema.ErrCodeValidation, "missing required fields").
		WithStep("inspect").
		WithDetails(map[string]any{"missing_fields": []string{"roof_condition"}})
	s := NewSOPServer(SOPServerDeps{Orchestrator: &mockOrchestrator{err: missing}})

	result, err := s.handleCompleteStep(context.Background(), buildRequest("sop.complete_step", map[string]any{
		"instance_id": "WF-1", "step_id": "inspect", "completed_by": "inspector@floridafirstroofing.com",
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)

	var body struct {
		Code    string         `json:"code"`
		StepID  string         `json:"step_id"`
		Details map[string]any `json:"details"`
	}
	unmarshalResult(t, result, &body)
	assert.Equal(t, schema.ErrCodeValidation, body.Code)
	assert.Equal(t, "inspect", body.StepID)
	assert.Equal(t, []any{"roof_condition"}, body.Details["missing_fields"])
}

func TestPauseResumeCancelTools(t *testing.T) {
	h := newToolHarness(t)
	inst := h.trigger(t)
	ctx := context.Background()
	args := map[string]any{"instance_id": inst.ID}

	var body map[string]any

	result, err := h.srv.handlePause(ctx, buildRequest("sop.pause", args))
	require.NoError(t, err)
	unmarshalResult(t, result, &body)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "paused", body["status"])

	// Pausing twice reports ok=false, not an error.
	result, err = h.srv.handlePause(ctx, buildRequest("sop.pause", args))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	unmarshalResult(t, result, &body)
	assert.Equal(t, false, body["ok"])

	result, err = h.srv.handleResume(ctx, buildRequest("sop.resume", args))
	require.NoError(t, err)
	unmarshalResult(t, result, &body)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "active", body["status"])

	result, err = h.srv.handleCancel(ctx, buildRequest("sop.cancel", map[string]any{
		"instance_id": inst.ID, "reason": "customer went with a competitor",
	}))
	require.NoError(t, err)
	unmarshalResult(t, result, &body)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "cancelled", body["status"])

	events, err := h.store.GetEventsByType(ctx, schema.EventInstanceCancelled, store.EventFilter{InstanceID: inst.ID})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Contains(t, string(events[0].Payload), "competitor")
}

func TestControlToolUnknownInstance(t *testing.T) {
	h := newToolHarness(t)

	result, err := h.srv.handlePause(context.Background(), buildRequest("sop.pause", map[string]any{"instance_id": "WF-missing"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = h.srv.handleCancel(context.Background(), buildRequest("sop.cancel", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestStatusTool(t *testing.T) {
	h := newToolHarness(t)
	inst := h.trigger(t)

	result, err := h.srv.handleStatus(context.Background(), buildRequest("sop.status", map[string]any{"instance_id": inst.ID}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var body struct {
		Instance   schema.WorkflowInstance    `json:"instance"`
		Executions []schema.WorkflowExecution `json:"executions"`
	}
	unmarshalResult(t, result, &body)
	assert.Equal(t, inst.ID, body.Instance.ID)
	assert.Len(t, body.Executions, 4)

	result, err = h.srv.handleStatus(context.Background(), buildRequest("sop.status", map[string]any{"instance_id": "WF-missing"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestListActiveTool(t *testing.T) {
	h := newToolHarness(t)
	first := h.trigger(t)
	h.trigger(t)

	_, err := h.orch.CancelWorkflow(context.Background(), first.ID, "duplicate lead")
	require.NoError(t, err)

	result, err := h.srv.handleListActive(context.Background(), buildRequest("sop.list_active", nil))
	require.NoError(t, err)

	var body struct {
		Instances []schema.WorkflowInstance `json:"instances"`
		Count     int                       `json:"count"`
	}
	unmarshalResult(t, result, &body)
	assert.Equal(t, 1, body.Count)
	assert.NotEqual(t, first.ID, body.Instances[0].ID)
}

func TestEventsTool(t *testing.T) {
	h := newToolHarness(t)
	inst := h.trigger(t)

	result, err := h.srv.handleEvents(context.Background(), buildRequest("sop.events", map[string]any{"instance_id": inst.ID}))
	require.NoError(t, err)

	var all struct {
		Events []store.Event `json:"events"`
	}
	unmarshalResult(t, result, &all)
	require.Greater(t, len(all.Events), 2)
	assert.Equal(t, schema.EventInstanceStarted, all.Events[0].Type)

	since := all.Events[1].Sequence
	result, err = h.srv.handleEvents(context.Background(), buildRequest("sop.events", map[string]any{
		"instance_id": inst.ID, "since": float64(since),
	}))
	require.NoError(t, err)

	var tail struct {
		Events []store.Event `json:"events"`
	}
	unmarshalResult(t, result, &tail)
	assert.Len(t, tail.Events, len(all.Events)-2)
	for _, e := range tail.Events {
		assert.Greater(t, e.Sequence, since)
	}
}

func TestDefinitionsTool(t *testing.T) {
	h := newToolHarness(t)

	result, err := h.srv.handleDefinitions(context.Background(), buildRequest("sop.definitions", nil))
	require.NoError(t, err)

	var body struct {
		Definitions []definitionSummary `json:"definitions"`
	}
	unmarshalResult(t, result, &body)
	require.Len(t, body.Definitions, 2)

	ids := []string{body.Definitions[0].ID, body.Definitions[1].ID}
	assert.ElementsMatch(t, []string{"SOP-001-LEAD-INTAKE", "SOP-010-EMERGENCY-RESPONSE"}, ids)
	for _, d := range body.Definitions {
		assert.NotEmpty(t, d.Steps)
	}

	result, err = h.srv.handleDefinitions(context.Background(), buildRequest("sop.definitions", map[string]any{"category": "no-such-category"}))
	require.NoError(t, err)
	unmarshalResult(t, result, &body)
	assert.Empty(t, body.Definitions)
}

func TestErrorResultPlainError(t *testing.T) {
	result, err := errorResult("query failed", io.ErrUnexpectedEOF)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, "query failed: unexpected EOF", extractText(t, result))
}

// --- Test helpers ---

func TestDiagramTool(t *testing.T) {
	h := newToolHarness(t)
	inst := h.trigger(t)
	ctx := context.Background()

	result, err := h.srv.handleDiagram(ctx, buildRequest("sop.diagram", map[string]any{
		"definition_id": "SOP-001-LEAD-INTAKE",
		"format":        "ascii",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))
	text := extractText(t, result)
	assert.Contains(t, text, "Validate Lead Information")
	assert.Contains(t, text, "Schedule Property Assessment")
	assert.NotContains(t, text, "[OK]")

	result, err = h.srv.handleDiagram(ctx, buildRequest("sop.diagram", map[string]any{
		"instance_id": inst.ID,
		"format":      "mermaid",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))
	text = extractText(t, result)
	assert.Contains(t, text, inst.ID)
	assert.Contains(t, text, "class validate_lead_data completed")
	assert.Contains(t, text, "class initial_contact running")
}

func TestDiagramTool_Image(t *testing.T) {
	h := newToolHarness(t)

	result, err := h.srv.handleDiagram(context.Background(), buildRequest("sop.diagram", map[string]any{
		"definition_id": "SOP-010-EMERGENCY-RESPONSE",
		"format":        "image",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var data string
	for _, c := range result.Content {
		if img, ok := c.(mcp.ImageContent); ok {
			assert.Equal(t, "image/png", img.MIMEType)
			data = img.Data
		}
	}
	png, err := base64.StdEncoding.DecodeString(data)
	require.NoError(t, err)
	require.Greater(t, len(png), 4)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, png[:4])
}

func TestDiagramTool_Errors(t *testing.T) {
	h := newToolHarness(t)
	ctx := context.Background()

	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing format", map[string]any{"definition_id": "SOP-001-LEAD-INTAKE"}},
		{"bad format", map[string]any{"definition_id": "SOP-001-LEAD-INTAKE", "format": "svg"}},
		{"no target", map[string]any{"format": "ascii"}},
		{"unknown definition", map[string]any{"definition_id": "SOP-404", "format": "ascii"}},
		{"unknown instance", map[string]any{"instance_id": "WF-missing", "format": "ascii"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, err := h.srv.handleDiagram(ctx, buildRequest("sop.diagram", tc.args))
			require.NoError(t, err)
			assert.True(t, result.IsError)
		})
	}
}

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

func unmarshalResult(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	text := extractText(t, result)
	require.NoError(t, json.Unmarshal([]byte(text), target))
}
