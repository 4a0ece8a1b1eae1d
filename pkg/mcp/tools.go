package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/floridafirst/sopflow/internal/diagram"
	"github.com/floridafirst/sopflow/internal/engine"
	"github.com/floridafirst/sopflow/internal/logging"
	"github.com/floridafirst/sopflow/pkg/schema"
)

// handleTrigger starts an instance of a named definition.
func (s *SOPServer) handleTrigger(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	definitionID, err := req.RequireString("definition_id")
	if err != nil {
		return mcp.NewToolResultError("definition_id is required"), nil
	}
	ctx = s.withActor(ctx, req.GetString("actor", ""))

	tc := engine.TriggerContext{
		Urgency:      schema.Urgency(req.GetString("urgency", string(schema.UrgencyMedium))),
		LeadID:       req.GetString("lead_id", ""),
		CustomerID:   req.GetString("customer_id", ""),
		ProjectID:    req.GetString("project_id", ""),
		TriggerEvent: mcp.ParseStringMap(req, "trigger_event", nil),
		Variables:    mcp.ParseStringMap(req, "variables", nil),
	}

	inst, trigErr := s.orch.TriggerWorkflow(ctx, definitionID, tc)
	if trigErr != nil {
		return errorResult("trigger failed", trigErr)
	}
	return marshalResult(inst)
}

// handleDispatch routes a business event to the matching definition.
func (s *SOPServer) handleDispatch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	eventType, err := req.RequireString("type")
	if err != nil {
		return mcp.NewToolResultError("type is required"), nil
	}
	ctx = s.withActor(ctx, req.GetString("actor", ""))

	inst, dispErr := s.orch.DispatchEvent(ctx, engine.BusinessEvent{
		Type:   eventType,
		Source: req.GetString("source", ""),
		Data:   mcp.ParseStringMap(req, "data", nil),
	})
	if dispErr != nil {
		return errorResult("dispatch failed", dispErr)
	}
	return marshalResult(inst)
}

// handleCompleteStep records a manual step result.
func (s *SOPServer) handleCompleteStep(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	instanceID, err := req.RequireString("instance_id")
	if err != nil {
		return mcp.NewToolResultError("instance_id is required"), nil
	}
	stepID, err := req.RequireString("step_id")
	if err != nil {
		return mcp.NewToolResultError("step_id is required"), nil
	}
	completedBy, err := req.RequireString("completed_by")
	if err != nil {
		return mcp.NewToolResultError("completed_by is required"), nil
	}
	ctx = s.withActor(ctx, completedBy)

	result := mcp.ParseStringMap(req, "result", nil)
	ok, compErr := s.orch.CompleteManualStep(ctx, instanceID, stepID, result, completedBy)
	if compErr != nil {
		return errorResult("complete step failed", compErr)
	}

	out := map[string]any{"ok": ok, "instance_id": instanceID, "step_id": stepID}
	if inst, statusErr := s.orch.GetWorkflowStatus(ctx, instanceID); statusErr == nil {
		out["status"] = inst.Status
		out["current_step"] = inst.CurrentStep
		out["progress"] = inst.Progress
	}
	return marshalResult(out)
}

func (s *SOPServer) handlePause(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.control(ctx, req, "pause", s.orch.PauseWorkflow)
}

func (s *SOPServer) handleResume(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.control(ctx, req, "resume", s.orch.ResumeWorkflow)
}

func (s *SOPServer) handleCancel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	reason := req.GetString("reason", "cancelled via sop.cancel")
	return s.control(ctx, req, "cancel", func(ctx context.Context, id string) (bool, error) {
		return s.orch.CancelWorkflow(ctx, id, reason)
	})
}

// control runs a pause/resume/cancel operation. A false result means the
// instance was not in a state the operation applies to; it is reported as
// ok=false with the current status rather than as a tool error.
func (s *SOPServer) control(ctx context.Context, req mcp.CallToolRequest, op string, fn func(context.Context, string) (bool, error)) (*mcp.CallToolResult, error) {
	instanceID, err := req.RequireString("instance_id")
	if err != nil {
		return mcp.NewToolResultError("instance_id is required"), nil
	}

	ok, opErr := fn(ctx, instanceID)
	if opErr != nil {
		return errorResult(op+" failed", opErr)
	}

	out := map[string]any{"ok": ok, "instance_id": instanceID}
	if inst, statusErr := s.orch.GetWorkflowStatus(ctx, instanceID); statusErr == nil {
		out["status"] = inst.Status
	}
	return marshalResult(out)
}

// handleStatus returns an instance with its executions.
func (s *SOPServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	instanceID, err := req.RequireString("instance_id")
	if err != nil {
		return mcp.NewToolResultError("instance_id is required"), nil
	}

	inst, statusErr := s.orch.GetWorkflowStatus(ctx, instanceID)
	if statusErr != nil {
		return errorResult("status query failed", statusErr)
	}
	execs, execErr := s.orch.GetExecutions(ctx, instanceID)
	if execErr != nil {
		return errorResult("status query failed", execErr)
	}
	return marshalResult(map[string]any{"instance": inst, "executions": execs})
}

func (s *SOPServer) handleListActive(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	instances, err := s.orch.GetActiveWorkflows(ctx)
	if err != nil {
		return errorResult("query failed", err)
	}
	return marshalResult(map[string]any{"instances": instances, "count": len(instances)})
}

func (s *SOPServer) handleEvents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	instanceID, err := req.RequireString("instance_id")
	if err != nil {
		return mcp.NewToolResultError("instance_id is required"), nil
	}
	since := int64(req.GetFloat("since", 0))

	events, evErr := s.orch.GetEvents(ctx, instanceID, since)
	if evErr != nil {
		return errorResult("query failed", evErr)
	}
	return marshalResult(map[string]any{"events": events})
}

// definitionSummary is the listing shape of a registered definition.
type definitionSummary struct {
	ID                    string                   `json:"id"`
	Name                  string                   `json:"name"`
	Category              string                   `json:"category,omitempty"`
	Version               string                   `json:"version,omitempty"`
	Steps                 []string                 `json:"steps"`
	Triggers              []schema.WorkflowTrigger `json:"triggers,omitempty"`
	EstimatedTotalMinutes float64                  `json:"estimated_total_minutes"`
}

func (s *SOPServer) handleDefinitions(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.registry == nil {
		return mcp.NewToolResultError("no definition registry configured"), nil
	}
	category := req.GetString("category", "")

	out := make([]definitionSummary, 0, s.registry.Count())
	for _, def := range s.registry.List() {
		if category != "" && def.Category != category {
			continue
		}
		steps := make([]string, len(def.Steps))
		for i, st := range def.Steps {
			steps[i] = st.ID
		}
		out = append(out, definitionSummary{
			ID:                    def.ID,
			Name:                  def.Name,
			Category:              def.Category,
			Version:               def.Version,
			Steps:                 steps,
			Triggers:              def.Triggers,
			EstimatedTotalMinutes: def.Metadata.EstimatedTotalMinutes,
		})
	}
	return marshalResult(map[string]any{"definitions": out})
}

// handleDiagram renders a definition, or an instance with its step status.
func (s *SOPServer) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format, err := req.RequireString("format")
	if err != nil {
		return mcp.NewToolResultError("format is required"), nil
	}
	if format != "ascii" && format != "mermaid" && format != "image" {
		return mcp.NewToolResultError("format must be ascii, mermaid, or image"), nil
	}
	if s.registry == nil {
		return mcp.NewToolResultError("no definition registry configured"), nil
	}

	definitionID := req.GetString("definition_id", "")
	instanceID := req.GetString("instance_id", "")
	if definitionID == "" && instanceID == "" {
		return mcp.NewToolResultError("one of definition_id or instance_id is required"), nil
	}

	var (
		inst  *schema.WorkflowInstance
		execs []*schema.WorkflowExecution
	)
	if instanceID != "" {
		var statusErr error
		if inst, statusErr = s.orch.GetWorkflowStatus(ctx, instanceID); statusErr != nil {
			return errorResult("diagram failed", statusErr)
		}
		var execErr error
		if execs, execErr = s.orch.GetExecutions(ctx, instanceID); execErr != nil {
			return errorResult("diagram failed", execErr)
		}
		definitionID = inst.DefinitionID
	}

	def, lookupErr := s.registry.Lookup(definitionID)
	if lookupErr != nil {
		return errorResult("diagram failed", lookupErr)
	}
	model, buildErr := diagram.Build(def, inst, execs)
	if buildErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("diagram build failed: %v", buildErr)), nil
	}

	switch format {
	case "mermaid":
		return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
	case "image":
		png, imgErr := diagram.RenderImage(ctx, model)
		if imgErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("image render failed: %v", imgErr)), nil
		}
		return mcp.NewToolResultImage(model.Title, base64.StdEncoding.EncodeToString(png), "image/png"), nil
	default:
		return mcp.NewToolResultText(diagram.RenderASCII(model)), nil
	}
}

// --- Internal helpers ---

// withActor tags ctx with the acting user and remembers the caller's session
// for notifications addressed to that user.
func (s *SOPServer) withActor(ctx context.Context, actor string) context.Context {
	if actor == "" {
		return ctx
	}
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(actor, session.SessionID())
	}
	return logging.WithActorID(ctx, actor)
}

// errorResult renders an orchestrator error as a tool error. Structured
// errors carry their code and details so callers can branch on them.
func errorResult(prefix string, err error) (*mcp.CallToolResult, error) {
	var se *schema.SOPError
	if !errors.As(err, &se) {
		return mcp.NewToolResultError(fmt.Sprintf("%s: %v", prefix, err)), nil
	}
	body, marshalErr := json.Marshal(map[string]any{
		"error":   prefix,
		"code":    se.Code,
		"message": se.Message,
		"step_id": se.StepID,
		"details": se.Details,
	})
	if marshalErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("%s: %v", prefix, err)), nil
	}
	return mcp.NewToolResultError(string(body)), nil
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
