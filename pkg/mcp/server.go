// Package mcp exposes the SOP orchestrator as MCP tools over stdio.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/floridafirst/sopflow/internal/engine"
	"github.com/floridafirst/sopflow/internal/registry"
)

// ServerName and ServerVersion identify the tool server to MCP clients.
const (
	ServerName    = "sopflow"
	ServerVersion = "1.0.0"
)

// SOPServerDeps holds the dependencies for creating an SOPServer.
type SOPServerDeps struct {
	Orchestrator engine.Orchestrator
	Registry     *registry.Registry
	// Sessions, when set, learns which MCP session each actor calls from so
	// notifications addressed to that actor can be pushed back.
	Sessions *SessionRegistry
	Logger   *slog.Logger
}

// SOPServer wraps an MCP server with the orchestrator's tool handlers.
type SOPServer struct {
	orch      engine.Orchestrator
	registry  *registry.Registry
	sessions  *SessionRegistry
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewSOPServer creates a new SOPServer with every tool registered.
func NewSOPServer(deps SOPServerDeps) *SOPServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	sessions := deps.Sessions
	if sessions == nil {
		sessions = NewSessionRegistry()
	}

	s := &SOPServer{
		orch:     deps.Orchestrator,
		registry: deps.Registry,
		sessions: sessions,
		logger:   logger,
	}

	mcpSrv := server.NewMCPServer(
		ServerName,
		ServerVersion,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("sopflow runs Florida First Roofing's standard operating procedures. "+
			"Use sop.dispatch_event to route a business event to the matching SOP, sop.trigger to start a specific SOP, "+
			"sop.complete_step to record manual work, sop.pause/sop.resume/sop.cancel to control an instance, "+
			"sop.status, sop.list_active, sop.events and sop.definitions to inspect state, and sop.diagram to draw an SOP or instance."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *SOPServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *SOPServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *SOPServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: triggerTool(), Handler: s.handleTrigger},
		{Tool: dispatchTool(), Handler: s.handleDispatch},
		{Tool: completeStepTool(), Handler: s.handleCompleteStep},
		{Tool: instanceTool("sop.pause", "Pause an active workflow instance"), Handler: s.handlePause},
		{Tool: instanceTool("sop.resume", "Resume a paused workflow instance and run any pending automated step"), Handler: s.handleResume},
		{Tool: cancelTool(), Handler: s.handleCancel},
		{Tool: instanceTool("sop.status", "Get a workflow instance with its step executions"), Handler: s.handleStatus},
		{Tool: listActiveTool(), Handler: s.handleListActive},
		{Tool: eventsTool(), Handler: s.handleEvents},
		{Tool: definitionsTool(), Handler: s.handleDefinitions},
		{Tool: diagramTool(), Handler: s.handleDiagram},
	}
}

// --- Tool definitions ---

func triggerTool() mcp.Tool {
	return mcp.NewTool("sop.trigger",
		mcp.WithDescription("Start a workflow instance of a registered SOP definition"),
		mcp.WithString("definition_id", mcp.Required(), mcp.Description("SOP definition id, e.g. SOP-001-LEAD-INTAKE")),
		mcp.WithString("urgency",
			mcp.Enum("emergency", "high", "medium", "low"),
			mcp.Description("Urgency driving priority and due dates (default: medium)"),
		),
		mcp.WithString("lead_id", mcp.Description("Linked lead id")),
		mcp.WithString("customer_id", mcp.Description("Linked customer id")),
		mcp.WithString("project_id", mcp.Description("Linked project id")),
		mcp.WithObject("trigger_event", mcp.Description("Raw event payload variables are extracted from")),
		mcp.WithObject("variables", mcp.Description("Explicit variable values; these win over extracted ones")),
		mcp.WithString("actor", mcp.Description("Who is starting the workflow")),
	)
}

func dispatchTool() mcp.Tool {
	return mcp.NewTool("sop.dispatch_event",
		mcp.WithDescription("Route a business event to the highest-priority matching SOP trigger and start it"),
		mcp.WithString("type", mcp.Required(), mcp.Description("Event type, e.g. lead_received or status_change")),
		mcp.WithString("source", mcp.Description("Event source system, e.g. website or crm")),
		mcp.WithObject("data", mcp.Description("Event payload")),
		mcp.WithString("actor", mcp.Description("Who is dispatching the event")),
	)
}

func completeStepTool() mcp.Tool {
	return mcp.NewTool("sop.complete_step",
		mcp.WithDescription("Record the result of a running manual or approval step and advance the instance"),
		mcp.WithString("instance_id", mcp.Required(), mcp.Description("Workflow instance id")),
		mcp.WithString("step_id", mcp.Required(), mcp.Description("Step id")),
		mcp.WithObject("result", mcp.Description("Step result; must carry the step's required completion fields")),
		mcp.WithString("completed_by", mcp.Required(), mcp.Description("Who completed the step")),
	)
}

func instanceTool(name, description string) mcp.Tool {
	return mcp.NewTool(name,
		mcp.WithDescription(description),
		mcp.WithString("instance_id", mcp.Required(), mcp.Description("Workflow instance id")),
	)
}

func cancelTool() mcp.Tool {
	return mcp.NewTool("sop.cancel",
		mcp.WithDescription("Cancel a workflow instance; unfinished steps are skipped"),
		mcp.WithString("instance_id", mcp.Required(), mcp.Description("Workflow instance id")),
		mcp.WithString("reason", mcp.Description("Cancellation reason recorded in the event log")),
	)
}

func listActiveTool() mcp.Tool {
	return mcp.NewTool("sop.list_active",
		mcp.WithDescription("List active and paused workflow instances"),
	)
}

func eventsTool() mcp.Tool {
	return mcp.NewTool("sop.events",
		mcp.WithDescription("Read the event log of a workflow instance"),
		mcp.WithString("instance_id", mcp.Required(), mcp.Description("Workflow instance id")),
		mcp.WithNumber("since", mcp.Description("Only events with a sequence number greater than this")),
	)
}

func definitionsTool() mcp.Tool {
	return mcp.NewTool("sop.definitions",
		mcp.WithDescription("List registered SOP definitions"),
		mcp.WithString("category", mcp.Description("Only definitions in this category")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("sop.diagram",
		mcp.WithDescription("Draw an SOP as ASCII art, a Mermaid flowchart, or a PNG image. With instance_id the step status is overlaid"),
		mcp.WithString("definition_id", mcp.Description("Definition to draw")),
		mcp.WithString("instance_id", mcp.Description("Instance to draw with its step status; takes precedence over definition_id")),
		mcp.WithString("format", mcp.Required(),
			mcp.Enum("ascii", "mermaid", "image"),
			mcp.Description("Output format"),
		),
	)
}
