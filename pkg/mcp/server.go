package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/avandres/stepflow/internal/engine"
)

// ServerDeps holds the dependencies for a Server. EngineDeps are the
// collaborators every workflow run is built with; they must include a
// Store and a tool executor.
type ServerDeps struct {
	EngineDeps engine.Deps
	Logger     *slog.Logger
}

// Server exposes the workflow engine over MCP: agents can run workflow
// definitions, inspect session state, replay to a completed step, and list
// the available tools.
type Server struct {
	deps      engine.Deps
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewServer creates a Server with all tools registered.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &Server{
		deps:   deps.EngineDeps,
		logger: logger,
	}

	mcpSrv := server.NewMCPServer(
		"stepflow",
		"0.1.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Stepflow executes step-based workflows with durable, replayable state. Use stepflow.run to execute a workflow definition, stepflow.status to inspect a session, stepflow.replay to reconstruct state as of a completed step, stepflow.sessions to list known sessions, and stepflow.tools to list the callable tools."),
	)
	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or
// stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom
// transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: replayTool(), Handler: s.handleReplay},
		{Tool: sessionsTool(), Handler: s.handleSessions},
		{Tool: toolsTool(), Handler: s.handleTools},
	}
}

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("stepflow.run",
		mcp.WithDescription("Execute a workflow definition and return the final context"),
		mcp.WithObject("definition", mcp.Required(), mcp.Description("Workflow definition object: {name, steps, inputs?}")),
		mcp.WithObject("inputs", mcp.Description("Workflow input values, overriding the definition's defaults")),
		mcp.WithString("session_id", mcp.Description("Session to run under; resumes completed steps when it already has state (default: new session)")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("stepflow.status",
		mcp.WithDescription("Get the current persisted state of a session"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("ID of the session to inspect")),
	)
}

func replayTool() mcp.Tool {
	return mcp.NewTool("stepflow.replay",
		mcp.WithDescription("Reconstruct a session's historical state as of a named completed step"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("ID of the session to replay")),
		mcp.WithString("step", mcp.Description("Step name to replay to (default: latest state)")),
	)
}

func sessionsTool() mcp.Tool {
	return mcp.NewTool("stepflow.sessions",
		mcp.WithDescription("List all known session IDs"),
	)
}

func toolsTool() mcp.Tool {
	return mcp.NewTool("stepflow.tools",
		mcp.WithDescription("List the tools workflows can call"),
	)
}
