package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/avandres/stepflow/internal/engine"
	"github.com/avandres/stepflow/pkg/schema"
)

func (s *Server) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	defMap := mcp.ParseStringMap(req, "definition", nil)
	if defMap == nil {
		return mcp.NewToolResultError("definition must be a workflow definition object"), nil
	}

	def, err := decodeDefinition(defMap)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	inputs := mcp.ParseStringMap(req, "inputs", nil)
	sessionID := req.GetString("session_id", "")

	eng, err := engine.New(def, s.deps, engine.Options{
		SessionID: sessionID,
		Inputs:    inputs,
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	s.logger.Info("mcp run requested", "workflow", def.Name, "session_id", eng.SessionID())

	final, err := eng.Execute(ctx, nil)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return marshalResult(map[string]any{
		"session_id": eng.SessionID(),
		"workflow":   def.Name,
		"context":    final,
	})
}

func (s *Server) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	st, err := s.deps.Store.LoadState(ctx, sessionID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return marshalResult(st)
}

func (s *Server) handleReplay(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	step := req.GetString("step", "")

	st, err := s.deps.Store.Replay(ctx, sessionID, step)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return marshalResult(map[string]any{
		"state":   st,
		"context": st.ContextValues(),
	})
}

func (s *Server) handleSessions(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ids, err := s.deps.Store.Sessions(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return marshalResult(map[string]any{"sessions": ids})
}

func (s *Server) handleTools(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.deps.Tools == nil {
		return mcp.NewToolResultError("no tool executor configured"), nil
	}
	return marshalResult(map[string]any{"tools": s.deps.Tools.Tools()})
}

// decodeDefinition round-trips the raw definition object through JSON into
// the typed form. Handlers (custom steps, When, Build) cannot travel over
// MCP; submitted definitions are declarative only.
func decodeDefinition(raw map[string]any) (*schema.WorkflowDefinition, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"definition is not encodable: %s", err.Error()).WithCause(err)
	}
	var def schema.WorkflowDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"definition does not decode: %s", err.Error()).WithCause(err)
	}
	return &def, nil
}

func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError("encode result: " + err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
