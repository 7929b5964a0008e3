package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avandres/stepflow/internal/engine"
	"github.com/avandres/stepflow/internal/state"
	"github.com/avandres/stepflow/internal/streaming"
	"github.com/avandres/stepflow/internal/tool"
)

func newTestServer(t *testing.T, tools ...tool.Tool) *Server {
	t.Helper()
	reg := tool.NewRegistry()
	for _, tl := range tools {
		require.NoError(t, reg.Register(tl))
	}
	return NewServer(ServerDeps{
		EngineDeps: engine.Deps{
			Tools: tool.NewExecutor(reg, nil, nil, tool.Config{}, nil),
			Store: state.NewStore(state.NewMemoryRepository(), state.Config{}, nil),
			Hub:   streaming.NewMemoryHub(),
		},
	})
}

func constTool(name string, output any) tool.Tool {
	return tool.NewFunc(name, tool.Spec{Description: name}, func(context.Context, json.RawMessage) (any, error) {
		return output, nil
	})
}

func callReq(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

// resultJSON decodes a successful tool result's text payload.
func resultJSON(t *testing.T, res *mcp.CallToolResult) map[string]any {
	t.Helper()
	require.False(t, res.IsError, "tool returned error: %+v", res.Content)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out
}

func runDefinition() map[string]any {
	return map[string]any{
		"name": "fetch",
		"steps": []any{
			map[string]any{
				"name": "fetch",
				"type": "tool",
				"tool": map[string]any{"name": "fetch"},
			},
		},
	}
}

func TestServer_RunExecutesDefinition(t *testing.T) {
	s := newTestServer(t, constTool("fetch", map[string]any{"n": 5}))

	res, err := s.handleRun(context.Background(), callReq("stepflow.run", map[string]any{
		"definition": runDefinition(),
	}))
	require.NoError(t, err)

	out := resultJSON(t, res)
	assert.NotEmpty(t, out["session_id"])
	assert.Equal(t, "fetch", out["workflow"])
	final := out["context"].(map[string]any)
	assert.Equal(t, map[string]any{"n": float64(5)}, final["fetch"])
}

func TestServer_RunRejectsBadInput(t *testing.T) {
	s := newTestServer(t)

	res, err := s.handleRun(context.Background(), callReq("stepflow.run", nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	// A step with an unknown type fails definition validation, not execution.
	res, err = s.handleRun(context.Background(), callReq("stepflow.run", map[string]any{
		"definition": map[string]any{
			"name":  "bad",
			"steps": []any{map[string]any{"name": "x", "type": "teleport"}},
		},
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestServer_StatusReturnsSessionState(t *testing.T) {
	s := newTestServer(t, constTool("fetch", map[string]any{"n": 5}))

	runRes, err := s.handleRun(context.Background(), callReq("stepflow.run", map[string]any{
		"definition": runDefinition(),
		"session_id": "sess-status",
	}))
	require.NoError(t, err)
	resultJSON(t, runRes)

	res, err := s.handleStatus(context.Background(), callReq("stepflow.status", map[string]any{
		"session_id": "sess-status",
	}))
	require.NoError(t, err)

	st := resultJSON(t, res)
	assert.Equal(t, "sess-status", st["session_id"])
	assert.Equal(t, "completed", st["status"])
}

func TestServer_StatusUnknownSession(t *testing.T) {
	s := newTestServer(t)

	res, err := s.handleStatus(context.Background(), callReq("stepflow.status", map[string]any{
		"session_id": "never-ran",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestServer_ReplayToStep(t *testing.T) {
	s := newTestServer(t,
		constTool("first", "one"),
		constTool("second", "two"),
	)

	def := map[string]any{
		"name": "two-steps",
		"steps": []any{
			map[string]any{"name": "first", "type": "tool", "tool": map[string]any{"name": "first"}},
			map[string]any{"name": "second", "type": "tool", "tool": map[string]any{"name": "second"}},
		},
	}
	runRes, err := s.handleRun(context.Background(), callReq("stepflow.run", map[string]any{
		"definition": def,
		"session_id": "sess-replay",
	}))
	require.NoError(t, err)
	resultJSON(t, runRes)

	res, err := s.handleReplay(context.Background(), callReq("stepflow.replay", map[string]any{
		"session_id": "sess-replay",
		"step":       "first",
	}))
	require.NoError(t, err)

	out := resultJSON(t, res)
	replayed := out["context"].(map[string]any)
	assert.Equal(t, "one", replayed["first"])
	assert.NotContains(t, replayed, "second")
}

func TestServer_SessionsListsKnownIDs(t *testing.T) {
	s := newTestServer(t, constTool("fetch", "ok"))

	_, err := s.handleRun(context.Background(), callReq("stepflow.run", map[string]any{
		"definition": runDefinition(),
		"session_id": "sess-a",
	}))
	require.NoError(t, err)

	res, err := s.handleSessions(context.Background(), callReq("stepflow.sessions", nil))
	require.NoError(t, err)

	out := resultJSON(t, res)
	assert.Contains(t, out["sessions"], "sess-a")
}

func TestServer_ToolsListsCatalog(t *testing.T) {
	s := newTestServer(t, constTool("alpha", 1), constTool("beta", 2))

	res, err := s.handleTools(context.Background(), callReq("stepflow.tools", nil))
	require.NoError(t, err)

	out := resultJSON(t, res)
	tools := out["tools"].([]any)
	names := make([]string, 0, len(tools))
	for _, entry := range tools {
		names = append(names, entry.(map[string]any)["name"].(string))
	}
	assert.Equal(t, []string{"alpha", "beta"}, names)
}

func TestServer_RegistersAllTools(t *testing.T) {
	s := newTestServer(t)
	require.NotNil(t, s.MCPServer())
	assert.Len(t, s.tools(), 5)
}
