package tool

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/avandres/stepflow/pkg/schema"
)

// MCPSource connects to one MCP server over stdio and exposes its tools as
// engine tools. Each discovered tool carries the server's input schema, so
// the executor's validation middleware applies to remote tools the same way
// it does to local ones.
type MCPSource struct {
	name   string
	client *client.Client
	tools  []mcp.Tool
}

// ConnectMCP launches the MCP server process, initializes the session, and
// lists its tools.
func ConnectMCP(ctx context.Context, name, command string, args ...string) (*MCPSource, error) {
	mcpClient, err := client.NewStdioMCPClient(command, nil, args...)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConfiguration,
			"create mcp client %q: %s", name, err.Error()).WithCause(err)
	}

	if err := mcpClient.Start(ctx); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeToolUnavailable,
			"start mcp server %q: %s", name, err.Error()).WithCause(err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.Capabilities = mcp.ClientCapabilities{}
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "stepflow",
		Version: "0.1.0",
	}
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		_ = mcpClient.Close()
		return nil, schema.NewErrorf(schema.ErrCodeToolUnavailable,
			"initialize mcp server %q: %s", name, err.Error()).WithCause(err)
	}

	listed, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		_ = mcpClient.Close()
		return nil, schema.NewErrorf(schema.ErrCodeToolUnavailable,
			"list tools of mcp server %q: %s", name, err.Error()).WithCause(err)
	}

	src := &MCPSource{name: name, client: mcpClient}
	if listed != nil {
		src.tools = listed.Tools
	}
	return src, nil
}

// Name returns the server's configured name, used as the registry namespace.
func (s *MCPSource) Name() string {
	return s.name
}

// Tools wraps every discovered tool as an engine Tool.
func (s *MCPSource) Tools() []Tool {
	wrapped := make([]Tool, 0, len(s.tools))
	for i := range s.tools {
		wrapped = append(wrapped, &mcpTool{src: s, def: s.tools[i]})
	}
	return wrapped
}

// Register adds the server's tools to the registry under the server name
// namespace (e.g. "github.create_issue").
func (s *MCPSource) Register(reg *Registry) (int, error) {
	return reg.RegisterNamespace(s.name, s.Tools())
}

// Close shuts down the server process.
func (s *MCPSource) Close() error {
	return s.client.Close()
}

// mcpTool adapts one remote MCP tool to the Tool interface.
type mcpTool struct {
	src *MCPSource
	def mcp.Tool
}

func (t *mcpTool) Name() string {
	return t.def.Name
}

func (t *mcpTool) Spec() Spec {
	paramSchema, _ := json.Marshal(t.def.InputSchema)
	return Spec{
		Description: t.def.Description,
		ParamSchema: paramSchema,
	}
}

func (t *mcpTool) Execute(ctx context.Context, params json.RawMessage) (any, error) {
	var args map[string]any
	if len(params) > 0 {
		if err := json.Unmarshal(params, &args); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeInvalidParameters,
				"mcp tool %q parameters are not an object: %s", t.def.Name, err.Error()).WithCause(err)
		}
	}

	res, err := t.src.client.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      t.def.Name,
			Arguments: args,
		},
	})
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeToolFailed,
			"mcp tool %q call failed: %s", t.def.Name, err.Error()).WithCause(err)
	}

	texts := make([]string, 0, len(res.Content))
	for _, content := range res.Content {
		if tc, ok := content.(mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}

	if res.IsError {
		msg := "mcp tool reported an error"
		if len(texts) > 0 {
			msg = texts[0]
		}
		return nil, schema.NewError(schema.ErrCodeToolFailed, msg)
	}

	return decodeMCPOutput(texts), nil
}

// decodeMCPOutput turns text content into a structured result: a lone JSON
// payload decodes to its value, a lone plain string stays a string, and
// multiple parts come back as a list.
func decodeMCPOutput(texts []string) any {
	decode := func(s string) any {
		var v any
		if err := json.Unmarshal([]byte(s), &v); err == nil {
			return v
		}
		return s
	}

	switch len(texts) {
	case 0:
		return nil
	case 1:
		return decode(texts[0])
	default:
		parts := make([]any, len(texts))
		for i, s := range texts {
			parts[i] = decode(s)
		}
		return parts
	}
}

var _ Tool = (*mcpTool)(nil)
