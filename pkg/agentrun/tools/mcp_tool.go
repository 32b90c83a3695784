// Package tools holds concrete core.Tool implementations: MCP-backed
// tools, a sandboxed code-execution tool, and the sub-agent recursion
// tool. Adapted from pkg/agent-framework/tools.
package tools

import (
	"context"
	"errors"
	"slices"

	"github.com/bytedance/sonic"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/runloom/runloom/pkg/agentrun/core"
)

var tracer = otel.Tracer("runloom/tools")

// MCPServer is a connected MCP endpoint whose tools are exposed as
// core.Tool implementations.
type MCPServer struct {
	Client *client.Client
	Tools  []mcp.Tool
	Meta   *mcp.Meta
}

func NewMCPServer(ctx context.Context, endpoint string, headers map[string]string) (*MCPServer, error) {
	cli, err := client.NewSSEMCPClient(endpoint, client.WithHeaders(headers))
	if err != nil {
		return nil, err
	}
	if err := cli.Start(ctx); err != nil {
		return nil, err
	}
	if _, err := cli.Initialize(ctx, mcp.InitializeRequest{}); err != nil {
		return nil, err
	}
	listed, err := cli.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, err
	}
	return &MCPServer{Client: cli, Tools: listed.Tools}, nil
}

// GetTools returns this server's tools as core.Tool, optionally
// filtered to a named subset.
func (srv *MCPServer) GetTools(toolFilter ...string) []core.Tool {
	var out []core.Tool
	for _, t := range srv.Tools {
		if len(toolFilter) > 0 && !slices.Contains(toolFilter, t.Name) {
			continue
		}
		out = append(out, NewMCPTool(t, srv.Client, srv.Meta))
	}
	return out
}

// MCPTool wraps a single remote MCP tool as a core.Tool. Execute honors
// ctx cancellation the way every tool in this core must (spec §4.4): the
// underlying client.CallTool is itself context-aware, so an aborted
// interleaver batch returns as soon as the MCP round trip unwinds.
type MCPTool struct {
	*core.BaseTool
	client *client.Client
	meta   *mcp.Meta
}

func NewMCPTool(t mcp.Tool, cli *client.Client, meta *mcp.Meta) *MCPTool {
	inputSchema := map[string]any{"type": "object", "properties": map[string]any{}}
	if raw, err := sonic.Marshal(t.InputSchema); err == nil {
		_ = sonic.Unmarshal(raw, &inputSchema)
	}

	return &MCPTool{
		BaseTool: &core.BaseTool{
			ToolSpec: core.ToolSpec{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  inputSchema,
			},
		},
		client: cli,
		meta:   meta,
	}
}

func (t *MCPTool) Execute(ctx context.Context, call core.ToolCall) (core.ToolResult, error) {
	ctx, span := tracer.Start(ctx, "MCPTool.Execute: "+call.Name)
	defer span.End()
	span.SetAttributes(attribute.String("tool_call.id", call.ID))

	var args map[string]any
	if call.Arguments != "" {
		if err := sonic.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return core.ToolResult{ToolCallID: call.ID, OfError: &core.ToolError{Message: err.Error()}}, nil
		}
	}

	res, err := t.client.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: call.Name, Arguments: args, Meta: t.meta},
	})
	if err != nil {
		span.RecordError(err)
		return core.ToolResult{ToolCallID: call.ID, OfError: &core.ToolError{Message: err.Error()}}, nil
	}

	for _, c := range res.Content {
		if text, ok := c.(mcp.TextContent); ok {
			return core.ToolResult{ToolCallID: call.ID, OfOutput: &core.ToolOutput{Output: text.Text}}, nil
		}
	}

	err = errors.New("missing mcp tool result content")
	span.RecordError(err)
	return core.ToolResult{}, err
}
