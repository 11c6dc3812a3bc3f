package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/handley-lab/chainer/pkg/engine"
	"github.com/handley-lab/chainer/pkg/schema"
)

// handlers adapts engine operations to MCP tool calls. Engine validation
// errors become IsError results; step failures during execution are
// ordinary text — a failing step is an inspectable outcome, not a
// protocol error.
type handlers struct {
	eng *engine.Engine
}

func (h *handlers) discoverTools(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	serverCommand, _ := args["server_command"].(string)
	if serverCommand == "" {
		return errorResult("server_command argument is required"), nil
	}
	timeout := intArg(args, "timeout_seconds")
	return textResult(h.eng.DiscoverTools(ctx, serverCommand, timeout)), nil
}

func (h *handlers) registerTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	toolID, _ := args["tool_id"].(string)
	serverCommand, _ := args["server_command"].(string)
	toolName, _ := args["tool_name"].(string)
	description, _ := args["description"].(string)
	timeout := intArg(args, "timeout_seconds")

	msg, err := h.eng.RegisterTool(toolID, serverCommand, toolName, description, timeout)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(msg), nil
}

func (h *handlers) chainTools(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	chainID, _ := args["chain_id"].(string)
	saveToFile, _ := args["save_to_file"].(string)

	steps, err := decodeSteps(args["steps"])
	if err != nil {
		return errorResult(fmt.Sprintf("invalid steps: %v", err)), nil
	}

	msg, err := h.eng.ChainTools(chainID, steps, saveToFile)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(msg), nil
}

func (h *handlers) executeChain(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	chainID, _ := args["chain_id"].(string)
	timeout := intArg(args, "timeout_seconds")
	variables, _ := args["variables"].(map[string]any)

	summary, err := h.eng.ExecuteChain(ctx, chainID, timeout, variables)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(summary), nil
}

func (h *handlers) showHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return textResult(h.eng.ShowHistory()), nil
}

func (h *handlers) clearCache(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return textResult(h.eng.ClearCache()), nil
}

func (h *handlers) serverInfo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return textResult(h.eng.ServerInfo()), nil
}

func (h *handlers) chainSchema(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := schema.GenerateChainJSONSchema()
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(string(data)), nil
}

// decodeSteps converts the raw steps argument into typed ToolSteps via a
// JSON round-trip, rejecting unknown shapes.
func decodeSteps(raw any) ([]schema.ToolStep, error) {
	if raw == nil {
		return nil, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var steps []schema.ToolStep
	if err := json.Unmarshal(data, &steps); err != nil {
		return nil, err
	}
	return steps, nil
}

// intArg reads a numeric argument; MCP hosts send JSON numbers as float64.
func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(msg),
		},
		IsError: true,
	}
}
