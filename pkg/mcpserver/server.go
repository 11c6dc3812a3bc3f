// Package mcpserver exposes the chainer engine over MCP stdio so
// conversational hosts can discover, register, chain, and execute tools.
package mcpserver

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/handley-lab/chainer/pkg/engine"
)

// NewServer creates an MCP server with the chainer operations registered.
func NewServer(version string, eng *engine.Engine) *server.MCPServer {
	s := server.NewMCPServer(
		"chainer",
		version,
		server.WithToolCapabilities(true),
	)
	h := &handlers{eng: eng}

	s.AddTool(
		mcp.NewTool("discover_tools",
			mcp.WithDescription("List the functions an MCP tool server command exposes"),
			mcp.WithString("server_command", mcp.Required(), mcp.Description("Command that starts the tool server")),
			mcp.WithNumber("timeout_seconds", mcp.Description("Discovery timeout in seconds (default 30)")),
		),
		h.discoverTools,
	)

	s.AddTool(
		mcp.NewTool("register_tool",
			mcp.WithDescription("Register a durable binding from a tool_id to a server command and function"),
			mcp.WithString("tool_id", mcp.Required(), mcp.Description("Unique id for the binding")),
			mcp.WithString("server_command", mcp.Required(), mcp.Description("Command that starts the tool server")),
			mcp.WithString("tool_name", mcp.Required(), mcp.Description("Function name exposed by the server")),
			mcp.WithString("description", mcp.Description("Human-readable description")),
			mcp.WithNumber("timeout_seconds", mcp.Description("Per-invocation timeout in seconds (default 30)")),
		),
		h.registerTool,
	)

	s.AddTool(
		mcp.NewTool("chain_tools",
			mcp.WithDescription("Define a named chain of registered tool steps with conditions and output capture"),
			mcp.WithString("chain_id", mcp.Required(), mcp.Description("Unique id for the chain")),
			mcp.WithArray("steps", mcp.Required(), mcp.Description("Ordered steps: {tool_id, arguments?, condition?, output_to?}")),
			mcp.WithString("save_to_file", mcp.Description("Path to write the chain's final result on success")),
		),
		h.chainTools,
	)

	s.AddTool(
		mcp.NewTool("execute_chain",
			mcp.WithDescription("Execute a defined chain sequentially, halting on the first failure"),
			mcp.WithString("chain_id", mcp.Required(), mcp.Description("Chain to execute")),
			mcp.WithNumber("timeout_seconds", mcp.Description("Override every step's timeout for this run")),
			mcp.WithObject("variables", mcp.Description("Base variables seeded into the chain's namespace")),
		),
		h.executeChain,
	)

	s.AddTool(
		mcp.NewTool("show_history",
			mcp.WithDescription("Show the persisted chain execution history"),
		),
		h.showHistory,
	)

	s.AddTool(
		mcp.NewTool("clear_cache",
			mcp.WithDescription("Reset registered tools, chains, and history to empty"),
		),
		h.clearCache,
	)

	s.AddTool(
		mcp.NewTool("server_info",
			mcp.WithDescription("Report store counts and readiness"),
		),
		h.serverInfo,
	)

	s.AddTool(
		mcp.NewTool("chain_schema",
			mcp.WithDescription("Export the JSON Schema for chain definition documents"),
		),
		h.chainSchema,
	)

	return s
}
