// Package mcp exposes recipe inspection and dry runs as MCP tools.
package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewServer creates a new MCP server with recipe tools registered.
func NewServer(version string) *server.MCPServer {
	s := server.NewMCPServer(
		"recipe",
		version,
		server.WithToolCapabilities(true),
	)

	s.AddTool(
		mcp.NewTool("recipe/steps",
			mcp.WithDescription("List the steps of a recipe document and the commands each step runs"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the recipe markdown file")),
		),
		HandleSteps,
	)

	s.AddTool(
		mcp.NewTool("recipe/preview",
			mcp.WithDescription("Render a recipe as markdown with every command shown as the shell or config snippet it stands for"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the recipe markdown file")),
			mcp.WithString("package_manager", mcp.Description("Package manager used in install snippets: yarn, npm or pnpm")),
		),
		HandlePreview,
	)

	s.AddTool(
		mcp.NewTool("recipe/diagram",
			mcp.WithDescription("Draw the step flow of a recipe"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the recipe markdown file")),
			mcp.WithString("format", mcp.Description("Diagram format: ascii (default) or mermaid")),
		),
		HandleDiagram,
	)

	s.AddTool(
		mcp.NewTool("recipe/validate",
			mcp.WithDescription("Parse a recipe and report syntax errors and unknown command kinds"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the recipe markdown file")),
		),
		HandleValidate,
	)

	s.AddTool(
		mcp.NewTool("recipe/exec",
			mcp.WithDescription("Dry-run a recipe in a scratch project: confirms every step, runs no package manager, and reports step summaries and the commands that would run"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the recipe markdown file")),
			mcp.WithString("package_manager", mcp.Description("Package manager: yarn, npm or pnpm")),
		),
		HandleExec,
	)

	s.AddTool(
		mcp.NewTool("recipe/schema",
			mcp.WithDescription("Export the JSON Schema of the recipe runner configuration file"),
		),
		HandleSchema,
	)

	return s
}
