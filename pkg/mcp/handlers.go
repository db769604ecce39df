package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ormasoftchile/recipe/pkg/commands"
	"github.com/ormasoftchile/recipe/pkg/config"
	"github.com/ormasoftchile/recipe/pkg/diagram"
	"github.com/ormasoftchile/recipe/pkg/document"
	"github.com/ormasoftchile/recipe/pkg/executor"
	"github.com/ormasoftchile/recipe/pkg/hostconfig"
	"github.com/ormasoftchile/recipe/pkg/interpreter"
	"github.com/ormasoftchile/recipe/pkg/preview"
	"github.com/ormasoftchile/recipe/pkg/queue"
	"github.com/ormasoftchile/recipe/pkg/recipe"
)

const execTimeout = 30 * time.Second

type stepResult struct {
	Index    int                 `json:"index"`
	Text     string              `json:"text,omitempty"`
	Commands recipe.CommandGroup `json:"commands"`
}

// HandleSteps implements the recipe/steps MCP tool.
func HandleSteps(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, _, res := load(req)
	if res != nil {
		return res, nil
	}
	steps := recipe.Segment(doc)
	out := make([]stepResult, 0, len(steps))
	for _, s := range steps {
		out = append(out, stepResult{Index: s.Index, Text: s.Markdown(), Commands: recipe.Extract(s)})
	}
	return jsonResult(out, false), nil
}

// HandlePreview implements the recipe/preview MCP tool.
func HandlePreview(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, _, res := load(req)
	if res != nil {
		return res, nil
	}
	pm, err := executor.ParsePackageManager(req.GetString("package_manager", ""))
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(preview.Markdown(doc, commands.NewRegistry(), commands.Env{PackageManager: pm})), nil
}

// HandleDiagram implements the recipe/diagram MCP tool.
func HandleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, path, res := load(req)
	if res != nil {
		return res, nil
	}
	format, err := diagram.ParseFormat(req.GetString("format", ""))
	if err != nil {
		return errorResult(err.Error()), nil
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	out, err := diagram.Generate(name, recipe.Segment(doc), commands.NewRegistry(), format)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(out), nil
}

// HandleValidate implements the recipe/validate MCP tool.
func HandleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, path, res := load(req)
	if res != nil {
		return res, nil
	}
	registry := commands.NewRegistry()
	steps := recipe.Segment(doc)
	var unknown []string
	seen := map[string]bool{}
	n := 0
	for _, g := range recipe.ExtractAll(steps) {
		for _, kind := range g.Kinds() {
			n += len(g.Get(kind))
			if !registry.Known(kind) && !seen[kind] {
				seen[kind] = true
				unknown = append(unknown, kind)
			}
		}
	}
	msg := fmt.Sprintf("✓ %s is valid (%d steps, %d commands)", filepath.Base(path), len(steps), n)
	if len(unknown) > 0 {
		msg += fmt.Sprintf("\nunknown command kinds (shown but not run): %s", strings.Join(unknown, ", "))
	}
	return textResult(msg), nil
}

// HandleExec implements the recipe/exec MCP tool. The recipe runs against
// an empty scratch project with a dry-run executor; every confirmation is
// given automatically.
func HandleExec(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, path, res := load(req)
	if res != nil {
		return res, nil
	}
	pm, err := executor.ParsePackageManager(req.GetString("package_manager", ""))
	if err != nil {
		return errorResult(err.Error()), nil
	}

	root, err := os.MkdirTemp("", "recipe-exec-*")
	if err != nil {
		return errorResult(fmt.Sprintf("create scratch project: %s", err)), nil
	}
	defer os.RemoveAll(root)

	dry := &executor.DryRunExecutor{}
	hostConfig := filepath.Join(root, config.Default().HostConfig)
	q := queue.New()
	commands.RegisterActions(q, commands.Deps{
		Executor:       dry,
		PackageManager: pm,
		Root:           root,
		HostConfig:     hostconfig.File{Path: hostConfig},
	})
	session := interpreter.NewSession(recipe.Segment(doc),
		interpreter.WithQueue(q),
		interpreter.WithEnv(commands.Env{Root: root, PackageManager: pm, HostConfig: hostConfig}),
		interpreter.WithName(filepath.Base(path)),
		interpreter.WithAutoExit(true),
	)
	var failures []string
	failed := map[string]bool{}
	session.Subscribe(func(v interpreter.View) {
		for _, g := range v.Groups {
			for _, c := range g.Commands {
				if c.State == recipe.StateError && !failed[c.ID] {
					failed[c.ID] = true
					failures = append(failures, fmt.Sprintf("step %d %s: %s", v.CurrentStep+1, c.Kind, c.Error))
				}
			}
		}
		if v.AwaitingConfirm {
			session.Confirm()
		}
	})

	ctx, cancel := context.WithTimeout(ctx, execTimeout)
	defer cancel()
	runErr := session.Run(ctx)

	final := session.View()
	calls := make([]string, 0, len(dry.Calls()))
	for _, c := range dry.Calls() {
		calls = append(calls, c.String())
	}
	response := map[string]any{
		"status":    "served",
		"summaries": final.Summaries,
		"commands":  calls,
	}
	if len(failures) > 0 {
		response["failures"] = failures
	}
	if runErr != nil {
		response["status"] = "failed"
		response["error"] = runErr.Error()
	}
	return jsonResult(response, runErr != nil), nil
}

// HandleSchema implements the recipe/schema MCP tool.
func HandleSchema(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := config.GenerateJSONSchema()
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(string(data)), nil
}

// load reads the document named by the path argument, or returns the error
// result to send back.
func load(req mcp.CallToolRequest) (*document.Document, string, *mcp.CallToolResult) {
	path := req.GetString("path", "")
	if path == "" {
		return nil, "", errorResult("path argument is required")
	}
	doc, err := document.LoadFile(path)
	if err != nil {
		return nil, path, errorResult(err.Error())
	}
	return doc, path, nil
}

func jsonResult(v any, isErr bool) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(err.Error())
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(string(data))},
		IsError: isErr,
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
