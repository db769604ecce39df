package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ormasoftchile/recipe/pkg/commands"
	"github.com/ormasoftchile/recipe/pkg/diagram"
	"github.com/ormasoftchile/recipe/pkg/document"
	"github.com/ormasoftchile/recipe/pkg/preview"
	"github.com/ormasoftchile/recipe/pkg/recipe"
)

// --- steps ---

var stepsJSON bool

var stepsCmd = &cobra.Command{
	Use:   "steps [recipe.mdx]",
	Short: "List the steps of a recipe and the commands each one runs",
	Long: `List the steps of a recipe and the commands each one runs.

Steps are separated by a thematic break (---, *** or ___) on its own line.
A --- directly under a line of prose underlines that line as a heading
instead, so leave a blank line before a separator that follows prose.`,
	Args: cobra.ExactArgs(1),
	RunE: runSteps,
}

type stepOutput struct {
	Index    int                 `json:"index"`
	Text     string              `json:"text,omitempty"`
	Commands recipe.CommandGroup `json:"commands"`
}

func runSteps(cmd *cobra.Command, args []string) error {
	doc, err := document.LoadFile(args[0])
	if err != nil {
		return err
	}
	steps := recipe.Segment(doc)
	out := cmd.OutOrStdout()

	if stepsJSON {
		res := make([]stepOutput, 0, len(steps))
		for _, s := range steps {
			res = append(res, stepOutput{Index: s.Index, Text: s.Markdown(), Commands: recipe.Extract(s)})
		}
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	registry := commands.NewRegistry()
	for _, s := range steps {
		fmt.Fprintf(out, "Step %d\n", s.Index+1)
		g := recipe.Extract(s)
		if g.Len() == 0 {
			fmt.Fprintln(out, "  (prose only)")
			continue
		}
		for _, kind := range g.Kinds() {
			h := registry.Lookup(kind)
			fmt.Fprintf(out, "  %s [%s]\n", kind, h.Gate)
			for _, c := range g.Get(kind) {
				if l := registry.LabelOf(recipe.CommandView{Kind: c.Kind, Attributes: c.Attributes}); l != "" && l != kind {
					fmt.Fprintf(out, "    - %s\n", l)
				}
			}
		}
	}
	return nil
}

// --- preview ---

var (
	previewRaw            bool
	previewPackageManager string
)

var previewCmd = &cobra.Command{
	Use:   "preview [recipe.mdx]",
	Short: "Show a recipe with each command replaced by the snippet it stands for",
	Args:  cobra.ExactArgs(1),
	RunE:  runPreview,
}

func runPreview(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("package-manager") {
		cfg.PackageManager = previewPackageManager
	}
	pm, err := cfg.PackageManagerValue()
	if err != nil {
		return err
	}
	doc, err := document.LoadFile(args[0])
	if err != nil {
		return err
	}
	md := preview.Markdown(doc, commands.NewRegistry(), commands.Env{
		Root:           cfg.Root,
		PackageManager: pm,
		HostConfig:     cfg.HostConfigPath(),
	})
	if previewRaw {
		fmt.Fprintln(cmd.OutOrStdout(), md)
		return nil
	}
	width := 80
	if w, _, err := term.GetSize(1); err == nil && w > 0 {
		width = w
	}
	fmt.Fprintln(cmd.OutOrStdout(), preview.Render(md, width))
	return nil
}

// --- diagram ---

var diagramFormat string

var diagramCmd = &cobra.Command{
	Use:   "diagram [recipe.mdx]",
	Short: "Draw the step flow of a recipe",
	Args:  cobra.ExactArgs(1),
	RunE:  runDiagram,
}

func runDiagram(cmd *cobra.Command, args []string) error {
	format, err := diagram.ParseFormat(diagramFormat)
	if err != nil {
		return err
	}
	doc, err := document.LoadFile(args[0])
	if err != nil {
		return err
	}
	name := strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
	out, err := diagram.Generate(name, recipe.Segment(doc), commands.NewRegistry(), format)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), out)
	return nil
}

func init() {
	stepsCmd.Flags().BoolVar(&stepsJSON, "json", false, "Output steps as JSON")
	previewCmd.Flags().BoolVar(&previewRaw, "raw", false, "Print markdown without terminal styling")
	previewCmd.Flags().StringVar(&previewPackageManager, "package-manager", "", "Package manager used in install snippets: yarn, npm or pnpm")
	diagramCmd.Flags().StringVar(&diagramFormat, "format", "ascii", "Diagram format: ascii or mermaid")
}
