package main

import (
	"os"
	"os/signal"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/ormasoftchile/recipe/pkg/logging"
	recipemcp "github.com/ormasoftchile/recipe/pkg/mcp"
	"github.com/ormasoftchile/recipe/pkg/serve"
)

var (
	serveDir  string
	serveAddr string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the recipe editor backend over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger, closer, err := logging.New(logging.Options{
			Level:   cfg.Log.Level,
			File:    cfg.Log.File,
			JSON:    cfg.Log.JSON,
			Console: cmd.ErrOrStderr(),
		})
		if err != nil {
			return err
		}
		defer closer.Close()

		s, err := serve.New(serveDir, serve.WithLogger(logger))
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return s.ListenAndServe(ctx, serveAddr)
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start the MCP server on stdio",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return server.ServeStdio(recipemcp.NewServer(version))
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveDir, "dir", "src/recipes", "Directory holding the recipe documents")
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8000", "Address to listen on")
}
