// Command mcpstdio-server serves the calculator tools, prompts and a
// directory of resources over newline-delimited JSON-RPC on stdin/stdout.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/shaharia-lab/mcpstdio/config"
	"github.com/shaharia-lab/mcpstdio/internal/app"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configPath   string
		logLevel     string
		resourceRoot string
	)

	cmd := &cobra.Command{
		Use:           "mcpstdio-server",
		Short:         "Serve MCP tools, prompts and resources over stdio",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			if resourceRoot != "" {
				cfg.Server.ResourceRoot = resourceRoot
			}

			logger, err := app.NewLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			srv, err := app.NewServer(cfg, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.WithFields(map[string]interface{}{
				"name":         cfg.Server.Name,
				"resourceRoot": cfg.Server.ResourceRoot,
			}).Info("Serving on stdio")
			return srv.Run(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML or JSON config file")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")
	cmd.Flags().StringVar(&resourceRoot, "resource-root", "", "directory exposed as file:// resources")
	return cmd
}
