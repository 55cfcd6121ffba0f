// Command mcpstdio-client launches an MCP server as a child process and talks
// to it over stdio: a handshake report, a single raw call, or a chat session.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/shaharia-lab/mcpstdio/agent"
	"github.com/shaharia-lab/mcpstdio/config"
	"github.com/shaharia-lab/mcpstdio/internal/app"
	"github.com/shaharia-lab/mcpstdio/mcp"
	"github.com/shaharia-lab/mcpstdio/observability"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type options struct {
	configPath    string
	logLevel      string
	serverCommand string
	serverArgs    []string
}

func (o *options) load() (*config.Config, observability.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.serverCommand != "" {
		cfg.Client.Command = o.serverCommand
		cfg.Client.Args = o.serverArgs
	}
	logger, err := app.NewLogger(cfg, os.Stderr)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "mcpstdio-client",
		Short:         "Drive an MCP server over stdio",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML or JSON config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn or error")
	root.PersistentFlags().StringVar(&opts.serverCommand, "server", "", "server command to launch")
	root.PersistentFlags().StringSliceVar(&opts.serverArgs, "server-arg", nil, "argument for the server command (repeatable)")

	root.AddCommand(newHandshakeCommand(opts), newCallCommand(opts), newChatCommand(opts))
	return root
}

// session starts the server, performs the handshake and hands the process to fn.
func session(ctx context.Context, opts *options, fn func(ctx context.Context, cfg *config.Config, logger observability.Logger, proc *mcp.Process) error) error {
	cfg, logger, err := opts.load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	proc, err := app.StartServerProcess(cfg, logger, os.Stderr)
	if err != nil {
		return err
	}
	defer proc.Stop()

	return fn(ctx, cfg, logger, proc)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newHandshakeCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "handshake",
		Short: "Initialize the server and list what it offers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return session(cmd.Context(), opts, func(ctx context.Context, _ *config.Config, _ observability.Logger, proc *mcp.Process) error {
				info, err := proc.Initialize(ctx)
				if err != nil {
					return err
				}
				if err := proc.Ping(ctx); err != nil {
					return err
				}

				report := struct {
					Server    mcp.Implementation `json:"server"`
					Protocol  string             `json:"protocolVersion"`
					Tools     []mcp.Tool         `json:"tools,omitempty"`
					Prompts   []mcp.Prompt       `json:"prompts,omitempty"`
					Resources []mcp.Resource     `json:"resources,omitempty"`
				}{Server: info.ServerInfo, Protocol: info.ProtocolVersion}

				if info.Capabilities.Tools != nil {
					if report.Tools, err = proc.ListTools(ctx); err != nil {
						return err
					}
				}
				if info.Capabilities.Prompts != nil {
					if report.Prompts, err = proc.ListPrompts(ctx); err != nil {
						return err
					}
				}
				if info.Capabilities.Resources != nil {
					if report.Resources, err = proc.ListResources(ctx); err != nil {
						return err
					}
				}
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}
}

func newCallCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "call <method> [params-json]",
		Short: "Send one request after the handshake and print its result",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var params interface{}
			if len(args) == 2 {
				if !json.Valid([]byte(args[1])) {
					return fmt.Errorf("params must be valid JSON: %s", args[1])
				}
				params = json.RawMessage(args[1])
			}

			return session(cmd.Context(), opts, func(ctx context.Context, _ *config.Config, _ observability.Logger, proc *mcp.Process) error {
				if _, err := proc.Initialize(ctx); err != nil {
					return err
				}
				result, err := proc.SendRequest(ctx, args[0], params)
				if err != nil {
					var remote *mcp.RemoteError
					if errors.As(err, &remote) {
						return fmt.Errorf("server returned error %d: %s", remote.Code, remote.Message)
					}
					return err
				}
				return printJSON(cmd.OutOrStdout(), result)
			})
		},
	}
}

func newChatCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat with an agent that uses the server's tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return session(cmd.Context(), opts, func(ctx context.Context, cfg *config.Config, logger observability.Logger, proc *mcp.Process) error {
				decider, err := app.NewDecider(ctx, cfg, logger)
				if err != nil {
					return err
				}
				history, closeHistory, err := app.NewHistory(ctx, cfg, logger)
				if err != nil {
					return err
				}
				defer closeHistory()

				a := agent.New(proc, decider,
					agent.WithLogger(logger),
					agent.WithHistory(history),
					agent.WithPromptName(cfg.Agent.PromptName),
				)
				if err := a.Start(ctx); err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintln(out, "Chat started. Type 'exit' or 'quit' to leave.")
				return chat(ctx, a, cmd.InOrStdin(), out, proc.Exited())
			})
		},
	}
}

// chat runs the REPL next to a watcher that ends it on a signal or when the
// server exits. Input is piped so closing the pipe unblocks a pending read.
func chat(ctx context.Context, a *agent.Agent, in io.Reader, out io.Writer, serverExited <-chan struct{}) error {
	pr, pw := io.Pipe()
	go func() {
		_, err := io.Copy(pw, in)
		pw.CloseWithError(err)
	}()

	g, gctx := errgroup.WithContext(ctx)
	replDone := make(chan struct{})

	g.Go(func() error {
		defer close(replDone)
		err := a.Run(gctx, pr, out)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		select {
		case <-replDone:
			return nil
		case <-gctx.Done():
			pw.Close()
			return nil
		case <-serverExited:
			pw.Close()
			return errors.New("server process exited")
		}
	})

	return g.Wait()
}
