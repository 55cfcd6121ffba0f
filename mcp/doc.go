// Package mcp implements the Model Context Protocol over newline-delimited
// JSON-RPC 2.0 on a pair of byte streams, usually a child process's stdio.
//
// A Server reads one message per line, dispatches requests through a
// Registry of method handlers and writes one reply per request. Resources,
// tools and prompts are supplied by providers:
//
//	tools, _ := provider.NewDefaultToolbox(logger)
//	srv, err := mcp.NewServer(
//		mcp.UseLogger(logger),
//		mcp.UseTools(tools),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	err = srv.Run(ctx, os.Stdin, os.Stdout)
//
// A Client correlates responses to requests by id. Each call waits at most
// the request timeout and ends in a result, a RemoteError, ErrTimeout,
// ErrCancelled or ErrProcessExit:
//
//	proc, err := mcp.StartProcess(mcp.ProcessConfig{Command: "mcpstdio-server"})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer proc.Stop()
//
//	if _, err := proc.Initialize(ctx); err != nil {
//		log.Fatal(err)
//	}
//	result, err := proc.CallTool(ctx, "add_numbers", map[string]float64{"a": 40, "b": 2})
//
// Logs never go to stdout, which carries protocol frames.
package mcp
