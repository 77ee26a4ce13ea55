// Package duplexrpc provides a bidirectional request/response protocol over a
// single duplex byte stream.
//
// Both ends of a connection are peers: either side registers handlers for
// request types and either side sends requests and receives the responses.
// The typical deployment is a parent process talking to a child over the
// child's stdin/stdout, but any io.Reader/io.Writer pair works.
//
// # Handlers
//
// Handlers are registered by request type before the connection starts.
// Four shapes are supported:
//
//	duplexrpc.On(conn, "greet", func(ctx context.Context, name string) (string, error) {...})
//	duplexrpc.OnCall(conn, "ping", func(ctx context.Context) (string, error) {...})
//	duplexrpc.OnNotify(conn, "log", func(ctx context.Context, line string) error {...})
//	duplexrpc.OnEvent(conn, "flush", func(ctx context.Context) error {...})
//
// Each incoming request runs on its own goroutine. A handler error (or
// panic) becomes an error response carrying the error text; the connection
// keeps running.
//
// # Sending
//
// Requests can be sent at any time, including before Listen and from inside
// handlers:
//
//	// Blocking, with the configured call timeout
//	greeting, err := duplexrpc.Call[string](ctx, conn, "greet", "world")
//
//	// Non-blocking, with a response callback
//	id, err := duplexrpc.Send(conn, "greet", "world", func(ctx context.Context, greeting string, err error) {
//	    ...
//	})
//
//	// Fire and forget
//	id, err := conn.Notify("log", "started")
//
// # Running
//
// A child process serves on its own stdio:
//
//	err := duplexrpc.Serve(ctx, func(c *duplexrpc.Conn) error {
//	    return duplexrpc.OnCall(c, "ping", ping)
//	}, duplexrpc.WithLogger(logger))
//
// A parent starts the child and talks to it:
//
//	conn, _ := duplexrpc.New(duplexrpc.WithLogger(logger))
//	go func() {
//	    pong, err := duplexrpc.Call[string](ctx, conn, "ping", nil)
//	    ...
//	    conn.Close()
//	}()
//	err := conn.ListenProcess(ctx, exec.Command("./child"))
//
// # Wire Format
//
// Messages are newline-delimited JSON objects:
//
//	{"kind":"request","id":"01J...","type":"greet","args":"world"}
//	{"kind":"response","id":"01J...","result":"hello world"}
//	{"kind":"response","id":"01J...","error":"kaboom"}
//
// A line holding a JSON array is read as a batch of messages.
//
// # Logging
//
// For detailed operation tracking, use WithLogger. When serving on stdio,
// log to stderr:
//
//	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
//
// # Error Handling
//
// Only transport failures end a connection with an error:
//
//	if err := conn.ListenProcess(ctx, cmd); err != nil {
//	    if procErr, ok := errors.AsType[*duplexrpc.ProcessError](err); ok {
//	        log.Fatalf("peer exited with code %d: %s", procErr.ExitCode, procErr.Stderr)
//	    }
//	    log.Fatal(err)
//	}
//
// Failures of individual requests reach the sender as *RemoteError.
package duplexrpc
