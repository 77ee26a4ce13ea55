package duplexrpc_test

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wagiedev/duplexrpc-go"
)

// pair is two connections joined back to back by in-memory pipes.
type pair struct {
	a, b   *duplexrpc.Conn
	aToB   *io.PipeWriter
	bToA   *io.PipeWriter
	errA   chan error
	errB   chan error
	closed sync.Once
}

func newPair(t *testing.T, setupA, setupB func(*duplexrpc.Conn), opts ...duplexrpc.Option) *pair {
	t.Helper()

	a, err := duplexrpc.New(opts...)
	require.NoError(t, err)

	b, err := duplexrpc.New(opts...)
	require.NoError(t, err)

	if setupA != nil {
		setupA(a)
	}

	if setupB != nil {
		setupB(b)
	}

	aIn, bToA := io.Pipe()
	bIn, aToB := io.Pipe()

	p := &pair{
		a:    a,
		b:    b,
		aToB: aToB,
		bToA: bToA,
		errA: make(chan error, 1),
		errB: make(chan error, 1),
	}

	ctx := context.Background()

	go func() { p.errA <- a.Listen(ctx, aIn, aToB) }()
	go func() { p.errB <- b.Listen(ctx, bIn, bToA) }()

	t.Cleanup(p.shutdown)

	return p
}

// shutdown closes both directions and waits for both ends to stop.
func (p *pair) shutdown() {
	p.closed.Do(func() {
		_ = p.aToB.Close()
		_ = p.bToA.Close()

		for _, c := range []*duplexrpc.Conn{p.a, p.b} {
			select {
			case <-c.Done():
			case <-time.After(3 * time.Second):
			}
		}
	})
}

func testCtx(t *testing.T) context.Context {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	return ctx
}

type addArgs struct {
	A int `json:"a"`
	B int `json:"b"`
}

func TestConn_HandlerShapes(t *testing.T) {
	var (
		logged  = make(chan string, 1)
		flushed atomic.Bool
	)

	p := newPair(t, nil, func(c *duplexrpc.Conn) {
		require.NoError(t, duplexrpc.OnCall(c, "ping", func(context.Context) (string, error) {
			return "pong", nil
		}))
		require.NoError(t, duplexrpc.On(c, "add", func(_ context.Context, args addArgs) (int, error) {
			return args.A + args.B, nil
		}))
		require.NoError(t, duplexrpc.OnNotify(c, "log", func(_ context.Context, line string) error {
			logged <- line

			return nil
		}))
		require.NoError(t, duplexrpc.OnEvent(c, "flush", func(context.Context) error {
			flushed.Store(true)

			return nil
		}))
	})

	ctx := testCtx(t)

	pong, err := duplexrpc.Call[string](ctx, p.a, "ping", nil)
	require.NoError(t, err)
	require.Equal(t, "pong", pong)

	sum, err := duplexrpc.Call[int](ctx, p.a, "add", addArgs{A: 2, B: 40})
	require.NoError(t, err)
	require.Equal(t, 42, sum)

	_, err = duplexrpc.Call[struct{}](ctx, p.a, "log", "started")
	require.NoError(t, err)
	require.Equal(t, "started", <-logged)

	_, err = duplexrpc.Call[struct{}](ctx, p.a, "flush", nil)
	require.NoError(t, err)
	require.True(t, flushed.Load())
}

func TestConn_BothSidesServe(t *testing.T) {
	register := func(name string) func(*duplexrpc.Conn) {
		return func(c *duplexrpc.Conn) {
			require.NoError(t, duplexrpc.On(c, "whoami", func(_ context.Context, prefix string) (string, error) {
				return prefix + name, nil
			}))
		}
	}

	p := newPair(t, register("a"), register("b"))
	ctx := testCtx(t)

	fromB, err := duplexrpc.Call[string](ctx, p.a, "whoami", "I am ")
	require.NoError(t, err)
	require.Equal(t, "I am b", fromB)

	fromA, err := duplexrpc.Call[string](ctx, p.b, "whoami", "I am ")
	require.NoError(t, err)
	require.Equal(t, "I am a", fromA)
}

func TestConn_NestedCallFromHandler(t *testing.T) {
	var b *duplexrpc.Conn

	p := newPair(t,
		func(c *duplexrpc.Conn) {
			require.NoError(t, duplexrpc.OnCall(c, "name", func(context.Context) (string, error) {
				return "alice", nil
			}))
		},
		func(c *duplexrpc.Conn) {
			b = c
			require.NoError(t, duplexrpc.OnCall(c, "greet", func(ctx context.Context) (string, error) {
				// Ask the caller back while its own request is still pending.
				name, err := duplexrpc.Call[string](ctx, b, "name", nil)
				if err != nil {
					return "", err
				}

				return "hello " + name, nil
			}))
		},
	)

	greeting, err := duplexrpc.Call[string](testCtx(t), p.a, "greet", nil)
	require.NoError(t, err)
	require.Equal(t, "hello alice", greeting)
}

func TestConn_RemoteErrors(t *testing.T) {
	p := newPair(t, nil, func(c *duplexrpc.Conn) {
		require.NoError(t, duplexrpc.OnCall(c, "boom", func(context.Context) (string, error) {
			return "", stderrors.New("kaboom")
		}))
		require.NoError(t, duplexrpc.OnCall(c, "ping", func(context.Context) (string, error) {
			return "pong", nil
		}))
	})

	ctx := testCtx(t)

	_, err := duplexrpc.Call[string](ctx, p.a, "boom", nil)

	remoteErr, ok := stderrors.AsType[*duplexrpc.RemoteError](err)
	require.True(t, ok, "expected RemoteError, got %v", err)
	require.Equal(t, "kaboom", remoteErr.Message)

	_, err = duplexrpc.Call[string](ctx, p.a, "missing", nil)
	require.ErrorContains(t, err, `no handler registered for request type "missing"`)

	// The connection survives both failures.
	pong, err := duplexrpc.Call[string](ctx, p.a, "ping", nil)
	require.NoError(t, err)
	require.Equal(t, "pong", pong)
}

// silentError has an empty message.
type silentError struct{}

func (silentError) Error() string { return "" }

func TestConn_HandlerErrorWithEmptyMessage(t *testing.T) {
	p := newPair(t, nil, func(c *duplexrpc.Conn) {
		require.NoError(t, duplexrpc.OnCall(c, "quiet", func(context.Context) (string, error) {
			return "", silentError{}
		}))
	})

	_, err := duplexrpc.CallTimeout[string](testCtx(t), p.a, "quiet", nil, 5*time.Second)

	remoteErr, ok := stderrors.AsType[*duplexrpc.RemoteError](err)
	require.True(t, ok, "expected RemoteError, got %v", err)
	require.NotEmpty(t, remoteErr.Message)
	require.Contains(t, remoteErr.Message, "quiet")
}

func TestSend_TypedCallback(t *testing.T) {
	p := newPair(t, nil, func(c *duplexrpc.Conn) {
		require.NoError(t, duplexrpc.On(c, "greet", func(_ context.Context, name string) (string, error) {
			return "hello " + name, nil
		}))
	})

	got := make(chan string, 1)

	id, err := duplexrpc.Send(p.a, "greet", "world", func(_ context.Context, greeting string, err error) {
		assert.NoError(t, err)
		got <- greeting
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	select {
	case greeting := <-got:
		require.Equal(t, "hello world", greeting)
	case <-time.After(3 * time.Second):
		t.Fatal("callback not invoked")
	}
}

func TestSend_ResultTypeMismatch(t *testing.T) {
	p := newPair(t, nil, func(c *duplexrpc.Conn) {
		require.NoError(t, duplexrpc.OnCall(c, "name", func(context.Context) (string, error) {
			return "alice", nil
		}))
	})

	_, err := duplexrpc.Call[int](testCtx(t), p.a, "name", nil)

	_, ok := stderrors.AsType[*duplexrpc.DeserializationError](err)
	require.True(t, ok, "expected DeserializationError, got %v", err)
}

func TestConn_Notify(t *testing.T) {
	received := make(chan string, 1)

	p := newPair(t, nil, func(c *duplexrpc.Conn) {
		require.NoError(t, duplexrpc.OnNotify(c, "log", func(_ context.Context, line string) error {
			received <- line

			return nil
		}))
	})

	id, err := p.a.Notify("log", "fire and forget")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	select {
	case line := <-received:
		require.Equal(t, "fire and forget", line)
	case <-time.After(3 * time.Second):
		t.Fatal("notification not delivered")
	}

	// The response is unmatched on the sending side and ignored.
	require.Eventually(t, func() bool {
		return p.a.Stats().UnmatchedResponses == 1
	}, 3*time.Second, 5*time.Millisecond)
}

func TestConn_ConcurrentCalls(t *testing.T) {
	p := newPair(t, nil, func(c *duplexrpc.Conn) {
		require.NoError(t, duplexrpc.On(c, "echo", func(_ context.Context, n int) (int, error) {
			return n, nil
		}))
	})

	ctx := testCtx(t)

	var wg sync.WaitGroup

	for i := range 50 {
		wg.Go(func() {
			got, err := duplexrpc.Call[int](ctx, p.a, "echo", i)
			assert.NoError(t, err)
			assert.Equal(t, i, got)
		})
	}

	wg.Wait()

	require.Zero(t, p.a.Stats().PendingResponses)
}

func TestConn_StrictSchemas(t *testing.T) {
	setup := func(c *duplexrpc.Conn) {
		require.NoError(t, duplexrpc.On(c, "add", func(_ context.Context, args addArgs) (int, error) {
			return args.A + args.B, nil
		}))
	}

	partial := map[string]any{"a": 1}

	t.Run("lenient by default", func(t *testing.T) {
		p := newPair(t, nil, setup)

		sum, err := duplexrpc.Call[int](testCtx(t), p.a, "add", partial)
		require.NoError(t, err)
		require.Equal(t, 1, sum)
	})

	t.Run("strict rejects missing fields", func(t *testing.T) {
		p := newPair(t, nil, setup, duplexrpc.WithStrictSchemas())

		_, err := duplexrpc.Call[int](testCtx(t), p.a, "add", partial)
		require.ErrorContains(t, err, "deserialize into")
	})
}

func TestConn_CallTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	p := newPair(t, nil, func(c *duplexrpc.Conn) {
		require.NoError(t, duplexrpc.OnCall(c, "slow", func(ctx context.Context) (string, error) {
			select {
			case <-release:
			case <-ctx.Done():
			}

			return "late", nil
		}))
	}, duplexrpc.WithCallTimeout(50*time.Millisecond))

	_, err := duplexrpc.Call[string](testCtx(t), p.a, "slow", nil)
	require.ErrorIs(t, err, duplexrpc.ErrRequestTimeout)

	_, err = duplexrpc.CallTimeout[string](testCtx(t), p.a, "slow", nil, 20*time.Millisecond)
	require.ErrorIs(t, err, duplexrpc.ErrRequestTimeout)
}

func TestConn_Introspection(t *testing.T) {
	p := newPair(t, nil, func(c *duplexrpc.Conn) {
		require.NoError(t, duplexrpc.On(c, "add", func(_ context.Context, args addArgs) (int, error) {
			return args.A + args.B, nil
		}, duplexrpc.WithDescription("Adds two integers")))
	}, duplexrpc.WithIntrospection("calc", "0.1.0"))

	desc, err := duplexrpc.Describe(testCtx(t), p.a)
	require.NoError(t, err)
	require.Equal(t, "calc", desc.Server.Name)
	require.Equal(t, "0.1.0", desc.Server.Version)

	var add *mcp.Tool

	for _, tool := range desc.Tools {
		if tool.Name == "add" {
			add = tool
		}
	}

	require.NotNil(t, add)
	require.Equal(t, "Adds two integers", add.Description)

	inputSchema, ok := add.InputSchema.(map[string]any)
	require.True(t, ok, "input schema decodes to %T", add.InputSchema)
	require.Equal(t, "object", inputSchema["type"])
	require.Contains(t, inputSchema["properties"], "a")

	outputSchema, ok := add.OutputSchema.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "integer", outputSchema["type"])

	// Without introspection there is nothing to describe.
	plain := newPair(t, nil, nil)

	_, err = duplexrpc.Describe(testCtx(t), plain.a)
	require.ErrorContains(t, err, "no handler registered")
}

func TestConn_Close(t *testing.T) {
	p := newPair(t, nil, nil)

	require.Eventually(t, func() bool {
		return p.a.State() == duplexrpc.StateRunning
	}, 3*time.Second, 5*time.Millisecond)

	require.NoError(t, p.a.Close())
	require.NoError(t, p.a.Close())

	select {
	case err := <-p.errA:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Listen did not return after Close")
	}

	// Closing a's channel closes its writer, so b sees end of stream.
	select {
	case err := <-p.errB:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("peer did not observe end of stream")
	}

	require.Equal(t, duplexrpc.StateStopped, p.a.State())
	require.Equal(t, duplexrpc.StateStopped, p.b.State())

	_, err := p.a.Notify("late", nil)
	require.ErrorIs(t, err, duplexrpc.ErrConnectionClosed)
}

func TestConn_Lifecycle(t *testing.T) {
	conn, err := duplexrpc.New()
	require.NoError(t, err)
	require.Equal(t, duplexrpc.StateCreated, conn.State())

	ping := func(context.Context) (string, error) { return "pong", nil }

	require.NoError(t, duplexrpc.OnCall(conn, "ping", ping))
	require.Equal(t, duplexrpc.StateConfiguring, conn.State())

	err = duplexrpc.OnCall(conn, "ping", ping)

	dupErr, ok := stderrors.AsType[*duplexrpc.DuplicateHandlerError](err)
	require.True(t, ok)
	require.Equal(t, "ping", dupErr.RequestType)

	require.ErrorIs(t, duplexrpc.OnCall[string](conn, "", ping), duplexrpc.ErrInvalidHandler)

	// An already-closed input stops the connection immediately.
	r, w := io.Pipe()
	require.NoError(t, w.Close())
	require.NoError(t, conn.Listen(context.Background(), r, io.Discard))

	require.ErrorIs(t, conn.Listen(context.Background(), r, io.Discard), duplexrpc.ErrConnectionClosed)
	require.ErrorIs(t, duplexrpc.OnCall(conn, "late", ping), duplexrpc.ErrConnectionClosed)

	require.Len(t, conn.Handlers(), 1)
}

func TestConn_CloseBeforeListen(t *testing.T) {
	conn, err := duplexrpc.New()
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	r, _ := io.Pipe()
	require.ErrorIs(t, conn.Listen(context.Background(), r, io.Discard), duplexrpc.ErrConnectionClosed)
}

func TestConn_ListenCancelled(t *testing.T) {
	conn, err := duplexrpc.New()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	r, w := io.Pipe()
	defer w.Close()

	errCh := make(chan error, 1)

	go func() { errCh <- conn.Listen(ctx, r, io.Discard) }()

	require.Eventually(t, func() bool {
		return conn.State() == duplexrpc.StateRunning
	}, 3*time.Second, 5*time.Millisecond)

	cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("Listen did not return after cancel")
	}
}

// stuckReader blocks forever and has no Close.
type stuckReader struct{}

func (stuckReader) Read([]byte) (int, error) {
	select {}
}

func TestConn_ListenUninterruptibleReader(t *testing.T) {
	t.Run("cancel", func(t *testing.T) {
		conn, err := duplexrpc.New()
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())

		errCh := make(chan error, 1)

		go func() { errCh <- conn.Listen(ctx, stuckReader{}, io.Discard) }()

		require.Eventually(t, func() bool {
			return conn.State() == duplexrpc.StateRunning
		}, 3*time.Second, 5*time.Millisecond)

		cancel()

		select {
		case err := <-errCh:
			require.ErrorIs(t, err, context.Canceled)
		case <-time.After(3 * time.Second):
			t.Fatal("Listen did not return after cancel")
		}
	})

	t.Run("close", func(t *testing.T) {
		conn, err := duplexrpc.New()
		require.NoError(t, err)

		errCh := make(chan error, 1)

		go func() { errCh <- conn.Listen(context.Background(), stuckReader{}, io.Discard) }()

		require.Eventually(t, func() bool {
			return conn.State() == duplexrpc.StateRunning
		}, 3*time.Second, 5*time.Millisecond)

		require.NoError(t, conn.Close())

		select {
		case err := <-errCh:
			require.NoError(t, err)
		case <-time.After(3 * time.Second):
			t.Fatal("Listen did not return after Close")
		}

		require.Equal(t, duplexrpc.StateStopped, conn.State())
	})
}

func TestConn_ListenProcess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires POSIX tools")
	}

	t.Run("echo peer", func(t *testing.T) {
		if _, err := exec.LookPath("cat"); err != nil {
			t.Skip("cat not available")
		}

		// cat echoes every frame back, so this side answers its own request.
		conn, err := duplexrpc.New()
		require.NoError(t, err)
		require.NoError(t, duplexrpc.OnCall(conn, "ping", func(context.Context) (string, error) {
			return "pong", nil
		}))

		errCh := make(chan error, 1)

		go func() { errCh <- conn.ListenProcess(context.Background(), exec.Command("cat")) }()

		pong, err := duplexrpc.Call[string](testCtx(t), conn, "ping", nil)
		require.NoError(t, err)
		require.Equal(t, "pong", pong)

		require.NoError(t, conn.Close())

		select {
		case err := <-errCh:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("ListenProcess did not return")
		}
	})

	t.Run("failing peer", func(t *testing.T) {
		if _, err := exec.LookPath("sh"); err != nil {
			t.Skip("sh not available")
		}

		var stderrLines []string

		conn, err := duplexrpc.New(duplexrpc.WithStderr(func(line string) {
			stderrLines = append(stderrLines, line)
		}))
		require.NoError(t, err)

		err = conn.ListenProcess(context.Background(), exec.Command("sh", "-c", "echo fatal >&2; exit 2"))

		procErr, ok := stderrors.AsType[*duplexrpc.ProcessError](err)
		require.True(t, ok, "expected ProcessError, got %v", err)
		require.Equal(t, 2, procErr.ExitCode)
		require.Equal(t, "fatal", procErr.Stderr)
		require.Equal(t, []string{"fatal"}, stderrLines)
	})
}

func ExampleCall() {
	a, _ := duplexrpc.New()
	b, _ := duplexrpc.New()

	_ = duplexrpc.On(b, "greet", func(_ context.Context, name string) (string, error) {
		return "hello " + name, nil
	})

	aIn, bOut := io.Pipe()
	bIn, aOut := io.Pipe()

	go func() { _ = a.Listen(context.Background(), aIn, aOut) }()
	go func() { _ = b.Listen(context.Background(), bIn, bOut) }()

	greeting, err := duplexrpc.Call[string](context.Background(), a, "greet", "world")
	if err != nil {
		fmt.Println(err)

		return
	}

	fmt.Println(greeting)

	_ = a.Close()
	<-b.Done()

	// Output: hello world
}
