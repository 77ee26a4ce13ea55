package duplexrpc

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/wagiedev/duplexrpc-go/internal/channel"
	"github.com/wagiedev/duplexrpc-go/internal/protocol"
	"github.com/wagiedev/duplexrpc-go/internal/registry"
	"github.com/wagiedev/duplexrpc-go/internal/subprocess"
)

// State is the lifecycle stage of a connection.
type State = protocol.State

// Connection lifecycle states.
const (
	StateCreated     = protocol.StateCreated
	StateConfiguring = protocol.StateConfiguring
	StateRunning     = protocol.StateRunning
	StateClosing     = protocol.StateClosing
	StateStopped     = protocol.StateStopped
)

// Stats is a snapshot of connection counters.
type Stats = protocol.Stats

// Handler is a raw handler registration. Most callers use On, OnCall,
// OnNotify or OnEvent instead.
type Handler = registry.Handler

// errClosedByUser is the cancellation cause recorded by Close.
var errClosedByUser = stderrors.New("connection closed by user")

// Conn is one end of a bidirectional request/response connection.
//
// Either side may send requests and either side may answer them. Register
// handlers first, then call one of the Listen methods, which blocks until
// the stream closes. Requests may be sent from any goroutine, including
// from inside handlers, before or during Listen.
//
// Lifecycle: connections are single-use. After Listen returns, create a new
// connection with New().
//
// Example usage:
//
//	conn, err := duplexrpc.New(duplexrpc.WithLogger(log))
//	if err != nil {
//	    return err
//	}
//
//	duplexrpc.OnCall(conn, "ping", func(ctx context.Context) (string, error) {
//	    return "pong", nil
//	})
//
//	if err := conn.ListenStdio(ctx); err != nil {
//	    return err
//	}
type Conn struct {
	log     *slog.Logger
	options *Options
	conn    *protocol.Conn

	mu     sync.Mutex
	cancel context.CancelCauseFunc
	closed bool
}

// New creates a connection configured by opts.
func New(opts ...Option) (*Conn, error) {
	options := applyOptions(opts)

	if options.Logger == nil {
		options.Logger = NopLogger()
	}

	conn, err := protocol.New(options)
	if err != nil {
		return nil, err
	}

	return &Conn{
		log:     options.Logger,
		options: options,
		conn:    conn,
	}, nil
}

// Handle registers a raw handler. Returns *DuplicateHandlerError if the
// request type is taken and ErrRegistryFrozen once Listen has started.
func (c *Conn) Handle(h Handler) error {
	return c.conn.Handle(h)
}

// Notify sends a request without waiting for, or being told about, its
// response. Returns the request id.
func (c *Conn) Notify(requestType string, args any) (string, error) {
	return c.conn.Send(requestType, args, nil, nil)
}

// Listen runs the connection over r (incoming frames) and w (outgoing
// frames) and blocks until it stops.
//
// Listen returns nil when r reaches end of stream or Close is called. It
// returns ctx.Err() if ctx is cancelled and a *TransportError if the stream
// fails.
func (c *Conn) Listen(ctx context.Context, r io.Reader, w io.Writer) error {
	return c.ListenChannel(ctx, channel.New(c.log, r, w, c.options.MaxFrameSize))
}

// ListenStdio runs the connection over the process's stdin and stdout.
// Logs must not be written to stdout while the connection runs.
func (c *Conn) ListenStdio(ctx context.Context) error {
	return c.Listen(ctx, os.Stdin, os.Stdout)
}

// ListenChannel runs the connection over a custom Channel.
func (c *Conn) ListenChannel(ctx context.Context, ch Channel) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()

		return ErrConnectionClosed
	}

	c.cancel = cancel
	c.mu.Unlock()

	err := c.conn.Serve(ctx, ch)
	if err != nil && stderrors.Is(context.Cause(ctx), errClosedByUser) {
		return nil
	}

	return err
}

// ListenProcess starts cmd as the peer and runs the connection over its
// stdout (incoming) and stdin (outgoing). When the connection stops, the
// peer's stdin is closed and the peer is given a grace period to exit
// before it is killed.
//
// If the connection stops cleanly but the peer exited with a non-zero
// status, a *ProcessError carrying its stderr is returned.
func (c *Conn) ListenProcess(ctx context.Context, cmd *exec.Cmd) error {
	proc, err := subprocess.Start(ctx, c.log, cmd, c.options.Stderr)
	if err != nil {
		return err
	}

	listenErr := c.ListenChannel(ctx, channel.New(c.log, proc.Stdout(), proc.Stdin(), c.options.MaxFrameSize))

	if err := proc.Close(); err != nil {
		c.log.Debug("Closing peer process failed", "error", err)
	}

	waitErr := proc.Wait()

	if listenErr != nil {
		return listenErr
	}

	return waitErr
}

// Close stops a running connection gracefully: messages already queued are
// flushed and the active Listen returns nil. Calling Close before Listen
// makes Listen return ErrConnectionClosed. It's safe to call Close multiple
// times.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true

	if c.cancel != nil {
		c.cancel(errClosedByUser)
	}

	return nil
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	return c.conn.State()
}

// Stats returns a snapshot of the connection counters.
func (c *Conn) Stats() Stats {
	return c.conn.Stats()
}

// Done returns a channel that is closed when the connection stops.
func (c *Conn) Done() <-chan struct{} {
	return c.conn.Done()
}

// Handlers returns the registered handlers sorted by request type.
func (c *Conn) Handlers() []Handler {
	return c.conn.Handlers()
}
