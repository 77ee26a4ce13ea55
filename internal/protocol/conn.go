package protocol

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/wagiedev/duplexrpc-go/internal/config"
	"github.com/wagiedev/duplexrpc-go/internal/errors"
	"github.com/wagiedev/duplexrpc-go/internal/mcp"
	"github.com/wagiedev/duplexrpc-go/internal/message"
	"github.com/wagiedev/duplexrpc-go/internal/registry"
	"github.com/wagiedev/duplexrpc-go/internal/serializer"
)

// State is the lifecycle stage of a Conn.
type State int32

const (
	// StateCreated is a fresh connection with no handlers.
	StateCreated State = iota
	// StateConfiguring means handlers have been registered.
	StateConfiguring
	// StateRunning means the read loop and dispatcher are active.
	StateRunning
	// StateClosing means the channel closed and cancellation was raised.
	StateClosing
	// StateStopped is terminal; connections are single-use.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateConfiguring:
		return "configuring"
	case StateRunning:
		return "running"
	case StateClosing:
		return "closing"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Stats is a snapshot of connection counters.
type Stats struct {
	State              State
	InFlightHandlers   int64
	FailedRequests     int64
	PendingResponses   int
	QueuedMessages     int
	DroppedMessages    int64
	MessagesWritten    int64
	RequestsSent       int64
	RequestsReceived   int64
	ResponsesReceived  int64
	UnmatchedResponses int64
}

// Conn binds one duplex Channel to a handler registry and manages the
// read/dispatch lifecycle.
//
// Conn owns:
//   - a Registry of handlers and pending response continuations
//   - an unbounded outgoing Queue shared by senders and the Executor
//   - a Dispatcher that is the only writer on the Channel
//   - the read loop, which is the only reader
//
// A Conn is single-use: after Serve returns it cannot be started again.
type Conn struct {
	log         *slog.Logger
	registry    *registry.Registry
	serializer  serializer.Serializer
	queue       *Queue
	executor    *Executor
	dispatcher  *Dispatcher
	callTimeout time.Duration

	stateMu sync.Mutex
	state   State

	// Fatal error handling - stores error and broadcasts via done channel
	errMu    sync.RWMutex
	fatalErr error

	done      chan struct{}
	closeOnce sync.Once

	requestsSent       atomic.Int64
	requestsReceived   atomic.Int64
	responsesReceived  atomic.Int64
	unmatchedResponses atomic.Int64
}

// New creates a connection from options. Registers the describe handler
// when introspection is configured.
func New(options *config.Options) (*Conn, error) {
	if options == nil {
		options = &config.Options{}
	}

	log := options.ResolveLogger().With("component", "connection")
	ser := options.ResolveSerializer()
	reg := registry.New(log)
	queue := NewQueue()

	c := &Conn{
		log:        log,
		registry:   reg,
		serializer: ser,
		queue:      queue,
		executor: NewExecutor(log, reg, ser, queue, ExecutorLimits{
			MaxConcurrent: options.MaxConcurrentHandlers,
			Rate:          options.RequestRate,
			Burst:         options.RequestBurst,
		}),
		dispatcher:  NewDispatcher(log, queue, options.ResolveDrainTimeout()),
		callTimeout: options.ResolveCallTimeout(),
		done:        make(chan struct{}),
	}

	if options.Introspection != nil {
		catalog := mcp.NewCatalog(options.Introspection.Name, options.Introspection.Version, reg)
		if err := reg.Register(catalog.Handler()); err != nil {
			return nil, fmt.Errorf("register describe handler: %w", err)
		}
	}

	return c, nil
}

// Handle registers an incoming request handler. Must be called before Serve.
func (c *Conn) Handle(h registry.Handler) error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if c.state == StateStopped {
		return errors.ErrConnectionClosed
	}

	if err := c.registry.Register(h); err != nil {
		return err
	}

	if c.state == StateCreated {
		c.state = StateConfiguring
	}

	return nil
}

// Send builds a request, records onComplete (if non-nil) under the new
// request id, and enqueues the request. It never waits for the response:
// onComplete runs later on the read loop goroutine when a matching response
// arrives, and never runs if none does.
//
// Requests sent before Serve are written once the dispatcher starts.
func (c *Conn) Send(
	requestType string,
	args any,
	resultType *serializer.Type,
	onComplete registry.CompleteFunc,
) (string, error) {
	if c.State() == StateStopped {
		return "", errors.ErrConnectionClosed
	}

	payload, err := c.serializer.Serialize(args)
	if err != nil {
		return "", fmt.Errorf("serialize arguments: %w", err)
	}

	requestID := c.generateRequestID()

	if onComplete != nil {
		c.registry.AddPending(registry.Pending{
			RequestID:   requestID,
			RequestType: requestType,
			ResultType:  resultType,
			OnComplete:  onComplete,
		})
	}

	req := &message.Request{ID: requestID, Type: requestType, Args: payload}

	if err := c.queue.Push(req); err != nil {
		c.registry.DropPending(requestID)

		return "", errors.ErrConnectionClosed
	}

	c.requestsSent.Add(1)
	c.log.Debug("Request sent", "request_id", requestID, "request_type", requestType)

	return requestID, nil
}

// Call sends a request and blocks until its response arrives, ctx is done,
// the timeout expires, or the connection stops.
//
// A zero timeout uses the configured call timeout; if that is also zero the
// call waits without a deadline.
func (c *Conn) Call(
	ctx context.Context,
	requestType string,
	args any,
	resultType *serializer.Type,
	timeout time.Duration,
) (any, error) {
	type outcome struct {
		result any
		err    error
	}

	// Buffered so the read loop never blocks on an abandoned call.
	responseChan := make(chan outcome, 1)

	requestID, err := c.Send(requestType, args, resultType, func(_ context.Context, result any, err error) {
		responseChan <- outcome{result: result, err: err}
	})
	if err != nil {
		return nil, err
	}

	if timeout <= 0 {
		timeout = c.callTimeout
	}

	var timeoutCh <-chan time.Time

	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()

		timeoutCh = timer.C
	}

	select {
	case o := <-responseChan:
		return o.result, o.err

	case <-c.done:
		// Connection stopped - fail fast
		c.registry.DropPending(requestID)

		if err := c.FatalError(); err != nil {
			return nil, fmt.Errorf("transport error: %w", err)
		}

		return nil, errors.ErrConnectionClosed

	case <-timeoutCh:
		c.registry.DropPending(requestID)
		c.log.Warn("Call timed out", "request_id", requestID, "timeout", timeout)

		return nil, fmt.Errorf("%w after %s", errors.ErrRequestTimeout, timeout)

	case <-ctx.Done():
		c.registry.DropPending(requestID)
		c.log.Debug("Call cancelled", "request_id", requestID)

		return nil, ctx.Err()
	}
}

// Serve runs the connection over ch and blocks until it stops.
//
// Serve starts the outgoing dispatcher and runs the blocking read loop.
// Incoming requests are handed to the executor, incoming responses resolve
// pending continuations. When ch reports closed, the cancellation signal is
// raised, queued messages are flushed and Serve returns nil. Transport
// failures are returned; cancelling ctx returns ctx.Err().
func (c *Conn) Serve(ctx context.Context, ch config.Channel) error {
	if err := c.begin(); err != nil {
		return err
	}

	c.registry.Freeze()
	c.log.Info("Connection started", "handlers", len(c.registry.Handlers()))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gCtx := errgroup.WithContext(runCtx)

	dispatchDone := make(chan struct{})

	g.Go(func() error {
		defer close(dispatchDone)
		defer c.queue.Close()

		return c.dispatcher.Run(gCtx, ch)
	})

	g.Go(func() error {
		// The channel closing is the cancellation signal for everyone else.
		defer cancel()

		return c.readLoop(gCtx, ch)
	})

	// Once cancellation is raised, wait for the dispatcher's final flush and
	// then close the channel. This also unblocks a read loop stuck in Read
	// when the dispatcher failed or the parent ctx was cancelled.
	channelClosed := make(chan struct{})

	context.AfterFunc(gCtx, func() {
		defer close(channelClosed)

		c.setState(StateClosing)
		<-dispatchDone

		if err := ch.Close(); err != nil {
			c.log.Debug("Channel close error", "error", err)
		}
	})

	err := g.Wait()
	<-channelClosed

	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}

	if err != nil && ctx.Err() == nil {
		c.log.Error("Connection failed", "error", err)
		c.setFatalError(err)
	}

	c.stop()
	c.log.Info("Connection stopped",
		"requests_received", c.requestsReceived.Load(),
		"requests_sent", c.requestsSent.Load(),
		"in_flight", c.executor.InFlight(),
	)

	return err
}

// readLoop pulls batches off ch until it reports closed.
func (c *Conn) readLoop(ctx context.Context, ch config.Channel) error {
	defer c.log.Debug("Read loop stopped")

	for ch.IsOpen() {
		batch, err := ch.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			if _, ok := stderrors.AsType[*errors.TransportError](err); ok {
				return err
			}

			return &errors.TransportError{Op: "read", Err: err}
		}

		for _, req := range batch.Requests {
			c.requestsReceived.Add(1)
			c.log.Debug("Request received", "request_id", req.ID, "request_type", req.Type)
			c.executor.Execute(ctx, req)
		}

		for _, resp := range batch.Responses {
			c.handleResponse(ctx, resp)
		}
	}

	c.log.Debug("Channel reported closed")

	return nil
}

// handleResponse claims the pending continuation for resp and runs it on the
// read loop goroutine. Responses without a continuation are ignored.
func (c *Conn) handleResponse(ctx context.Context, resp *message.Response) {
	c.responsesReceived.Add(1)

	pending, ok := c.registry.TakePending(resp.ID)
	if !ok {
		c.unmatchedResponses.Add(1)
		c.log.Debug("No pending continuation for response", "request_id", resp.ID)

		return
	}

	c.log.Debug("Response received", "request_id", resp.ID, "request_type", pending.RequestType)

	var (
		result any
		err    error
	)

	if resp.IsError() {
		err = &errors.RemoteError{RequestID: resp.ID, Message: resp.Error}
	} else {
		result, err = c.serializer.Deserialize(resp.Result, pending.ResultType)
	}

	defer func() {
		if r := recover(); r != nil {
			c.log.Error("Response continuation panicked", "request_id", resp.ID, "panic", r)
		}
	}()

	pending.OnComplete(ctx, result, err)
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	return c.state
}

// Stats returns a snapshot of the connection counters.
func (c *Conn) Stats() Stats {
	return Stats{
		State:              c.State(),
		InFlightHandlers:   c.executor.InFlight(),
		FailedRequests:     c.executor.Failed(),
		PendingResponses:   c.registry.PendingCount(),
		QueuedMessages:     c.queue.Len(),
		DroppedMessages:    c.queue.Dropped(),
		MessagesWritten:    c.dispatcher.Written(),
		RequestsSent:       c.requestsSent.Load(),
		RequestsReceived:   c.requestsReceived.Load(),
		ResponsesReceived:  c.responsesReceived.Load(),
		UnmatchedResponses: c.unmatchedResponses.Load(),
	}
}

// Handlers returns the registered handlers sorted by request type.
func (c *Conn) Handlers() []registry.Handler {
	return c.registry.Handlers()
}

// Done returns a channel that is closed when the connection stops.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// FatalError returns the transport error that stopped the connection, if any.
func (c *Conn) FatalError() error {
	c.errMu.RLock()
	defer c.errMu.RUnlock()

	return c.fatalErr
}

// WaitHandlers blocks until every spawned handler invocation has returned.
func (c *Conn) WaitHandlers() {
	c.executor.Wait()
}

// begin moves the connection into the running state.
func (c *Conn) begin() error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	switch c.state {
	case StateRunning, StateClosing:
		return errors.ErrAlreadyRunning
	case StateStopped:
		return errors.ErrConnectionClosed
	}

	c.state = StateRunning

	return nil
}

func (c *Conn) setState(s State) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if c.state < s {
		c.state = s
	}
}

// setFatalError stores the first fatal error.
func (c *Conn) setFatalError(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()

	if c.fatalErr == nil {
		c.fatalErr = err
	}
}

// stop marks the connection stopped and broadcasts via done exactly once.
func (c *Conn) stop() {
	c.setState(StateStopped)
	c.queue.Close()

	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// generateRequestID creates a unique request ID using ULID.
func (c *Conn) generateRequestID() string {
	return ulid.Make().String()
}
