package protocol

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/wagiedev/duplexrpc-go/internal/errors"
	"github.com/wagiedev/duplexrpc-go/internal/message"
	"github.com/wagiedev/duplexrpc-go/internal/registry"
	"github.com/wagiedev/duplexrpc-go/internal/serializer"
)

// ExecutorLimits configures optional admission control for incoming requests.
type ExecutorLimits struct {
	// MaxConcurrent bounds running handler invocations; zero is unbounded.
	MaxConcurrent int64

	// Rate is accepted requests per second; zero is unlimited.
	Rate float64

	// Burst is the limiter bucket size; defaults to 1 when Rate is set.
	Burst int
}

// Executor runs incoming requests against their registered handlers, each on
// its own goroutine, and enqueues the responses.
type Executor struct {
	log        *slog.Logger
	registry   *registry.Registry
	serializer serializer.Serializer
	queue      *Queue

	limiter *rate.Limiter
	sem     *semaphore.Weighted

	wg       sync.WaitGroup
	inFlight atomic.Int64
	failed   atomic.Int64
}

// NewExecutor creates an executor that resolves handlers in reg and pushes
// responses onto queue.
func NewExecutor(
	log *slog.Logger,
	reg *registry.Registry,
	ser serializer.Serializer,
	queue *Queue,
	limits ExecutorLimits,
) *Executor {
	e := &Executor{
		log:        log.With("component", "executor"),
		registry:   reg,
		serializer: ser,
		queue:      queue,
	}

	if limits.Rate > 0 {
		burst := limits.Burst
		if burst <= 0 {
			burst = 1
		}

		e.limiter = rate.NewLimiter(rate.Limit(limits.Rate), burst)
	}

	if limits.MaxConcurrent > 0 {
		e.sem = semaphore.NewWeighted(limits.MaxConcurrent)
	}

	return e
}

// Execute handles req asynchronously and returns immediately. A slow or
// stuck handler never delays other requests or the caller.
//
// ctx is the connection's cancellation signal; handlers may observe it.
func (e *Executor) Execute(ctx context.Context, req *message.Request) {
	e.inFlight.Add(1)

	e.wg.Go(func() {
		defer e.inFlight.Add(-1)

		resp := e.run(ctx, req)
		if resp == nil {
			return
		}

		if err := e.queue.Push(resp); err != nil {
			e.log.Debug("Dropping response after shutdown", "request_id", req.ID, "request_type", req.Type)
		}
	})
}

// InFlight returns the number of handler invocations not yet finished.
func (e *Executor) InFlight() int64 {
	return e.inFlight.Load()
}

// Failed returns the number of requests answered with an error response.
func (e *Executor) Failed() int64 {
	return e.failed.Load()
}

// Wait blocks until every spawned invocation has returned.
func (e *Executor) Wait() {
	e.wg.Wait()
}

// run produces the response for req, or nil when none should be sent.
func (e *Executor) run(ctx context.Context, req *message.Request) *message.Response {
	if e.limiter != nil && !e.limiter.Allow() {
		e.log.Warn("Rejecting request over rate limit", "request_id", req.ID, "request_type", req.Type)

		return e.errorResponse(req.ID, errors.ErrRateLimited.Error())
	}

	h, ok := e.registry.Resolve(req.Type)
	if !ok {
		e.log.Warn("No handler registered for request type", "request_type", req.Type)

		return e.errorResponse(req.ID, fmt.Sprintf("%s for request type %q", errors.ErrHandlerNotFound, req.Type))
	}

	if e.sem != nil {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			e.log.Debug("Connection closed while waiting for a handler slot", "request_id", req.ID)

			return nil
		}
		defer e.sem.Release(1)
	}

	arg, err := e.serializer.Deserialize(req.Args, h.ArgType)
	if err != nil {
		e.log.Warn("Failed to deserialize request arguments", "request_id", req.ID, "error", err)

		return e.errorResponse(req.ID, err.Error())
	}

	result, err := e.invoke(ctx, h, req, arg)
	if err != nil {
		e.log.Warn("Handler returned error", "request_id", req.ID, "error", err)

		// Send the handler's own message, not the wrapper's, unless it is empty.
		msg := err.Error()
		if handlerErr, ok := stderrors.AsType[*errors.HandlerError](err); ok && handlerErr.Err != nil {
			if inner := handlerErr.Err.Error(); inner != "" {
				msg = inner
			}
		}

		return e.errorResponse(req.ID, msg)
	}

	var payload json.RawMessage

	if h.ResultType != nil {
		payload, err = e.serializer.Serialize(result)
		if err != nil {
			e.log.Error("Failed to serialize handler result", "request_id", req.ID, "error", err)

			return e.errorResponse(req.ID, err.Error())
		}
	}

	e.log.Debug("Request handled", "request_id", req.ID, "request_type", req.Type)

	return &message.Response{ID: req.ID, Result: payload}
}

// invoke calls the handler body, converting errors and panics to *errors.HandlerError.
func (e *Executor) invoke(
	ctx context.Context,
	h registry.Handler,
	req *message.Request,
	arg any,
) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("Handler panicked", "request_id", req.ID, "request_type", req.Type, "panic", r)

			result = nil
			err = &errors.HandlerError{RequestType: req.Type, RequestID: req.ID, Panic: r}
		}
	}()

	result, err = h.Invoke(ctx, arg)
	if err != nil {
		return nil, &errors.HandlerError{RequestType: req.Type, RequestID: req.ID, Err: err}
	}

	return result, nil
}

// errorResponse builds a failed response. An empty message would read as
// success on the wire, so it is replaced.
func (e *Executor) errorResponse(requestID, msg string) *message.Response {
	e.failed.Add(1)

	if msg == "" {
		msg = "request failed"
	}

	return &message.Response{ID: requestID, Error: msg}
}
