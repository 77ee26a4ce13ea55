package duplexrpc

import (
	"context"
	"time"

	"github.com/wagiedev/duplexrpc-go/internal/registry"
	"github.com/wagiedev/duplexrpc-go/internal/serializer"
)

// Send sends a request and returns its id without waiting. When the
// matching response arrives, onResponse is called with the result decoded
// into R, or with a *RemoteError if the peer answered with an error.
//
// onResponse runs on the connection's read goroutine and must not block;
// hand long work off to another goroutine. It is never called if the
// connection stops before the response arrives. A nil onResponse behaves
// like Notify.
func Send[R any](
	c *Conn,
	requestType string,
	args any,
	onResponse func(ctx context.Context, result R, err error),
) (string, error) {
	if onResponse == nil {
		return c.Notify(requestType, args)
	}

	var complete registry.CompleteFunc = func(ctx context.Context, result any, err error) {
		if err != nil {
			var zero R

			onResponse(ctx, zero, err)

			return
		}

		typed, err := serializer.As[R](result)
		onResponse(ctx, typed, err)
	}

	return c.conn.Send(requestType, args, serializer.TypeOf[R](), complete)
}

// Call sends a request and blocks until the response arrives, ctx is done,
// the configured call timeout expires, or the connection stops.
//
// An error response from the peer is returned as *RemoteError; a timeout
// wraps ErrRequestTimeout.
//
// Example:
//
//	greeting, err := duplexrpc.Call[string](ctx, conn, "greet", "world")
func Call[R any](ctx context.Context, c *Conn, requestType string, args any) (R, error) {
	return CallTimeout[R](ctx, c, requestType, args, 0)
}

// CallTimeout is Call with an explicit timeout. A zero timeout uses the
// configured call timeout.
func CallTimeout[R any](ctx context.Context, c *Conn, requestType string, args any, timeout time.Duration) (R, error) {
	var zero R

	result, err := c.conn.Call(ctx, requestType, args, serializer.TypeOf[R](), timeout)
	if err != nil {
		return zero, err
	}

	return serializer.As[R](result)
}
