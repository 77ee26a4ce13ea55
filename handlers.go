package duplexrpc

import (
	"context"

	"github.com/wagiedev/duplexrpc-go/internal/registry"
	"github.com/wagiedev/duplexrpc-go/internal/serializer"
)

// HandlerOption configures a handler registration.
type HandlerOption func(*registry.Handler)

// WithDescription attaches a human-readable description, reported by the
// describe handler.
func WithDescription(description string) HandlerOption {
	return func(h *registry.Handler) {
		h.Description = description
	}
}

// On registers fn for requestType. The request arguments are decoded into A
// and the returned R is sent back as the result.
//
// Every handler runs on its own goroutine; a slow handler never delays
// other requests. ctx is cancelled when the connection stops.
//
// Example:
//
//	duplexrpc.On(conn, "greet", func(ctx context.Context, name string) (string, error) {
//	    return "hello " + name, nil
//	})
func On[A, R any](c *Conn, requestType string, fn func(ctx context.Context, arg A) (R, error), opts ...HandlerOption) error {
	return c.Handle(newHandler(requestType, serializer.TypeOf[A](), serializer.TypeOf[R](),
		func(ctx context.Context, arg any) (any, error) {
			a, err := serializer.As[A](arg)
			if err != nil {
				return nil, err
			}

			return fn(ctx, a)
		}, opts))
}

// OnCall registers fn for requestType. The request carries no arguments.
func OnCall[R any](c *Conn, requestType string, fn func(ctx context.Context) (R, error), opts ...HandlerOption) error {
	return c.Handle(newHandler(requestType, nil, serializer.TypeOf[R](),
		func(ctx context.Context, _ any) (any, error) {
			return fn(ctx)
		}, opts))
}

// OnNotify registers fn for requestType. The response carries no result,
// only success or the error text.
func OnNotify[A any](c *Conn, requestType string, fn func(ctx context.Context, arg A) error, opts ...HandlerOption) error {
	return c.Handle(newHandler(requestType, serializer.TypeOf[A](), nil,
		func(ctx context.Context, arg any) (any, error) {
			a, err := serializer.As[A](arg)
			if err != nil {
				return nil, err
			}

			return nil, fn(ctx, a)
		}, opts))
}

// OnEvent registers fn for requestType. The request carries no arguments
// and the response no result.
func OnEvent(c *Conn, requestType string, fn func(ctx context.Context) error, opts ...HandlerOption) error {
	return c.Handle(newHandler(requestType, nil, nil,
		func(ctx context.Context, _ any) (any, error) {
			return nil, fn(ctx)
		}, opts))
}

func newHandler(
	requestType string,
	argType, resultType *serializer.Type,
	invoke registry.InvokeFunc,
	opts []HandlerOption,
) registry.Handler {
	h := registry.Handler{
		RequestType: requestType,
		ArgType:     argType,
		ResultType:  resultType,
		Invoke:      invoke,
	}

	for _, opt := range opts {
		opt(&h)
	}

	return h
}
