package duplexrpc

import (
	"context"
	"fmt"
)

// Serve runs a connection over stdin/stdout with automatic setup.
//
// This helper creates a connection with the provided options, calls setup to
// register handlers (and optionally start sending), and then listens on
// stdio until the peer closes its end. If setup returns an error, nothing is
// read or written and the error is returned.
//
// Example usage:
//
//	err := duplexrpc.Serve(ctx, func(c *duplexrpc.Conn) error {
//	    return duplexrpc.OnCall(c, "ping", func(ctx context.Context) (string, error) {
//	        return "pong", nil
//	    })
//	},
//	    duplexrpc.WithLogger(log),
//	    duplexrpc.WithIntrospection("ping-child", "1.0.0"),
//	)
func Serve(ctx context.Context, setup func(*Conn) error, opts ...Option) error {
	conn, err := prepare(ctx, setup, opts)
	if err != nil {
		return err
	}

	return conn.ListenStdio(ctx)
}

// prepare creates a connection and runs setup on it.
func prepare(ctx context.Context, setup func(*Conn) error, opts []Option) (*Conn, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	conn, err := New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create connection: %w", err)
	}

	if err := setup(conn); err != nil {
		return nil, fmt.Errorf("setup connection: %w", err)
	}

	return conn, nil
}
