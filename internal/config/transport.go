// Package config provides configuration types for duplexrpc.
package config

import (
	"context"

	"github.com/wagiedev/duplexrpc-go/internal/message"
)

// Channel owns the raw duplex stream on behalf of a connection.
// Implement this to run a connection over a custom framing or transport.
//
// The default implementation is channel.Stream, which frames
// newline-delimited JSON over an io.Reader/io.Writer pair.
type Channel interface {
	// IsOpen reports whether the peer/stream is still usable for reading.
	IsOpen() bool

	// Read blocks until one or more messages arrive and returns them as a
	// batch. It may return an empty batch without error. Read is only called
	// from the connection's read loop.
	Read(ctx context.Context) (message.Batch, error)

	// Write serializes and flushes one message. Failures are fatal to the
	// connection. Write is only called from the outgoing dispatcher.
	Write(ctx context.Context, msg message.Outgoing) error

	// Close releases the stream and unblocks a pending Read.
	// It's safe to call Close multiple times.
	Close() error
}
