package duplexrpc

import (
	"log/slog"
	"time"

	"github.com/wagiedev/duplexrpc-go/internal/config"
)

// Options configures a connection. Build it with functional options.
type Options = config.Options

// Option configures Options using the functional options pattern.
type Option func(*Options)

// applyOptions applies functional options to an Options struct.
func applyOptions(opts []Option) *Options {
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}

	return options
}

// ===== Basic Configuration =====

// WithLogger sets the logger for debug output.
// If not set, logging is disabled (silent operation).
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithSerializer replaces the JSON serializer used for arguments and results.
func WithSerializer(s Serializer) Option {
	return func(o *Options) {
		o.Serializer = s
	}
}

// WithStrictSchemas validates incoming payloads against the JSON schema of
// the handler's argument type (or the caller's result type) before decoding.
func WithStrictSchemas() Option {
	return func(o *Options) {
		o.StrictSchemas = true
	}
}

// ===== Admission Control =====

// WithMaxConcurrentHandlers bounds how many handler invocations run at once.
// Excess requests wait for a slot; the read loop is never blocked.
func WithMaxConcurrentHandlers(n int64) Option {
	return func(o *Options) {
		o.MaxConcurrentHandlers = n
	}
}

// WithRequestRate limits accepted incoming requests to perSecond, allowing
// bursts of up to burst. Requests over the limit get an error response.
func WithRequestRate(perSecond float64, burst int) Option {
	return func(o *Options) {
		o.RequestRate = perSecond
		o.RequestBurst = burst
	}
}

// ===== Timeouts =====

// WithCallTimeout sets the default timeout for Call.
// If not set, DUPLEXRPC_CALL_TIMEOUT (seconds) is consulted.
func WithCallTimeout(timeout time.Duration) Option {
	return func(o *Options) {
		o.CallTimeout = &timeout
	}
}

// WithDrainTimeout bounds how long queued messages are flushed at shutdown.
// Zero disables the flush.
func WithDrainTimeout(timeout time.Duration) Option {
	return func(o *Options) {
		o.DrainTimeout = &timeout
	}
}

// ===== Transport =====

// WithMaxFrameSize bounds the size of one incoming frame in bytes.
func WithMaxFrameSize(size int) Option {
	return func(o *Options) {
		o.MaxFrameSize = size
	}
}

// WithStderr sets a callback for the stderr lines of a peer process
// started by ListenProcess.
func WithStderr(handler func(string)) Option {
	return func(o *Options) {
		o.Stderr = handler
	}
}

// ===== Introspection =====

// WithIntrospection registers the built-in "$/describe" handler, which
// reports name, version and every registered request type.
func WithIntrospection(name, version string) Option {
	return func(o *Options) {
		o.Introspection = &config.Introspection{Name: name, Version: version}
	}
}
