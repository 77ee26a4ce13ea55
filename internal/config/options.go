package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/wagiedev/duplexrpc-go/internal/serializer"
)

const (
	// DefaultDrainTimeout bounds how long queued messages are flushed after
	// the input side closes.
	DefaultDrainTimeout = 1 * time.Second

	// CallTimeoutEnv names the environment variable consulted when no call
	// timeout is configured. The value is a whole number of seconds.
	CallTimeoutEnv = "DUPLEXRPC_CALL_TIMEOUT"
)

// Introspection configures the built-in describe handler.
type Introspection struct {
	// Name identifies this side of the connection.
	Name string

	// Version is reported alongside Name.
	Version string
}

// Options configures a connection.
type Options struct {
	// Logger is the slog logger for debug output.
	// If nil, logging is disabled (silent operation).
	Logger *slog.Logger

	// Serializer converts arguments and results to wire payloads.
	// If nil, a JSON serializer is used.
	Serializer serializer.Serializer

	// StrictSchemas validates incoming payloads against the JSON schema of
	// the declared type before decoding. Only applies to the default serializer.
	StrictSchemas bool

	// MaxConcurrentHandlers bounds concurrently running handler invocations.
	// Zero means unbounded.
	MaxConcurrentHandlers int64

	// RequestRate limits accepted incoming requests per second.
	// Zero means unlimited.
	RequestRate float64

	// RequestBurst is the limiter burst size. Defaults to 1 when RequestRate is set.
	RequestBurst int

	// CallTimeout is the default timeout for blocking calls.
	// If nil, falls back to DUPLEXRPC_CALL_TIMEOUT, then to no timeout.
	CallTimeout *time.Duration

	// DrainTimeout bounds the flush of queued messages at shutdown.
	// If nil, DefaultDrainTimeout is used. Zero disables the flush.
	DrainTimeout *time.Duration

	// MaxFrameSize bounds one incoming frame in bytes.
	// Zero uses the channel default.
	MaxFrameSize int

	// Introspection enables the built-in describe handler when set.
	Introspection *Introspection

	// Stderr is a callback for the stderr lines of a child process started
	// with ListenProcess.
	Stderr func(string)
}

// ResolveSerializer returns the configured serializer or the JSON default.
func (o *Options) ResolveSerializer() serializer.Serializer {
	if o.Serializer != nil {
		return o.Serializer
	}

	return &serializer.JSON{Strict: o.StrictSchemas}
}

// ResolveCallTimeout returns the call timeout from options, env var, or zero.
func (o *Options) ResolveCallTimeout() time.Duration {
	if o.CallTimeout != nil {
		return *o.CallTimeout
	}

	if timeoutStr := os.Getenv(CallTimeoutEnv); timeoutStr != "" {
		if timeoutSec, err := strconv.Atoi(timeoutStr); err == nil && timeoutSec > 0 {
			return time.Duration(timeoutSec) * time.Second
		}
	}

	return 0
}

// ResolveDrainTimeout returns the drain timeout from options or the default.
func (o *Options) ResolveDrainTimeout() time.Duration {
	if o.DrainTimeout != nil {
		return *o.DrainTimeout
	}

	return DefaultDrainTimeout
}

// ResolveLogger returns the configured logger or a discarding one.
func (o *Options) ResolveLogger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}

	return slog.New(slog.DiscardHandler)
}
