package duplexrpc

import "github.com/wagiedev/duplexrpc-go/internal/errors"

// Re-export error types from internal package

// RPCError is the base interface for all duplexrpc errors.
type RPCError = errors.RPCError

// DuplicateHandlerError indicates a request type was registered twice.
type DuplicateHandlerError = errors.DuplicateHandlerError

// DeserializationError indicates a payload did not match its declared type.
type DeserializationError = errors.DeserializationError

// HandlerError indicates a handler returned an error or panicked.
type HandlerError = errors.HandlerError

// RemoteError carries the failure message of an error response from the peer.
type RemoteError = errors.RemoteError

// TransportError indicates the underlying stream failed.
type TransportError = errors.TransportError

// ProcessError indicates a peer process exited abnormally.
type ProcessError = errors.ProcessError

// MessageParseError indicates a frame was not a valid request or response.
type MessageParseError = errors.MessageParseError

// WireDecodeError indicates a frame was not valid JSON.
type WireDecodeError = errors.WireDecodeError

// Re-export sentinel errors from internal package.
var (
	// ErrConnectionClosed indicates the connection stopped and cannot be reused.
	ErrConnectionClosed = errors.ErrConnectionClosed

	// ErrAlreadyRunning indicates Listen was called on a running connection.
	ErrAlreadyRunning = errors.ErrAlreadyRunning

	// ErrRegistryFrozen indicates a handler was registered after Listen.
	ErrRegistryFrozen = errors.ErrRegistryFrozen

	// ErrInvalidHandler indicates a handler registration was incomplete.
	ErrInvalidHandler = errors.ErrInvalidHandler

	// ErrHandlerNotFound indicates the peer sent an unregistered request type.
	ErrHandlerNotFound = errors.ErrHandlerNotFound

	// ErrRateLimited indicates a request was rejected by the rate limiter.
	ErrRateLimited = errors.ErrRateLimited

	// ErrRequestTimeout indicates a Call timed out.
	ErrRequestTimeout = errors.ErrRequestTimeout
)
