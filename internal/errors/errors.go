package errors

import (
	"errors"
	"fmt"
)

// RPCError is the base interface for all duplexrpc errors.
type RPCError interface {
	error
	IsRPCError() bool
}

// Compile-time verification that all error types implement RPCError.
var (
	_ RPCError = (*DuplicateHandlerError)(nil)
	_ RPCError = (*DeserializationError)(nil)
	_ RPCError = (*HandlerError)(nil)
	_ RPCError = (*RemoteError)(nil)
	_ RPCError = (*TransportError)(nil)
	_ RPCError = (*ProcessError)(nil)
	_ RPCError = (*MessageParseError)(nil)
	_ RPCError = (*WireDecodeError)(nil)
)

// Sentinel errors for commonly checked conditions.
var (
	// ErrConnectionClosed indicates the connection has stopped and cannot be reused.
	ErrConnectionClosed = errors.New("connection closed: connections are single-use, create a new one with New()")

	// ErrAlreadyRunning indicates Listen was called on a connection that is already running.
	ErrAlreadyRunning = errors.New("connection already running")

	// ErrRegistryFrozen indicates a handler was registered after the read loop started.
	ErrRegistryFrozen = errors.New("handler registry frozen: register handlers before Listen")

	// ErrInvalidHandler indicates a handler registration is missing its type or body.
	ErrInvalidHandler = errors.New("invalid handler")

	// ErrHandlerNotFound indicates no handler is registered for an incoming request type.
	ErrHandlerNotFound = errors.New("no handler registered")

	// ErrUnknownMessageKind indicates the message kind is not request or response.
	// Callers should skip these messages rather than treating them as fatal.
	ErrUnknownMessageKind = errors.New("unknown message kind")

	// ErrRateLimited indicates an incoming request was rejected by the rate limiter.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrRequestTimeout indicates a call timed out waiting for its response.
	ErrRequestTimeout = errors.New("request timeout")

	// ErrQueueClosed indicates the outgoing queue no longer accepts messages.
	ErrQueueClosed = errors.New("outgoing queue closed")

	// ErrStreamClosed indicates the stream was closed.
	ErrStreamClosed = errors.New("stream closed")
)

// DuplicateHandlerError indicates a second handler was registered for a request type.
type DuplicateHandlerError struct {
	RequestType string
}

func (e *DuplicateHandlerError) Error() string {
	return fmt.Sprintf("handler already registered for request type %q", e.RequestType)
}

// IsRPCError implements RPCError.
func (e *DuplicateHandlerError) IsRPCError() bool { return true }

// DeserializationError indicates a payload could not be converted to the expected type.
type DeserializationError struct {
	TargetType string
	Payload    string
	Err        error
}

func (e *DeserializationError) Error() string {
	return fmt.Sprintf("deserialize into %s: %v", e.TargetType, e.Err)
}

func (e *DeserializationError) Unwrap() error {
	return e.Err
}

// IsRPCError implements RPCError.
func (e *DeserializationError) IsRPCError() bool { return true }

// HandlerError indicates a request handler failed or panicked.
type HandlerError struct {
	RequestType string
	RequestID   string
	Panic       any
	Err         error
}

func (e *HandlerError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("handler %q panicked: %v", e.RequestType, e.Panic)
	}

	return fmt.Sprintf("handler %q failed: %v", e.RequestType, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// IsRPCError implements RPCError.
func (e *HandlerError) IsRPCError() bool { return true }

// RemoteError carries the error indicator of a response sent by the peer.
type RemoteError struct {
	RequestID string
	Message   string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error: %s", e.Message)
}

// IsRPCError implements RPCError.
func (e *RemoteError) IsRPCError() bool { return true }

// TransportError indicates the underlying stream failed. It is always fatal
// to the connection.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsRPCError implements RPCError.
func (e *TransportError) IsRPCError() bool { return true }

// ProcessError indicates a child process bound to the connection failed.
type ProcessError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ProcessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("peer process failed (exit %d): %v", e.ExitCode, e.Err)
	}

	return fmt.Sprintf("peer process failed (exit %d): %s", e.ExitCode, e.Stderr)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// IsRPCError implements RPCError.
func (e *ProcessError) IsRPCError() bool { return true }

// MessageParseError indicates a decoded wire message is not a valid request or response.
type MessageParseError struct {
	Message string
	Err     error
	Kind    string
}

func (e *MessageParseError) Error() string {
	return fmt.Sprintf("failed to parse message: %v", e.Err)
}

func (e *MessageParseError) Unwrap() error {
	return e.Err
}

// IsRPCError implements RPCError.
func (e *MessageParseError) IsRPCError() bool { return true }

// WireDecodeError indicates a frame read from the stream is not valid JSON.
// This error preserves the original raw data that failed to parse.
type WireDecodeError struct {
	RawData string
	Err     error
}

func (e *WireDecodeError) Error() string {
	return fmt.Sprintf("failed to decode JSON frame: %v", e.Err)
}

func (e *WireDecodeError) Unwrap() error {
	return e.Err
}

// IsRPCError implements RPCError.
func (e *WireDecodeError) IsRPCError() bool { return true }
