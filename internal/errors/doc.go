// Package errors defines error types for duplexrpc.
//
// This package provides structured error types that separate configuration,
// protocol, handler, and transport failures. All error types support error
// unwrapping and can be checked using errors.Is, errors.As, and errors.AsType.
package errors
