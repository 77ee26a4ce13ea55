package duplexrpc

import (
	"github.com/wagiedev/duplexrpc-go/internal/config"
	"github.com/wagiedev/duplexrpc-go/internal/serializer"
)

// Channel defines the interface for the duplex stream under a connection.
// Implement this to run a connection over custom framing, for testing or
// for alternative transports.
//
// The default implementation frames newline-delimited JSON over an
// io.Reader/io.Writer pair; Listen, ListenStdio and ListenProcess use it.
type Channel = config.Channel

// Serializer converts typed values to and from wire payloads.
type Serializer = serializer.Serializer

// Type describes the Go type a payload deserializes into.
type Type = serializer.Type

// JSONSerializer is the default Serializer.
type JSONSerializer = serializer.JSON

// TypeOf returns the Type descriptor for T, including its JSON schema.
func TypeOf[T any]() *Type {
	return serializer.TypeOf[T]()
}
