// Package message defines the wire messages exchanged over a duplexrpc stream.
//
// Every frame is a JSON object tagged with a kind ("request" or "response").
// A frame holding a JSON array carries several messages at once.
package message
