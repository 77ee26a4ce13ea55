// Package channel frames duplexrpc messages over a duplex byte stream.
//
// The Stream type reads newline-delimited JSON frames from an io.Reader and
// writes one frame per message to an io.Writer. It is the transport used by
// a connection over stdin/stdout, a child process, or any pipe pair.
package channel
