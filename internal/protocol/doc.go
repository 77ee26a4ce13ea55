// Package protocol implements the duplexrpc connection engine.
//
// The protocol package provides a Conn that binds one duplex Channel to a
// handler registry and runs the read/dispatch lifecycle:
//   - Sending requests with unique ULID request IDs
//   - Receiving and correlating responses to pending continuations
//   - Executing incoming requests on per-request goroutines
//   - Writing every outgoing message in FIFO order from a single dispatcher
//   - Cooperative shutdown when the channel reports closed
//
// Example usage:
//
//	conn, _ := protocol.New(&config.Options{Logger: log})
//	conn.Handle(registry.Handler{RequestType: "ping", ResultType: serializer.TypeOf[string](), Invoke: ping})
//
//	stream := channel.New(log, os.Stdin, os.Stdout, 0)
//	err := conn.Serve(ctx, stream)
package protocol
