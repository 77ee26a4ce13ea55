// Package mcp describes a connection's handlers as Model Context Protocol
// tool descriptors.
//
// When introspection is enabled, the connection answers the "$/describe"
// request with the server identity and one mcp.Tool per registered request
// type, carrying the JSON schemas of its argument and result types. Peers can
// use it to discover what a process serves.
package mcp
