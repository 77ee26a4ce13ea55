// Package registry holds the handler registrations and pending response
// continuations owned by one connection.
package registry
