package duplexrpc

import (
	"context"

	"github.com/wagiedev/duplexrpc-go/internal/mcp"
)

// DescribeRequestType is the request type answered by a connection created
// with WithIntrospection.
const DescribeRequestType = mcp.DescribeRequestType

// Description is a peer's catalog. Every request type the peer serves is
// listed as an MCP tool carrying its argument and result JSON schemas.
type Description = mcp.Description

// Describe asks the peer for its catalog. The peer must have been created
// with WithIntrospection; otherwise the call fails with a *RemoteError.
func Describe(ctx context.Context, c *Conn) (*Description, error) {
	desc, err := Call[Description](ctx, c, DescribeRequestType, nil)
	if err != nil {
		return nil, err
	}

	return &desc, nil
}
