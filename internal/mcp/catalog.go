package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wagiedev/duplexrpc-go/internal/registry"
	"github.com/wagiedev/duplexrpc-go/internal/serializer"
)

// DescribeRequestType is the request type answered by the catalog.
const DescribeRequestType = "$/describe"

// Description is the result of a describe request.
type Description struct {
	Server *mcp.Implementation `json:"server"`
	Tools  []*mcp.Tool         `json:"tools"`
}

// Catalog lists the handlers of a registry as MCP tools.
type Catalog struct {
	info     *mcp.Implementation
	registry *registry.Registry
}

// NewCatalog creates a catalog over reg. name and version identify this side
// of the connection.
func NewCatalog(name, version string, reg *registry.Registry) *Catalog {
	return &Catalog{
		info: &mcp.Implementation{
			Name:    name,
			Version: version,
		},
		registry: reg,
	}
}

// Tools returns one tool per registered handler, sorted by request type.
func (c *Catalog) Tools() []*mcp.Tool {
	handlers := c.registry.Handlers()

	tools := make([]*mcp.Tool, 0, len(handlers))
	for _, h := range handlers {
		tool := &mcp.Tool{
			Name:        h.RequestType,
			Description: h.Description,
		}

		if h.ArgType != nil && h.ArgType.Schema() != nil {
			tool.InputSchema = h.ArgType.Schema()
		}

		if h.ResultType != nil && h.ResultType.Schema() != nil {
			tool.OutputSchema = h.ResultType.Schema()
		}

		tools = append(tools, tool)
	}

	return tools
}

// Describe builds the describe result.
func (c *Catalog) Describe() *Description {
	return &Description{
		Server: c.info,
		Tools:  c.Tools(),
	}
}

// Handler returns the registration answering DescribeRequestType.
func (c *Catalog) Handler() registry.Handler {
	return registry.Handler{
		RequestType: DescribeRequestType,
		Description: "Lists the request types served by this connection.",
		ResultType:  serializer.TypeOf[*Description](),
		Invoke: func(_ context.Context, _ any) (any, error) {
			return c.Describe(), nil
		},
	}
}
