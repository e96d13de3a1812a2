// Package kit holds the small pieces shared by the linker's outer surfaces:
// the Endpoint shape the MCP tools are written against, and the request
// context keys the HTTP and MCP transports set.
package kit

import "context"

// Endpoint is a transport-agnostic operation on a decoded request.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint.
type Middleware func(next Endpoint) Endpoint

// Chain composes middlewares left-to-right: the first one is outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}
