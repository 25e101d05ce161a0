// Package kit is the small transport toolkit shared by the sync server's
// HTTP and MCP surfaces: the Endpoint abstraction, middleware chaining,
// and per-request context accessors.
package kit

import "context"

// Endpoint is a transport-agnostic operation: decoded request in,
// response out. HTTP handlers and MCP tools both terminate here.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint with cross-cutting behavior.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares; the first one given is the outermost.
func Chain(mws ...Middleware) Middleware {
	return func(ep Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			ep = mws[i](ep)
		}
		return ep
	}
}
