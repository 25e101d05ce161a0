// Package relay is the companion daemon's typed operation channel. Ops
// are dispatched either to in-process handlers (page state, settings)
// or forwarded to the sync server's HTTP API, and every caller gets the
// same success/data/error envelope regardless of where the op ran.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Handler is a transport-agnostic operation: bytes in, bytes out.
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// Response is the uniform envelope returned for every op.
type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// ErrOpNotFound is returned when an op has no local handler and no
// forwarder route.
type ErrOpNotFound struct {
	Op string
}

func (e *ErrOpNotFound) Error() string {
	return fmt.Sprintf("relay: op %q not routable", e.Op)
}

// Router dispatches ops. Local handlers win over forwarding, so a
// daemon can shadow a server op with an in-process implementation.
// Thread-safe.
type Router struct {
	mu      sync.RWMutex
	local   map[string]Handler
	forward *Forwarder
	logger  *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// WithForwarder routes unhandled ops to the sync server.
func WithForwarder(f *Forwarder) Option {
	return func(r *Router) { r.forward = f }
}

// New creates a Router with no ops registered.
func New(opts ...Option) *Router {
	r := &Router{
		local:  make(map[string]Handler),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// RegisterLocal registers an in-process handler for an op.
func (r *Router) RegisterLocal(op string, h Handler) {
	r.mu.Lock()
	r.local[op] = h
	r.mu.Unlock()
}

// Call dispatches an op and wraps the outcome in the envelope. Handler
// failures land in the envelope, not in an error return, so callers
// have one decode path.
func (r *Router) Call(ctx context.Context, op string, payload []byte) Response {
	r.mu.RLock()
	h := r.local[op]
	fwd := r.forward
	r.mu.RUnlock()

	switch {
	case h != nil:
		r.logger.DebugContext(ctx, "relay local", "op", op)
	case fwd != nil && fwd.routes(op):
		r.logger.DebugContext(ctx, "relay forward", "op", op)
		h = func(ctx context.Context, payload []byte) ([]byte, error) {
			return fwd.Handle(ctx, op, payload)
		}
	default:
		err := &ErrOpNotFound{Op: op}
		r.logger.Warn("relay op not routable", "op", op)
		return Response{Error: err.Error()}
	}

	data, err := h(ctx, payload)
	if err != nil {
		return Response{Error: err.Error()}
	}
	return Response{Success: true, Data: data}
}
