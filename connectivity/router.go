// Package connectivity dispatches named inbound actions to their handlers.
//
// Every surface that can trigger an action (the popup message bus, the HTTP
// API, the MCP tools) goes through one Router, so an action behaves the same
// whichever way it was invoked:
//
//	router := connectivity.New()
//	router.RegisterLocal("renameChat", handleRename)
//	resp, err := router.Call(ctx, "renameChat", payload)
//
// An action can be switched off at runtime with Disable; calls to it then
// succeed without doing anything.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
)

// Handler is a transport-agnostic action: JSON bytes in, JSON bytes out.
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// Router dispatches calls to registered handlers. Safe for concurrent use.
type Router struct {
	mu         sync.RWMutex
	handlers   map[string]Handler
	disabled   map[string]bool
	middleware HandlerMiddleware
	logger     *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets a custom logger for the router.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// WithMiddleware wraps every handler registered afterwards.
func WithMiddleware(mws ...HandlerMiddleware) Option {
	return func(r *Router) { r.middleware = Chain(mws...) }
}

// New creates an empty Router.
func New(opts ...Option) *Router {
	r := &Router{
		handlers: make(map[string]Handler),
		disabled: make(map[string]bool),
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// RegisterLocal registers the handler for an action, replacing any previous
// one.
func (r *Router) RegisterLocal(service string, h Handler) {
	if r.middleware != nil {
		h = r.middleware(h)
	}
	r.mu.Lock()
	r.handlers[service] = h
	r.mu.Unlock()
}

// Disable turns an action into a no-op until Enable is called.
func (r *Router) Disable(service string) {
	r.mu.Lock()
	r.disabled[service] = true
	r.mu.Unlock()
}

// Enable reverts Disable.
func (r *Router) Enable(service string) {
	r.mu.Lock()
	delete(r.disabled, service)
	r.mu.Unlock()
}

// Call dispatches one action. Disabled actions return nil, nil.
func (r *Router) Call(ctx context.Context, service string, payload []byte) ([]byte, error) {
	r.mu.RLock()
	h := r.handlers[service]
	off := r.disabled[service]
	r.mu.RUnlock()

	if off {
		r.logger.DebugContext(ctx, "routing noop", "service", service)
		return nil, nil
	}
	if h == nil {
		return nil, &ErrServiceNotFound{Service: service}
	}
	r.logger.DebugContext(ctx, "routing local", "service", service)
	return h(ctx, payload)
}
