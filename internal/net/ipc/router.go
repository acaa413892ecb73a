package ipc

import (
	"context"
	"fmt"
)

// MethodRequestHandler handles a method request that produces a response.
// A returned *ApplicationError travels back to the caller as a domain error;
// any other error is reported as a protocol-level failure.
type MethodRequestHandler interface {
	HandleMethodRequest(ctx context.Context, payload []byte) ([]byte, error)
}

// FireForgetHandler handles a method request with no response expected.
type FireForgetHandler interface {
	HandleMethodRequestNoReturn(ctx context.Context, payload []byte)
}

// MethodRequestHandlerFunc adapts a function to MethodRequestHandler.
type MethodRequestHandlerFunc func(ctx context.Context, payload []byte) ([]byte, error)

func (f MethodRequestHandlerFunc) HandleMethodRequest(ctx context.Context, payload []byte) ([]byte, error) {
	return f(ctx, payload)
}

// FireForgetHandlerFunc adapts a function to FireForgetHandler.
type FireForgetHandlerFunc func(ctx context.Context, payload []byte)

func (f FireForgetHandlerFunc) HandleMethodRequestNoReturn(ctx context.Context, payload []byte) {
	f(ctx, payload)
}

// DispatchResult reports whether a dispatch found a handler.
type DispatchResult int

const (
	Handled DispatchResult = iota
	NoHandler
)

// MethodRouter maps method ids to their registered handlers.
//
// The router itself is not synchronized: registration and deregistration
// happen during the single-threaded offer lifecycle phases, and dispatch runs
// on the one goroutine servicing the connection. Those are preconditions, not
// properties the router enforces.
type MethodRouter struct {
	handlers map[MethodID]MethodRequestHandler
	oneway   map[MethodID]FireForgetHandler
	names    map[MethodID]string
}

func NewMethodRouter() *MethodRouter {
	return &MethodRouter{
		handlers: make(map[MethodID]MethodRequestHandler),
		oneway:   make(map[MethodID]FireForgetHandler),
		names:    make(map[MethodID]string),
	}
}

// Register installs the handler for id. Registering an id that already has a
// handler is a programming error and panics; Deregister first.
func (r *MethodRouter) Register(id MethodID, name string, h MethodRequestHandler) {
	if _, ok := r.handlers[id]; ok {
		panic(fmt.Sprintf("method %d (%s) registered more than once", id, name))
	}
	r.handlers[id] = h
	r.names[id] = name
}

// RegisterFireForget installs the fire-and-forget handler for id. Duplicate
// registration panics, same as Register.
func (r *MethodRouter) RegisterFireForget(id MethodID, name string, h FireForgetHandler) {
	if _, ok := r.oneway[id]; ok {
		panic(fmt.Sprintf("fire-and-forget method %d (%s) registered more than once", id, name))
	}
	r.oneway[id] = h
	r.names[id] = name
}

// Deregister removes the handler for id, if any.
func (r *MethodRouter) Deregister(id MethodID) {
	delete(r.handlers, id)
	delete(r.names, id)
}

// DeregisterFireForget removes the fire-and-forget handler for id, if any.
func (r *MethodRouter) DeregisterFireForget(id MethodID) {
	delete(r.oneway, id)
	delete(r.names, id)
}

// Name returns the registered display name for id, for logging.
func (r *MethodRouter) Name(id MethodID) string {
	if n := r.names[id]; n != "" {
		return n
	}
	return fmt.Sprintf("method-%d", id)
}

// Dispatch routes a request to its handler. On NoHandler the caller is
// expected to send an unknown-method error response, not to drop silently.
func (r *MethodRouter) Dispatch(ctx context.Context, id MethodID, payload []byte) ([]byte, DispatchResult, error) {
	h, ok := r.handlers[id]
	if !ok {
		return nil, NoHandler, nil
	}
	res, err := h.HandleMethodRequest(ctx, payload)
	return res, Handled, err
}

// DispatchFireForget routes a fire-and-forget request to its handler.
func (r *MethodRouter) DispatchFireForget(ctx context.Context, id MethodID, payload []byte) DispatchResult {
	h, ok := r.oneway[id]
	if !ok {
		return NoHandler
	}
	h.HandleMethodRequestNoReturn(ctx, payload)
	return Handled
}
