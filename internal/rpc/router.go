package rpc

import (
	"context"
	"fmt"
	"sync"

	"norelock.dev/syncroom/backend/internal/utils"
)

// Router routes RPC requests to the appropriate handler.
type Router struct {
	// handlers is a map of method names to handler functions.
	handlers map[string]HandlerFunc

	// mutex is used to synchronize access to the handlers map.
	mutex sync.RWMutex

	// logger is the router's logger.
	logger *utils.Logger
}

// NewRouter creates a new router.
func NewRouter(logger *utils.Logger) *Router {
	return &Router{
		handlers: make(map[string]HandlerFunc),
		logger:   logger.Named("router"),
	}
}

// Register registers a handler for a method.
func (r *Router) Register(method string, handler HandlerFunc) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.handlers[method] = handler
	r.logger.Debug("Registered handler", "method", method)
}

// Wrap wraps the router with middleware.
func (r *Router) Wrap(mw MiddlewareFunc) HandlerRegistry {
	return HandlerRegWrapped{
		inner: r,
		mw:    mw,
	}
}

// Route dispatches a request to its handler. Notifications produce no
// response; for calls the returned response carries either the handler
// result or a translated error.
func (r *Router) Route(ctx context.Context, client *Client, request *Request) *Response {
	if request.JSONRPC != Version {
		return NewErrorResponse(request.ID, NewError(ErrInvalidRequest, "Invalid JSON-RPC version", nil))
	}
	if request.Method == "" {
		return NewErrorResponse(request.ID, NewError(ErrInvalidRequest, "Missing method", nil))
	}

	r.mutex.RLock()
	handler, ok := r.handlers[request.Method]
	r.mutex.RUnlock()

	if !ok {
		r.logger.Warn("Method not found", "method", request.Method)
		if request.IsNotification() {
			return nil
		}
		return NewErrorResponse(request.ID, NewMethodNotFoundError(request.Method))
	}

	rpcRequestsTotal.WithLabelValues(request.Method).Inc()
	result, err := handler(ctx, client, request.Params)

	// Notifications never produce a response, not even on error.
	if request.IsNotification() {
		if err != nil {
			r.logger.Warn("Notification handler failed", "method", request.Method, "error", fmt.Sprintf("%v", err))
		}
		return nil
	}

	if err != nil {
		return handleError(request.ID, err)
	}
	return NewResponse(request.ID, result)
}

// handleError converts an error to an appropriate error response. Engine
// errors translate through the taxonomy; anything else becomes an opaque
// internal error.
func handleError(id any, err error) *Response {
	return NewErrorResponse(id, FromEngineError(err))
}
