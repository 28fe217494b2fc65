package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mini-jsonrpc/message"
	"sync"

	"go.uber.org/zap"
)

// Route defines a named operation and its handler.
type Route struct {
	// Method is the operation name matched against Envelope.Method.
	Method string

	// DecoderFunc decodes raw params into the value passed to HandlerFunc, so a route
	// defines a type safe pair of decoder and handler. A nil DecoderFunc passes the raw
	// params through unchanged.
	DecoderFunc func(params json.RawMessage) (any, error)

	// HandlerFunc performs the operation. Its result becomes the response result; a
	// *message.Error keeps its code, any other error is reported as a server error.
	// Results of notifications are discarded.
	HandlerFunc func(ctx context.Context, params any) (any, error)
}

// RoutesGroup is a named group of routes, e.g. "WorkspaceRoutes".
type RoutesGroup struct {
	Name  string
	Items []Route
}

// DecodeParams returns a DecoderFunc that unmarshals params into a T.
func DecodeParams[T any]() func(json.RawMessage) (any, error) {
	return func(params json.RawMessage) (any, error) {
		var v T
		if len(params) == 0 {
			return v, nil
		}
		if err := json.Unmarshal(params, &v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

// Router maps method names to routes.
type Router struct {
	mutex  sync.RWMutex
	routes map[string]Route
}

func NewRouter() *Router {
	return &Router{routes: make(map[string]Route)}
}

func (r *Router) Register(route Route) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.routes[route.Method] = route
}

func (r *Router) RegisterGroup(group RoutesGroup) {
	for _, route := range group.Items {
		r.Register(route)
	}
}

func (r *Router) RegisterGroups(groups []RoutesGroup) {
	for _, group := range groups {
		r.RegisterGroup(group)
	}
}

func (r *Router) Lookup(method string) (Route, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	route, ok := r.routes[method]
	return route, ok
}

// Handle runs the route for req. It returns the response for a request and nil for a
// notification.
func (r *Router) Handle(ctx context.Context, req *message.Envelope) *message.Envelope {
	resp := r.handle(ctx, req)
	if !req.IsRequest() {
		return nil
	}
	return resp
}

func (r *Router) handle(ctx context.Context, req *message.Envelope) *message.Envelope {
	route, ok := r.Lookup(req.Method)
	if !ok {
		return message.NewErrorResponse(req.ID, message.NewError(message.CodeMethodNotFound, "method not found: %s", req.Method))
	}

	var params any = req.Params
	if route.DecoderFunc != nil {
		decoded, err := route.DecoderFunc(req.Params)
		if err != nil {
			return message.NewErrorResponse(req.ID, message.NewError(message.CodeInvalidParams, "invalid params for %s: %v", req.Method, err))
		}
		params = decoded
	}

	result, err := route.HandlerFunc(ctx, params)
	if err != nil {
		var rpcErr *message.Error
		if errors.As(err, &rpcErr) {
			return message.NewErrorResponse(req.ID, rpcErr)
		}
		return message.NewErrorResponse(req.ID, message.NewError(message.CodeServerError, "%v", err))
	}

	resp, err := message.NewResult(req.ID, result)
	if err != nil {
		return message.NewErrorResponse(req.ID, message.NewError(message.CodeInternalError, "%v", err))
	}
	return resp
}

type endpointKey struct{}

// WithEndpoint records the calling endpoint in ctx for route handlers.
func WithEndpoint(ctx context.Context, endpointID string) context.Context {
	return context.WithValue(ctx, endpointKey{}, endpointID)
}

// EndpointFrom returns the calling endpoint recorded by WithEndpoint.
func EndpointFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(endpointKey{}).(string)
	return id, ok
}

// LogRoutes prints the registered routes by group.
func LogRoutes(logger *zap.Logger, groups []RoutesGroup) {
	for _, group := range groups {
		methods := make([]string, 0, len(group.Items))
		for _, route := range group.Items {
			methods = append(methods, route.Method)
		}
		logger.Info(fmt.Sprintf("registered %s", group.Name), zap.Strings("methods", methods))
	}
}
