package middleware

import (
	"context"
	"mini-jsonrpc/message"
)

// HandlerFunc handles one inbound request or notification. It returns the response to
// send back, or nil for a notification.
type HandlerFunc func(ctx context.Context, req *message.Envelope) *message.Envelope

type Middleware func(next HandlerFunc) HandlerFunc

// Chain combines middlewares into one. The first one runs outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// reject answers a request with a server error and drops a notification.
func reject(req *message.Envelope, msg string) *message.Envelope {
	if !req.IsRequest() {
		return nil
	}
	return message.NewErrorResponse(req.ID, message.NewError(message.CodeServerError, "%s", msg))
}
