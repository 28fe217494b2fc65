package middleware

import (
	"context"
	"mini-jsonrpc/message"
	"time"
)

// TimeOutMiddleware answers with an error when the handler takes longer than timeout.
// The handler's context is cancelled at that point; its late result is discarded.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Envelope) *message.Envelope {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.Envelope, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return reject(req, "request timed out")
			}
		}
	}
}
