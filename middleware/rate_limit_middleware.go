package middleware

import (
	"context"
	"mini-jsonrpc/message"

	"golang.org/x/time/rate"
)

// RateLimitMiddleware admits r requests per second with bursts of up to burst, using a
// token bucket shared by every caller.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Envelope) *message.Envelope {
			if !limiter.Allow() {
				return reject(req, "rate limit exceeded")
			}
			return next(ctx, req)
		}
	}
}
