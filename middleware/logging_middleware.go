package middleware

import (
	"context"
	"mini-jsonrpc/jsonrpc"
	"mini-jsonrpc/message"
	"time"

	"go.uber.org/zap"
)

func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Envelope) *message.Envelope {
			start := time.Now()
			resp := next(ctx, req)

			fields := []zap.Field{
				zap.String("method", req.Method),
				zap.Stringer("kind", req.Kind()),
				zap.Duration("duration", time.Since(start)),
			}
			if endpointID, ok := jsonrpc.EndpointFrom(ctx); ok {
				fields = append(fields, zap.String("endpoint", endpointID))
			}
			if req.ID != "" {
				fields = append(fields, zap.String("id", req.ID))
			}
			if resp != nil && resp.Error != nil {
				logger.Warn("request failed", append(fields, zap.Int("code", resp.Error.Code), zap.String("error", resp.Error.Message))...)
				return resp
			}
			logger.Info("request handled", fields...)
			return resp
		}
	}
}
