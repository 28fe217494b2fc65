package middleware

import (
	"context"
	"encoding/json"
	"mini-jsonrpc/message"
	"testing"
	"time"

	"go.uber.org/zap"
)

// 模拟一个简单的 handler：直接返回成功响应
func echoHandler(ctx context.Context, req *message.Envelope) *message.Envelope {
	if !req.IsRequest() {
		return nil
	}
	return &message.Envelope{ID: req.ID, Result: json.RawMessage(`"ok"`)}
}

// 模拟一个慢 handler：睡 200ms
func slowHandler(ctx context.Context, req *message.Envelope) *message.Envelope {
	time.Sleep(200 * time.Millisecond)
	return echoHandler(ctx, req)
}

func request(id string) *message.Envelope {
	return &message.Envelope{ID: id, Method: "getWorkspace"}
}

func TestLogging(t *testing.T) {
	handler := LoggingMiddleware(zap.NewNop())(echoHandler)

	resp := handler(context.Background(), request("1"))
	if resp == nil {
		t.Fatal("expect non-nil response")
	}
	if string(resp.Result) != `"ok"` {
		t.Fatalf("expect result \"ok\", got '%s'", string(resp.Result))
	}
}

func TestTimeoutPass(t *testing.T) {
	// 超时 500ms，handler 很快，应该正常返回
	handler := TimeOutMiddleware(500 * time.Millisecond)(echoHandler)

	resp := handler(context.Background(), request("1"))
	if resp.Error != nil {
		t.Fatalf("expect no error, got '%v'", resp.Error)
	}
}

func TestTimeoutExceeded(t *testing.T) {
	// 超时 50ms，handler 需要 200ms，应该超时
	handler := TimeOutMiddleware(50 * time.Millisecond)(slowHandler)

	resp := handler(context.Background(), request("7"))
	if resp.Error == nil || resp.Error.Message != "request timed out" {
		t.Fatalf("expect timeout error, got '%v'", resp.Error)
	}
	if resp.Error.Code != message.CodeServerError || resp.ID != "7" {
		t.Fatalf("expect server error for id 7, got %+v", resp)
	}
}

func TestTimeoutNotificationGetsNoReply(t *testing.T) {
	handler := TimeOutMiddleware(50 * time.Millisecond)(slowHandler)

	if resp := handler(context.Background(), &message.Envelope{Method: "installer/statusChanged"}); resp != nil {
		t.Fatalf("expect no reply to a notification, got %+v", resp)
	}
}

func TestRateLimit(t *testing.T) {
	// rate=1 per second, burst=2 → 前 2 个立刻放行，第 3 个被拒
	handler := RateLimitMiddleware(1, 2)(echoHandler)

	for i := 0; i < 2; i++ {
		resp := handler(context.Background(), request("1"))
		if resp.Error != nil {
			t.Fatalf("request %d should pass, got error: %v", i, resp.Error)
		}
	}

	resp := handler(context.Background(), request("3"))
	if resp.Error == nil || resp.Error.Message != "rate limit exceeded" {
		t.Fatalf("request 3 should be rate limited, got: '%v'", resp.Error)
	}
}

func TestChain(t *testing.T) {
	// 用 Chain 组合 Logging + Timeout，验证请求能正常穿过
	chained := Chain(LoggingMiddleware(zap.NewNop()), TimeOutMiddleware(500*time.Millisecond))
	handler := chained(echoHandler)

	resp := handler(context.Background(), request("1"))
	if resp == nil {
		t.Fatal("expect non-nil response")
	}
	if resp.Error != nil {
		t.Fatalf("expect no error, got '%v'", resp.Error)
	}
}

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *message.Envelope) *message.Envelope {
				order = append(order, name)
				return next(ctx, req)
			}
		}
	}

	Chain(mark("a"), mark("b"), mark("c"))(echoHandler)(context.Background(), request("1"))
	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Fatalf("expect a, b, c, got %v", order)
	}
}
