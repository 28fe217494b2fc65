package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mini-jsonrpc/client"
	"mini-jsonrpc/codec"
	"mini-jsonrpc/dto"
	"mini-jsonrpc/jsonrpc"
	"mini-jsonrpc/loadbalance"
	"mini-jsonrpc/message"
	"mini-jsonrpc/middleware"
	"mini-jsonrpc/registry"
	"mini-jsonrpc/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const serverName = "workspace-master"

func workspaceRoutes() jsonrpc.RoutesGroup {
	return jsonrpc.RoutesGroup{
		Name: "Workspace routes",
		Items: []jsonrpc.Route{
			{
				Method:      "getWorkspace",
				DecoderFunc: jsonrpc.DecodeParams[dto.WorkspaceRef](),
				HandlerFunc: func(ctx context.Context, params any) (any, error) {
					ref := params.(dto.WorkspaceRef)
					if ref.ID == "" {
						return nil, message.NewError(message.CodeInvalidParams, "workspace id required")
					}
					return dto.Workspace{ID: ref.ID, Status: dto.WorkspaceRunning}, nil
				},
			},
			{
				Method: "whoami",
				HandlerFunc: func(ctx context.Context, _ any) (any, error) {
					id, _ := jsonrpc.EndpointFrom(ctx)
					return id, nil
				},
			},
		},
	}
}

// startServer serves TCP on a loopback port and registers it in reg.
func startServer(t *testing.T, reg registry.Registry, opts ...Option) *Server {
	t.Helper()
	srv := New(append([]Option{WithName(serverName), WithHeartbeat(0)}, opts...)...)
	srv.Register(workspaceRoutes())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	served := make(chan error, 1)
	go func() { served <- srv.ServeListener(ln, "", reg) }()

	require.Eventually(t, func() bool {
		_, err := reg.Discover(serverName)
		return err == nil
	}, time.Second, 5*time.Millisecond)

	t.Cleanup(func() {
		srv.Shutdown(time.Second)
		assert.NoError(t, <-served)
	})
	return srv
}

// connect builds a client that reaches endpoints through reg.
func connect(t *testing.T, reg registry.Registry, dial transport.DialFunc, ct codec.CodecType, opts ...client.Option) *client.Client {
	t.Helper()
	tr := transport.NewEndpointTransmitter(dial, reg, &loadbalance.RoundRobinBalancer{}, transport.WithHeartbeat(0))
	t.Cleanup(func() { tr.Close() })
	return client.New(tr, append([]client.Option{client.WithCodec(codec.GetCodec(ct))}, opts...)...)
}

func await[R any](t *testing.T, p *jsonrpc.Promise[R]) (R, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return p.Await(ctx)
}

func TestServerOverTCP(t *testing.T) {
	for _, ct := range []codec.CodecType{codec.CodecTypeJSON, codec.CodecTypeBinary, codec.CodecTypeMsgpack} {
		t.Run(ct.String(), func(t *testing.T) {
			reg := registry.NewStaticRegistry()
			startServer(t, reg, WithCodec(ct))
			c := connect(t, reg, transport.DialTCP(ct), ct)

			p, err := client.SendAndReceive[dto.Workspace](context.Background(),
				c.Request(serverName, "getWorkspace", dto.WorkspaceRef{ID: "ws1"}), jsonrpc.DTOOf[dto.Workspace]())
			require.NoError(t, err)
			ws, err := await(t, p)
			require.NoError(t, err)
			assert.Equal(t, dto.Workspace{ID: "ws1", Status: dto.WorkspaceRunning}, ws)

			missing, err := client.SendAndReceive[string](context.Background(), c.Request(serverName, "deleteWorkspace", nil), jsonrpc.String())
			require.NoError(t, err)
			_, err = await(t, missing)
			var remote *jsonrpc.RemoteError
			require.ErrorAs(t, err, &remote)
			assert.Equal(t, message.CodeMethodNotFound, remote.Code)

			bad, err := client.SendAndReceive[dto.Workspace](context.Background(),
				c.Request(serverName, "getWorkspace", dto.WorkspaceRef{}), jsonrpc.DTOOf[dto.Workspace]())
			require.NoError(t, err)
			_, err = await(t, bad)
			require.ErrorAs(t, err, &remote)
			assert.Equal(t, message.CodeInvalidParams, remote.Code)
		})
	}
}

func TestServerOverWebSocket(t *testing.T) {
	srv := New(WithName(serverName), WithHeartbeat(0))
	srv.Register(workspaceRoutes())
	hs := httptest.NewServer(srv)
	t.Cleanup(func() {
		srv.Shutdown(time.Second)
		hs.Close()
	})

	reg := registry.NewStaticRegistry()
	require.NoError(t, reg.Register(serverName, registry.Instance{Addr: "ws" + strings.TrimPrefix(hs.URL, "http")}, 0))
	c := connect(t, reg, transport.DialWebSocket(codec.CodecTypeJSON, "/"), codec.CodecTypeJSON)

	ws, err := client.Call[dto.Workspace](context.Background(),
		c.Request(serverName, "getWorkspace", dto.WorkspaceRef{ID: "ws9"}), jsonrpc.DTOOf[dto.Workspace]())
	require.NoError(t, err)
	assert.Equal(t, "ws9", ws.ID)

	// The server names each peer; handlers see that name.
	id, err := client.Call[string](context.Background(), c.Request(serverName, "whoami", nil), jsonrpc.String())
	require.NoError(t, err)
	assert.Equal(t, []string{id}, srv.Endpoints())
}

func TestServerCallsIntoPeers(t *testing.T) {
	reg := registry.NewStaticRegistry()
	srv := startServer(t, reg)

	peerRouter := jsonrpc.NewRouter()
	peerRouter.Register(jsonrpc.Route{
		Method: "getName",
		HandlerFunc: func(context.Context, any) (any, error) {
			return "exec-agent", nil
		},
	})
	peer := connect(t, reg, transport.DialTCP(codec.CodecTypeJSON), codec.CodecTypeJSON, client.WithRouter(peerRouter))
	events := make(chan string, 1)
	peer.Subscribe("installer/statusChanged", func(_ string, params []byte) {
		events <- string(params)
	})

	// The first call opens the connection, after which the server knows the peer.
	_, err := client.Call[string](context.Background(), peer.Request(serverName, "whoami", nil), jsonrpc.String())
	require.NoError(t, err)
	endpoints := srv.Endpoints()
	require.Len(t, endpoints, 1)

	caller := client.New(srv)
	name, err := client.Call[string](context.Background(), caller.Request(endpoints[0], "getName", nil), jsonrpc.String())
	require.NoError(t, err)
	assert.Equal(t, "exec-agent", name)

	event := dto.InstallerStatusEvent{}.WithEventType(dto.EventStarting).WithInstallerName("ws-agent")
	require.NoError(t, caller.Request(endpoints[0], "installer/statusChanged", event).SendAndSkipResult(context.Background()))
	select {
	case got := <-events:
		assert.JSONEq(t, `{"eventType":"STARTING","installerName":"ws-agent"}`, got)
	case <-time.After(2 * time.Second):
		t.Fatal("notification not delivered")
	}

	err = caller.Request("nobody", "installer/statusChanged", event).SendAndSkipResult(context.Background())
	assert.ErrorIs(t, err, transport.ErrUnknownEndpoint)
}

func TestServerMiddleware(t *testing.T) {
	var seen atomic.Int32
	counting := func(next middleware.HandlerFunc) middleware.HandlerFunc {
		return func(ctx context.Context, req *message.Envelope) *message.Envelope {
			seen.Add(1)
			return next(ctx, req)
		}
	}

	reg := registry.NewStaticRegistry()
	srv := New(WithName(serverName), WithHeartbeat(0))
	srv.Register(workspaceRoutes())
	srv.Use(counting)
	srv.Use(middleware.RateLimitMiddleware(0.001, 1))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.ServeListener(ln, "", reg)
	t.Cleanup(func() { srv.Shutdown(time.Second) })
	require.Eventually(t, func() bool {
		_, err := reg.Discover(serverName)
		return err == nil
	}, time.Second, 5*time.Millisecond)

	c := connect(t, reg, transport.DialTCP(codec.CodecTypeJSON), codec.CodecTypeJSON)
	_, err = client.Call[string](context.Background(), c.Request(serverName, "whoami", nil), jsonrpc.String())
	require.NoError(t, err)

	_, err = client.Call[string](context.Background(), c.Request(serverName, "whoami", nil), jsonrpc.String())
	var remote *jsonrpc.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "rate limit exceeded", remote.Message)
	assert.Equal(t, int32(2), seen.Load())
}

func TestShutdown(t *testing.T) {
	reg := registry.NewStaticRegistry()
	srv := New(WithName(serverName), WithHeartbeat(0))
	srv.Register(jsonrpc.RoutesGroup{Name: "slow", Items: []jsonrpc.Route{{
		Method: "sleep",
		HandlerFunc: func(context.Context, any) (any, error) {
			time.Sleep(100 * time.Millisecond)
			return true, nil
		},
	}}})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	served := make(chan error, 1)
	go func() { served <- srv.ServeListener(ln, "", reg) }()
	require.Eventually(t, func() bool {
		_, err := reg.Discover(serverName)
		return err == nil
	}, time.Second, 5*time.Millisecond)

	c := connect(t, reg, transport.DialTCP(codec.CodecTypeJSON), codec.CodecTypeJSON)
	p, err := client.SendAndReceive[bool](context.Background(), c.Request(serverName, "sleep", nil), jsonrpc.Boolean())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(srv.Endpoints()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	// In-flight requests finish before the sessions close.
	require.NoError(t, srv.Shutdown(time.Second))
	ok, err := await(t, p)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.NoError(t, <-served)
	_, err = reg.Discover(serverName)
	assert.ErrorIs(t, err, registry.ErrNotFound)
	assert.Empty(t, srv.Endpoints())
	assert.True(t, errors.Is(srv.ServeListener(ln, "", nil), transport.ErrClosed))
}

func TestShutdownRefusesNewRequests(t *testing.T) {
	srv := New(WithHeartbeat(0))
	srv.Register(workspaceRoutes())
	local, remote := net.Pipe()
	t.Cleanup(func() { remote.Close() })
	id := srv.attach(transport.NewFramedConn(local, codec.CodecTypeJSON))
	peer := transport.NewFramedConn(remote, codec.CodecTypeJSON)

	srv.shutdown.Store(true)
	srv.handleMessage(id, []byte(`{"method":"installer/statusChanged","params":{}}`))
	go srv.handleMessage(id, []byte(`{"id":"1","method":"whoami"}`))

	data, err := peer.ReadMessage()
	require.NoError(t, err)
	resp, err := codec.GetCodec(codec.CodecTypeJSON).Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "1", resp.ID)
	require.NotNil(t, resp.Error)
	assert.Equal(t, message.CodeServerError, resp.Error.Code)
	assert.Equal(t, "server is shutting down", resp.Error.Message)
}

func TestShutdownWhileRequestsArrive(t *testing.T) {
	srv := New(WithHeartbeat(0))
	srv.Register(workspaceRoutes())
	local, remote := net.Pipe()
	t.Cleanup(func() { remote.Close() })
	id := srv.attach(transport.NewFramedConn(local, codec.CodecTypeJSON))
	peer := transport.NewFramedConn(remote, codec.CodecTypeJSON)
	go func() {
		for {
			if _, err := peer.ReadMessage(); err != nil {
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			srv.handleMessage(id, []byte(fmt.Sprintf(`{"id":"%d","method":"whoami"}`, i)))
		}()
	}
	assert.NoError(t, srv.Shutdown(time.Second))
	wg.Wait()
	require.Eventually(t, func() bool { return len(srv.Endpoints()) == 0 }, time.Second, 5*time.Millisecond)
}
