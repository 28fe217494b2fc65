package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"mini-jsonrpc/message"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type lookupParams struct {
	ID string `json:"id"`
}

func workspaceRoutes(seen *[]string) RoutesGroup {
	return RoutesGroup{
		Name: "WorkspaceRoutes",
		Items: []Route{
			{
				Method:      "getWorkspace",
				DecoderFunc: DecodeParams[lookupParams](),
				HandlerFunc: func(ctx context.Context, params any) (any, error) {
					p := params.(lookupParams)
					if p.ID == "missing" {
						return nil, message.NewError(404, "workspace %s not found", p.ID)
					}
					return workspace{ID: p.ID, Status: "RUNNING"}, nil
				},
			},
			{
				Method: "touch",
				HandlerFunc: func(ctx context.Context, params any) (any, error) {
					endpoint, _ := EndpointFrom(ctx)
					*seen = append(*seen, endpoint)
					return nil, nil
				},
			},
			{
				Method: "explode",
				HandlerFunc: func(ctx context.Context, params any) (any, error) {
					return nil, errors.New("kaboom")
				},
			},
		},
	}
}

func request(id, method, params string) *message.Envelope {
	env := &message.Envelope{ID: id, Method: method}
	if params != "" {
		env.Params = json.RawMessage(params)
	}
	return env
}

func TestRouterHandle(t *testing.T) {
	var seen []string
	r := NewRouter()
	r.RegisterGroups([]RoutesGroup{workspaceRoutes(&seen)})
	LogRoutes(zap.NewNop(), []RoutesGroup{workspaceRoutes(&seen)})

	ctx := WithEndpoint(context.Background(), "ep-1")

	resp := r.Handle(ctx, request("1", "getWorkspace", `{"id":"ws1"}`))
	require.NotNil(t, resp)
	assert.Equal(t, "1", resp.ID)
	assert.JSONEq(t, `{"id":"ws1","status":"RUNNING"}`, string(resp.Result))

	resp = r.Handle(ctx, request("2", "getWorkspace", `{"id":"missing"}`))
	require.NotNil(t, resp.Error)
	assert.Equal(t, 404, resp.Error.Code)

	resp = r.Handle(ctx, request("3", "getWorkspace", `[1,2]`))
	require.NotNil(t, resp.Error)
	assert.Equal(t, message.CodeInvalidParams, resp.Error.Code)

	resp = r.Handle(ctx, request("4", "unknown", ""))
	require.NotNil(t, resp.Error)
	assert.Equal(t, message.CodeMethodNotFound, resp.Error.Code)

	resp = r.Handle(ctx, request("5", "explode", ""))
	require.NotNil(t, resp.Error)
	assert.Equal(t, message.CodeServerError, resp.Error.Code)
	assert.Equal(t, "kaboom", resp.Error.Message)

	resp = r.Handle(ctx, request("6", "touch", ""))
	require.NotNil(t, resp)
	assert.Nil(t, resp.Result)
	assert.Nil(t, resp.Error)
	assert.Equal(t, []string{"ep-1"}, seen)
}

func TestRouterNotificationGetsNoResponse(t *testing.T) {
	var seen []string
	r := NewRouter()
	r.RegisterGroup(workspaceRoutes(&seen))

	ctx := WithEndpoint(context.Background(), "ep-9")
	assert.Nil(t, r.Handle(ctx, request("", "touch", "")))
	assert.Nil(t, r.Handle(ctx, request("", "unknown", "")))
	assert.Equal(t, []string{"ep-9"}, seen)
}

func TestRouterLookup(t *testing.T) {
	r := NewRouter()
	_, ok := r.Lookup("getWorkspace")
	assert.False(t, ok)

	var seen []string
	r.RegisterGroup(workspaceRoutes(&seen))
	route, ok := r.Lookup("getWorkspace")
	assert.True(t, ok)
	assert.Equal(t, "getWorkspace", route.Method)
}
