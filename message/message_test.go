package message

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type workspaceRef struct {
	ID string `json:"id"`
}

func TestNewRequest(t *testing.T) {
	req, err := NewRequest("1", "getWorkspace", workspaceRef{ID: "ws1"})
	require.NoError(t, err)

	assert.Equal(t, KindRequest, req.Kind())
	assert.True(t, req.IsRequest())
	assert.JSONEq(t, `{"id":"ws1"}`, string(req.Params))
	assert.NoError(t, req.Validate())
}

func TestNewRequestParamsList(t *testing.T) {
	req, err := NewRequest("7", "sum", []int{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, `[1,2,3]`, string(req.Params))
}

func TestNewRequestRejectsEmptyFields(t *testing.T) {
	_, err := NewRequest("", "m", nil)
	assert.ErrorIs(t, err, ErrInvalidEnvelope)

	_, err = NewRequest("1", "", nil)
	assert.ErrorIs(t, err, ErrInvalidEnvelope)
}

func TestParamsKeepHTMLCharacters(t *testing.T) {
	n, err := NewNotification("installer/statusChanged", map[string]string{"error": "exit code <1> & more"})
	require.NoError(t, err)
	assert.Equal(t, `{"error":"exit code <1> & more"}`, string(n.Params))

	ok, err := NewResult("1", "a<b")
	require.NoError(t, err)
	assert.Equal(t, `"a<b"`, string(ok.Result))
}

func TestNewNotification(t *testing.T) {
	n, err := NewNotification("installer/statusChanged", nil)
	require.NoError(t, err)

	assert.Equal(t, KindNotification, n.Kind())
	assert.False(t, n.IsRequest())
	assert.Nil(t, n.Params)
}

func TestResponses(t *testing.T) {
	ok, err := NewResult("3", true)
	require.NoError(t, err)
	assert.Equal(t, KindResponse, ok.Kind())
	assert.Equal(t, json.RawMessage("true"), ok.Result)

	ack, err := NewResult("4", nil)
	require.NoError(t, err)
	assert.Nil(t, ack.Result)
	assert.NoError(t, ack.Validate())

	failed := NewErrorResponse("5", NewError(CodeMethodNotFound, "no route for %q", "x"))
	assert.NoError(t, failed.Validate())
	assert.Equal(t, `jsonrpc error -32601: no route for "x"`, failed.Error.Error())

	var asErr *Error
	assert.True(t, errors.As(error(failed.Error), &asErr))
}

func TestValidate(t *testing.T) {
	cases := map[string]*Envelope{
		"response without id":        {Result: json.RawMessage(`1`)},
		"result and error":           {ID: "1", Result: json.RawMessage(`1`), Error: &Error{Code: 1}},
		"request with result":        {ID: "1", Method: "m", Result: json.RawMessage(`1`)},
		"notification with an error": {Method: "m", Error: &Error{Code: 1}},
		"response with params":       {ID: "1", Params: json.RawMessage(`[]`)},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, env.Validate(), ErrInvalidEnvelope)
		})
	}
}
