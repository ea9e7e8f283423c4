package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type SampleResult struct {
	Value string
}

type responseTest struct {
	id       jsonrpcid
	expected string
}

var responseTests = []responseTest{
	{JSONRPCStringID("1"), `"1"`},
	{JSONRPCStringID("alphabet"), `"alphabet"`},
	{JSONRPCStringID(""), `""`},
	{JSONRPCStringID("àáâ"), `"àáâ"`},
	{JSONRPCIntID(-1), "-1"},
	{JSONRPCIntID(0), "0"},
	{JSONRPCIntID(1), "1"},
	{JSONRPCIntID(100), "100"},
}

func TestResponses(t *testing.T) {
	assert := assert.New(t)
	for _, tt := range responseTests {
		jsonid := tt.id
		a := NewRPCSuccessResponse(jsonid, &SampleResult{"hello"})
		b, err := json.Marshal(a)
		require.NoError(t, err)
		s := fmt.Sprintf(`{"jsonrpc":"2.0","id":%v,"result":{"Value":"hello"}}`, tt.expected)
		assert.Equal(s, string(b))

		d := RPCParseError(errors.New("hello world"))
		e, err := json.Marshal(d)
		require.NoError(t, err)
		f := `{"jsonrpc":"2.0","error":{"code":-32700,"message":"Parse error. Invalid JSON","data":"hello world"}}`
		assert.Equal(f, string(e))

		g := RPCMethodNotFoundError(jsonid)
		h, err := json.Marshal(g)
		require.NoError(t, err)
		i := fmt.Sprintf(`{"jsonrpc":"2.0","id":%v,"error":{"code":-32601,"message":"Method not found"}}`, tt.expected)
		assert.Equal(string(h), i)
	}
}

func TestUnmarshallResponses(t *testing.T) {
	assert := assert.New(t)
	for _, tt := range responseTests {
		response := &RPCResponse{}
		err := json.Unmarshal(
			fmt.Appendf(nil, `{"jsonrpc":"2.0","id":%v,"result":{"Value":"hello"}}`, tt.expected),
			response,
		)
		require.NoError(t, err)
		a := NewRPCSuccessResponse(tt.id, &SampleResult{"hello"})
		assert.Equal(*response, a)
	}
	response := &RPCResponse{}
	err := json.Unmarshal([]byte(`{"jsonrpc":"2.0","id":true,"result":{"Value":"hello"}}`), response)
	require.Error(t, err)
}

func TestRPCError(t *testing.T) {
	testCases := []struct {
		name     string
		err      *RPCError
		expected string
	}{
		{
			name: "With data",
			err: &RPCError{
				Code:    12,
				Message: "Badness",
				Data:    "One worse than a code 11",
			},
			expected: "RPC error 12 - Badness: One worse than a code 11",
		},
		{
			name: "Without data",
			err: &RPCError{
				Code:    12,
				Message: "Badness",
			},
			expected: "RPC error 12 - Badness",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.err.Error())
		})
	}
}

func TestArrayToRequest(t *testing.T) {
	req, err := ArrayToRequest(JSONRPCIntID(7), "chain_getBlockHash", []any{100})
	require.NoError(t, err)
	b, err := json.Marshal(req)
	require.NoError(t, err)
	assert.Equal(t, `{"jsonrpc":"2.0","id":7,"method":"chain_getBlockHash","params":[100]}`, string(b))

	req, err = ArrayToRequest(JSONRPCIntID(8), "system_health", nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(req.Params))
}

func TestRPCErrorObjectData(t *testing.T) {
	var e RPCError
	require.NoError(t, json.Unmarshal([]byte(`{"code":4003,"message":"Client error","data":{"reason":"x"}}`), &e))
	assert.Equal(t, `{"reason":"x"}`, e.Data)
	assert.Equal(t, `RPC error 4003 - Client error: {"reason":"x"}`, e.Error())
}

func TestParseMessage(t *testing.T) {
	resp, notif, err := ParseMessage([]byte(`{"jsonrpc":"2.0","id":3,"result":"0xab"}`))
	require.NoError(t, err)
	require.Nil(t, notif)
	assert.Equal(t, JSONRPCIntID(3), resp.ID)
	assert.Equal(t, `"0xab"`, string(resp.Result))

	resp, notif, err = ParseMessage([]byte(
		`{"jsonrpc":"2.0","method":"chain_newHead","params":{"subscription":"abc","result":{"number":"0x1"}}}`))
	require.NoError(t, err)
	require.Nil(t, resp)
	assert.Equal(t, "chain_newHead", notif.Method)
	assert.Equal(t, "abc", notif.Params.SubscriptionID())

	_, notif, err = ParseMessage([]byte(
		`{"jsonrpc":"2.0","method":"chain_newHead","params":{"subscription":42,"result":{}}}`))
	require.NoError(t, err)
	assert.Equal(t, "42", notif.Params.SubscriptionID())

	_, _, err = ParseMessage([]byte(`{"jsonrpc":"2.0"}`))
	assert.ErrorIs(t, err, ErrNotMessage)
}
