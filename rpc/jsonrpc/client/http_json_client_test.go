package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	types "github.com/chainmon/substrate-exporter/rpc/jsonrpc/types"
)

func TestJSONClientCall(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req types.RPCRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		var resp types.RPCResponse
		if req.Method == "system_chain" {
			resp = types.NewRPCSuccessResponse(req.ID, "Development")
		} else {
			resp = types.RPCMethodNotFoundError(req.ID)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer s.Close()

	c, err := NewHTTP(wsURL(s.URL))
	require.NoError(t, err)

	var chain string
	require.NoError(t, c.Call(context.Background(), "system_chain", nil, &chain))
	assert.Equal(t, "Development", chain)

	err = c.Call(context.Background(), "nope", nil, nil)
	var rpcErr *types.RPCError
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, -32601, rpcErr.Code)
}

func TestJSONClientInvalidAddress(t *testing.T) {
	_, err := NewHTTP("tcp://localhost:9944")
	var invalid ErrInvalidAddress
	assert.True(t, errors.As(err, &invalid))
}
