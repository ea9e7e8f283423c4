package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	types "github.com/chainmon/substrate-exporter/rpc/jsonrpc/types"
)

// HTTPClient is a one-shot JSON-RPC caller.
type HTTPClient interface {
	Call(ctx context.Context, method string, params []any, result any) error
}

// JSONClient is a JSON-RPC client, which sends POST HTTP requests with a JSON
// body to the remote server. Websocket addresses are mapped to their HTTP
// equivalents, as Substrate nodes serve both on the same port.
//
// JSONClient is safe for concurrent use by multiple goroutines.
type JSONClient struct {
	address string
	client  *http.Client
	nextID  atomic.Int64
}

var _ HTTPClient = (*JSONClient)(nil)

// NewHTTP returns a new client for remote.
// An error is returned on invalid remote.
func NewHTTP(remote string) (*JSONClient, error) {
	u, err := url.Parse(remote)
	if err != nil {
		return nil, ErrInvalidAddress{Addr: remote, Source: err}
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return nil, ErrInvalidAddress{Addr: remote, Source: fmt.Errorf("unsupported scheme %q", u.Scheme)}
	}
	return &JSONClient{
		address: u.String(),
		client:  DefaultHTTPClient(),
	}, nil
}

// DefaultHTTPClient returns the http.Client used by JSONClient.
func DefaultHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DisableCompression:  true,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// Call issues a POST HTTP request. Requests are made with the context.
func (c *JSONClient) Call(ctx context.Context, method string, params []any, result any) error {
	id := types.JSONRPCIntID(c.nextID.Add(1))
	request, err := types.ArrayToRequest(id, method, params)
	if err != nil {
		return ErrEncodingParams{Source: err}
	}
	requestBytes, err := json.Marshal(request)
	if err != nil {
		return ErrMarshalRequest{Source: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.address, bytes.NewReader(requestBytes))
	if err != nil {
		return ErrCreateRequest{Source: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return ErrFailedRequest{Source: err}
	}
	defer resp.Body.Close()

	responseBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return ErrReadResponse{Source: err}
	}
	return unmarshalResponseBytes(responseBytes, id, result)
}

func unmarshalResponseBytes(responseBytes []byte, expectedID types.JSONRPCIntID, result any) error {
	response := &types.RPCResponse{}
	if err := json.Unmarshal(responseBytes, response); err != nil {
		return ErrUnmarshalResponse{Source: err, Description: truncate(responseBytes)}
	}
	if response.Error != nil {
		return response.Error
	}
	if id, ok := response.ID.(types.JSONRPCIntID); !ok || id != expectedID {
		return ErrUnmarshalResponse{
			Source:      fmt.Errorf("response id %v does not match request id %v", response.ID, expectedID),
			Description: "id mismatch",
		}
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(response.Result, result); err != nil {
		return ErrUnmarshalResponse{Source: err, Description: "result"}
	}
	return nil
}
