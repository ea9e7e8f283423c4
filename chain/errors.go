package chain

import (
	"errors"
	"fmt"
)

var (
	// ErrSubscriptionActive is returned by SubscribeBlocks when the client
	// already has an open block subscription.
	ErrSubscriptionActive = errors.New("block subscription already active")
	// ErrSubscriptionClosed is returned by Next after Close.
	ErrSubscriptionClosed = errors.New("block subscription closed")
)

// ErrConnectionLost means the transport to the node failed. The client is
// unusable afterwards; the caller reconnects with a new client.
type ErrConnectionLost struct {
	Endpoint string
	Source   error
}

func (e ErrConnectionLost) Error() string {
	return fmt.Sprintf("connection to %s lost: %v", e.Endpoint, e.Source)
}

func (e ErrConnectionLost) Unwrap() error {
	return e.Source
}

// IsConnectionLost reports whether err is or wraps ErrConnectionLost.
func IsConnectionLost(err error) bool {
	var lost ErrConnectionLost
	return errors.As(err, &lost)
}

// ProtocolError means the node sent data that could not be decoded.
// Block is set when the data belonged to a specific block.
type ProtocolError struct {
	Op     string
	Block  uint64
	Source error
}

func (e ProtocolError) Error() string {
	if e.Block != 0 {
		return fmt.Sprintf("protocol error in %s at block %d: %v", e.Op, e.Block, e.Source)
	}
	return fmt.Sprintf("protocol error in %s: %v", e.Op, e.Source)
}

func (e ProtocolError) Unwrap() error {
	return e.Source
}

// QueryError means a single request failed: the node returned an error,
// the item does not exist, or the call timed out. The connection stays usable.
type QueryError struct {
	Query  string
	Source error
}

func (e QueryError) Error() string {
	return fmt.Sprintf("query %s failed: %v", e.Query, e.Source)
}

func (e QueryError) Unwrap() error {
	return e.Source
}
