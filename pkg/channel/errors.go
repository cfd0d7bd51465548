package channel

import (
	"errors"
	"fmt"
)

// Errors reported by the channel
var (
	ErrNotConnected       = errors.New("channel not connected")
	ErrClosed             = errors.New("channel closed")
	ErrSendBufferFull     = errors.New("send buffer full")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)

// TransientNetworkError wraps failures caused by the connection state. The
// session is kept and recovered by a resync once the channel is back.
type TransientNetworkError struct {
	Op  string
	Err error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("channel %s: %v", e.Op, e.Err)
}

func (e *TransientNetworkError) Unwrap() error {
	return e.Err
}
