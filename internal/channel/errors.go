package channel

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Errors
var (
	ErrSubscriptionActive = errors.New("a subscription is already active on this channel")
	ErrChannelClosed      = errors.New("channel closed")
)

// ServerError is an application-level error delivered inside an
// "error"-typed frame. It is terminal for the operation it belongs to and
// never retried.
type ServerError struct {
	ID      string
	Payload json.RawMessage
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error for operation %q: %s", e.ID, e.Payload)
}
