package presence

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected = errors.New("not connected")
	ErrThrottled    = errors.New("reconnect throttled")
)

// ConnectionError reports that the messaging service could not be reached
// or that a session operation needed a connection that is not there.
type ConnectionError struct {
	Op     string
	Server string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("xmpp %s %s: %v", e.Op, e.Server, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsConnectionError reports whether err is or wraps a *ConnectionError.
func IsConnectionError(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr)
}
