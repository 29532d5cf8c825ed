package signaling

import (
	"errors"
	"fmt"
)

var (
	ErrClosed       = errors.New("signaling connection closed")
	ErrNotConnected = errors.New("signaling connection not established")
	ErrServer       = errors.New("signaling server error")
)

// ServerError is returned by Request when the server answers with an error.
type ServerError struct {
	Event   string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Event, e.Message)
}

func (e *ServerError) Unwrap() error {
	return ErrServer
}
