package session

import (
	"errors"
	"fmt"

	"github.com/adityaadpandey/roomlink/internals/credential"
)

const (
	OpConnect   = "connect"
	OpReconnect = "reconnect"
)

var (
	ErrInvalidRoomName   = errors.New("room name is required")
	ErrAlreadyConnected  = errors.New("session already connected")
	ErrConnectCancelled  = errors.New("connect cancelled")
	ErrTransportRejected = errors.New("transport rejected connection")
	ErrTimeout           = errors.New("connect timed out")

	ErrCredentialUnavailable = credential.ErrCredentialUnavailable
)

// ConnectionError is returned by Connect. Kind is one of the sentinels above.
type ConnectionError struct {
	Op   string
	Room string
	Kind error
	Err  error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %q: %v", e.Op, e.Room, e.Kind)
	}
	return fmt.Sprintf("%s %q: %v: %v", e.Op, e.Room, e.Kind, e.Err)
}

func (e *ConnectionError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
