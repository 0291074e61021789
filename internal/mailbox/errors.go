package mailbox

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by commands issued while no session is up.
	ErrNotConnected = errors.New("mailbox: not connected")
	// ErrCommandTimeout is returned when a command outlives CommandTimeout.
	ErrCommandTimeout = errors.New("mailbox: command timed out")
	// ErrStaleHandle is returned when UIDVALIDITY changed since the handle was listed.
	ErrStaleHandle = errors.New("mailbox: stale handle")
	// ErrMessageGone is returned when the server no longer has the message.
	ErrMessageGone = errors.New("mailbox: message no longer exists")
)

// ConnectionError reports a failed or lost session: auth, network, TLS, or
// a command that timed out. The connector reconnects on its own.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("mailbox %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// FetchError reports a message that could not be retrieved through its handle.
type FetchError struct {
	Handle Handle
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("mailbox fetch %s: %v", e.Handle.Key(), e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsConnectionError reports whether err is a *ConnectionError.
func IsConnectionError(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr)
}
