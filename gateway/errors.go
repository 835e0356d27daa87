package gateway

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

var (
	ErrClosed           = errors.New("Connection is closed")
	ErrEmptyEventName   = errors.New("Event name must not be empty")
	ErrInvalidEventName = errors.New("Event name is not valid UTF-8")
)

// checkEventName rejects names that would not survive the JSON encoding
// unchanged.
func checkEventName(name string) error {
	if name == "" {
		return ErrEmptyEventName
	}

	if !utf8.ValidString(name) {
		return ErrInvalidEventName
	}

	return nil
}

// HandlerError is logged when a registered handler returns an error, or
// panics, while handling an event. It never closes the connection.
type HandlerError struct {
	Event string
	Err   error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("Handler for %q failed: %s", e.Event, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// TransportError is returned by Send when the underlying transport refused a
// frame. The connection is closed by the time it is returned.
type TransportError struct {
	ConnID string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("Failed to write to connection %s: %s", e.ConnID, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
