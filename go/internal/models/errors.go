package models

import (
	"errors"
	"fmt"
)

// ErrStaleEvent is returned for events addressed to a room the session is not in.
var ErrStaleEvent = errors.New("stale event")

// ErrMalformedEvent is returned when an event is missing required fields.
var ErrMalformedEvent = errors.New("malformed event")

// TransportError reports a connect or timeout failure on a transport.
type TransportError struct {
	Transport string
	Err       error
}

func (e *TransportError) Error() string {
	if e.Transport == "" {
		return fmt.Sprintf("transport: %v", e.Err)
	}
	return fmt.Sprintf("transport %s: %v", e.Transport, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ApplicationError is an explicit error sent by the server.
type ApplicationError struct {
	Message string
}

func (e *ApplicationError) Error() string {
	return "server error: " + e.Message
}

// Malformed wraps ErrMalformedEvent with a reason.
func Malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedEvent, fmt.Sprintf(format, args...))
}
