package chatloop

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAuthenticated indicates an operation requires a prior Login or
	// Register on the session.
	ErrNotAuthenticated = errors.New("chatloop: session is not authenticated")

	// ErrSessionClosed indicates the session was closed by the caller.
	ErrSessionClosed = errors.New("chatloop: session closed")

	// ErrManagerClosed indicates the Manager has been stopped. A stopped
	// Manager cannot be restarted.
	ErrManagerClosed = errors.New("chatloop: manager closed")

	// ErrMalformedEnvelope indicates an envelope that cannot be sent, e.g. one
	// without a payload, or a note sent as a request.
	ErrMalformedEnvelope = errors.New("chatloop: malformed envelope")

	// ErrConnectionLost indicates the stream to the server failed. In-flight
	// requests are failed with an error wrapping it.
	ErrConnectionLost = errors.New("chatloop: connection lost")

	// ErrUnexpectedReply indicates the server answered a request with a
	// payload of the wrong kind.
	ErrUnexpectedReply = errors.New("chatloop: unexpected reply")
)

// ValidationError indicates a caller contract violation, detected before any
// network activity.
type ValidationError struct {
	Op      string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Message == "" {
		return "chatloop: " + e.Op + ": invalid argument"
	}
	return "chatloop: " + e.Op + ": " + e.Message
}

// StateError indicates an operation was attempted in a session state that
// does not permit it.
type StateError struct {
	Cause error
	Op    string
	State SessionState
}

// Error implements the error interface.
func (e *StateError) Error() string {
	msg := fmt.Sprintf("chatloop: %s: session %s", e.Op, e.State)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *StateError) Unwrap() error {
	return e.Cause
}

// RejectedError is a reply with a 4xx status code.
type RejectedError struct {
	Text  string
	Topic string
	Code  int32
}

// Error implements the error interface.
func (e *RejectedError) Error() string {
	return fmt.Sprintf("chatloop: rejected (%d): %s", e.Code, e.Text)
}

// ServerError is a reply with a 5xx status code.
type ServerError struct {
	Text  string
	Topic string
	Code  int32
}

// Error implements the error interface.
func (e *ServerError) Error() string {
	return fmt.Sprintf("chatloop: server error (%d): %s", e.Code, e.Text)
}

// ConnectionError wraps the transport failure that ended a session. It
// matches ErrConnectionLost via [errors.Is].
type ConnectionError struct {
	Cause error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	if e.Cause == nil {
		return ErrConnectionLost.Error()
	}
	return ErrConnectionLost.Error() + ": " + e.Cause.Error()
}

// Unwrap returns the transport error.
func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// Is matches ErrConnectionLost.
func (e *ConnectionError) Is(target error) bool {
	return target == ErrConnectionLost
}
