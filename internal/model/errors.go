package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a resource is not found.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a resource already exists.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotValid is returned when a resource or an operation is not valid.
	ErrNotValid = errors.New("not valid")

	// ErrTransport is returned when the remote could not be reached (network, timeout, 5xx).
	// Nothing changes locally, the operation is safe to retry by triggering it again.
	ErrTransport = errors.New("transport error")
	// ErrRemoteRejected is returned when the remote understood the request and refused it.
	ErrRemoteRejected = errors.New("remote rejected")
	// ErrAlreadyInFlight is returned when an action for the same resource is still outstanding.
	ErrAlreadyInFlight = errors.New("action already in flight")
	// ErrTimedOut is returned when the client stopped watching an execution that may still be running remotely.
	ErrTimedOut = errors.New("timed out")
	// ErrStaleResult is returned internally when a result arrives after a newer one was already applied.
	ErrStaleResult = errors.New("stale result")
)

// RemoteRejectedError carries the verbatim refusal message sent by the remote.
type RemoteRejectedError struct {
	StatusCode int
	Message    string
}

func (e *RemoteRejectedError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message == "" {
		return fmt.Sprintf("remote rejected request (http %d)", e.StatusCode)
	}
	return e.Message
}

// Is makes errors.Is(err, ErrRemoteRejected) match.
func (e *RemoteRejectedError) Is(target error) bool {
	return target == ErrRemoteRejected
}
