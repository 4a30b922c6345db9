// Package relayerr defines the closed taxonomy of errors the signaling
// hub can surface to a client as a server error envelope.
package relayerr

import (
	"errors"
	"fmt"
)

// Kind identifies one of the error codes the hub emits over the wire.
type Kind string

const (
	BadRequest   Kind = "bad_request"
	AuthFailed   Kind = "auth_failed"
	RoomFull     Kind = "room_full"
	RateLimited  Kind = "rate_limited"
	SlowConsumer Kind = "slow_consumer"
	Internal     Kind = "internal"
)

// Error wraps a Kind with a human-readable message for logging and for
// the server error envelope's payload.message field.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// New constructs an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Of extracts the Kind from err, defaulting to Internal when err is not
// (or does not wrap) a *Error.
func Of(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}
