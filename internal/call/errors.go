package call

import (
	"errors"
	"fmt"
)

var (
	ErrUnexpectedSignal = errors.New("unexpected signal type")
	ErrMalformedSignal  = errors.New("malformed signal payload")
)

// Error carries the failing operation and the peer it concerned.
type Error struct {
	Op      string
	Peer    string
	Err     error
	Details string
}

func (e *Error) Error() string {
	if e.Peer != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Peer, e.Err)
	}
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func NewPeerError(op, peer string, err error) *Error {
	return &Error{Op: op, Peer: peer, Err: err}
}

func WrapError(op string, err error, details string) *Error {
	return &Error{Op: op, Err: err, Details: details}
}
