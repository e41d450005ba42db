// Package roomerrors holds the error taxonomy shared by the engine, the
// synchronization layer, the session controller and the transports. It lives
// in its own package so none of those need to import each other for it.
package roomerrors

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	ErrRoomNotFound     = errors.New("room not found")
	ErrMalformedRecord  = errors.New("malformed store record")
	ErrNotYourTurn      = errors.New("it is not your turn to draw")
	ErrSessionClosed    = errors.New("session closed")
	ErrNotInRoom        = errors.New("not in a room")
	ErrInvalidToken     = errors.New("invalid player token")
	ErrAlreadyConnected = errors.New("already in a room")
)

// ValidationError reports a Phase Engine precondition violation. The session
// controller never calls engine functions outside their valid phase, so one of
// these reaching a caller is a contract bug rather than a user error.
type ValidationError struct {
	Op     string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

// Invalid builds a ValidationError.
func Invalid(op, format string, args ...any) *ValidationError {
	return &ValidationError{Op: op, Reason: fmt.Sprintf(format, args...)}
}

// StoreError wraps any read, write or subscribe failure against the Store.
// Store errors are recoverable: the caller keeps its local state and the user
// may repeat the action.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Retryable reports whether repeating the action may succeed. Malformed
// records will not fix themselves.
func (e *StoreError) Retryable() bool {
	return !errors.Is(e.Err, ErrMalformedRecord)
}

// Store wraps err as a StoreError unless it is nil or already one.
func Store(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// NotFoundError is returned when a join code does not resolve to a room.
type NotFoundError struct {
	Code string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no room with code %q", e.Code)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrRoomNotFound }

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsRetryable reports whether err is a StoreError worth retrying.
func IsRetryable(err error) bool {
	var se *StoreError
	return errors.As(err, &se) && se.Retryable()
}
