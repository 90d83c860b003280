package lobby

import (
	"errors"
	"fmt"
)

// Code classifies a lobby error for callers such as the HTTP layer.
type Code string

const (
	CodeNotFound         Code = "NOT_FOUND"
	CodeConflict         Code = "CONFLICT"
	CodeForbidden        Code = "FORBIDDEN"
	CodeInvalidTarget    Code = "INVALID_TARGET"
	CodeCapacityExceeded Code = "CAPACITY_EXCEEDED"
	CodeInvalidState     Code = "INVALID_STATE"
	CodeCodeExhausted    Code = "CODE_EXHAUSTED"
	CodeInvalidArgument  Code = "INVALID_ARGUMENT"
	CodeInternal         Code = "INTERNAL"
)

// Error is a lobby failure reported to the caller of an operation.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors with the same code and message, so a wrapped copy of a
// sentinel still satisfies errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code && t.Message == e.Message
}

// Wrap returns a copy of e carrying err as its cause.
func (e *Error) Wrap(err error) *Error {
	return &Error{Code: e.Code, Message: e.Message, Err: err}
}

func newError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

var (
	ErrRoomNotFound   = newError(CodeNotFound, "room not found")
	ErrPlayerNotFound = newError(CodeNotFound, "player not found")

	ErrForbidden     = newError(CodeForbidden, "only the host can do that")
	ErrInvalidTarget = newError(CodeInvalidTarget, "host cannot kick themselves")

	ErrRoomFull       = newError(CodeCapacityExceeded, "room is full")
	ErrAlreadyStarted = newError(CodeInvalidState, "match already started")
	ErrInvalidState   = newError(CodeInvalidState, "not allowed in the room's current status")
	ErrNotReady       = newError(CodeInvalidState, "room is not ready to start")

	ErrCodeExhausted = newError(CodeCodeExhausted, "could not allocate a unique game code")

	ErrInvalidName     = newError(CodeInvalidArgument, "name must not be empty")
	ErrMissingIdentity = newError(CodeInvalidArgument, "player identity is required")
	ErrInvalidCapacity = newError(CodeInvalidArgument, "invalid player limits")
	ErrInvalidStatus   = newError(CodeInvalidArgument, "unknown room status")
)

// CodeOf returns the code of a lobby error, or CodeInternal for anything
// else.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
