// Package apperr describes errors that are reported back to a client in an
// event acknowledgement.
package apperr

import (
	"errors"
	"fmt"
)

type Code string

const (
	AuthRequired      Code = "AUTH_REQUIRED"
	NotAMember        Code = "NOT_A_MEMBER"
	CapacityExceeded  Code = "CAPACITY_EXCEEDED"
	NotFound          Code = "NOT_FOUND"
	AlreadyInProgress Code = "ALREADY_IN_PROGRESS"
	UpstreamFailure   Code = "UPSTREAM_FAILURE"
	BadRequest        Code = "BAD_REQUEST"
	RateLimited       Code = "RATE_LIMITED"
	Internal          Code = "INTERNAL"
)

type Error struct {
	Code Code
	Msg  string
	Err  error
}

func New(code Code, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code to an internal error. The cause is kept for logs only.
func Wrap(code Code, msg string, err error) *Error {
	return &Error{Code: code, Msg: msg, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}

	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code, so errors.Is(err, apperr.New(apperr.NotFound, ""))
// works regardless of the message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}

	return t.Code == e.Code
}

// CodeOf returns the code of the first *Error in the chain, Internal otherwise.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	return Internal
}

// Message returns the client facing text. Internal causes are never exposed.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}

	return "internal error"
}
