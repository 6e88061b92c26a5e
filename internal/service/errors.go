package service

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/iliyamo/community-amenity-booking/internal/repository"
)

// Code identifies a class of failure that callers can act on.
type Code string

const (
	CodeUnauthorized   Code = "unauthorized"
	CodeForbidden      Code = "forbidden"
	CodeNotFound       Code = "not_found"
	CodeInvalidState   Code = "invalid_state"
	CodeDeadlinePassed Code = "deadline_passed"
	CodeValidation     Code = "validation_error"
	CodeConflict       Code = "conflict"
)

var codeStatus = map[Code]int{
	CodeUnauthorized:   http.StatusUnauthorized,
	CodeForbidden:      http.StatusForbidden,
	CodeNotFound:       http.StatusNotFound,
	CodeInvalidState:   http.StatusConflict,
	CodeDeadlinePassed: http.StatusGone,
	CodeValidation:     http.StatusBadRequest,
	CodeConflict:       http.StatusConflict,
}

// Error is a domain failure with a stable code.  Reason refines the code
// (for example "slot_full" under CodeConflict) and Retryable marks failures
// a client may simply repeat.
type Error struct {
	Code      Code
	Reason    string
	Message   string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Status maps the code to an HTTP status.
func (e *Error) Status() int {
	if s, ok := codeStatus[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Is lets errors.Is match on code alone, e.g. errors.Is(err, ErrDeadlinePassed).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Reason == "" || t.Reason == e.Reason)
}

// Sentinels for errors.Is checks.
var (
	ErrUnauthorized   = &Error{Code: CodeUnauthorized, Message: "authentication required"}
	ErrForbidden      = &Error{Code: CodeForbidden, Message: "not allowed"}
	ErrNotFound       = &Error{Code: CodeNotFound, Message: "not found"}
	ErrInvalidState   = &Error{Code: CodeInvalidState, Message: "invalid state"}
	ErrDeadlinePassed = &Error{Code: CodeDeadlinePassed, Message: "confirmation deadline passed"}
	ErrValidation     = &Error{Code: CodeValidation, Message: "invalid request"}
	ErrConflict       = &Error{Code: CodeConflict, Message: "conflict"}
)

func newError(code Code, reason, msg string) *Error {
	return &Error{Code: code, Reason: reason, Message: msg}
}

func validation(msg string) *Error { return newError(CodeValidation, "", msg) }

func forbidden(msg string) *Error { return newError(CodeForbidden, "", msg) }

func notFound(what string) *Error { return newError(CodeNotFound, "", what+" not found") }

func invalidState(msg string) *Error { return newError(CodeInvalidState, "", msg) }

// fromRepo translates repository sentinels and passes anything else through.
func fromRepo(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return notFound(what)
	case errors.Is(err, repository.ErrForbidden):
		return forbidden("not allowed")
	case errors.Is(err, repository.ErrRetryExhausted):
		return &Error{Code: CodeConflict, Reason: "contention", Message: "slot is busy, try again", Retryable: true, Err: err}
	case errors.Is(err, repository.ErrConflict):
		return &Error{Code: CodeConflict, Message: "booking changed concurrently", Retryable: true, Err: err}
	}
	return err
}
