package bitemporal

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error kinds. Match them with errors.Is.
var (
	ErrValidation             = errors.New("validation error")
	ErrNotFound               = errors.New("not found")
	ErrIllegalState           = errors.New("illegal state")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrStorageTimeout         = errors.New("storage timeout")
)

// Error is the single error type surfaced by the master. Status is the HTTP
// status a REST layer should answer with; Code is stable and machine readable.
type Error struct {
	Kind    error
	Status  int
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil && !isKind(e.Cause) {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func isKind(err error) bool {
	switch err {
	case ErrValidation, ErrNotFound, ErrIllegalState, ErrConcurrentModification, ErrStorageTimeout:
		return true
	}
	return false
}

func statusOf(kind error) int {
	switch kind {
	case ErrValidation:
		return http.StatusBadRequest
	case ErrNotFound:
		return http.StatusNotFound
	case ErrIllegalState, ErrConcurrentModification:
		return http.StatusConflict
	case ErrStorageTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func newError(kind error, code, message string, cause error) *Error {
	return &Error{Kind: kind, Status: statusOf(kind), Code: code, Message: message, Cause: cause}
}

// Code builds an error code such as PORTFOLIO_NOT_FOUND from an entity name and a suffix.
func Code(entity, suffix string) string {
	return strings.ToUpper(entity) + "_" + suffix
}

func Validation(code string, format string, args ...any) *Error {
	return newError(ErrValidation, code, fmt.Sprintf(format, args...), nil)
}

func ValidationCause(code, message string, cause error) *Error {
	return newError(ErrValidation, code, message, cause)
}

func NotFound(code string, format string, args ...any) *Error {
	return newError(ErrNotFound, code, fmt.Sprintf(format, args...), nil)
}

func IllegalState(code string, format string, args ...any) *Error {
	return newError(ErrIllegalState, code, fmt.Sprintf(format, args...), nil)
}

func ConcurrentModification(code, message string, cause error) *Error {
	return newError(ErrConcurrentModification, code, message, cause)
}

// StalePin reports an edit against a version that is no longer the latest. It is a
// concurrent modification whose cause is ErrIllegalState, so both kinds match.
func StalePin(entity string, objectID, pinned, latest int64) *Error {
	return newError(ErrConcurrentModification, Code(entity, "STALE_VERSION"),
		fmt.Sprintf("not latest version: %s %d pinned version %d, latest is %d", entity, objectID, pinned, latest),
		ErrIllegalState)
}

func StorageTimeout(code string, cause error) *Error {
	return newError(ErrStorageTimeout, code, "storage transaction exceeded its deadline", cause)
}

// Internal wraps an unexpected failure. It matches none of the kinds.
func Internal(code, message string, cause error) *Error {
	return newError(nil, code, message, cause)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
