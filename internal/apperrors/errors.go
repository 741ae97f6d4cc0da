package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure for callers and transports
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindIntegrity
	KindLedger
	KindUnknownOutcome
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindIntegrity:
		return "integrity_violation"
	case KindLedger:
		return "ledger_failure"
	case KindUnknownOutcome:
		return "unknown_outcome"
	default:
		return "internal"
	}
}

// Error is a classified application error
type Error struct {
	Kind    Kind
	Code    string
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

// Is matches sentinel errors by kind and code so that wrapped copies still compare equal
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// New creates an error of the given kind
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Validation reports a precondition that was not met
func Validation(code, format string, args ...any) *Error {
	return New(KindValidation, code, fmt.Sprintf(format, args...))
}

// NotFound reports a missing entity
func NotFound(code, format string, args ...any) *Error {
	return New(KindNotFound, code, fmt.Sprintf(format, args...))
}

// Conflict reports an operation that collides with one already in progress
func Conflict(code, format string, args ...any) *Error {
	return New(KindConflict, code, fmt.Sprintf(format, args...))
}

// Integrity reports a request that would break a stored invariant
func Integrity(code, format string, args ...any) *Error {
	return New(KindIntegrity, code, fmt.Sprintf(format, args...))
}

// LedgerFailure wraps an error raised by the remote ledger
func LedgerFailure(op string, cause error) *Error {
	return &Error{
		Kind:    KindLedger,
		Code:    "ledger_failure",
		Message: fmt.Sprintf("ledger %s failed", op),
		Err:     cause,
	}
}

// UnknownOutcome wraps a ledger call whose result could not be observed
func UnknownOutcome(op string, cause error) *Error {
	return &Error{
		Kind:    KindUnknownOutcome,
		Code:    "unknown_outcome",
		Message: fmt.Sprintf("ledger %s outcome unknown, pending reconciliation", op),
		Err:     cause,
	}
}

// Wrap attaches context to a sentinel while keeping it matchable with errors.Is
func Wrap(sentinel *Error, format string, args ...any) *Error {
	return &Error{
		Kind:    sentinel.Kind,
		Code:    sentinel.Code,
		Message: fmt.Sprintf("%s: %s", sentinel.Message, fmt.Sprintf(format, args...)),
	}
}

// KindOf returns the kind of the first classified error in the chain
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// CodeOf returns the code of the first classified error in the chain
func CodeOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return "internal_error"
}

// HTTPStatus maps an error to a response status
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict, KindIntegrity:
		return http.StatusConflict
	case KindLedger:
		return http.StatusBadGateway
	case KindUnknownOutcome:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
