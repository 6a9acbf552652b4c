package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure for callers and for HTTP status mapping.
// Only KindTimeout and KindStorage are retry-eligible; every other kind
// requires the caller to change the request.
type ErrorKind string

const (
	KindValidation  ErrorKind = "validation_error"
	KindNotFound    ErrorKind = "not_found"
	KindDuplicate   ErrorKind = "duplicate_account"
	KindUnsupported ErrorKind = "unsupported"
	KindTimeout     ErrorKind = "timeout"
	KindStorage     ErrorKind = "storage_failure"
)

// Error is a failure with a stable machine-readable kind and a human
// message. It wraps an optional underlying cause.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of err, or KindStorage when err carries no kind.
// A nil err has no kind and returns the empty string.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindStorage
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether the operation that produced err is safe to
// retry without changes. Aborted units leave no partial state behind.
func Retryable(err error) bool {
	k := KindOf(err)
	return k == KindTimeout || k == KindStorage
}

func Invalid(msg string, cause error) error {
	return &Error{Kind: KindValidation, Message: msg, Err: cause}
}

func NotFound(entity string, id int64) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %d not found", entity, id)}
}

func Duplicate(msg string) error {
	return &Error{Kind: KindDuplicate, Message: msg}
}

func Unsupported(msg string) error {
	return &Error{Kind: KindUnsupported, Message: msg}
}

func Timeout(msg string, cause error) error {
	return &Error{Kind: KindTimeout, Message: msg, Err: cause}
}

func Storage(msg string, cause error) error {
	return &Error{Kind: KindStorage, Message: msg, Err: cause}
}

// Sentinel validation causes. Handlers report these to clients; they all
// map to KindValidation when wrapped through Invalid.
var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrEmptyName        = errors.New("empty name")
	ErrEmptyDescription = errors.New("empty description")
	ErrInvalidKind      = errors.New("invalid transaction kind")
	ErrSameAccount      = errors.New("transfer accounts must differ")
	ErrInvalidType      = errors.New("invalid account type")
)
