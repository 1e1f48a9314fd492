// Package storageerr defines the single tagged error type every storage
// operation surfaces. Callers branch on the Kind, never on message text.
package storageerr

import (
	"errors"
	"fmt"
)

// Kind classifies a storage failure.
type Kind string

const (
	KindInvalidArgument         Kind = "INVALID_ARGUMENT"
	KindInvalidPathFormat       Kind = "INVALID_PATH_FORMAT"
	KindEntityNotFound          Kind = "ENTITY_NOT_FOUND"
	KindInvalidEntityPath       Kind = "INVALID_ENTITY_PATH"
	KindCredentialsError        Kind = "CREDENTIALS_ERROR"
	KindInvalidRevision         Kind = "INVALID_REVISION"
	KindUnrecognizedStorageType Kind = "UNRECOGNIZED_STORAGE_TYPE"
	KindBackendFailure          Kind = "BACKEND_FAILURE"

	// KindInternal reports a broken registry invariant, e.g. a credential
	// whose variant has no registered provider. It is never a normal outcome.
	KindInternal Kind = "INTERNAL"

	KindUnknown Kind = "UNKNOWN"
)

// Sentinels match any *Error of the same kind via errors.Is.
var (
	ErrInvalidArgument         = &Error{Kind: KindInvalidArgument}
	ErrInvalidPathFormat       = &Error{Kind: KindInvalidPathFormat}
	ErrEntityNotFound          = &Error{Kind: KindEntityNotFound}
	ErrInvalidEntityPath       = &Error{Kind: KindInvalidEntityPath}
	ErrCredentialsError        = &Error{Kind: KindCredentialsError}
	ErrInvalidRevision         = &Error{Kind: KindInvalidRevision}
	ErrUnrecognizedStorageType = &Error{Kind: KindUnrecognizedStorageType}
	ErrBackendFailure          = &Error{Kind: KindBackendFailure}
	ErrInternal                = &Error{Kind: KindInternal}
)

// Error is a storage failure tagged with a Kind. Cause carries the
// underlying backend error when there is one.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	if e.Message == "" {
		msg = fmt.Sprintf("[%s]", e.Kind)
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a storage error of the same kind. A target
// with a message only matches an error carrying that exact message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Kind != e.Kind {
		return false
	}
	return t.Message == "" || t.Message == e.Message
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap tags cause with kind. A nil cause yields a plain New.
func Wrap(cause error, kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Wrapf tags cause with kind and a formatted message.
func Wrapf(cause error, kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Backend wraps a raw backend failure unless it is already a storage error,
// in which case it is returned unchanged.
func Backend(err error, message string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return Wrap(err, KindBackendFailure, message)
}
