// Package zerr defines the typed error kinds the core propagates to its
// callers, per the error handling design: ValidationError and Conflict and
// NotFound surface to the request layer unchanged, while RuntimeError,
// ProxyError, BuilderError and HealthcheckTimeout are handled inside the
// executor and only reach status_reason.
package zerr

import (
	"errors"
	"fmt"

	"github.com/cuemby/zaneops/pkg/types"
)

// Error is a typed domain error carrying a Kind alongside the usual message
// and optional wrapped cause.
type Error struct {
	Kind types.ErrKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func new_(kind types.ErrKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func wrap(kind types.ErrKind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

func Validation(format string, args ...interface{}) *Error {
	return new_(types.ErrKindValidation, format, args...)
}

func Conflict(format string, args ...interface{}) *Error {
	return new_(types.ErrKindConflict, format, args...)
}

func NotFound(format string, args ...interface{}) *Error {
	return new_(types.ErrKindNotFound, format, args...)
}

func Runtime(err error, format string, args ...interface{}) *Error {
	return wrap(types.ErrKindRuntime, err, format, args...)
}

func Proxy(err error, format string, args ...interface{}) *Error {
	return wrap(types.ErrKindProxy, err, format, args...)
}

func Builder(err error, format string, args ...interface{}) *Error {
	return wrap(types.ErrKindBuilder, err, format, args...)
}

func HealthcheckTimeout(format string, args ...interface{}) *Error {
	return new_(types.ErrKindHealthcheckTimeout, format, args...)
}

// KindOf extracts the Kind of a zerr.Error in the err chain, defaulting to
// RuntimeError for plain errors so unexpected failures still fail closed.
func KindOf(err error) types.ErrKind {
	var ze *Error
	if errors.As(err, &ze) {
		return ze.Kind
	}
	return types.ErrKindRuntime
}

// HTTPStatus maps a Kind to the response code the request layer should use.
func HTTPStatus(kind types.ErrKind) int {
	switch kind {
	case types.ErrKindValidation:
		return 400
	case types.ErrKindConflict:
		return 409
	case types.ErrKindNotFound:
		return 404
	default:
		return 500
	}
}
