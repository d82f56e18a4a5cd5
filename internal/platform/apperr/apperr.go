// Package apperr defines the typed error kinds the workflow engine surfaces to
// callers. Stores return sentinel errors; services translate them into an
// *Error so the HTTP edge can pick a status without string matching.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Kind classifies an error for callers.
type Kind string

const (
	KindNotFound           Kind = "not_found"
	KindPreconditionFailed Kind = "precondition_failed"
	KindConflict           Kind = "conflict"
	KindForbidden          Kind = "forbidden"
	KindInvalid            Kind = "invalid"
	// KindNotificationDelivery is only ever logged; workflow operations never
	// return it.
	KindNotificationDelivery Kind = "notification_delivery_failure"
)

// Error is a classified error. Err, when set, is the underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...interface{}) *Error {
	return newf(KindNotFound, format, args...)
}

func PreconditionFailed(format string, args ...interface{}) *Error {
	return newf(KindPreconditionFailed, format, args...)
}

func Conflict(format string, args ...interface{}) *Error {
	return newf(KindConflict, format, args...)
}

func Forbidden(format string, args ...interface{}) *Error {
	return newf(KindForbidden, format, args...)
}

func Invalid(format string, args ...interface{}) *Error {
	return newf(KindInvalid, format, args...)
}

// NotificationDelivery wraps a fan-out failure so it can be logged with a kind.
func NotificationDelivery(err error, format string, args ...interface{}) *Error {
	e := newf(KindNotificationDelivery, format, args...)
	e.Err = err
	return e
}

// Wrap attaches a kind to an existing error.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	e := newf(kind, format, args...)
	e.Err = err
	return e
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps an error to the status code the edge should return.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindPreconditionFailed:
		return http.StatusUnprocessableEntity
	case KindConflict:
		return http.StatusConflict
	case KindForbidden:
		return http.StatusForbidden
	case KindInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// ToHTTP converts err into an echo error for handlers. Unclassified errors
// become a bare 500 so internals are not leaked; an expired request
// deadline becomes 504.
func ToHTTP(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && KindOf(err) == "" {
		return echo.NewHTTPError(http.StatusGatewayTimeout, "request timed out")
	}
	status := HTTPStatus(err)
	if status == http.StatusInternalServerError {
		return echo.NewHTTPError(status, "internal server error").SetInternal(err)
	}
	return echo.NewHTTPError(status, err.Error())
}
