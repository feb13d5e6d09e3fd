// Package apperr defines the domain error taxonomy shared by services and
// both transports. Collaborator failures are wrapped with the subsystem that
// produced them; guard violations carry the precise precondition code.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for transport mapping
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindUnauthorized
	KindBadRequest
	KindAlreadyInStatus
	KindForbidden
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindUnauthorized:
		return "Unauthorized"
	case KindBadRequest:
		return "BadRequest"
	case KindAlreadyInStatus:
		return "AlreadyInStatus"
	case KindForbidden:
		return "Forbidden"
	case KindValidation:
		return "ValidationError"
	default:
		return "InternalError"
	}
}

// Subsystem names the external system or layer an error originated from
type Subsystem string

const (
	SubsystemMongo  Subsystem = "MongoDB"
	SubsystemRedis  Subsystem = "Redis"
	SubsystemS3     Subsystem = "S3"
	SubsystemAMQP   Subsystem = "AMQP"
	SubsystemMapbox Subsystem = "Mapbox"
	SubsystemSocket Subsystem = "Socket"
	SubsystemAuth   Subsystem = "Auth"
)

// Stable error codes
const (
	CodeTripNotFound        = "trip_not_found"
	CodeUserNotFound        = "user_not_found"
	CodeParticipantNotFound = "participant_not_found"
	CodeTripNotStarted      = "trip_not_started"
	CodeNotCreator          = "not_trip_creator"
	CodeWrongStatus         = "wrong_trip_status"
	CodeAlreadyInStatus     = "already_in_status"
	CodeTripLocked          = "trip_locked"
	CodeAlreadyFinished     = "experience_already_finished"
	CodeExperienceIndex     = "experience_index_out_of_range"
	CodeInvalidEvent        = "invalid_event"
	CodeInvalidToken        = "invalid_token"
	CodeInvalidCode         = "invalid_login_code"
	CodeInvalidInput        = "invalid_input"
	CodeRuntimeInconsistent = "runtime_inconsistent"
	CodeInternal            = "internal_error"
)

// Error is the single error type surfaced by services
type Error struct {
	Kind      Kind
	Code      string
	Message   string
	Subsystem Subsystem
	// Details maps a field path to a human readable message (validation only).
	Details map[string]string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Subsystem != "" {
		msg = fmt.Sprintf("[%s] %s", e.Subsystem, msg)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Status returns the HTTP status class for the error
func (e *Error) Status() int {
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindBadRequest, KindAlreadyInStatus, KindValidation:
		return http.StatusBadRequest
	case KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func newErr(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

func NotFound(code, format string, args ...any) *Error {
	return newErr(KindNotFound, code, format, args...)
}

func Unauthorized(code, format string, args ...any) *Error {
	return newErr(KindUnauthorized, code, format, args...)
}

func BadRequest(code, format string, args ...any) *Error {
	return newErr(KindBadRequest, code, format, args...)
}

func AlreadyInStatus(format string, args ...any) *Error {
	return newErr(KindAlreadyInStatus, CodeAlreadyInStatus, format, args...)
}

func Forbidden(code, format string, args ...any) *Error {
	return newErr(KindForbidden, code, format, args...)
}

// Validation carries per-field detail
func Validation(message string, details map[string]string) *Error {
	return &Error{Kind: KindValidation, Code: CodeInvalidInput, Message: message, Details: details}
}

// Internal builds an unexpected-failure error tagged with its subsystem
func Internal(sub Subsystem, format string, args ...any) *Error {
	e := newErr(KindInternal, CodeInternal, format, args...)
	e.Subsystem = sub
	return e
}

// Wrap tags a collaborator failure with the subsystem it came from. Domain
// errors pass through untouched so their kind survives.
func Wrap(sub Subsystem, err error, msg string) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return &Error{Kind: KindInternal, Code: CodeInternal, Message: msg, Subsystem: sub, Err: err}
}

// As extracts an *Error from the chain
func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// KindOf reports the kind of err, KindInternal for foreign errors
func KindOf(err error) Kind {
	if ae, ok := As(err); ok {
		return ae.Kind
	}
	return KindInternal
}

// CodeOf reports the stable code of err
func CodeOf(err error) string {
	if ae, ok := As(err); ok {
		return ae.Code
	}
	return CodeInternal
}

// HTTPStatus maps any error to an HTTP status
func HTTPStatus(err error) int {
	if ae, ok := As(err); ok {
		return ae.Status()
	}
	return http.StatusInternalServerError
}
