// Package apperr defines the client visible error taxonomy shared by every
// service and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindUnauthorized   Kind = "unauthorized"
	KindForbidden      Kind = "forbidden"
	KindNotFound       Kind = "not_found"
	KindValidation     Kind = "validation"
	KindDuplicateVote  Kind = "duplicate_vote"
	KindAlreadyDecided Kind = "already_decided"
	KindConflict       Kind = "conflict"
	KindInternal       Kind = "internal"
)

// Error is a failure the caller can act on. Anything that is not an *Error
// is treated as internal.
type Error struct {
	Kind    Kind              `json:"kind"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func (e *Error) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s %v", e.Kind, e.Message, e.Fields)
}

// Is lets errors.Is match on kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Unauthorized(format string, args ...interface{}) *Error {
	return New(KindUnauthorized, format, args...)
}

func Forbidden(format string, args ...interface{}) *Error {
	return New(KindForbidden, format, args...)
}

func NotFound(format string, args ...interface{}) *Error {
	return New(KindNotFound, format, args...)
}

func DuplicateVote(format string, args ...interface{}) *Error {
	return New(KindDuplicateVote, format, args...)
}

func AlreadyDecided(format string, args ...interface{}) *Error {
	return New(KindAlreadyDecided, format, args...)
}

func Conflict(format string, args ...interface{}) *Error {
	return New(KindConflict, format, args...)
}

// Validation carries per-field messages.
func Validation(message string, fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Message: message, Fields: fields}
}

// Sentinels for errors.Is checks.
var (
	ErrUnauthorized   = &Error{Kind: KindUnauthorized}
	ErrForbidden      = &Error{Kind: KindForbidden}
	ErrNotFound       = &Error{Kind: KindNotFound}
	ErrValidation     = &Error{Kind: KindValidation}
	ErrDuplicateVote  = &Error{Kind: KindDuplicateVote}
	ErrAlreadyDecided = &Error{Kind: KindAlreadyDecided}
	ErrConflict       = &Error{Kind: KindConflict}
)

// KindOf returns the kind of err, or KindInternal when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	case KindDuplicateVote, KindAlreadyDecided, KindConflict:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// ServerErrorReply is returned for internal failures. ErrorCode is a
// timestamp that is also written to the log next to the real cause.
type ServerErrorReply struct {
	ErrorCode int64 `json:"errorcode"`
}
