package apierror

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies a failed API call.
type Kind string

const (
	KindUnauthorized Kind = "unauthorized"
	KindValidation   Kind = "validation"
	KindServer       Kind = "server"
	KindNetwork      Kind = "network"
	KindTimeout      Kind = "timeout"
)

// Violation is a single field-level validation failure.
type Violation struct {
	Location []string
	Message  string
}

func (v Violation) String() string {
	return strings.Join(v.Location, ".") + ": " + v.Message
}

// Error is the normalized failure returned by every API operation.
type Error struct {
	Kind       Kind
	Status     int // zero for network and timeout failures
	Message    string
	Violations []Violation
	Err        error // underlying transport error, if any
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (%d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind == kind
	}
	return false
}

func Unauthorized(message string) *Error {
	if message == "" {
		message = http.StatusText(http.StatusUnauthorized)
	}
	return &Error{Kind: KindUnauthorized, Status: http.StatusUnauthorized, Message: message}
}

func Network(err error) *Error {
	return &Error{Kind: KindNetwork, Message: err.Error(), Err: err}
}

func Timeout(message string) *Error {
	return &Error{Kind: KindTimeout, Message: message}
}
