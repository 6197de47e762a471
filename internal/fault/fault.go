// Package fault classifies errors crossing the core-operation boundary.
//
// Every failure that reaches a request handler carries a Kind, which maps
// to an HTTP status. User-supplied plugin code fails often and in
// uninteresting ways, so the underlying message is preserved verbatim for
// display in the console; wrapping never rewrites it.
package fault

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure for surfacing to clients.
type Kind int

const (
	// Unknown is the zero Kind; treated as an internal error.
	Unknown Kind = iota

	// Validation: user-supplied code or input failed a shape check.
	Validation

	// Load: a package could not be read or its scripts located.
	Load

	// Permission: the operation is disabled or the target is not editable.
	Permission

	// NotFound: unknown source or node id.
	NotFound

	// Execution: user-supplied plugin code failed while running.
	Execution

	// External: the viewer or report builder misbehaved.
	External

	// Timeout: an external collaborator did not become ready in budget.
	Timeout

	// IO: local filesystem failure.
	IO
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case Load:
		return "load"
	case Permission:
		return "permission"
	case NotFound:
		return "not found"
	case Execution:
		return "execution"
	case External:
		return "external service"
	case Timeout:
		return "timeout"
	case IO:
		return "io"
	default:
		return "unknown"
	}
}

// HTTPStatus returns the response status for a Kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case Validation, Load:
		return http.StatusBadRequest
	case Permission:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case External:
		return http.StatusBadGateway
	case Timeout:
		return http.StatusGatewayTimeout
	case Execution, IO:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified error.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Msg != "" {
			return e.Msg + ": " + e.Err.Error()
		}
		return e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error from a format string.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error, keeping its message reachable via
// errors.Unwrap. A nil err returns nil.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the Kind from an error chain. Unclassified errors
// report Unknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}

// Is reports whether the error chain carries the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
