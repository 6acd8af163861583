package api

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes an error returned by the steward core.
type ErrorKind string

const (
	// ErrorKindConfig marks a malformed server configuration (missing
	// command for a process transport, missing URL for a network one).
	// Fatal to StartServer and never retried.
	ErrorKindConfig ErrorKind = "config_error"

	// ErrorKindConnection marks a transport open or protocol connect
	// failure. The connection transitions to failed; retry policy
	// belongs to the caller.
	ErrorKindConnection ErrorKind = "connection_error"

	// ErrorKindNotFound marks a lookup for a server, tool, or grant
	// that does not exist or is not ready.
	ErrorKindNotFound ErrorKind = "not_found"

	// ErrorKindPermissionDenied marks an authorization failure. This is
	// an expected outcome, not a defect; timeouts are folded into it.
	ErrorKindPermissionDenied ErrorKind = "permission_denied"

	// ErrorKindToolExecution marks a tool, resource, or prompt call
	// that failed after authorization. Connection state is unaffected.
	ErrorKindToolExecution ErrorKind = "tool_execution_error"
)

// Error is a structured error carrying the kind, the server it relates
// to, and a human-readable message.
type Error struct {
	Kind    ErrorKind
	Server  string
	Message string
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Server != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Server, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// NewConfigError creates an Error for a malformed server configuration.
func NewConfigError(server, message string) *Error {
	return &Error{Kind: ErrorKindConfig, Server: server, Message: message}
}

// NewConnectionError creates an Error for a transport or connect failure.
func NewConnectionError(server string, cause error) *Error {
	return &Error{Kind: ErrorKindConnection, Server: server, Message: MessageOf(cause), cause: cause}
}

// NewNotFoundError creates an Error for a missing server or tool.
func NewNotFoundError(server, message string) *Error {
	return &Error{Kind: ErrorKindNotFound, Server: server, Message: message}
}

// NewPermissionDeniedError creates an Error for a denied authorization.
func NewPermissionDeniedError(server, message string) *Error {
	return &Error{Kind: ErrorKindPermissionDenied, Server: server, Message: message}
}

// NewToolExecutionError creates an Error for a failed protocol call.
func NewToolExecutionError(server string, cause error) *Error {
	return &Error{Kind: ErrorKindToolExecution, Server: server, Message: MessageOf(cause), cause: cause}
}

// IsKind reports whether err is (or wraps) an Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// MessageOf normalizes an arbitrary value to a message string. Protocol
// clients can surface non-error panic values; every such value is
// reduced to text before it propagates.
func MessageOf(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case error:
		return x.Error()
	case string:
		return x
	default:
		return fmt.Sprintf("%v", x)
	}
}
