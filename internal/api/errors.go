package api

import (
	"errors"
	"fmt"
)

// Error is a categorical API failure: a stable machine-readable code, the
// HTTP status it renders with, and a human-readable message. It carries no
// internal detail; storage and signing failures are logged server-side and
// mapped to a generic 500 kind before reaching the wire.
type Error struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// WithDetails attaches a details payload and returns the error for
// chaining.
func (e *Error) WithDetails(details any) *Error {
	e.Details = details

	return e
}

// AsError unwraps err to an *Error, or wraps it as a generic 500 so no
// raw error text ever reaches a caller.
func AsError(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}

	return ServerError("An internal error occurred")
}

// Malformed caller input.

func InvalidRequest(message string) *Error {
	return &Error{Status: 400, Code: "INVALID_REQUEST", Message: message}
}

func MissingParameter(message string) *Error {
	return &Error{Status: 400, Code: "MISSING_PARAMETER", Message: message}
}

// Authentication failures. These deliberately reveal nothing beyond the
// documented code; "no such client" and "bad credentials" render the same.

func Unauthorized(message string) *Error {
	return &Error{Status: 401, Code: "UNAUTHORIZED", Message: message}
}

func InvalidToken(message string) *Error {
	return &Error{Status: 401, Code: "INVALID_TOKEN", Message: message}
}

func TokenExpired(message string) *Error {
	return &Error{Status: 401, Code: "TOKEN_EXPIRED", Message: message}
}

func InvalidSignature(message string) *Error {
	return &Error{Status: 401, Code: "INVALID_SIGNATURE", Message: message}
}

func InactiveClient(message string) *Error {
	return &Error{Status: 401, Code: "INACTIVE_CLIENT", Message: message}
}

func InvalidClient(message string) *Error {
	return &Error{Status: 401, Code: "INVALID_CLIENT", Message: message}
}

// Authorization failures.

func InvalidScope(message string) *Error {
	return &Error{Status: 403, Code: "INVALID_SCOPE", Message: message}
}

func AccessDenied(message string) *Error {
	return &Error{Status: 403, Code: "ACCESS_DENIED", Message: message}
}

func FieldAccessDenied(message string) *Error {
	return &Error{Status: 403, Code: "FIELD_ACCESS_DENIED", Message: message}
}

func NoFieldPermissions(message string) *Error {
	return &Error{Status: 403, Code: "NO_FIELD_PERMISSIONS", Message: message}
}

func NoAccessibleModels(message string) *Error {
	return &Error{Status: 404, Code: "NO_ACCESSIBLE_MODELS", Message: message}
}

// Grant-flow failures.

func InvalidGrant(message string) *Error {
	return &Error{Status: 400, Code: "INVALID_GRANT", Message: message}
}

func UnsupportedGrantType() *Error {
	return &Error{Status: 400, Code: "UNSUPPORTED_GRANT_TYPE", Message: "Unsupported grant_type"}
}

// Datetime filter failures.

func InvalidDatetimeParams(message string) *Error {
	return &Error{Status: 400, Code: "INVALID_DATETIME_PARAMS", Message: message}
}

func InvalidDatetimeFormat(message string) *Error {
	return &Error{Status: 400, Code: "INVALID_DATETIME_FORMAT", Message: message}
}

func FieldNotFound(message string) *Error {
	return &Error{Status: 400, Code: "FIELD_NOT_FOUND", Message: message}
}

func InvalidFieldType(message string) *Error {
	return &Error{Status: 400, Code: "INVALID_FIELD_TYPE", Message: message}
}

// Internal failures.

func ReadError() *Error {
	return &Error{Status: 500, Code: "READ_ERROR", Message: "Error fetching records"}
}

func FieldFetchError() *Error {
	return &Error{Status: 500, Code: "FIELD_FETCH_ERROR", Message: "Error fetching model fields"}
}

func TokenRotationFailed(message string) *Error {
	return &Error{Status: 500, Code: "TOKEN_ROTATION_FAILED", Message: message}
}

func ServerError(message string) *Error {
	return &Error{Status: 500, Code: "SERVER_ERROR", Message: message}
}
