// Package errors provides structured error handling with machine-readable codes.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Validation errors
	CodeMissingFields     Code = "MISSING_FIELDS"
	CodeInvalidEmail      Code = "INVALID_EMAIL"
	CodeInvalidPassword   Code = "INVALID_PASSWORD"
	CodeMalformedDuration Code = "MALFORMED_DURATION"
	CodePasswordRequired  Code = "PASSWORD_REQUIRED"

	// Credential errors
	CodeInvalidCredentials     Code = "INVALID_CREDENTIALS"
	CodeInvalidCurrentPassword Code = "INVALID_CURRENT_PASSWORD"
	CodeInvalidRefreshToken    Code = "INVALID_REFRESH_TOKEN"
	CodeInvalidResetToken      Code = "INVALID_OR_EXPIRED_TOKEN"
	CodeMissingToken           Code = "MISSING_TOKEN"
	CodeTokenExpired           Code = "TOKEN_EXPIRED"
	CodeInvalidToken           Code = "INVALID_TOKEN"

	// Authorization errors
	CodeAccountDeactivated Code = "ACCOUNT_DEACTIVATED"
	CodeUserInactive       Code = "USER_INACTIVE"

	// Not-found errors
	CodeNotFound     Code = "NOT_FOUND"
	CodeUserNotFound Code = "USER_NOT_FOUND"

	// Conflict errors
	CodeEmailExists Code = "EMAIL_EXISTS"

	// Rate-limit errors
	CodeRateLimited Code = "RATE_LIMITED"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	// Bad request - validation failures, bad input
	case CodeMissingFields,
		CodeInvalidEmail,
		CodeInvalidPassword,
		CodeMalformedDuration,
		CodePasswordRequired,
		CodeInvalidResetToken,
		CodeInvalidCurrentPassword:
		return http.StatusBadRequest

	// Unauthorized - bad login, refresh, or bearer credentials
	case CodeInvalidCredentials,
		CodeInvalidRefreshToken,
		CodeMissingToken,
		CodeTokenExpired,
		CodeInvalidToken,
		CodeUserInactive:
		return http.StatusUnauthorized

	// Forbidden - account state disallows the operation
	case CodeAccountDeactivated:
		return http.StatusForbidden

	// NotFound - resource doesn't exist
	case CodeNotFound,
		CodeUserNotFound:
		return http.StatusNotFound

	// Conflict - unique resource constraint
	case CodeEmailExists:
		return http.StatusConflict

	case CodeRateLimited:
		return http.StatusTooManyRequests

	default:
		return http.StatusInternalServerError
	}
}
