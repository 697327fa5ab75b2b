package server

import (
	"fmt"
	"net/http"
)

// OAuth error codes from RFC 6749 section 5.2 and RFC 7009.
const (
	ErrorCodeInvalidRequest          = "invalid_request"
	ErrorCodeInvalidClient           = "invalid_client"
	ErrorCodeInvalidGrant            = "invalid_grant"
	ErrorCodeInvalidScope            = "invalid_scope"
	ErrorCodeUnauthorizedClient      = "unauthorized_client"
	ErrorCodeUnsupportedGrantType    = "unsupported_grant_type"
	ErrorCodeUnsupportedResponseType = "unsupported_response_type"
	ErrorCodeAccessDenied            = "access_denied"
	ErrorCodeServerError             = "server_error"
)

// Error is an OAuth protocol error. Code and Description form the wire
// response; Status picks the HTTP status. Reason is the detailed internal
// cause for server-side logs and is never serialized, so denials stay
// generic on the wire per RFC 6749 while remaining distinguishable in the
// audit trail.
type Error struct {
	Code        string
	Description string
	Status      int
	Reason      string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// WithReason returns a copy of the error carrying an internal reason.
func (e *Error) WithReason(reason string) *Error {
	clone := *e
	clone.Reason = reason
	return &clone
}

// NewError creates an OAuth error.
func NewError(code, description string, status int) *Error {
	return &Error{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// Constructors for the common denial shapes. Descriptions are deliberately
// generic; pass the specific cause via WithReason for logging.
var (
	// ErrInvalidRequest indicates a malformed request or missing parameter.
	ErrInvalidRequest = func(desc string) *Error {
		return NewError(ErrorCodeInvalidRequest, desc, http.StatusBadRequest)
	}

	// ErrInvalidClient indicates client authentication failed.
	ErrInvalidClient = func(desc string) *Error {
		return NewError(ErrorCodeInvalidClient, desc, http.StatusUnauthorized)
	}

	// ErrInvalidGrant indicates the code or refresh token is invalid,
	// expired, consumed, or bound to different parameters.
	ErrInvalidGrant = func(desc string) *Error {
		return NewError(ErrorCodeInvalidGrant, desc, http.StatusBadRequest)
	}

	// ErrInvalidScope indicates the requested scope exceeds what the grant
	// or client registration allows.
	ErrInvalidScope = func(desc string) *Error {
		return NewError(ErrorCodeInvalidScope, desc, http.StatusBadRequest)
	}

	// ErrUnauthorizedClient indicates the client may not use this grant or
	// response type.
	ErrUnauthorizedClient = func(desc string) *Error {
		return NewError(ErrorCodeUnauthorizedClient, desc, http.StatusBadRequest)
	}

	// ErrUnsupportedGrantType indicates an unknown grant_type value.
	ErrUnsupportedGrantType = func(desc string) *Error {
		return NewError(ErrorCodeUnsupportedGrantType, desc, http.StatusBadRequest)
	}

	// ErrUnsupportedResponseType indicates an unknown response_type value.
	ErrUnsupportedResponseType = func(desc string) *Error {
		return NewError(ErrorCodeUnsupportedResponseType, desc, http.StatusBadRequest)
	}

	// ErrAccessDenied indicates the resource owner or server denied the
	// request.
	ErrAccessDenied = func(desc string) *Error {
		return NewError(ErrorCodeAccessDenied, desc, http.StatusForbidden)
	}

	// ErrServerError indicates an internal failure, typically a storage
	// error. Nothing about the grant state is revealed.
	ErrServerError = func(desc string) *Error {
		return NewError(ErrorCodeServerError, desc, http.StatusInternalServerError)
	}
)

// AsError converts any error into an *Error, mapping unknown errors to a
// generic server_error so internal details never reach the wire.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	if oauthErr, ok := err.(*Error); ok {
		return oauthErr
	}
	return ErrServerError("internal error").WithReason(err.Error())
}
