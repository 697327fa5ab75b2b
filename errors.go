package oauth

import "github.com/webfold/oauth-provider/server"

// Error is re-exported from the server package so that embedders working
// only with the HTTP adapter do not need a second import for error
// inspection.
type Error = server.Error

// OAuth error codes (RFC 6749 section 5.2).
const (
	ErrorCodeInvalidRequest          = server.ErrorCodeInvalidRequest
	ErrorCodeInvalidClient           = server.ErrorCodeInvalidClient
	ErrorCodeInvalidGrant            = server.ErrorCodeInvalidGrant
	ErrorCodeInvalidScope            = server.ErrorCodeInvalidScope
	ErrorCodeUnauthorizedClient      = server.ErrorCodeUnauthorizedClient
	ErrorCodeUnsupportedGrantType    = server.ErrorCodeUnsupportedGrantType
	ErrorCodeUnsupportedResponseType = server.ErrorCodeUnsupportedResponseType
	ErrorCodeAccessDenied            = server.ErrorCodeAccessDenied
	ErrorCodeServerError             = server.ErrorCodeServerError
)

// Error constructors, re-exported for embedders.
var (
	NewError                = server.NewError
	ErrInvalidRequest       = server.ErrInvalidRequest
	ErrInvalidClient        = server.ErrInvalidClient
	ErrInvalidGrant         = server.ErrInvalidGrant
	ErrInvalidScope         = server.ErrInvalidScope
	ErrUnauthorizedClient   = server.ErrUnauthorizedClient
	ErrUnsupportedGrantType = server.ErrUnsupportedGrantType
	ErrAccessDenied         = server.ErrAccessDenied
	ErrServerError          = server.ErrServerError
)
