package storage

import "errors"

// Sentinel errors returned by store implementations. The core matches these
// with errors.Is to map persistence outcomes onto OAuth denial codes without
// leaking which sub-check failed to the wire.
var (
	// ErrClientNotFound indicates the client ID is not registered
	ErrClientNotFound = errors.New("client not found")

	// ErrInvalidClientSecret indicates the presented secret does not match
	ErrInvalidClientSecret = errors.New("invalid client secret")

	// ErrAuthorizationCodeNotFound indicates the code is unknown (or was
	// already deleted)
	ErrAuthorizationCodeNotFound = errors.New("authorization code not found")

	// ErrAuthorizationCodeConsumed indicates the code was already exchanged
	// once; a second consumer observing this is a replay
	ErrAuthorizationCodeConsumed = errors.New("authorization code already consumed")

	// ErrAccessTokenNotFound indicates the access token is unknown or revoked
	ErrAccessTokenNotFound = errors.New("access token not found")

	// ErrRefreshTokenNotFound indicates the refresh token is unknown or
	// revoked
	ErrRefreshTokenNotFound = errors.New("refresh token not found")

	// ErrRefreshTokenConsumed indicates the refresh token was already
	// rotated away; a second consumer observing this is a reuse
	ErrRefreshTokenConsumed = errors.New("refresh token already consumed")

	// ErrTokenExpired indicates a code or token exists but is past expiry
	ErrTokenExpired = errors.New("token expired")
)
