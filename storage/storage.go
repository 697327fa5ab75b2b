// Package storage defines the persistence contracts consumed by the OAuth
// core: the client registry, the authorization-code store, and the token
// store. It supports various backend implementations including in-memory and
// Valkey/Redis.
package storage

import (
	"context"
	"time"
)

// Client type constants.
const (
	ClientTypeConfidential = "confidential"
	ClientTypePublic       = "public"
)

// ClientStore is the client registry: lookup and lifecycle of registered
// OAuth clients. Client creation and deletion are driven by an external
// management surface; the core only reads.
// All methods accept context.Context for tracing and cancellation.
type ClientStore interface {
	// SaveClient saves a registered client
	SaveClient(ctx context.Context, client *Client) error

	// GetClient retrieves a client by ID
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// DeleteClient removes a client registration
	DeleteClient(ctx context.Context, clientID string) error

	// ValidateClientSecret validates a client's secret against the stored
	// hash. The comparison MUST be constant time.
	ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error

	// ListClients lists all registered clients (for admin purposes)
	ListClients(ctx context.Context) ([]*Client, error)
}

// FlowStore manages issued authorization codes.
//
// Codes are single-use. Consumption MUST be implemented as an atomic
// check-and-mark so that exactly one of any number of concurrent exchange
// attempts succeeds; this is the one place grant correctness depends on the
// store's consistency guarantee, so it is a contractual requirement here
// rather than an implementation detail.
// All methods accept context.Context for tracing and cancellation.
type FlowStore interface {
	// SaveAuthorizationCode saves an issued authorization code
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// GetAuthorizationCode retrieves an authorization code without
	// consuming it (introspection and tests only; exchanges must use
	// AtomicConsumeAuthorizationCode).
	GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// AtomicConsumeAuthorizationCode atomically checks that a code is
	// unconsumed and marks it consumed. Returns the code record on success.
	// Error cases:
	//   - ErrAuthorizationCodeNotFound: unknown code (nil record)
	//   - ErrTokenExpired: code past its expiry (nil record)
	//   - ErrAuthorizationCodeConsumed: replay; the record IS returned so
	//     the caller can revoke everything minted from it.
	AtomicConsumeAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// DeleteAuthorizationCode removes an authorization code
	DeleteAuthorizationCode(ctx context.Context, code string) error
}

// TokenStore manages issued access and refresh tokens.
//
// Refresh-token consumption has the same atomicity requirement as code
// consumption: AtomicConsumeRefreshToken must admit exactly one concurrent
// winner to make rotation-replay detection deterministic.
// All methods accept context.Context for tracing and cancellation.
type TokenStore interface {
	// SaveAccessToken persists an issued access token
	SaveAccessToken(ctx context.Context, token *AccessToken) error

	// GetAccessToken retrieves an access token, failing with
	// ErrTokenExpired when past expiry (lazy expiry enforcement).
	GetAccessToken(ctx context.Context, token string) (*AccessToken, error)

	// RevokeAccessToken removes an access token. Revoking an unknown token
	// is not an error (RFC 7009 semantics).
	RevokeAccessToken(ctx context.Context, token string) error

	// SaveRefreshToken persists an issued refresh token
	SaveRefreshToken(ctx context.Context, token *RefreshToken) error

	// GetRefreshToken retrieves a refresh token without consuming it
	GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error)

	// AtomicConsumeRefreshToken atomically checks that a refresh token is
	// unconsumed and marks it consumed, mirroring code consumption.
	// Consumed tokens are retained until expiry so that reuse of a rotated
	// token is distinguishable from an unknown one. Error cases:
	//   - ErrRefreshTokenNotFound: unknown token (nil record)
	//   - ErrTokenExpired: token past its expiry (nil record)
	//   - ErrRefreshTokenConsumed: reuse after rotation; the record IS
	//     returned so the caller can revoke everything tied to it.
	AtomicConsumeRefreshToken(ctx context.Context, token string) (*RefreshToken, error)

	// RevokeRefreshToken removes a refresh token. Unknown tokens are not an
	// error.
	RevokeRefreshToken(ctx context.Context, token string) error

	// RevokeAllForUserClient revokes every access and refresh token bound
	// to the given user+client pair. Called when code or refresh replay is
	// detected. Returns the number of tokens revoked.
	RevokeAllForUserClient(ctx context.Context, userID, clientID string) (int, error)
}

// Client is a registered OAuth client.
type Client struct {
	ID            string
	SecretHash    string // bcrypt hash; empty for public clients
	Type          string // "confidential" or "public"
	RedirectURIs  []string
	GrantTypes    []string
	ResponseTypes []string
	Scopes        []string // allowed scopes; empty means server defaults apply
	Name          string
	OwnerID       string // resource owner that owns this registration
	CreatedAt     time.Time
}

// IsPublic reports whether the client is a public (secretless) client.
func (c *Client) IsPublic() bool {
	return c.Type == ClientTypePublic
}

// AllowsGrantType reports whether the client may use the given grant type.
func (c *Client) AllowsGrantType(grantType string) bool {
	for _, gt := range c.GrantTypes {
		if gt == grantType {
			return true
		}
	}
	return false
}

// AllowsResponseType reports whether the client may use the given
// authorization response type.
func (c *Client) AllowsResponseType(responseType string) bool {
	for _, rt := range c.ResponseTypes {
		if rt == responseType {
			return true
		}
	}
	return false
}

// AuthorizationCode is an issued, single-use authorization code bound to the
// client, resource owner, scope, and redirect URI it was granted for.
type AuthorizationCode struct {
	Code                string
	ClientID            string
	UserID              string
	RedirectURI         string // exact URI the code was issued for
	Scope               string // space-separated, authoritative for exchange
	CodeChallenge       string // PKCE challenge, empty when not used
	CodeChallengeMethod string // "S256" or "plain"
	CreatedAt           time.Time
	ExpiresAt           time.Time
	Consumed            bool
}

// AccessToken is an issued opaque access token.
type AccessToken struct {
	Token        string
	ClientID     string
	UserID       string // empty for client-credentials grants
	Scope        string
	RefreshToken string // refresh token minted alongside, if any
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// RefreshToken is an issued opaque refresh token. AccessToken records the
// most recent access token minted from it so revocation can cascade.
type RefreshToken struct {
	Token       string
	ClientID    string
	UserID      string
	Scope       string
	AccessToken string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Consumed    bool
}
