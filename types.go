package oauth

// TokenResponse is the JSON body of a successful token endpoint response
// (RFC 6749 section 5.1).
type TokenResponse struct {
	// AccessToken is the issued access token
	AccessToken string `json:"access_token"`

	// TokenType is the token type, always "Bearer"
	TokenType string `json:"token_type"`

	// ExpiresIn is the access token lifetime in seconds
	ExpiresIn int64 `json:"expires_in"`

	// RefreshToken is the refresh token, when one was issued
	RefreshToken string `json:"refresh_token,omitempty"`

	// Scope is the space-separated granted scope
	Scope string `json:"scope,omitempty"`
}

// ErrorResponse is the JSON body of an OAuth error response.
type ErrorResponse struct {
	// Error is the error code
	Error string `json:"error"`

	// ErrorDescription provides additional information
	ErrorDescription string `json:"error_description,omitempty"`

	// ErrorURI points to error documentation
	ErrorURI string `json:"error_uri,omitempty"`
}

// IntrospectionResponse is the JSON body of a token introspection response
// (RFC 7662 section 2.2). Only Active is present for unknown, expired, or
// foreign tokens.
type IntrospectionResponse struct {
	// Active reports whether the token is currently valid
	Active bool `json:"active"`

	// Scope is the space-separated scope of the token
	Scope string `json:"scope,omitempty"`

	// ClientID is the client the token was issued to
	ClientID string `json:"client_id,omitempty"`

	// Sub is the resource owner the token represents
	Sub string `json:"sub,omitempty"`

	// TokenType is "access_token" or "refresh_token"
	TokenType string `json:"token_type,omitempty"`

	// Exp is the expiration time as a Unix timestamp
	Exp int64 `json:"exp,omitempty"`

	// Iat is the issuance time as a Unix timestamp
	Iat int64 `json:"iat,omitempty"`
}

// AuthorizationServerMetadata represents OAuth 2.0 Authorization Server
// Metadata (RFC 8414).
type AuthorizationServerMetadata struct {
	// Issuer is the authorization server's issuer identifier URL
	Issuer string `json:"issuer"`

	// AuthorizationEndpoint is the URL of the authorization endpoint
	AuthorizationEndpoint string `json:"authorization_endpoint"`

	// TokenEndpoint is the URL of the token endpoint
	TokenEndpoint string `json:"token_endpoint"`

	// RegistrationEndpoint is the URL of the dynamic client registration endpoint (RFC 7591)
	RegistrationEndpoint string `json:"registration_endpoint,omitempty"`

	// RevocationEndpoint is the URL of the token revocation endpoint (RFC 7009)
	RevocationEndpoint string `json:"revocation_endpoint,omitempty"`

	// IntrospectionEndpoint is the URL of the token introspection endpoint (RFC 7662)
	IntrospectionEndpoint string `json:"introspection_endpoint,omitempty"`

	// ScopesSupported lists the OAuth scopes supported
	ScopesSupported []string `json:"scopes_supported,omitempty"`

	// ResponseTypesSupported lists the OAuth response types supported
	ResponseTypesSupported []string `json:"response_types_supported"`

	// GrantTypesSupported lists the OAuth grant types supported
	GrantTypesSupported []string `json:"grant_types_supported,omitempty"`

	// TokenEndpointAuthMethodsSupported lists the client authentication methods supported at the token endpoint
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`

	// CodeChallengeMethodsSupported lists the PKCE code challenge methods supported
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported,omitempty"`
}

// ClientRegistrationRequest is the JSON body of a dynamic client
// registration request (RFC 7591).
type ClientRegistrationRequest struct {
	// ClientName is the human-readable name of the client
	ClientName string `json:"client_name"`

	// ClientType is "public" or "confidential" (default: confidential)
	ClientType string `json:"client_type,omitempty"`

	// RedirectURIs is the array of redirection URIs for redirect-based flows
	RedirectURIs []string `json:"redirect_uris"`

	// GrantTypes is the array of grant types the client will use
	GrantTypes []string `json:"grant_types,omitempty"`

	// Scopes is the array of scopes the client may request
	Scopes []string `json:"scopes,omitempty"`
}

// ClientRegistrationResponse is the JSON body of a successful client
// registration response.
type ClientRegistrationResponse struct {
	// ClientID is the unique client identifier
	ClientID string `json:"client_id"`

	// ClientSecret is the client secret (confidential clients only).
	// This is the only time the plaintext secret is available.
	ClientSecret string `json:"client_secret,omitempty"`

	// ClientIDIssuedAt is the time the client_id was issued
	ClientIDIssuedAt int64 `json:"client_id_issued_at,omitempty"`

	// ClientName is the registered client name
	ClientName string `json:"client_name,omitempty"`

	// ClientType is "public" or "confidential"
	ClientType string `json:"client_type,omitempty"`

	// RedirectURIs is the array of registered redirection URIs
	RedirectURIs []string `json:"redirect_uris,omitempty"`

	// GrantTypes is the array of registered grant types
	GrantTypes []string `json:"grant_types,omitempty"`

	// Scopes is the array of registered scopes
	Scopes []string `json:"scopes,omitempty"`
}
