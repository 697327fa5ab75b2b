package server

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/webfold/oauth-provider/internal/util"
	"github.com/webfold/oauth-provider/security"
	"github.com/webfold/oauth-provider/storage"
)

// PKCE validation constants (RFC 7636).
const (
	MinCodeVerifierLength = 43
	MaxCodeVerifierLength = 128
	PKCEMethodS256        = "S256"
	PKCEMethodPlain       = "plain"
)

// Response and grant type identifiers.
const (
	ResponseTypeCode = "code"

	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
	GrantTypeClientCredentials = "client_credentials"
)

// AuthorizationRequest carries the parameters of an authorization request
// after transport-level decoding. Values are passed through exactly as
// received; in particular State is opaque and echoed byte for byte.
type AuthorizationRequest struct {
	ClientID            string
	RedirectURI         string
	ResponseType        string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// ValidateAuthorizationRequest validates an authorization request against
// the client registration and server policy. On success the resolved client
// is returned; on failure a *Error with a generic wire description and a
// detailed internal Reason.
//
// Client and redirect URI validation failures return a nil client and must
// NOT be reported by redirecting (RFC 6749 section 4.1.2.1): callers render
// those errors directly. When the error is accompanied by a non-nil client,
// the redirect URI has already been validated and the error may be
// delivered to it.
func (s *Server) ValidateAuthorizationRequest(ctx context.Context, req *AuthorizationRequest) (*storage.Client, *Error) {
	if req.ClientID == "" {
		return nil, ErrInvalidRequest("missing client_id")
	}

	client, err := s.clientStore.GetClient(ctx, req.ClientID)
	if err != nil {
		s.auditAuthFailure(req.ClientID, "unknown_client")
		return nil, ErrInvalidRequest("invalid client_id").WithReason("client not found")
	}

	if err := s.validateRedirectURI(client, req.RedirectURI); err != nil {
		s.auditInvalidRedirect(req.ClientID, req.RedirectURI, err)
		return nil, ErrInvalidRequest("invalid redirect_uri").WithReason(err.Error())
	}

	// From here on errors may be reported via redirect; the URI is known
	// good for this client.

	if req.ResponseType != ResponseTypeCode {
		return client, ErrUnsupportedResponseType("unsupported response_type").
			WithReason(fmt.Sprintf("response_type %q", req.ResponseType))
	}
	if !client.AllowsResponseType(req.ResponseType) {
		return client, ErrUnauthorizedClient("client is not authorized for this response type").
			WithReason(fmt.Sprintf("response_type %q not registered", req.ResponseType))
	}

	if err := s.validateStateParameter(req.State); err != nil {
		return client, ErrInvalidRequest("invalid state parameter").WithReason(err.Error())
	}

	if err := s.validateScopes(req.Scope); err != nil {
		return client, ErrInvalidScope("requested scope is not supported").WithReason(err.Error())
	}
	if err := s.validateClientScopes(req.Scope, client.Scopes); err != nil {
		s.auditScopeEscalation(req.ClientID, req.Scope)
		return client, ErrInvalidScope("requested scope is not allowed for this client").WithReason(err.Error())
	}

	if err := s.validateCodeChallenge(req.CodeChallenge, req.CodeChallengeMethod); err != nil {
		return client, ErrInvalidRequest("invalid PKCE parameters").WithReason(err.Error())
	}

	return client, nil
}

// validateRedirectURI checks that a redirect URI is registered for the
// client (exact string comparison, so a trailing slash difference fails)
// and uses an acceptable scheme.
func (s *Server) validateRedirectURI(client *storage.Client, redirectURI string) error {
	if redirectURI == "" {
		return fmt.Errorf("missing redirect_uri")
	}

	found := false
	for _, uri := range client.RedirectURIs {
		if uri == redirectURI {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("redirect URI not registered for client")
	}

	return s.validateRedirectURIScheme(redirectURI)
}

// validateRedirectURIScheme enforces the scheme allow-list. Loopback http
// is always permitted for native-app development per RFC 8252 section 7.3.
func (s *Server) validateRedirectURIScheme(redirectURI string) error {
	parsed, err := url.Parse(redirectURI)
	if err != nil {
		return fmt.Errorf("invalid redirect_uri format: %w", err)
	}

	// RFC 6749 section 3.1.2: the redirect URI must be absolute and must
	// not contain a fragment.
	if parsed.Fragment != "" || parsed.Scheme == "" {
		return fmt.Errorf("redirect_uri must be absolute and fragment-free")
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme == "http" && util.IsLoopbackHostname(parsed.Hostname()) {
		return nil
	}

	for _, allowed := range s.Config.AllowedRedirectSchemes {
		if scheme == strings.ToLower(allowed) {
			return nil
		}
	}
	return fmt.Errorf("redirect_uri scheme %q is not allowed", scheme)
}

// validateStateParameter enforces presence and minimum length of the state
// parameter. Short state values make CSRF tokens brute-forceable.
func (s *Server) validateStateParameter(state string) error {
	if state == "" {
		return fmt.Errorf("state parameter is required for CSRF protection")
	}
	if len(state) < s.Config.MinStateLength {
		return fmt.Errorf("state parameter must be at least %d characters", s.Config.MinStateLength)
	}
	return nil
}

// validateScopes validates requested scopes against the server-wide
// supported set. An empty configured set allows everything.
func (s *Server) validateScopes(scope string) error {
	if len(s.Config.SupportedScopes) == 0 || scope == "" {
		return nil
	}

	for _, reqScope := range strings.Fields(scope) {
		found := false
		for _, supported := range s.Config.SupportedScopes {
			if reqScope == supported {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("unsupported scope: %s", reqScope)
		}
	}
	return nil
}

// validateClientScopes validates requested scopes against the client's
// registered allow-list. Empty client scopes means no client-level
// restriction. The error stays generic so clients cannot enumerate which
// scopes exist.
func (s *Server) validateClientScopes(requestedScope string, clientScopes []string) error {
	if len(clientScopes) == 0 || requestedScope == "" {
		return nil
	}

	for _, reqScope := range strings.Fields(requestedScope) {
		found := false
		for _, allowed := range clientScopes {
			if reqScope == allowed {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("client is not authorized for one or more requested scopes")
		}
	}
	return nil
}

// validateCodeChallenge checks PKCE parameters at authorization time: the
// challenge/method pairing, method support, and challenge shape.
func (s *Server) validateCodeChallenge(challenge, method string) error {
	if challenge == "" {
		if s.Config.RequirePKCE {
			return fmt.Errorf("code_challenge is required")
		}
		if method != "" {
			return fmt.Errorf("code_challenge_method without code_challenge")
		}
		return nil
	}

	if method == "" {
		return fmt.Errorf("code_challenge_method is required when code_challenge is present")
	}

	switch method {
	case PKCEMethodS256:
		// A S256 challenge is the base64url encoding of a SHA-256 digest,
		// always 43 characters.
		if len(challenge) != 43 {
			return fmt.Errorf("S256 code_challenge must be 43 characters")
		}
	case PKCEMethodPlain:
		if !s.Config.AllowPlainPKCE {
			return fmt.Errorf("'plain' code_challenge_method is not allowed")
		}
		if len(challenge) < MinCodeVerifierLength || len(challenge) > MaxCodeVerifierLength {
			return fmt.Errorf("plain code_challenge must be %d-%d characters", MinCodeVerifierLength, MaxCodeVerifierLength)
		}
	default:
		return fmt.Errorf("unsupported code_challenge_method: %s", method)
	}

	return nil
}

// validatePKCE validates the code verifier against the stored challenge per
// RFC 7636. Called at exchange time.
func (s *Server) validatePKCE(challenge, method, verifier string) error {
	if challenge == "" {
		// Flow was started without PKCE.
		if verifier != "" {
			return fmt.Errorf("code_verifier provided but no code_challenge was registered")
		}
		return nil
	}

	if verifier == "" {
		return fmt.Errorf("code_verifier is required")
	}

	if len(verifier) < MinCodeVerifierLength || len(verifier) > MaxCodeVerifierLength {
		return fmt.Errorf("code_verifier must be %d-%d characters (RFC 7636)", MinCodeVerifierLength, MaxCodeVerifierLength)
	}

	// RFC 7636 section 4.1: unreserved characters only. Rejecting anything
	// else also keeps control bytes out of logs and storage keys.
	for _, ch := range verifier {
		isValid := (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') ||
			ch == '-' || ch == '.' || ch == '_' || ch == '~'
		if !isValid {
			return fmt.Errorf("code_verifier contains invalid characters (must be [A-Za-z0-9-._~])")
		}
	}

	var computedChallenge string
	switch method {
	case PKCEMethodS256:
		hash := sha256.Sum256([]byte(verifier))
		computedChallenge = base64.RawURLEncoding.EncodeToString(hash[:])
	case PKCEMethodPlain:
		if !s.Config.AllowPlainPKCE {
			return fmt.Errorf("'plain' code_challenge_method is not allowed")
		}
		computedChallenge = verifier
	default:
		return fmt.Errorf("unsupported code_challenge_method: %s", method)
	}

	// Constant-time comparison to deny timing side channels.
	if subtle.ConstantTimeCompare([]byte(computedChallenge), []byte(challenge)) != 1 {
		return fmt.Errorf("code_verifier does not match code_challenge")
	}

	return nil
}

// scopeIsSubset reports whether every scope in requested appears in granted.
// Both are space-separated scope strings.
func scopeIsSubset(requested, granted string) bool {
	grantedSet := make(map[string]struct{})
	for _, g := range strings.Fields(granted) {
		grantedSet[g] = struct{}{}
	}
	for _, r := range strings.Fields(requested) {
		if _, ok := grantedSet[r]; !ok {
			return false
		}
	}
	return true
}

// audit helpers; nil-safe around the optional auditor.

func (s *Server) auditAuthFailure(clientID, reason string) {
	if s.Auditor != nil {
		s.Auditor.LogAuthFailure(clientID, "", reason)
	}
}

func (s *Server) auditInvalidRedirect(clientID, redirectURI string, err error) {
	if s.Auditor != nil {
		s.Auditor.LogEvent(security.Event{
			Type:     security.EventInvalidRedirect,
			ClientID: clientID,
			Details: map[string]any{
				"redirect_uri": redirectURI,
				"reason":       err.Error(),
			},
		})
	}
}

func (s *Server) auditScopeEscalation(clientID, scope string) {
	if s.Auditor != nil {
		s.Auditor.LogEvent(security.Event{
			Type:     security.EventScopeEscalationAttempt,
			ClientID: clientID,
			Details: map[string]any{
				"requested_scope": scope,
			},
		})
	}
}
