package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/webfold/oauth-provider/security"
	"github.com/webfold/oauth-provider/storage"
)

// TokenGrant is the result of a successful token-endpoint grant.
type TokenGrant struct {
	AccessToken  string
	TokenType    string // always "Bearer"
	ExpiresIn    int64  // seconds
	RefreshToken string // empty when no refresh token was minted
	Scope        string // space-separated granted scope
}

// Introspection is the result of a token introspection (RFC 7662).
type Introspection struct {
	Active    bool
	Scope     string
	ClientID  string
	UserID    string
	TokenType string // "access_token" or "refresh_token"
	ExpiresAt time.Time
	IssuedAt  time.Time
}

// Authorize validates an authorization request and issues an authorization
// code bound to the authenticated resource owner. The host application
// authenticates the user and obtains consent before calling this; userID is
// its verdict. The caller redirects to req.RedirectURI with the returned
// code and the request's state echoed byte for byte.
func (s *Server) Authorize(ctx context.Context, req *AuthorizationRequest, userID string) (string, error) {
	if userID == "" {
		return "", ErrAccessDenied("authorization denied").WithReason("no authenticated user")
	}

	client, verr := s.ValidateAuthorizationRequest(ctx, req)
	if verr != nil {
		return "", verr
	}

	if !client.AllowsGrantType(GrantTypeAuthorizationCode) {
		return "", ErrUnauthorizedClient("client is not authorized for this grant type").
			WithReason("authorization_code grant not registered")
	}

	code := generateRandomToken()
	now := time.Now()

	authCode := &storage.AuthorizationCode{
		Code:                code,
		ClientID:            client.ID,
		UserID:              userID,
		RedirectURI:         req.RedirectURI,
		Scope:               req.Scope,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		CreatedAt:           now,
		ExpiresAt:           now.Add(time.Duration(s.Config.AuthorizationCodeTTL) * time.Second),
	}
	if err := s.flowStore.SaveAuthorizationCode(ctx, authCode); err != nil {
		return "", ErrServerError("failed to issue authorization code").WithReason(err.Error())
	}

	if m := s.metrics(); m != nil {
		m.RecordCodeIssued(ctx, client.ID)
	}
	if s.Auditor != nil {
		s.Auditor.LogEvent(security.Event{
			Type:     security.EventAuthorizationCodeIssued,
			UserID:   userID,
			ClientID: client.ID,
			Details: map[string]any{
				"scope":                 req.Scope,
				"code_challenge_method": req.CodeChallengeMethod,
			},
		})
	}

	return code, nil
}

// ExchangeAuthorizationCode exchanges an authorization code for tokens. The
// client has already been authenticated by the transport layer; code
// consumption is atomic, so of any number of concurrent exchanges of the
// same code exactly one mints tokens.
//
// A scope parameter on the exchange request is deliberately not accepted:
// per RFC 6749 section 4.1.3 the code's scope is authoritative.
func (s *Server) ExchangeAuthorizationCode(ctx context.Context, client *storage.Client, code, redirectURI, codeVerifier string) (*TokenGrant, error) {
	if !client.AllowsGrantType(GrantTypeAuthorizationCode) {
		return nil, ErrUnauthorizedClient("client is not authorized for this grant type").
			WithReason("authorization_code grant not registered")
	}

	authCode, err := s.flowStore.AtomicConsumeAuthorizationCode(ctx, code)
	if err != nil {
		if errors.Is(err, storage.ErrAuthorizationCodeConsumed) && authCode != nil {
			// Replay of a consumed code indicates the code leaked. Revoke
			// everything minted for this user+client (OAuth 2.1 section
			// 4.1.2 behavior) before denying.
			s.handleCodeReplay(ctx, authCode, client.ID)
			return nil, ErrInvalidGrant("invalid grant").WithReason("authorization code replay")
		}

		if errors.Is(err, storage.ErrAuthorizationCodeNotFound) || errors.Is(err, storage.ErrTokenExpired) {
			s.Logger.Debug("authorization code validation failed",
				"reason", err.Error(),
				"client_id", client.ID,
				"code_prefix", safeTruncate(code, 8))
			s.auditAuthFailure(client.ID, "invalid_authorization_code")
			return nil, ErrInvalidGrant("invalid grant").WithReason(err.Error())
		}

		return nil, ErrServerError("failed to process grant").WithReason(err.Error())
	}

	// Code is marked consumed; no concurrent request can reach this point
	// with the same code.

	if authCode.ClientID != client.ID {
		s.Logger.Debug("authorization code validation failed",
			"reason", "client_id_mismatch",
			"expected_client_id", authCode.ClientID,
			"provided_client_id", client.ID,
			"code_prefix", safeTruncate(code, 8))
		s.auditAuthFailure(client.ID, "client_id_mismatch")
		return nil, ErrInvalidGrant("invalid grant").WithReason("code issued to a different client")
	}

	// Exact string comparison: a trailing slash difference fails.
	if authCode.RedirectURI != redirectURI {
		s.Logger.Debug("authorization code validation failed",
			"reason", "redirect_uri_mismatch",
			"expected_uri", authCode.RedirectURI,
			"provided_uri", redirectURI,
			"client_id", client.ID,
			"code_prefix", safeTruncate(code, 8))
		s.auditAuthFailure(client.ID, "redirect_uri_mismatch")
		return nil, ErrInvalidGrant("invalid grant").WithReason("redirect_uri mismatch")
	}

	if err := s.validatePKCE(authCode.CodeChallenge, authCode.CodeChallengeMethod, codeVerifier); err != nil {
		if m := s.metrics(); m != nil {
			m.RecordPKCEValidationFailed(ctx, authCode.CodeChallengeMethod)
		}
		if s.Auditor != nil {
			s.Auditor.LogEvent(security.Event{
				Type:     security.EventPKCEValidationFailed,
				UserID:   authCode.UserID,
				ClientID: client.ID,
				Details: map[string]any{
					"reason": err.Error(),
				},
			})
		}
		return nil, ErrInvalidGrant("invalid grant").WithReason(fmt.Sprintf("PKCE validation failed: %v", err))
	}

	// A refresh token is minted only for clients registered for the
	// refresh_token grant.
	var grant *TokenGrant
	if client.AllowsGrantType(GrantTypeRefreshToken) {
		grant, err = s.mintTokens(ctx, client, authCode.UserID, authCode.Scope, GrantTypeAuthorizationCode)
	} else {
		grant, err = s.mintAccessTokenOnly(ctx, client, authCode.UserID, authCode.Scope, GrantTypeAuthorizationCode)
	}
	if err != nil {
		return nil, err
	}

	// The consumed code stays in the store until its TTL so a replay is
	// detectable; the store's cleanup reclaims it later.

	return grant, nil
}

// handleCodeReplay revokes all outstanding tokens for the user+client a
// replayed code was bound to, and records the event.
func (s *Server) handleCodeReplay(ctx context.Context, authCode *storage.AuthorizationCode, clientID string) {
	s.Logger.Error("authorization code replay detected, revoking all grants",
		"user_id_prefix", safeTruncate(authCode.UserID, 8),
		"client_id", clientID,
		"code_prefix", safeTruncate(authCode.Code, 8))

	revoked, err := s.tokenStore.RevokeAllForUserClient(ctx, authCode.UserID, authCode.ClientID)
	if err != nil {
		s.Logger.Error("failed to revoke grants after code replay", "error", err)
	}

	if m := s.metrics(); m != nil {
		m.RecordCodeReplayDetected(ctx)
	}
	if s.Auditor != nil {
		s.Auditor.LogCodeReplay(authCode.UserID, clientID, "", revoked)
	}
}

// RefreshAccessToken redeems a refresh token for a fresh access token.
// With rotation enabled (the default) the refresh token is consumed and a
// new one minted; presenting an already-rotated token revokes every grant
// for the user+client pair. requestedScope may narrow the original grant's
// scope; asking for more fails with invalid_scope.
func (s *Server) RefreshAccessToken(ctx context.Context, client *storage.Client, refreshToken, requestedScope string) (*TokenGrant, error) {
	if !client.AllowsGrantType(GrantTypeRefreshToken) {
		return nil, ErrUnauthorizedClient("client is not authorized for this grant type").
			WithReason("refresh_token grant not registered")
	}

	var (
		record *storage.RefreshToken
		err    error
	)
	if s.Config.RefreshTokenRotation {
		record, err = s.tokenStore.AtomicConsumeRefreshToken(ctx, refreshToken)
	} else {
		record, err = s.tokenStore.GetRefreshToken(ctx, refreshToken)
	}

	if err != nil {
		if errors.Is(err, storage.ErrRefreshTokenConsumed) && record != nil {
			s.handleRefreshReuse(ctx, record, client.ID)
			return nil, ErrInvalidGrant("invalid grant").WithReason("refresh token reuse")
		}

		s.Logger.Debug("refresh token validation failed",
			"reason", err.Error(),
			"client_id", client.ID,
			"token_prefix", safeTruncate(refreshToken, 8))
		s.auditAuthFailure(client.ID, "invalid_refresh_token")

		if errors.Is(err, storage.ErrRefreshTokenNotFound) || errors.Is(err, storage.ErrTokenExpired) {
			return nil, ErrInvalidGrant("invalid grant").WithReason(err.Error())
		}
		return nil, ErrServerError("failed to process grant").WithReason(err.Error())
	}

	if record.ClientID != client.ID {
		s.auditAuthFailure(client.ID, "refresh_token_client_mismatch")
		return nil, ErrInvalidGrant("invalid grant").WithReason("refresh token issued to a different client")
	}

	// Scope may narrow, never widen (RFC 6749 section 6). Empty keeps the
	// original grant's scope.
	grantScope := record.Scope
	if requestedScope != "" {
		if !scopeIsSubset(requestedScope, record.Scope) {
			s.auditScopeEscalation(client.ID, requestedScope)
			return nil, ErrInvalidScope("requested scope exceeds the original grant").
				WithReason(fmt.Sprintf("requested %q, granted %q", requestedScope, record.Scope))
		}
		grantScope = requestedScope
	}

	// The access token the old refresh token was paired with is dead
	// either way.
	if record.AccessToken != "" {
		if err := s.tokenStore.RevokeAccessToken(ctx, record.AccessToken); err != nil {
			s.Logger.Warn("failed to revoke superseded access token", "error", err)
		}
	}

	var grant *TokenGrant
	if s.Config.RefreshTokenRotation {
		grant, err = s.mintTokens(ctx, client, record.UserID, grantScope, GrantTypeRefreshToken)
	} else {
		grant, err = s.mintAccessTokenOnly(ctx, client, record.UserID, grantScope, GrantTypeRefreshToken)
		if err == nil {
			// Keep the surviving refresh token paired with its newest
			// access token so revocation still cascades.
			record.AccessToken = grant.AccessToken
			if saveErr := s.tokenStore.SaveRefreshToken(ctx, record); saveErr != nil {
				s.Logger.Warn("failed to update refresh token pairing", "error", saveErr)
			}
			grant.RefreshToken = refreshToken
		}
	}
	if err != nil {
		return nil, err
	}

	if s.Auditor != nil {
		s.Auditor.LogTokenRefreshed(record.UserID, client.ID, "", s.Config.RefreshTokenRotation)
	}

	return grant, nil
}

// handleRefreshReuse revokes every grant for the user+client pair after a
// rotated refresh token was presented again.
func (s *Server) handleRefreshReuse(ctx context.Context, record *storage.RefreshToken, clientID string) {
	s.Logger.Error("refresh token reuse detected, revoking all grants",
		"user_id_prefix", safeTruncate(record.UserID, 8),
		"client_id", clientID,
		"token_prefix", safeTruncate(record.Token, 8))

	revoked, err := s.tokenStore.RevokeAllForUserClient(ctx, record.UserID, record.ClientID)
	if err != nil {
		s.Logger.Error("failed to revoke grants after refresh reuse", "error", err)
	}

	if m := s.metrics(); m != nil {
		m.RecordRefreshReuseDetected(ctx)
	}
	if s.Auditor != nil {
		s.Auditor.LogRefreshReuse(record.UserID, clientID, "", revoked)
	}
}

// ClientCredentialsGrant issues an access token to a confidential client
// acting on its own behalf. No refresh token is minted (RFC 6749 section
// 4.4.3) and the token carries no resource owner.
func (s *Server) ClientCredentialsGrant(ctx context.Context, client *storage.Client, requestedScope string) (*TokenGrant, error) {
	if client.IsPublic() {
		s.auditAuthFailure(client.ID, "client_credentials_public_client")
		return nil, ErrUnauthorizedClient("public clients may not use this grant type").
			WithReason("client_credentials requested by public client")
	}
	if !client.AllowsGrantType(GrantTypeClientCredentials) {
		return nil, ErrUnauthorizedClient("client is not authorized for this grant type").
			WithReason("client_credentials grant not registered")
	}

	scope := requestedScope
	if scope == "" {
		scope = strings.Join(client.Scopes, " ")
	} else {
		if err := s.validateScopes(scope); err != nil {
			return nil, ErrInvalidScope("requested scope is not supported").WithReason(err.Error())
		}
		if err := s.validateClientScopes(scope, client.Scopes); err != nil {
			s.auditScopeEscalation(client.ID, scope)
			return nil, ErrInvalidScope("requested scope is not allowed for this client").WithReason(err.Error())
		}
	}

	return s.mintAccessTokenOnly(ctx, client, "", scope, GrantTypeClientCredentials)
}

// RevokeToken revokes a token per RFC 7009. The token type is discovered
// regardless of the hint; the hint only orders the lookups. Revoking an
// unknown token, or one bound to another client, succeeds silently so the
// endpoint leaks nothing about token existence.
func (s *Server) RevokeToken(ctx context.Context, client *storage.Client, token, tokenTypeHint string) error {
	order := []string{"access_token", "refresh_token"}
	if tokenTypeHint == "refresh_token" {
		order = []string{"refresh_token", "access_token"}
	}

	for _, kind := range order {
		switch kind {
		case "access_token":
			if record, err := s.tokenStore.GetAccessToken(ctx, token); err == nil {
				if record.ClientID != client.ID {
					return nil
				}
				if err := s.tokenStore.RevokeAccessToken(ctx, token); err != nil {
					return ErrServerError("revocation failed").WithReason(err.Error())
				}
				// Cascade to the paired refresh token so the grant dies
				// whole.
				if record.RefreshToken != "" {
					if err := s.tokenStore.RevokeRefreshToken(ctx, record.RefreshToken); err != nil {
						s.Logger.Warn("failed to revoke paired refresh token", "error", err)
					}
				}
				s.recordRevocation(ctx, record.UserID, client.ID, "access_token")
				return nil
			}
		case "refresh_token":
			if record, err := s.tokenStore.GetRefreshToken(ctx, token); err == nil {
				if record.ClientID != client.ID {
					return nil
				}
				if err := s.tokenStore.RevokeRefreshToken(ctx, token); err != nil {
					return ErrServerError("revocation failed").WithReason(err.Error())
				}
				if record.AccessToken != "" {
					if err := s.tokenStore.RevokeAccessToken(ctx, record.AccessToken); err != nil {
						s.Logger.Warn("failed to revoke paired access token", "error", err)
					}
				}
				s.recordRevocation(ctx, record.UserID, client.ID, "refresh_token")
				return nil
			}
		}
	}

	// Unknown token: still a success per RFC 7009 section 2.2.
	return nil
}

func (s *Server) recordRevocation(ctx context.Context, userID, clientID, tokenType string) {
	if m := s.metrics(); m != nil {
		m.RecordTokenRevocation(ctx, clientID, tokenType)
	}
	if s.Auditor != nil {
		s.Auditor.LogTokenRevoked(userID, clientID, "", tokenType)
	}
}

// IntrospectToken reports the state of a token per RFC 7662. Tokens that
// are unknown, expired, or bound to a different client all come back as
// inactive; the distinction is never revealed to the caller.
func (s *Server) IntrospectToken(ctx context.Context, client *storage.Client, token, tokenTypeHint string) (*Introspection, error) {
	inactive := &Introspection{Active: false}

	order := []string{"access_token", "refresh_token"}
	if tokenTypeHint == "refresh_token" {
		order = []string{"refresh_token", "access_token"}
	}

	var result *Introspection
	for _, kind := range order {
		switch kind {
		case "access_token":
			if record, err := s.tokenStore.GetAccessToken(ctx, token); err == nil && record.ClientID == client.ID {
				result = &Introspection{
					Active:    true,
					Scope:     record.Scope,
					ClientID:  record.ClientID,
					UserID:    record.UserID,
					TokenType: "access_token",
					ExpiresAt: record.ExpiresAt,
					IssuedAt:  record.CreatedAt,
				}
			}
		case "refresh_token":
			if record, err := s.tokenStore.GetRefreshToken(ctx, token); err == nil && record.ClientID == client.ID && !record.Consumed {
				result = &Introspection{
					Active:    true,
					Scope:     record.Scope,
					ClientID:  record.ClientID,
					UserID:    record.UserID,
					TokenType: "refresh_token",
					ExpiresAt: record.ExpiresAt,
					IssuedAt:  record.CreatedAt,
				}
			}
		}
		if result != nil {
			break
		}
	}

	if result == nil {
		result = inactive
	}
	if m := s.metrics(); m != nil {
		m.RecordIntrospection(ctx, client.ID, result.Active)
	}
	return result, nil
}

// mintTokens mints an access token plus refresh token for a grant and
// persists both. Issuance is all-or-nothing: if the access token cannot be
// saved the refresh token is removed again so no half-issued grant is
// observable.
func (s *Server) mintTokens(ctx context.Context, client *storage.Client, userID, scope, grantType string) (*TokenGrant, error) {
	now := time.Now()
	accessToken := generateRandomToken()
	refreshToken := generateRandomToken()

	refreshRecord := &storage.RefreshToken{
		Token:       refreshToken,
		ClientID:    client.ID,
		UserID:      userID,
		Scope:       scope,
		AccessToken: accessToken,
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Duration(s.Config.RefreshTokenTTL) * time.Second),
	}
	if err := s.tokenStore.SaveRefreshToken(ctx, refreshRecord); err != nil {
		return nil, ErrServerError("failed to issue tokens").WithReason(err.Error())
	}

	accessRecord := &storage.AccessToken{
		Token:        accessToken,
		ClientID:     client.ID,
		UserID:       userID,
		Scope:        scope,
		RefreshToken: refreshToken,
		CreatedAt:    now,
		ExpiresAt:    now.Add(time.Duration(s.Config.AccessTokenTTL) * time.Second),
	}
	if err := s.tokenStore.SaveAccessToken(ctx, accessRecord); err != nil {
		if rbErr := s.tokenStore.RevokeRefreshToken(ctx, refreshToken); rbErr != nil {
			s.Logger.Error("failed to roll back refresh token after save failure", "error", rbErr)
		}
		return nil, ErrServerError("failed to issue tokens").WithReason(err.Error())
	}

	s.recordGrantIssued(ctx, client.ID, userID, scope, grantType)

	return &TokenGrant{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    s.Config.AccessTokenTTL,
		RefreshToken: refreshToken,
		Scope:        scope,
	}, nil
}

// mintAccessTokenOnly mints and persists an access token with no refresh
// token.
func (s *Server) mintAccessTokenOnly(ctx context.Context, client *storage.Client, userID, scope, grantType string) (*TokenGrant, error) {
	now := time.Now()
	accessToken := generateRandomToken()

	accessRecord := &storage.AccessToken{
		Token:     accessToken,
		ClientID:  client.ID,
		UserID:    userID,
		Scope:     scope,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Duration(s.Config.AccessTokenTTL) * time.Second),
	}
	if err := s.tokenStore.SaveAccessToken(ctx, accessRecord); err != nil {
		return nil, ErrServerError("failed to issue tokens").WithReason(err.Error())
	}

	s.recordGrantIssued(ctx, client.ID, userID, scope, grantType)

	return &TokenGrant{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   s.Config.AccessTokenTTL,
		Scope:       scope,
	}, nil
}

func (s *Server) recordGrantIssued(ctx context.Context, clientID, userID, scope, grantType string) {
	if m := s.metrics(); m != nil {
		m.RecordGrantIssued(ctx, clientID, grantType)
	}
	if s.Auditor != nil {
		s.Auditor.LogTokenIssued(userID, clientID, "", scope, grantType)
	}
}
