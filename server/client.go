package server

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/webfold/oauth-provider/internal/util"
	"github.com/webfold/oauth-provider/storage"
)

// ClientRegistration carries the parameters for registering a new OAuth
// client through the management surface.
type ClientRegistration struct {
	Name         string
	Type         string // "confidential" (default) or "public"
	RedirectURIs []string
	GrantTypes   []string // default: authorization_code + refresh_token
	Scopes       []string // allowed scopes; empty means server defaults
	OwnerID      string
}

// RegisterClient registers a new OAuth client and returns the stored record
// plus the generated plaintext secret (empty for public clients). The
// secret is returned exactly once; only its bcrypt hash is stored.
func (s *Server) RegisterClient(ctx context.Context, reg *ClientRegistration) (*storage.Client, string, error) {
	if len(reg.RedirectURIs) == 0 {
		return nil, "", fmt.Errorf("at least one redirect URI is required")
	}
	if err := s.validateRedirectURIsForRegistration(ctx, reg.RedirectURIs); err != nil {
		return nil, "", err
	}

	clientType := reg.Type
	switch clientType {
	case "":
		clientType = storage.ClientTypeConfidential
	case storage.ClientTypeConfidential, storage.ClientTypePublic:
	default:
		return nil, "", fmt.Errorf("invalid client type: %s", clientType)
	}

	grantTypes := reg.GrantTypes
	if len(grantTypes) == 0 {
		grantTypes = []string{GrantTypeAuthorizationCode, GrantTypeRefreshToken}
	}

	clientSecret, secretHash, err := generateClientSecret(clientType)
	if err != nil {
		return nil, "", err
	}

	client := &storage.Client{
		ID:            uuid.NewString(),
		SecretHash:    secretHash,
		Type:          clientType,
		RedirectURIs:  reg.RedirectURIs,
		GrantTypes:    grantTypes,
		ResponseTypes: []string{ResponseTypeCode},
		Scopes:        reg.Scopes,
		Name:          reg.Name,
		OwnerID:       reg.OwnerID,
		CreatedAt:     time.Now(),
	}

	if err := s.clientStore.SaveClient(ctx, client); err != nil {
		return nil, "", fmt.Errorf("failed to save client: %w", err)
	}

	if m := s.metrics(); m != nil {
		m.RecordClientRegistration(ctx, clientType)
	}
	if s.Auditor != nil {
		s.Auditor.LogClientRegistered(client.ID, clientType, "")
	}
	s.Logger.Info("registered OAuth client",
		"client_id", client.ID,
		"client_type", clientType,
		"redirect_uris", len(reg.RedirectURIs))

	return client, clientSecret, nil
}

// GetClient retrieves a registered client.
func (s *Server) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	return s.clientStore.GetClient(ctx, clientID)
}

// AuthenticateClient authenticates a client against the registry.
// Confidential clients must present their secret; public clients must not
// (a public client shipping a "secret" means a misconfigured integration,
// and accepting it would train callers to embed fake credentials).
func (s *Server) AuthenticateClient(ctx context.Context, clientID, clientSecret string) (*storage.Client, *Error) {
	if clientID == "" {
		return nil, ErrInvalidClient("client authentication failed").WithReason("missing client_id")
	}

	client, err := s.clientStore.GetClient(ctx, clientID)
	if err != nil {
		s.auditAuthFailure(clientID, "unknown_client")
		return nil, ErrInvalidClient("client authentication failed").WithReason("client not found")
	}

	if client.IsPublic() {
		if clientSecret != "" {
			s.auditAuthFailure(clientID, "secret_from_public_client")
			return nil, ErrInvalidClient("client authentication failed").
				WithReason("public client presented a client secret")
		}
		return client, nil
	}

	if clientSecret == "" {
		s.auditAuthFailure(clientID, "missing_client_secret")
		return nil, ErrInvalidClient("client authentication failed").WithReason("missing client secret")
	}
	if err := s.clientStore.ValidateClientSecret(ctx, clientID, clientSecret); err != nil {
		s.auditAuthFailure(clientID, "invalid_client_secret")
		return nil, ErrInvalidClient("client authentication failed").WithReason("secret mismatch")
	}

	return client, nil
}

// validateRedirectURIsForRegistration applies registration-time security
// checks beyond the per-request scheme validation: no fragments, no
// dangerous schemes, and no private or link-local IP literals that would
// hand an attacker an SSRF primitive.
func (s *Server) validateRedirectURIsForRegistration(ctx context.Context, redirectURIs []string) error {
	for _, redirectURI := range redirectURIs {
		parsed, err := url.Parse(redirectURI)
		if err != nil {
			return fmt.Errorf("invalid redirect URI %q: %w", redirectURI, err)
		}
		if err := s.validateRedirectURIScheme(redirectURI); err != nil {
			return err
		}

		hostname := parsed.Hostname()
		if ip := net.ParseIP(hostname); ip != nil && !ip.IsLoopback() && util.IsPrivateOrInternal(ip) {
			return fmt.Errorf("redirect URI %q targets a private or internal address", redirectURI)
		}
	}
	return nil
}

// generateClientSecret generates a secret for confidential clients. Public
// clients get none.
func generateClientSecret(clientType string) (string, string, error) {
	if clientType != storage.ClientTypeConfidential {
		return "", "", nil
	}

	clientSecret := generateRandomToken()
	hash, err := bcrypt.GenerateFromPassword([]byte(clientSecret), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("failed to hash client secret: %w", err)
	}
	return clientSecret, string(hash), nil
}
