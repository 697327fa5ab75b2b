// Package testutil provides shared fixtures and helpers for tests.
package testutil

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/webfold/oauth-provider/storage"
)

// Common fixture values.
const (
	TestIssuer       = "https://auth.example.com"
	TestClientID     = "test-client"
	TestClientSecret = "test-secret-value"
	TestUserID       = "user-1234"
	TestRedirectURI  = "https://app.example.com/callback"
	TestScope        = "read write"
	TestState        = "state-abcdef123456"
)

// GenerateRandomString returns a URL-safe random string of roughly the
// given length.
func GenerateRandomString(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("testutil: rand.Read failed: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length]
}

// PKCEPair returns a valid verifier and its S256 challenge.
func PKCEPair() (verifier, challenge string) {
	verifier = GenerateRandomString(43)
	sum := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(sum[:])
	return verifier, challenge
}

// ConfidentialClient returns a confidential client fixture whose secret is
// TestClientSecret.
func ConfidentialClient(tb testing.TB) *storage.Client {
	tb.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(TestClientSecret), bcrypt.MinCost)
	if err != nil {
		tb.Fatalf("bcrypt hash: %v", err)
	}

	return &storage.Client{
		ID:            TestClientID,
		SecretHash:    string(hash),
		Type:          storage.ClientTypeConfidential,
		RedirectURIs:  []string{TestRedirectURI},
		GrantTypes:    []string{"authorization_code", "refresh_token", "client_credentials"},
		ResponseTypes: []string{"code"},
		Scopes:        []string{"read", "write"},
		Name:          "Test Confidential Client",
		CreatedAt:     time.Now(),
	}
}

// PublicClient returns a public (secretless) client fixture.
func PublicClient(tb testing.TB) *storage.Client {
	tb.Helper()

	return &storage.Client{
		ID:            "test-public-client",
		Type:          storage.ClientTypePublic,
		RedirectURIs:  []string{TestRedirectURI},
		GrantTypes:    []string{"authorization_code", "refresh_token"},
		ResponseTypes: []string{"code"},
		Scopes:        []string{"read", "write"},
		Name:          "Test Public Client",
		CreatedAt:     time.Now(),
	}
}

// AuthorizationCode returns an unconsumed code fixture bound to the given
// client, expiring in 10 minutes.
func AuthorizationCode(code, clientID, userID, challenge string) *storage.AuthorizationCode {
	now := time.Now()
	return &storage.AuthorizationCode{
		Code:                code,
		ClientID:            clientID,
		UserID:              userID,
		RedirectURI:         TestRedirectURI,
		Scope:               TestScope,
		CodeChallenge:       challenge,
		CodeChallengeMethod: "S256",
		CreatedAt:           now,
		ExpiresAt:           now.Add(10 * time.Minute),
	}
}
