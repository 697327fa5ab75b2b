package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/webfold/oauth-provider/internal/testutil"
	"github.com/webfold/oauth-provider/storage"
	"github.com/webfold/oauth-provider/storage/memory"
	"github.com/webfold/oauth-provider/storage/mock"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) (*Server, *memory.Store) {
	t.Helper()

	store := memory.NewWithInterval(testLogger(), time.Hour)
	t.Cleanup(store.Stop)

	srv, err := New(store, store, store, &Config{
		Issuer:               testutil.TestIssuer,
		RefreshTokenRotation: true,
		RequirePKCE:          true,
	}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	return srv, store
}

func saveTestClients(t *testing.T, store *memory.Store) (confidential, public *storage.Client) {
	t.Helper()

	confidential = testutil.ConfidentialClient(t)
	public = testutil.PublicClient(t)
	for _, c := range []*storage.Client{confidential, public} {
		if err := store.SaveClient(context.Background(), c); err != nil {
			t.Fatalf("SaveClient(%s): %v", c.ID, err)
		}
	}
	return confidential, public
}

func authorizeCode(t *testing.T, srv *Server, client *storage.Client, challenge string) (code string, req *AuthorizationRequest) {
	t.Helper()

	req = &AuthorizationRequest{
		ClientID:            client.ID,
		RedirectURI:         testutil.TestRedirectURI,
		ResponseType:        ResponseTypeCode,
		Scope:               testutil.TestScope,
		State:               testutil.TestState,
		CodeChallenge:       challenge,
		CodeChallengeMethod: PKCEMethodS256,
	}

	code, err := srv.Authorize(context.Background(), req, testutil.TestUserID)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if code == "" {
		t.Fatal("Authorize returned an empty code")
	}
	return code, req
}

func TestAuthorizeRejectsEmptyUser(t *testing.T) {
	srv, store := newTestServer(t)
	client, _ := saveTestClients(t, store)

	req := &AuthorizationRequest{
		ClientID:     client.ID,
		RedirectURI:  testutil.TestRedirectURI,
		ResponseType: ResponseTypeCode,
		State:        testutil.TestState,
	}

	_, err := srv.Authorize(context.Background(), req, "")
	var oauthErr *Error
	if !errors.As(err, &oauthErr) || oauthErr.Code != ErrorCodeAccessDenied {
		t.Fatalf("expected access_denied, got %v", err)
	}
}

func TestExchangeAuthorizationCode(t *testing.T) {
	srv, store := newTestServer(t)
	client, _ := saveTestClients(t, store)
	verifier, challenge := testutil.PKCEPair()

	code, _ := authorizeCode(t, srv, client, challenge)

	grant, err := srv.ExchangeAuthorizationCode(context.Background(), client, code, testutil.TestRedirectURI, verifier)
	if err != nil {
		t.Fatalf("ExchangeAuthorizationCode: %v", err)
	}

	if grant.AccessToken == "" {
		t.Error("no access token minted")
	}
	if grant.RefreshToken == "" {
		t.Error("no refresh token minted")
	}
	if grant.TokenType != "Bearer" {
		t.Errorf("token type = %q, want Bearer", grant.TokenType)
	}
	if grant.Scope != testutil.TestScope {
		t.Errorf("scope = %q, want %q", grant.Scope, testutil.TestScope)
	}
	if grant.ExpiresIn != srv.Config.AccessTokenTTL {
		t.Errorf("expires_in = %d, want %d", grant.ExpiresIn, srv.Config.AccessTokenTTL)
	}

	// The minted tokens are retrievable and bound to the right parties.
	at, err := store.GetAccessToken(context.Background(), grant.AccessToken)
	if err != nil {
		t.Fatalf("GetAccessToken: %v", err)
	}
	if at.ClientID != client.ID || at.UserID != testutil.TestUserID {
		t.Errorf("access token bound to %s/%s, want %s/%s",
			at.ClientID, at.UserID, client.ID, testutil.TestUserID)
	}
}

func TestExchangeWithoutRefreshTokenGrant(t *testing.T) {
	srv, store := newTestServer(t)

	client := testutil.PublicClient(t)
	client.ID = "code-only-client"
	client.GrantTypes = []string{GrantTypeAuthorizationCode}
	if err := store.SaveClient(context.Background(), client); err != nil {
		t.Fatalf("SaveClient: %v", err)
	}

	verifier, challenge := testutil.PKCEPair()
	code, _ := authorizeCode(t, srv, client, challenge)

	grant, err := srv.ExchangeAuthorizationCode(context.Background(), client, code, testutil.TestRedirectURI, verifier)
	if err != nil {
		t.Fatalf("ExchangeAuthorizationCode: %v", err)
	}
	if grant.AccessToken == "" {
		t.Error("no access token minted")
	}
	if grant.RefreshToken != "" {
		t.Errorf("client without refresh_token grant received refresh token %q", grant.RefreshToken)
	}

	if _, err := store.GetAccessToken(context.Background(), grant.AccessToken); err != nil {
		t.Fatalf("GetAccessToken: %v", err)
	}
}

func TestExchangeAuthorizationCodeFailures(t *testing.T) {
	srv, store := newTestServer(t)
	client, public := saveTestClients(t, store)
	verifier, challenge := testutil.PKCEPair()

	tests := []struct {
		name     string
		setup    func(t *testing.T) (code, redirectURI, verifier string, c *storage.Client)
		wantCode string
	}{
		{
			name: "unknown code",
			setup: func(t *testing.T) (string, string, string, *storage.Client) {
				return "no-such-code", testutil.TestRedirectURI, verifier, client
			},
			wantCode: ErrorCodeInvalidGrant,
		},
		{
			name: "wrong client",
			setup: func(t *testing.T) (string, string, string, *storage.Client) {
				code, _ := authorizeCode(t, srv, client, challenge)
				return code, testutil.TestRedirectURI, verifier, public
			},
			wantCode: ErrorCodeInvalidGrant,
		},
		{
			name: "redirect URI mismatch",
			setup: func(t *testing.T) (string, string, string, *storage.Client) {
				code, _ := authorizeCode(t, srv, client, challenge)
				return code, testutil.TestRedirectURI + "/", verifier, client
			},
			wantCode: ErrorCodeInvalidGrant,
		},
		{
			name: "wrong PKCE verifier",
			setup: func(t *testing.T) (string, string, string, *storage.Client) {
				code, _ := authorizeCode(t, srv, client, challenge)
				other, _ := testutil.PKCEPair()
				return code, testutil.TestRedirectURI, other, client
			},
			wantCode: ErrorCodeInvalidGrant,
		},
		{
			name: "missing PKCE verifier",
			setup: func(t *testing.T) (string, string, string, *storage.Client) {
				code, _ := authorizeCode(t, srv, client, challenge)
				return code, testutil.TestRedirectURI, "", client
			},
			wantCode: ErrorCodeInvalidGrant,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, redirectURI, v, c := tt.setup(t)
			_, err := srv.ExchangeAuthorizationCode(context.Background(), c, code, redirectURI, v)
			var oauthErr *Error
			if !errors.As(err, &oauthErr) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if oauthErr.Code != tt.wantCode {
				t.Errorf("error code = %q, want %q (reason: %s)", oauthErr.Code, tt.wantCode, oauthErr.Reason)
			}
		})
	}
}

func TestCodeReplayRevokesTokens(t *testing.T) {
	srv, store := newTestServer(t)
	client, _ := saveTestClients(t, store)
	verifier, challenge := testutil.PKCEPair()

	code, _ := authorizeCode(t, srv, client, challenge)

	grant, err := srv.ExchangeAuthorizationCode(context.Background(), client, code, testutil.TestRedirectURI, verifier)
	if err != nil {
		t.Fatalf("first exchange: %v", err)
	}

	// Replaying the consumed code must fail and revoke what it minted.
	_, err = srv.ExchangeAuthorizationCode(context.Background(), client, code, testutil.TestRedirectURI, verifier)
	var oauthErr *Error
	if !errors.As(err, &oauthErr) || oauthErr.Code != ErrorCodeInvalidGrant {
		t.Fatalf("replay: expected invalid_grant, got %v", err)
	}

	if _, err := store.GetAccessToken(context.Background(), grant.AccessToken); !errors.Is(err, storage.ErrAccessTokenNotFound) {
		t.Errorf("access token survived replay: %v", err)
	}
	if _, err := store.GetRefreshToken(context.Background(), grant.RefreshToken); !errors.Is(err, storage.ErrRefreshTokenNotFound) {
		t.Errorf("refresh token survived replay: %v", err)
	}
}

func TestConcurrentExchangeSingleWinner(t *testing.T) {
	srv, store := newTestServer(t)
	client, _ := saveTestClients(t, store)
	verifier, challenge := testutil.PKCEPair()

	code, _ := authorizeCode(t, srv, client, challenge)

	const attempts = 16
	var wg sync.WaitGroup
	results := make([]error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = srv.ExchangeAuthorizationCode(
				context.Background(), client, code, testutil.TestRedirectURI, verifier)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		if err == nil {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("%d concurrent exchanges succeeded, want exactly 1", winners)
	}
}

func TestRefreshRotation(t *testing.T) {
	srv, store := newTestServer(t)
	client, _ := saveTestClients(t, store)
	verifier, challenge := testutil.PKCEPair()

	code, _ := authorizeCode(t, srv, client, challenge)
	first, err := srv.ExchangeAuthorizationCode(context.Background(), client, code, testutil.TestRedirectURI, verifier)
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}

	second, err := srv.RefreshAccessToken(context.Background(), client, first.RefreshToken, "")
	if err != nil {
		t.Fatalf("RefreshAccessToken: %v", err)
	}

	if second.RefreshToken == "" || second.RefreshToken == first.RefreshToken {
		t.Errorf("refresh token was not rotated")
	}
	if second.AccessToken == first.AccessToken {
		t.Errorf("access token was not replaced")
	}
	if second.Scope != first.Scope {
		t.Errorf("scope changed across refresh: %q -> %q", first.Scope, second.Scope)
	}

	// The superseded access token is revoked.
	if _, err := store.GetAccessToken(context.Background(), first.AccessToken); !errors.Is(err, storage.ErrAccessTokenNotFound) {
		t.Errorf("old access token still live: %v", err)
	}
}

func TestRefreshReuseRevokesEverything(t *testing.T) {
	srv, store := newTestServer(t)
	client, _ := saveTestClients(t, store)
	verifier, challenge := testutil.PKCEPair()

	code, _ := authorizeCode(t, srv, client, challenge)
	first, err := srv.ExchangeAuthorizationCode(context.Background(), client, code, testutil.TestRedirectURI, verifier)
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}

	second, err := srv.RefreshAccessToken(context.Background(), client, first.RefreshToken, "")
	if err != nil {
		t.Fatalf("first refresh: %v", err)
	}

	// Presenting the rotated-out token again is treated as theft.
	_, err = srv.RefreshAccessToken(context.Background(), client, first.RefreshToken, "")
	var oauthErr *Error
	if !errors.As(err, &oauthErr) || oauthErr.Code != ErrorCodeInvalidGrant {
		t.Fatalf("reuse: expected invalid_grant, got %v", err)
	}

	// Everything for the user+client pair is revoked, including the
	// descendant tokens.
	if _, err := store.GetAccessToken(context.Background(), second.AccessToken); !errors.Is(err, storage.ErrAccessTokenNotFound) {
		t.Errorf("descendant access token survived reuse: %v", err)
	}
	if _, err := store.GetRefreshToken(context.Background(), second.RefreshToken); !errors.Is(err, storage.ErrRefreshTokenNotFound) {
		t.Errorf("descendant refresh token survived reuse: %v", err)
	}
}

func TestRefreshWithoutRotation(t *testing.T) {
	store := memory.NewWithInterval(testLogger(), time.Hour)
	t.Cleanup(store.Stop)

	srv, err := New(store, store, store, &Config{
		Issuer:      testutil.TestIssuer,
		RequirePKCE: true,
		// RefreshTokenRotation deliberately left false alongside a
		// non-default security knob so the fresh-config heuristic does
		// not flip it back on.
		AllowPlainPKCE: true,
	}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	client, _ := saveTestClients(t, store)
	verifier, challenge := testutil.PKCEPair()

	code, _ := authorizeCode(t, srv, client, challenge)
	first, err := srv.ExchangeAuthorizationCode(context.Background(), client, code, testutil.TestRedirectURI, verifier)
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}

	second, err := srv.RefreshAccessToken(context.Background(), client, first.RefreshToken, "")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if second.RefreshToken != first.RefreshToken {
		t.Errorf("refresh token rotated with rotation disabled")
	}

	// Without rotation the same token keeps working.
	if _, err := srv.RefreshAccessToken(context.Background(), client, first.RefreshToken, ""); err != nil {
		t.Errorf("second refresh with same token: %v", err)
	}
}

func TestRefreshScopeNarrowing(t *testing.T) {
	srv, store := newTestServer(t)
	client, _ := saveTestClients(t, store)
	verifier, challenge := testutil.PKCEPair()

	code, _ := authorizeCode(t, srv, client, challenge)
	first, err := srv.ExchangeAuthorizationCode(context.Background(), client, code, testutil.TestRedirectURI, verifier)
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}

	narrowed, err := srv.RefreshAccessToken(context.Background(), client, first.RefreshToken, "read")
	if err != nil {
		t.Fatalf("narrowing refresh: %v", err)
	}
	if narrowed.Scope != "read" {
		t.Errorf("scope = %q, want %q", narrowed.Scope, "read")
	}

	// Widening past the original grant is refused.
	_, err = srv.RefreshAccessToken(context.Background(), client, narrowed.RefreshToken, "read write admin")
	var oauthErr *Error
	if !errors.As(err, &oauthErr) || oauthErr.Code != ErrorCodeInvalidScope {
		t.Fatalf("scope widening: expected invalid_scope, got %v", err)
	}
}

func TestClientCredentialsGrant(t *testing.T) {
	srv, store := newTestServer(t)
	client, public := saveTestClients(t, store)

	t.Run("confidential client", func(t *testing.T) {
		grant, err := srv.ClientCredentialsGrant(context.Background(), client, "read")
		if err != nil {
			t.Fatalf("ClientCredentialsGrant: %v", err)
		}
		if grant.RefreshToken != "" {
			t.Error("client credentials grant minted a refresh token")
		}
		if grant.Scope != "read" {
			t.Errorf("scope = %q, want read", grant.Scope)
		}

		at, err := store.GetAccessToken(context.Background(), grant.AccessToken)
		if err != nil {
			t.Fatalf("GetAccessToken: %v", err)
		}
		if at.UserID != "" {
			t.Errorf("client credentials token has a user ID %q", at.UserID)
		}
	})

	t.Run("default scope", func(t *testing.T) {
		grant, err := srv.ClientCredentialsGrant(context.Background(), client, "")
		if err != nil {
			t.Fatalf("ClientCredentialsGrant: %v", err)
		}
		want := strings.Join(client.Scopes, " ")
		if grant.Scope != want {
			t.Errorf("scope = %q, want %q", grant.Scope, want)
		}
	})

	t.Run("public client refused", func(t *testing.T) {
		_, err := srv.ClientCredentialsGrant(context.Background(), public, "read")
		var oauthErr *Error
		if !errors.As(err, &oauthErr) || oauthErr.Code != ErrorCodeUnauthorizedClient {
			t.Fatalf("expected unauthorized_client, got %v", err)
		}
	})
}

func TestRevokeToken(t *testing.T) {
	srv, store := newTestServer(t)
	client, public := saveTestClients(t, store)
	verifier, challenge := testutil.PKCEPair()

	issue := func(t *testing.T) *TokenGrant {
		code, _ := authorizeCode(t, srv, client, challenge)
		grant, err := srv.ExchangeAuthorizationCode(context.Background(), client, code, testutil.TestRedirectURI, verifier)
		if err != nil {
			t.Fatalf("exchange: %v", err)
		}
		return grant
	}

	t.Run("access token cascades to refresh token", func(t *testing.T) {
		grant := issue(t)
		if err := srv.RevokeToken(context.Background(), client, grant.AccessToken, "access_token"); err != nil {
			t.Fatalf("RevokeToken: %v", err)
		}
		if _, err := store.GetAccessToken(context.Background(), grant.AccessToken); !errors.Is(err, storage.ErrAccessTokenNotFound) {
			t.Errorf("access token still live: %v", err)
		}
		if _, err := store.GetRefreshToken(context.Background(), grant.RefreshToken); !errors.Is(err, storage.ErrRefreshTokenNotFound) {
			t.Errorf("paired refresh token still live: %v", err)
		}
	})

	t.Run("unknown token is silent success", func(t *testing.T) {
		if err := srv.RevokeToken(context.Background(), client, "no-such-token", ""); err != nil {
			t.Errorf("RevokeToken(unknown) = %v, want nil", err)
		}
	})

	t.Run("foreign token is silent no-op", func(t *testing.T) {
		grant := issue(t)
		if err := srv.RevokeToken(context.Background(), public, grant.AccessToken, ""); err != nil {
			t.Errorf("RevokeToken(foreign) = %v, want nil", err)
		}
		if _, err := store.GetAccessToken(context.Background(), grant.AccessToken); err != nil {
			t.Errorf("foreign revocation removed the token: %v", err)
		}
	})
}

func TestIntrospectToken(t *testing.T) {
	srv, store := newTestServer(t)
	client, public := saveTestClients(t, store)
	verifier, challenge := testutil.PKCEPair()

	code, _ := authorizeCode(t, srv, client, challenge)
	grant, err := srv.ExchangeAuthorizationCode(context.Background(), client, code, testutil.TestRedirectURI, verifier)
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}

	tests := []struct {
		name       string
		caller     *storage.Client
		token      string
		hint       string
		wantActive bool
	}{
		{"own access token", client, grant.AccessToken, "access_token", true},
		{"own refresh token", client, grant.RefreshToken, "refresh_token", true},
		{"hint mismatch still found", client, grant.AccessToken, "refresh_token", true},
		{"unknown token", client, "no-such-token", "", false},
		{"foreign caller", public, grant.AccessToken, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := srv.IntrospectToken(context.Background(), tt.caller, tt.token, tt.hint)
			if err != nil {
				t.Fatalf("IntrospectToken: %v", err)
			}
			if result.Active != tt.wantActive {
				t.Errorf("active = %v, want %v", result.Active, tt.wantActive)
			}
			if !tt.wantActive && (result.Scope != "" || result.ClientID != "") {
				t.Errorf("inactive result leaks metadata: %+v", result)
			}
		})
	}

	t.Run("consumed refresh token is inactive", func(t *testing.T) {
		if _, err := srv.RefreshAccessToken(context.Background(), client, grant.RefreshToken, ""); err != nil {
			t.Fatalf("refresh: %v", err)
		}
		result, err := srv.IntrospectToken(context.Background(), client, grant.RefreshToken, "refresh_token")
		if err != nil {
			t.Fatalf("IntrospectToken: %v", err)
		}
		if result.Active {
			t.Error("consumed refresh token reported active")
		}
	})
}

func TestMintTokensRollsBackOnAccessSaveFailure(t *testing.T) {
	inner := memory.NewWithInterval(testLogger(), time.Hour)
	t.Cleanup(inner.Stop)

	tokenStore := mock.NewTokenStore(inner)
	tokenStore.SaveAccessTokenFunc = func(ctx context.Context, token *storage.AccessToken) error {
		return errors.New("disk full")
	}

	srv, err := New(inner, inner, tokenStore, &Config{
		Issuer:               testutil.TestIssuer,
		RefreshTokenRotation: true,
		RequirePKCE:          true,
	}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	client, _ := saveTestClients(t, inner)
	verifier, challenge := testutil.PKCEPair()
	code, _ := authorizeCode(t, srv, client, challenge)

	_, err = srv.ExchangeAuthorizationCode(context.Background(), client, code, testutil.TestRedirectURI, verifier)
	if err == nil {
		t.Fatal("exchange succeeded despite access token save failure")
	}

	// The refresh token saved before the failure must have been rolled
	// back; nothing half-minted survives.
	if tokenStore.CallCount("RevokeRefreshToken") == 0 {
		t.Error("refresh token was not rolled back")
	}
}
