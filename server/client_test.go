package server

import (
	"context"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/webfold/oauth-provider/internal/testutil"
	"github.com/webfold/oauth-provider/storage"
)

func TestRegisterClient(t *testing.T) {
	srv, store := newTestServer(t)

	t.Run("confidential client gets a secret", func(t *testing.T) {
		client, secret, err := srv.RegisterClient(context.Background(), &ClientRegistration{
			Name:         "Billing Backend",
			RedirectURIs: []string{"https://billing.example.com/callback"},
		})
		if err != nil {
			t.Fatalf("RegisterClient: %v", err)
		}
		if client.Type != storage.ClientTypeConfidential {
			t.Errorf("default type = %q, want confidential", client.Type)
		}
		if secret == "" {
			t.Fatal("no secret returned for confidential client")
		}
		// Only the hash is stored, and the hash verifies.
		if client.SecretHash == secret {
			t.Error("plaintext secret stored")
		}
		if err := bcrypt.CompareHashAndPassword([]byte(client.SecretHash), []byte(secret)); err != nil {
			t.Errorf("stored hash does not verify the returned secret: %v", err)
		}

		stored, err := store.GetClient(context.Background(), client.ID)
		if err != nil {
			t.Fatalf("GetClient: %v", err)
		}
		if stored.Name != "Billing Backend" {
			t.Errorf("stored name = %q", stored.Name)
		}
	})

	t.Run("public client gets no secret", func(t *testing.T) {
		client, secret, err := srv.RegisterClient(context.Background(), &ClientRegistration{
			Name:         "SPA",
			Type:         storage.ClientTypePublic,
			RedirectURIs: []string{"https://spa.example.com/callback"},
		})
		if err != nil {
			t.Fatalf("RegisterClient: %v", err)
		}
		if secret != "" || client.SecretHash != "" {
			t.Error("public client was issued a secret")
		}
	})

	t.Run("default grant types", func(t *testing.T) {
		client, _, err := srv.RegisterClient(context.Background(), &ClientRegistration{
			RedirectURIs: []string{"https://app.example.com/cb"},
		})
		if err != nil {
			t.Fatalf("RegisterClient: %v", err)
		}
		if !client.AllowsGrantType(GrantTypeAuthorizationCode) || !client.AllowsGrantType(GrantTypeRefreshToken) {
			t.Errorf("default grant types = %v", client.GrantTypes)
		}
		if client.AllowsGrantType(GrantTypeClientCredentials) {
			t.Error("client_credentials granted without being requested")
		}
	})

	rejections := []struct {
		name string
		reg  ClientRegistration
	}{
		{"no redirect URIs", ClientRegistration{Name: "x"}},
		{"bad client type", ClientRegistration{Type: "hybrid", RedirectURIs: []string{"https://a.example.com/cb"}}},
		{"http non-loopback redirect", ClientRegistration{RedirectURIs: []string{"http://a.example.com/cb"}}},
		{"private IP redirect", ClientRegistration{RedirectURIs: []string{"https://10.0.0.5/cb"}}},
		{"link-local redirect", ClientRegistration{RedirectURIs: []string{"https://169.254.169.254/latest"}}},
		{"fragment in redirect", ClientRegistration{RedirectURIs: []string{"https://a.example.com/cb#x"}}},
	}
	for _, tt := range rejections {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := srv.RegisterClient(context.Background(), &tt.reg); err == nil {
				t.Error("registration accepted")
			}
		})
	}

	t.Run("loopback IP redirect allowed", func(t *testing.T) {
		if _, _, err := srv.RegisterClient(context.Background(), &ClientRegistration{
			RedirectURIs: []string{"http://127.0.0.1:9999/cb"},
		}); err != nil {
			t.Errorf("loopback redirect rejected: %v", err)
		}
	})
}

func TestAuthenticateClient(t *testing.T) {
	srv, store := newTestServer(t)
	confidential, public := saveTestClients(t, store)

	tests := []struct {
		name     string
		clientID string
		secret   string
		wantErr  bool
	}{
		{"confidential with correct secret", confidential.ID, testutil.TestClientSecret, false},
		{"confidential with wrong secret", confidential.ID, "wrong", true},
		{"confidential without secret", confidential.ID, "", true},
		{"public without secret", public.ID, "", false},
		{"public with a secret", public.ID, "anything", true},
		{"unknown client", "nobody", "secret", true},
		{"empty client_id", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, verr := srv.AuthenticateClient(context.Background(), tt.clientID, tt.secret)
			if tt.wantErr {
				if verr == nil {
					t.Fatal("expected authentication to fail")
				}
				if verr.Code != ErrorCodeInvalidClient {
					t.Errorf("error code = %q, want invalid_client", verr.Code)
				}
				return
			}
			if verr != nil {
				t.Fatalf("AuthenticateClient: %v (reason: %s)", verr, verr.Reason)
			}
			if client.ID != tt.clientID {
				t.Errorf("authenticated client = %q, want %q", client.ID, tt.clientID)
			}
		})
	}
}
