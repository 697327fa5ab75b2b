package server

import (
	"testing"

	"github.com/webfold/oauth-provider/internal/testutil"
	"github.com/webfold/oauth-provider/storage/memory"
)

func TestSecureDefaults(t *testing.T) {
	t.Run("zero config comes out safe", func(t *testing.T) {
		cfg := applySecureDefaults(&Config{}, testLogger())

		if !cfg.RefreshTokenRotation {
			t.Error("RefreshTokenRotation not defaulted on")
		}
		if !cfg.RequirePKCE {
			t.Error("RequirePKCE not defaulted on")
		}
		if cfg.AllowPlainPKCE {
			t.Error("AllowPlainPKCE defaulted on")
		}
		if cfg.AccessTokenTTL != 3600 {
			t.Errorf("AccessTokenTTL = %d, want 3600", cfg.AccessTokenTTL)
		}
		if cfg.AuthorizationCodeTTL != 600 {
			t.Errorf("AuthorizationCodeTTL = %d, want 600", cfg.AuthorizationCodeTTL)
		}
		if cfg.RefreshTokenTTL != 7776000 {
			t.Errorf("RefreshTokenTTL = %d, want 7776000", cfg.RefreshTokenTTL)
		}
		if cfg.MinStateLength != 8 {
			t.Errorf("MinStateLength = %d, want 8", cfg.MinStateLength)
		}
		if len(cfg.AllowedRedirectSchemes) != 1 || cfg.AllowedRedirectSchemes[0] != "https" {
			t.Errorf("AllowedRedirectSchemes = %v, want [https]", cfg.AllowedRedirectSchemes)
		}
	})

	t.Run("operator choices are kept", func(t *testing.T) {
		cfg := applySecureDefaults(&Config{RequirePKCE: true}, testLogger())
		if cfg.RefreshTokenRotation {
			t.Error("explicit RefreshTokenRotation=false overridden")
		}
	})

	t.Run("explicit values survive", func(t *testing.T) {
		cfg := applySecureDefaults(&Config{AccessTokenTTL: 120, MinStateLength: 16}, testLogger())
		if cfg.AccessTokenTTL != 120 {
			t.Errorf("AccessTokenTTL = %d, want 120", cfg.AccessTokenTTL)
		}
		if cfg.MinStateLength != 16 {
			t.Errorf("MinStateLength = %d, want 16", cfg.MinStateLength)
		}
	})
}

func TestNewIssuerValidation(t *testing.T) {
	store := memory.NewWithInterval(testLogger(), 0)
	t.Cleanup(store.Stop)

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"https issuer", Config{Issuer: testutil.TestIssuer}, false},
		{"http loopback issuer", Config{Issuer: "http://127.0.0.1:8080"}, false},
		{"http remote issuer", Config{Issuer: "http://auth.example.com"}, true},
		{"http remote with override", Config{Issuer: "http://auth.example.com", AllowInsecureHTTP: true}, false},
		{"empty issuer deferred to metadata time", Config{}, false},
		{"unsupported scheme", Config{Issuer: "ftp://auth.example.com"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(store, store, store, &tt.cfg, testLogger())
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
