package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  issuer: https://auth.example.com
  access_token_ttl: 1800
  supported_scopes:
    - read
    - write
storage:
  backend: valkey
  valkey:
    address: valkey.internal:6379
    key_prefix: "authsrv:"
audit:
  enabled: true
  throttle_events_per_second: 10
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Issuer != "https://auth.example.com" {
		t.Errorf("issuer = %q", cfg.Server.Issuer)
	}
	if cfg.Server.AccessTokenTTL != 1800 {
		t.Errorf("access_token_ttl = %d", cfg.Server.AccessTokenTTL)
	}
	if len(cfg.Server.SupportedScopes) != 2 {
		t.Errorf("supported_scopes = %v", cfg.Server.SupportedScopes)
	}
	if cfg.Storage.Backend != "valkey" || cfg.Storage.Valkey.Address != "valkey.internal:6379" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if !cfg.Audit.Enabled || cfg.Audit.ThrottleEventsPerSecond != 10 {
		t.Errorf("audit = %+v", cfg.Audit)
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  issuer: https://file.example.com
  require_pkce: true
`)
	t.Setenv("OAUTH_SERVER__ISSUER", "https://env.example.com")
	t.Setenv("OAUTH_STORAGE__BACKEND", "memory")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Issuer != "https://env.example.com" {
		t.Errorf("issuer = %q, want the environment value", cfg.Server.Issuer)
	}
	if !cfg.Server.RequirePKCE {
		t.Error("file value lost when unrelated env override present")
	}
	if cfg.Storage.Backend != "memory" {
		t.Errorf("backend = %q", cfg.Storage.Backend)
	}
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\"): %v", err)
	}
	if cfg.Storage.Backend != "" {
		t.Errorf("backend = %q, want empty (memory default)", cfg.Storage.Backend)
	}
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
			t.Error("missing file accepted")
		}
	})

	t.Run("valkey backend without address", func(t *testing.T) {
		path := writeConfigFile(t, "storage:\n  backend: valkey\n")
		if _, err := Load(path); err == nil {
			t.Error("valkey backend without address accepted")
		}
	})

	t.Run("unknown backend", func(t *testing.T) {
		path := writeConfigFile(t, "storage:\n  backend: dynamo\n")
		if _, err := Load(path); err == nil {
			t.Error("unknown backend accepted")
		}
	})
}

func TestServerConfigConversion(t *testing.T) {
	cfg := &Config{}
	cfg.Server.Issuer = "https://auth.example.com"
	cfg.Server.AccessTokenTTL = 600
	cfg.Server.TrustProxy = true
	cfg.Server.TrustedProxyCount = 2

	sc := cfg.ServerConfig()
	if sc.Issuer != cfg.Server.Issuer {
		t.Errorf("issuer = %q", sc.Issuer)
	}
	if sc.AccessTokenTTL != 600 {
		t.Errorf("AccessTokenTTL = %d", sc.AccessTokenTTL)
	}
	if !sc.TrustProxy || sc.TrustedProxyCount != 2 {
		t.Errorf("proxy settings = %v/%d", sc.TrustProxy, sc.TrustedProxyCount)
	}
}
