// Package config loads server configuration from YAML files and
// environment variables. Values merge in order: defaults, then the file,
// then OAUTH_-prefixed environment variables, so a deployment can override
// any single knob without re-stating the file.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/webfold/oauth-provider/server"
)

// EnvPrefix is the prefix for environment variable overrides. Nested keys
// use a double underscore, e.g. OAUTH_SERVER__ISSUER maps to
// server.issuer.
const EnvPrefix = "OAUTH_"

// Config is the complete loadable configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Storage   StorageConfig   `koanf:"storage"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Audit     AuditConfig     `koanf:"audit"`
}

// ServerConfig mirrors server.Config for loading. TTLs are in seconds.
type ServerConfig struct {
	Issuer                 string   `koanf:"issuer"`
	AuthorizationCodeTTL   int64    `koanf:"authorization_code_ttl"`
	AccessTokenTTL         int64    `koanf:"access_token_ttl"`
	RefreshTokenTTL        int64    `koanf:"refresh_token_ttl"`
	RefreshTokenRotation   bool     `koanf:"refresh_token_rotation"`
	RequirePKCE            bool     `koanf:"require_pkce"`
	AllowPlainPKCE         bool     `koanf:"allow_plain_pkce"`
	AllowedRedirectSchemes []string `koanf:"allowed_redirect_schemes"`
	SupportedScopes        []string `koanf:"supported_scopes"`
	MinStateLength         int      `koanf:"min_state_length"`
	ClockSkewGracePeriod   int64    `koanf:"clock_skew_grace_period"`
	TrustProxy             bool     `koanf:"trust_proxy"`
	TrustedProxyCount      int      `koanf:"trusted_proxy_count"`
	AllowInsecureHTTP      bool     `koanf:"allow_insecure_http"`
}

// StorageConfig selects and configures the storage backend.
type StorageConfig struct {
	// Backend is "memory" or "valkey". Default: memory.
	Backend string `koanf:"backend"`

	Valkey ValkeyConfig `koanf:"valkey"`
}

// ValkeyConfig configures the Valkey backend when selected.
type ValkeyConfig struct {
	Address   string `koanf:"address"`
	Password  string `koanf:"password"`
	DB        int    `koanf:"db"`
	KeyPrefix string `koanf:"key_prefix"`
}

// TelemetryConfig configures OpenTelemetry instrumentation.
type TelemetryConfig struct {
	Enabled        bool   `koanf:"enabled"`
	ServiceName    string `koanf:"service_name"`
	ServiceVersion string `koanf:"service_version"`
	LogClientIPs   bool   `koanf:"log_client_ips"`
}

// AuditConfig configures the security audit log.
type AuditConfig struct {
	Enabled bool `koanf:"enabled"`

	// ThrottleEventsPerSecond caps audit events per event-type+client
	// key. Zero disables throttling.
	ThrottleEventsPerSecond float64 `koanf:"throttle_events_per_second"`
	ThrottleBurst           int     `koanf:"throttle_burst"`
	ThrottleMaxEntries      int     `koanf:"throttle_max_entries"`
}

// Load reads configuration from the given YAML file (optional; pass an
// empty path to skip) and the environment.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	// OAUTH_SERVER__ISSUER -> server.issuer
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case "", "memory":
	case "valkey":
		if c.Storage.Valkey.Address == "" {
			return fmt.Errorf("storage.valkey.address is required for the valkey backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	return nil
}

// ServerConfig converts the loaded values into the core server's
// configuration. Unset values stay zero; server.New applies its secure
// defaults on top.
func (c *Config) ServerConfig() *server.Config {
	return &server.Config{
		Issuer:                 c.Server.Issuer,
		AuthorizationCodeTTL:   c.Server.AuthorizationCodeTTL,
		AccessTokenTTL:         c.Server.AccessTokenTTL,
		RefreshTokenTTL:        c.Server.RefreshTokenTTL,
		RefreshTokenRotation:   c.Server.RefreshTokenRotation,
		RequirePKCE:            c.Server.RequirePKCE,
		AllowPlainPKCE:         c.Server.AllowPlainPKCE,
		AllowedRedirectSchemes: c.Server.AllowedRedirectSchemes,
		SupportedScopes:        c.Server.SupportedScopes,
		MinStateLength:         c.Server.MinStateLength,
		ClockSkewGracePeriod:   c.Server.ClockSkewGracePeriod,
		TrustProxy:             c.Server.TrustProxy,
		TrustedProxyCount:      c.Server.TrustedProxyCount,
		AllowInsecureHTTP:      c.Server.AllowInsecureHTTP,
	}
}
