package server

import (
	"log/slog"
)

// Config holds OAuth server configuration. The struct is treated as
// immutable after New: changing behavior means constructing a new Server.
type Config struct {
	// Issuer is the server's issuer identifier (base URL). Used in
	// metadata responses and HTTPS enforcement.
	Issuer string

	// AuthorizationCodeTTL is how long authorization codes are valid
	AuthorizationCodeTTL int64 // seconds, default: 600 (10 minutes)

	// AccessTokenTTL is how long access tokens are valid
	AccessTokenTTL int64 // seconds, default: 3600 (1 hour)

	// RefreshTokenTTL is how long refresh tokens are valid
	RefreshTokenTTL int64 // seconds, default: 7776000 (90 days)

	// RefreshTokenRotation rotates the refresh token on every refresh
	// grant and treats reuse of a rotated token as theft.
	// Default: true (secure by default)
	RefreshTokenRotation bool

	// RequirePKCE makes code_challenge mandatory on authorization
	// requests. Disabling weakens code interception protection and is only
	// meant for compatibility with legacy confidential clients.
	// Default: true
	RequirePKCE bool

	// AllowPlainPKCE permits the deprecated 'plain' code_challenge_method.
	// When false only S256 is accepted.
	// Default: false
	AllowPlainPKCE bool

	// AllowedRedirectSchemes lists URI schemes accepted for redirect URIs.
	// Loopback http redirects are always allowed for native-app development
	// regardless of this list.
	// Default: ["https"]
	AllowedRedirectSchemes []string

	// SupportedScopes lists the scopes this server will grant. Empty means
	// any scope string is accepted (client-level restrictions still apply).
	SupportedScopes []string

	// MinStateLength is the minimum accepted length of the state
	// parameter, enforced to guarantee CSRF-token entropy.
	// Default: 8
	MinStateLength int

	// ClockSkewGracePeriod is the grace period for expiry checks (in
	// seconds), absorbing drift between server and storage clocks.
	// Default: 5
	ClockSkewGracePeriod int64

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers.
	// Only enable behind a reverse proxy you control.
	// Default: false
	TrustProxy bool

	// TrustedProxyCount is the number of trusted proxies in front of this
	// server, used with TrustProxy to pick the client IP out of the
	// X-Forwarded-For chain.
	// Default: 1
	TrustedProxyCount int

	// AllowInsecureHTTP permits a non-loopback http Issuer. Meant for
	// tests and closed networks only; production issuers must be https.
	// Default: false
	AllowInsecureHTTP bool
}

// applySecureDefaults applies secure-by-default configuration values.
// The principle: a zero Config must come out safe, and explicitly insecure
// settings get a logged warning rather than silent acceptance.
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	applyTimeDefaults(config)
	applySecurityDefaults(config, logger)
	return config
}

// applyTimeDefaults sets default values for time-based configuration.
func applyTimeDefaults(config *Config) {
	if config.AuthorizationCodeTTL == 0 {
		config.AuthorizationCodeTTL = 600 // 10 minutes
	}
	if config.AccessTokenTTL == 0 {
		config.AccessTokenTTL = 3600 // 1 hour
	}
	if config.RefreshTokenTTL == 0 {
		config.RefreshTokenTTL = 7776000 // 90 days
	}
	if config.ClockSkewGracePeriod == 0 {
		config.ClockSkewGracePeriod = 5
	}
	if config.TrustedProxyCount == 0 {
		config.TrustedProxyCount = 1
	}
	if config.MinStateLength == 0 {
		config.MinStateLength = 8
	}
	if len(config.AllowedRedirectSchemes) == 0 {
		config.AllowedRedirectSchemes = []string{"https"}
	}
}

// applySecurityDefaults sets secure defaults for the security booleans.
// Heuristic: if every security bool is false the config is fresh and gets
// the secure defaults; otherwise the operator has made choices and insecure
// ones are called out in the log.
func applySecurityDefaults(config *Config, logger *slog.Logger) {
	isDefaultConfig := !config.RefreshTokenRotation &&
		!config.RequirePKCE &&
		!config.AllowPlainPKCE &&
		!config.TrustProxy

	if isDefaultConfig {
		config.RefreshTokenRotation = true
		config.RequirePKCE = true
		return
	}

	logSecurityWarnings(config, logger)
}

// logSecurityWarnings logs warnings for insecure configuration settings.
func logSecurityWarnings(config *Config, logger *slog.Logger) {
	if !config.RequirePKCE {
		logger.Warn("SECURITY WARNING: PKCE is not required",
			"risk", "authorization code interception",
			"recommendation", "set RequirePKCE=true")
	}
	if config.AllowPlainPKCE {
		logger.Warn("SECURITY WARNING: plain PKCE method is allowed",
			"risk", "code challenge offers no protection against interception",
			"recommendation", "set AllowPlainPKCE=false to require S256")
	}
	if !config.RefreshTokenRotation {
		logger.Warn("SECURITY WARNING: refresh token rotation is disabled",
			"risk", "stolen refresh tokens stay valid until expiry",
			"recommendation", "set RefreshTokenRotation=true")
	}
	if config.TrustProxy {
		logger.Warn("SECURITY NOTICE: trusting proxy headers",
			"risk", "IP spoofing if the proxy chain is misconfigured",
			"config", "TrustedProxyCount must match your proxy chain length")
	}
}
