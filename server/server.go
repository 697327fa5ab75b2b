package server

import (
	"fmt"
	"log/slog"
	"net/url"

	"golang.org/x/oauth2"

	"github.com/webfold/oauth-provider/instrumentation"
	"github.com/webfold/oauth-provider/internal/util"
	"github.com/webfold/oauth-provider/security"
	"github.com/webfold/oauth-provider/storage"
)

// Server implements the OAuth authorization server core: request
// validation, grant orchestration, and the origin policy seam. It holds no
// per-request state and is safe for concurrent use; all mutable state lives
// behind the storage interfaces.
type Server struct {
	clientStore storage.ClientStore
	flowStore   storage.FlowStore
	tokenStore  storage.TokenStore

	originPolicy OriginPolicy

	Auditor *security.Auditor
	Logger  *slog.Logger
	Config  *Config

	inst *instrumentation.Instrumentation
}

// New creates an OAuth server over the given stores. Origin policy defaults
// to deny-all; use SetOriginPolicy to open specific client/origin pairs.
func New(
	clientStore storage.ClientStore,
	flowStore storage.FlowStore,
	tokenStore storage.TokenStore,
	config *Config,
	logger *slog.Logger,
) (*Server, error) {
	if clientStore == nil {
		return nil, fmt.Errorf("client store is required")
	}
	if flowStore == nil {
		return nil, fmt.Errorf("flow store is required")
	}
	if tokenStore == nil {
		return nil, fmt.Errorf("token store is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	config = applySecureDefaults(config, logger)

	srv := &Server{
		clientStore:  clientStore,
		flowStore:    flowStore,
		tokenStore:   tokenStore,
		originPolicy: DenyAllOrigins{},
		Config:       config,
		Logger:       logger,
	}

	if err := srv.validateHTTPSEnforcement(); err != nil {
		return nil, err
	}

	return srv, nil
}

// SetAuditor sets the security auditor.
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
}

// SetOriginPolicy replaces the origin policy. A nil policy restores the
// deny-all default.
func (s *Server) SetOriginPolicy(policy OriginPolicy) {
	if policy == nil {
		policy = DenyAllOrigins{}
	}
	s.originPolicy = policy
}

// SetInstrumentation attaches OpenTelemetry instrumentation.
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.inst = inst
}

// metrics returns the metric instruments, or nil when instrumentation is
// not attached. Callers nil-check.
// Instrumentation returns the configured instrumentation, or nil.
func (s *Server) Instrumentation() *instrumentation.Instrumentation {
	return s.inst
}

func (s *Server) metrics() *instrumentation.Metrics {
	if s.inst == nil {
		return nil
	}
	return s.inst.Metrics()
}

// validateHTTPSEnforcement requires an https issuer outside loopback
// development. OAuth over plain http exposes every credential on the wire,
// so a non-loopback http issuer is a construction error unless the operator
// explicitly opts in with AllowInsecureHTTP.
func (s *Server) validateHTTPSEnforcement() error {
	if s.Config.Issuer == "" {
		return nil
	}

	issuerURL, err := url.Parse(s.Config.Issuer)
	if err != nil {
		return fmt.Errorf("invalid issuer URL: %w", err)
	}

	switch issuerURL.Scheme {
	case "https":
		return nil
	case "http":
		if util.IsLoopbackHostname(issuerURL.Hostname()) {
			return nil
		}
		if !s.Config.AllowInsecureHTTP {
			return fmt.Errorf(
				"issuer must use HTTPS outside loopback (got %s); set AllowInsecureHTTP=true only for closed test networks",
				s.Config.Issuer)
		}
		s.Logger.Error("CRITICAL SECURITY WARNING: serving OAuth over plain HTTP",
			"issuer", s.Config.Issuer,
			"risk", "tokens and credentials exposed to network interception",
			"action_required", "switch to HTTPS")
		return nil
	default:
		return fmt.Errorf("invalid issuer URL scheme: %s (must be http or https)", issuerURL.Scheme)
	}
}

// generateRandomToken generates a cryptographically secure random opaque
// value. oauth2.GenerateVerifier produces a URL-safe base64 string of 256
// bits of entropy, the right shape for codes, tokens and client secrets
// alike.
func generateRandomToken() string {
	return oauth2.GenerateVerifier()
}

// safeTruncate is a local alias kept for log call sites.
func safeTruncate(s string, maxLen int) string {
	return util.SafeTruncate(s, maxLen)
}
