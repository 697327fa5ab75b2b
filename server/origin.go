package server

import "context"

// OriginPolicy decides whether a browser origin may receive CORS access to
// token-endpoint responses for a given client. Implementations must be safe
// for concurrent use and should be fast: the policy sits on the token
// request path.
//
// The transport layer guarantees origin is non-empty and passes it exactly
// as received, byte for byte. Allowing an origin means that exact string is
// echoed in Access-Control-Allow-Origin; a wildcard is never emitted.
type OriginPolicy interface {
	IsOriginAllowed(ctx context.Context, clientID, origin string) bool
}

// DenyAllOrigins is the default policy: no cross-origin access. Hosts that
// serve browser-based clients replace it explicitly.
type DenyAllOrigins struct{}

// IsOriginAllowed always returns false.
func (DenyAllOrigins) IsOriginAllowed(ctx context.Context, clientID, origin string) bool {
	return false
}

// AllowedOrigins is a static allow-list policy. The same list applies to
// every client; per-client decisions need a custom OriginPolicy.
type AllowedOrigins struct {
	origins map[string]struct{}
}

// NewAllowedOrigins builds a policy allowing exactly the given origins.
// Matching is a byte-exact string compare, so scheme, host casing and port
// must match what browsers send.
func NewAllowedOrigins(origins []string) *AllowedOrigins {
	set := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		set[o] = struct{}{}
	}
	return &AllowedOrigins{origins: set}
}

// IsOriginAllowed reports whether origin is on the allow-list.
func (a *AllowedOrigins) IsOriginAllowed(ctx context.Context, clientID, origin string) bool {
	_, ok := a.origins[origin]
	return ok
}

// OriginPolicyFunc adapts an ordinary function to an OriginPolicy.
type OriginPolicyFunc func(ctx context.Context, clientID, origin string) bool

// IsOriginAllowed calls f.
func (f OriginPolicyFunc) IsOriginAllowed(ctx context.Context, clientID, origin string) bool {
	return f(ctx, clientID, origin)
}

// IsOriginAllowed consults the configured policy. An empty origin is always
// denied without a policy call: requests without an Origin header are not
// cross-origin and get no CORS treatment. Decisions are counted and denials
// audited.
func (s *Server) IsOriginAllowed(ctx context.Context, clientID, origin string) bool {
	if origin == "" {
		return false
	}

	allowed := s.originPolicy.IsOriginAllowed(ctx, clientID, origin)

	if m := s.metrics(); m != nil {
		m.RecordOriginDecision(ctx, allowed)
	}
	if !allowed && s.Auditor != nil {
		s.Auditor.LogOriginDenied(clientID, origin, "")
	}

	return allowed
}
