// Package server implements the core OAuth 2.0 authorization server logic.
//
// This package provides the request validator and grant orchestrator for the
// authorization-code (with PKCE), refresh-token, and client-credentials
// grants, together with the pluggable origin policy consulted for CORS
// decisions on the token endpoint. It coordinates between storage backends
// and security features while staying transport-agnostic; the root package
// adapts it onto net/http.
//
// Key features:
//   - Authorization-code grant with PKCE (S256, optionally plain)
//   - Refresh token rotation with reuse detection
//   - Authorization code replay detection with bulk revocation
//   - Client-credentials grant for machine clients
//   - Token revocation (RFC 7009) and introspection (RFC 7662)
//   - Pluggable per-client origin policy (deny-all by default)
//   - Comprehensive security auditing
//
// Example usage:
//
//	store := memory.NewStore()
//
//	config := &server.Config{
//	    Issuer:      "https://auth.example.com",
//	    RequirePKCE: true,
//	}
//
//	srv, err := server.New(store, store, store, config, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
package server
