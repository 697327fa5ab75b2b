// Package security provides the security plumbing shared by the OAuth
// server core: audit logging with PII hashing, clock-skew tolerant expiry
// checks, client IP extraction, request ID propagation, security response
// headers, and flood control for security event logging.
//
// The package is deliberately free of OAuth protocol knowledge. It deals
// in opaque identifiers and timestamps so that the server and storage
// layers can use it without import cycles.
package security
