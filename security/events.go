package security

// Event type constants for security audit logging. Using constants keeps
// the event vocabulary greppable and prevents typos in log pipelines.
const (
	// Token lifecycle events

	// EventTokenIssued is logged when an access token is issued to a client.
	EventTokenIssued = "token_issued"

	// EventTokenRefreshed is logged when an access token is obtained via a
	// refresh token.
	EventTokenRefreshed = "token_refreshed"

	// EventTokenRevoked is logged when a token is revoked through the
	// revocation endpoint.
	EventTokenRevoked = "token_revoked"

	// EventAllTokensRevoked is logged when every grant for a user/client
	// pair is revoked at once, typically after replay detection.
	EventAllTokensRevoked = "all_tokens_revoked" //nolint:gosec // G101: event type name, not a credential

	// Authorization flow events

	// EventAuthorizationCodeIssued is logged when an authorization code is
	// minted for a client.
	EventAuthorizationCodeIssued = "authorization_code_issued"

	// EventCodeReplayDetected is logged when an authorization code is
	// presented a second time. Treated as evidence of code theft.
	EventCodeReplayDetected = "authorization_code_replay_detected"

	// EventRefreshReuseDetected is logged when an already-rotated refresh
	// token is presented again. Treated as evidence of token theft.
	EventRefreshReuseDetected = "refresh_token_reuse_detected"

	// Validation failures

	// EventAuthFailure is logged when client authentication fails.
	EventAuthFailure = "auth_failure"

	// EventPKCEValidationFailed is logged when a code_verifier does not
	// match the stored code_challenge.
	EventPKCEValidationFailed = "pkce_validation_failed"

	// EventInvalidRedirect is logged when a redirect_uri fails validation
	// against the client registration.
	EventInvalidRedirect = "invalid_redirect"

	// EventScopeEscalationAttempt is logged when a token request asks for
	// scope beyond what the grant or client registration allows.
	EventScopeEscalationAttempt = "scope_escalation_attempt"

	// Cross-origin events

	// EventOriginDenied is logged when a browser Origin is rejected by the
	// origin policy. Useful for diagnosing misconfigured SPA deployments.
	EventOriginDenied = "cors_origin_denied"

	// Client management events

	// EventClientRegistered is logged when a new OAuth client is created.
	EventClientRegistered = "client_registered"
)
