package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor writes security events to the structured log with PII protection.
// User identifiers are hashed before logging so that audit trails can be
// correlated without storing raw subject identifiers in log storage.
type Auditor struct {
	logger   *slog.Logger
	enabled  bool
	throttle *LogThrottle
}

// NewAuditor creates a security auditor. A nil logger falls back to
// slog.Default. When enabled is false all Log* calls are no-ops, which
// lets callers keep audit call sites unconditional.
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// SetThrottle installs a flood-control throttle. Events whose (type, client)
// pair exceeds the throttle's rate are dropped with a periodic summary line
// instead of flooding the log during an attack.
func (a *Auditor) SetThrottle(t *LogThrottle) {
	a.throttle = t
}

// Event is a single security audit record.
type Event struct {
	Type      string
	UserID    string
	ClientID  string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed PII. The user ID is never
// logged verbatim.
func (a *Auditor) LogEvent(event Event) {
	if !a.enabled {
		return
	}
	if a.throttle != nil && !a.throttle.Allow(event.Type+"|"+event.ClientID) {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"user_id_hash", hashForLogging(event.UserID),
		"client_id", event.ClientID,
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogTokenIssued logs an access token issuance.
func (a *Auditor) LogTokenIssued(userID, clientID, ipAddress, scope, grantType string) {
	a.LogEvent(Event{
		Type:      EventTokenIssued,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"scope":      scope,
			"grant_type": grantType,
		},
	})
}

// LogTokenRefreshed logs a refresh grant, noting whether the refresh token
// was rotated.
func (a *Auditor) LogTokenRefreshed(userID, clientID, ipAddress string, rotated bool) {
	a.LogEvent(Event{
		Type:      EventTokenRefreshed,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"rotated": rotated,
		},
	})
}

// LogTokenRevoked logs a revocation through the revocation endpoint.
func (a *Auditor) LogTokenRevoked(userID, clientID, ipAddress, tokenType string) {
	a.LogEvent(Event{
		Type:      EventTokenRevoked,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"token_type": tokenType,
		},
	})
}

// LogCodeReplay logs a second presentation of an authorization code and the
// number of grants revoked in response.
func (a *Auditor) LogCodeReplay(userID, clientID, ipAddress string, revoked int) {
	a.LogEvent(Event{
		Type:      EventCodeReplayDetected,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"grants_revoked": revoked,
		},
	})
}

// LogRefreshReuse logs reuse of a rotated refresh token and the number of
// grants revoked in response.
func (a *Auditor) LogRefreshReuse(userID, clientID, ipAddress string, revoked int) {
	a.LogEvent(Event{
		Type:      EventRefreshReuseDetected,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"grants_revoked": revoked,
		},
	})
}

// LogAuthFailure logs a failed client authentication attempt. The reason is
// the detailed internal reason, never sent to the client.
func (a *Auditor) LogAuthFailure(clientID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      EventAuthFailure,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogOriginDenied logs a cross-origin request rejected by the origin policy.
func (a *Auditor) LogOriginDenied(clientID, origin, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventOriginDenied,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"origin": origin,
		},
	})
}

// LogClientRegistered logs creation of a new OAuth client.
func (a *Auditor) LogClientRegistered(clientID, clientType, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventClientRegistered,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"client_type": clientType,
		},
	})
}

// hashForLogging returns a truncated SHA-256 hash of sensitive data. The
// 16 hex characters are enough to correlate events without being reversible
// in practice for high-entropy inputs.
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
