package security

import "time"

const (
	// DefaultClockSkewGracePeriod is applied to expiry checks so that minor
	// clock drift between the server and its storage backend does not cause
	// false expirations. Five seconds covers typical NTP drift while only
	// marginally extending effective token lifetime.
	DefaultClockSkewGracePeriod = 5 * time.Second
)

// IsTokenExpired reports whether expiresAt has passed, allowing the default
// clock skew grace period.
func IsTokenExpired(expiresAt time.Time) bool {
	return IsTokenExpiredWithGracePeriod(expiresAt, DefaultClockSkewGracePeriod)
}

// IsTokenExpiredWithGracePeriod reports whether expiresAt has passed by more
// than gracePeriod. A zero expiresAt means no expiration.
func IsTokenExpiredWithGracePeriod(expiresAt time.Time, gracePeriod time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return time.Now().After(expiresAt.Add(gracePeriod))
}

// IsTokenExpiringSoon reports whether expiresAt falls within threshold from
// now. Used by callers that want to refresh before hard expiry.
func IsTokenExpiringSoon(expiresAt time.Time, threshold time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return time.Now().Add(threshold).After(expiresAt)
}
