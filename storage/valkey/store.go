package valkey

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/webfold/oauth-provider/internal/util"
	"github.com/webfold/oauth-provider/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys
	DefaultKeyPrefix = "oauth:"

	// tokenIDLogLength is the number of characters to include when logging
	// token identifiers
	tokenIDLogLength = 8

	// scanBatchSize is the number of keys to fetch per SCAN iteration
	scanBatchSize = 100

	// connectionVerifyTimeout is the timeout for initial connection
	// verification
	connectionVerifyTimeout = 5 * time.Second

	// MaxTokenLength is the maximum allowed length for token strings.
	// Rejecting oversized tokens before they hit the wire keeps a
	// malicious client from stuffing the keyspace.
	MaxTokenLength = 512

	// MaxIDLength is the maximum allowed length for identifiers (user and
	// client IDs)
	MaxIDLength = 256
)

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g. "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "oauth:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Store is a Valkey-backed implementation of ClientStore, FlowStore, and
// TokenStore.
type Store struct {
	client valkeygo.Client
	prefix string
	logger *slog.Logger
}

// Compile-time interface checks.
var (
	_ storage.ClientStore = (*Store)(nil)
	_ storage.FlowStore   = (*Store)(nil)
	_ storage.TokenStore  = (*Store)(nil)
)

// New creates a new Valkey-backed storage instance. It verifies the
// connection before returning.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client: client,
		prefix: prefix,
		logger: logger,
	}, nil
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// ============================================================
// Key Helpers
// ============================================================

// clientKey returns the key for a client: {prefix}client:{clientID}
func (s *Store) clientKey(clientID string) string {
	return fmt.Sprintf("%sclient:%s", s.prefix, clientID)
}

// codeKey returns the key for an authorization code: {prefix}code:{code}
func (s *Store) codeKey(code string) string {
	return fmt.Sprintf("%scode:%s", s.prefix, code)
}

// accessTokenKey returns the key for an access token: {prefix}access:{token}
func (s *Store) accessTokenKey(token string) string {
	return fmt.Sprintf("%saccess:%s", s.prefix, token)
}

// refreshTokenKey returns the key for a refresh token: {prefix}refresh:{token}
func (s *Store) refreshTokenKey(token string) string {
	return fmt.Sprintf("%srefresh:%s", s.prefix, token)
}

// grantsKey returns the key for the user+client grant index:
// {prefix}grants:{userID}:{clientID}
func (s *Store) grantsKey(userID, clientID string) string {
	return fmt.Sprintf("%sgrants:%s:%s", s.prefix, userID, clientID)
}

// ============================================================
// Lua Scripts for Atomic Operations
// ============================================================

// luaConsumeAuthorizationCode atomically checks that an authorization code
// is unconsumed and marks it consumed, KEEPTTL preserving the record for
// replay detection until its natural expiry.
//
// KEYS[1] = code key
// ARGV[1] = current Unix timestamp in seconds
//
// Returns:
//   - the code's JSON (pre-mark) when this caller won the consume
//   - "NOT_FOUND" when the key does not exist
//   - "EXPIRED" when now is past the record's expires_at
//   - "CONSUMED:<json>" when the code was already consumed
const luaConsumeAuthorizationCode = `
local data = redis.call('GET', KEYS[1])
if not data then
    return 'NOT_FOUND'
end

local record = cjson.decode(data)

local now = tonumber(ARGV[1])
local expiresAt = tonumber(record.expires_at)
if expiresAt and now > expiresAt then
    return 'EXPIRED'
end

if record.consumed then
    return 'CONSUMED:' .. data
end

record.consumed = true
redis.call('SET', KEYS[1], cjson.encode(record), 'KEEPTTL')

return data
`

// luaConsumeRefreshToken is the refresh-token twin of
// luaConsumeAuthorizationCode: same states, same retention of the consumed
// record so that reuse after rotation is distinguishable from an unknown
// token.
//
// KEYS[1] = refresh token key
// ARGV[1] = current Unix timestamp in seconds
const luaConsumeRefreshToken = `
local data = redis.call('GET', KEYS[1])
if not data then
    return 'NOT_FOUND'
end

local record = cjson.decode(data)

local now = tonumber(ARGV[1])
local expiresAt = tonumber(record.expires_at)
if expiresAt and now > expiresAt then
    return 'EXPIRED'
end

if record.consumed then
    return 'CONSUMED:' .. data
end

record.consumed = true
redis.call('SET', KEYS[1], cjson.encode(record), 'KEEPTTL')

return data
`

// ============================================================
// Shared Helpers
// ============================================================

func isNilError(err error) bool {
	return valkeygo.IsValkeyNil(err)
}

func safeTruncate(s string, n int) string {
	return util.SafeTruncate(s, n)
}

// calculateTTL returns the TTL for a key based on its expiry time, or 0
// when already expired.
func calculateTTL(expiresAt time.Time) time.Duration {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return 0
	}
	return ttl
}

// validateStringLength rejects oversized inputs before they reach the
// server.
func validateStringLength(value string, maxLen int, fieldName string) error {
	if len(value) > maxLen {
		return fmt.Errorf("%s exceeds maximum length of %d bytes", fieldName, maxLen)
	}
	return nil
}
