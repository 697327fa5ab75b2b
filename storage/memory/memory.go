package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"

	"github.com/webfold/oauth-provider/instrumentation"
	"github.com/webfold/oauth-provider/internal/util"
	"github.com/webfold/oauth-provider/security"
	"github.com/webfold/oauth-provider/storage"
)

// tokenIDLogLength is the number of characters to include when logging
// token identifiers. Enough for correlation, useless for replay.
const tokenIDLogLength = 8

// Store is an in-memory implementation of ClientStore, FlowStore, and
// TokenStore. All state lives behind a single mutex; the consume
// operations rely on that lock for their exactly-one-winner guarantee.
type Store struct {
	mu sync.RWMutex

	clients       map[string]*storage.Client
	authCodes     map[string]*storage.AuthorizationCode
	accessTokens  map[string]*storage.AccessToken
	refreshTokens map[string]*storage.RefreshToken

	// Lock-free counters backing the storage size gauges.
	clientsCount       atomic.Int64
	codesCount         atomic.Int64
	accessTokensCount  atomic.Int64
	refreshTokensCount atomic.Int64

	inst   *instrumentation.Instrumentation
	tracer trace.Tracer

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
}

// Compile-time interface checks.
var (
	_ storage.ClientStore = (*Store)(nil)
	_ storage.FlowStore   = (*Store)(nil)
	_ storage.TokenStore  = (*Store)(nil)
)

// New creates a new in-memory store with the default cleanup interval
// (1 minute).
func New(logger *slog.Logger) *Store {
	return NewWithInterval(logger, time.Minute)
}

// NewWithInterval creates a new in-memory store with a custom cleanup
// interval. A non-positive interval falls back to 1 minute.
func NewWithInterval(logger *slog.Logger, cleanupInterval time.Duration) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		clients:         make(map[string]*storage.Client),
		authCodes:       make(map[string]*storage.AuthorizationCode),
		accessTokens:    make(map[string]*storage.AccessToken),
		refreshTokens:   make(map[string]*storage.RefreshToken),
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          logger,
	}

	go s.cleanupLoop()

	return s
}

// SetInstrumentation attaches OpenTelemetry instrumentation: storage spans,
// operation metrics, and the live size gauges.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.inst = inst
	if inst == nil {
		s.tracer = nil
		return
	}
	s.tracer = inst.Tracer("storage.memory")

	if err := inst.RegisterStorageSizeCallbacks(
		s.clientsCount.Load,
		s.codesCount.Load,
		s.accessTokensCount.Load,
		s.refreshTokensCount.Load,
	); err != nil {
		s.logger.Warn("Failed to register storage size gauges", "error", err)
	}
}

// Stop terminates the background cleanup goroutine. Safe to call more than
// once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
	})
}

// ============================================================
// ClientStore
// ============================================================

// SaveClient saves a registered client.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	ctx, span := s.startStorageSpan(ctx, "save_client")
	defer span.End()
	startTime := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "save_client", err, startTime) }()

	if client == nil || client.ID == "" {
		err = fmt.Errorf("invalid client")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.clients[client.ID]; !exists {
		s.clientsCount.Add(1)
	}
	clientCopy := *client
	s.clients[client.ID] = &clientCopy
	s.logger.Debug("Saved client", "client_id", client.ID, "client_type", client.Type)
	return nil
}

// GetClient retrieves a client by ID.
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok {
		return nil, storage.ErrClientNotFound
	}

	clientCopy := *client
	return &clientCopy, nil
}

// DeleteClient removes a client registration.
func (s *Store) DeleteClient(ctx context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[clientID]; ok {
		delete(s.clients, clientID)
		s.clientsCount.Add(-1)
		s.logger.Debug("Deleted client", "client_id", clientID)
	}
	return nil
}

// ValidateClientSecret validates a client's secret against the stored
// bcrypt hash. bcrypt's comparison is constant time over the hash input.
func (s *Store) ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error {
	s.mu.RLock()
	client, ok := s.clients[clientID]
	s.mu.RUnlock()

	if !ok {
		// Burn a comparison anyway so unknown clients are not
		// distinguishable from wrong secrets by timing.
		_ = bcrypt.CompareHashAndPassword(
			[]byte("$2a$10$0000000000000000000000uC9VHPUIVEBW4sR6nYRVQkZYfDn9J22"),
			[]byte(clientSecret))
		return storage.ErrClientNotFound
	}

	if client.SecretHash == "" {
		return storage.ErrInvalidClientSecret
	}

	if err := bcrypt.CompareHashAndPassword([]byte(client.SecretHash), []byte(clientSecret)); err != nil {
		return storage.ErrInvalidClientSecret
	}
	return nil
}

// ListClients lists all registered clients.
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]*storage.Client, 0, len(s.clients))
	for _, client := range s.clients {
		clientCopy := *client
		clients = append(clients, &clientCopy)
	}
	return clients, nil
}

// ============================================================
// FlowStore
// ============================================================

// SaveAuthorizationCode saves an issued authorization code.
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	ctx, span := s.startStorageSpan(ctx, "save_authorization_code")
	defer span.End()
	startTime := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "save_authorization_code", err, startTime) }()

	if code == nil || code.Code == "" {
		err = fmt.Errorf("invalid authorization code")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.authCodes[code.Code]; !exists {
		s.codesCount.Add(1)
	}
	codeCopy := *code
	s.authCodes[code.Code] = &codeCopy
	s.logger.Debug("Saved authorization code",
		"code_prefix", util.SafeTruncate(code.Code, tokenIDLogLength))
	return nil
}

// GetAuthorizationCode retrieves an authorization code without consuming
// it. Exchanges must use AtomicConsumeAuthorizationCode.
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	authCode, ok := s.authCodes[code]
	if !ok {
		return nil, storage.ErrAuthorizationCodeNotFound
	}

	if security.IsTokenExpired(authCode.ExpiresAt) {
		return nil, fmt.Errorf("%w: authorization code expired", storage.ErrTokenExpired)
	}

	codeCopy := *authCode
	return &codeCopy, nil
}

// AtomicConsumeAuthorizationCode atomically checks that a code is
// unconsumed and marks it consumed. Only one of any number of concurrent
// callers passes the check; the rest see ErrAuthorizationCodeConsumed with
// the record attached so they can revoke what the winner minted.
func (s *Store) AtomicConsumeAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	s.mu.Lock() // write lock for the check-and-set
	defer s.mu.Unlock()

	authCode, ok := s.authCodes[code]
	if !ok {
		return nil, storage.ErrAuthorizationCodeNotFound
	}

	if security.IsTokenExpired(authCode.ExpiresAt) {
		return nil, fmt.Errorf("%w: authorization code expired", storage.ErrTokenExpired)
	}

	if authCode.Consumed {
		codeCopy := *authCode
		return &codeCopy, storage.ErrAuthorizationCodeConsumed
	}

	authCode.Consumed = true
	s.logger.Debug("Consumed authorization code",
		"code_prefix", util.SafeTruncate(code, tokenIDLogLength))

	codeCopy := *authCode
	return &codeCopy, nil
}

// DeleteAuthorizationCode removes an authorization code.
func (s *Store) DeleteAuthorizationCode(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.authCodes[code]; ok {
		delete(s.authCodes, code)
		s.codesCount.Add(-1)
		s.logger.Debug("Deleted authorization code")
	}
	return nil
}

// ============================================================
// TokenStore
// ============================================================

// SaveAccessToken persists an issued access token.
func (s *Store) SaveAccessToken(ctx context.Context, token *storage.AccessToken) error {
	ctx, span := s.startStorageSpan(ctx, "save_access_token")
	defer span.End()
	startTime := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "save_access_token", err, startTime) }()

	if token == nil || token.Token == "" {
		err = fmt.Errorf("invalid access token")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accessTokens[token.Token]; !exists {
		s.accessTokensCount.Add(1)
	}
	tokenCopy := *token
	s.accessTokens[token.Token] = &tokenCopy
	s.logger.Debug("Saved access token",
		"token_prefix", util.SafeTruncate(token.Token, tokenIDLogLength),
		"client_id", token.ClientID)
	return nil
}

// GetAccessToken retrieves an access token, enforcing expiry lazily.
func (s *Store) GetAccessToken(ctx context.Context, token string) (*storage.AccessToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accessToken, ok := s.accessTokens[token]
	if !ok {
		return nil, storage.ErrAccessTokenNotFound
	}

	if security.IsTokenExpired(accessToken.ExpiresAt) {
		return nil, fmt.Errorf("%w: access token expired", storage.ErrTokenExpired)
	}

	tokenCopy := *accessToken
	return &tokenCopy, nil
}

// RevokeAccessToken removes an access token. Unknown tokens are not an
// error.
func (s *Store) RevokeAccessToken(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accessTokens[token]; ok {
		delete(s.accessTokens, token)
		s.accessTokensCount.Add(-1)
		s.logger.Debug("Revoked access token",
			"token_prefix", util.SafeTruncate(token, tokenIDLogLength))
	}
	return nil
}

// SaveRefreshToken persists an issued refresh token. Saving an existing
// token overwrites its record, which the refresh flow uses to update the
// paired access token without rotation.
func (s *Store) SaveRefreshToken(ctx context.Context, token *storage.RefreshToken) error {
	ctx, span := s.startStorageSpan(ctx, "save_refresh_token")
	defer span.End()
	startTime := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "save_refresh_token", err, startTime) }()

	if token == nil || token.Token == "" {
		err = fmt.Errorf("invalid refresh token")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.refreshTokens[token.Token]; !exists {
		s.refreshTokensCount.Add(1)
	}
	tokenCopy := *token
	s.refreshTokens[token.Token] = &tokenCopy
	s.logger.Debug("Saved refresh token",
		"token_prefix", util.SafeTruncate(token.Token, tokenIDLogLength),
		"client_id", token.ClientID)
	return nil
}

// GetRefreshToken retrieves a refresh token without consuming it.
func (s *Store) GetRefreshToken(ctx context.Context, token string) (*storage.RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	refreshToken, ok := s.refreshTokens[token]
	if !ok {
		return nil, storage.ErrRefreshTokenNotFound
	}

	if security.IsTokenExpired(refreshToken.ExpiresAt) {
		return nil, fmt.Errorf("%w: refresh token expired", storage.ErrTokenExpired)
	}

	tokenCopy := *refreshToken
	return &tokenCopy, nil
}

// AtomicConsumeRefreshToken atomically checks that a refresh token is
// unconsumed and marks it consumed. The consumed record is retained until
// expiry so that reuse of a rotated token is distinguishable from an
// unknown one.
func (s *Store) AtomicConsumeRefreshToken(ctx context.Context, token string) (*storage.RefreshToken, error) {
	s.mu.Lock() // write lock for the check-and-set
	defer s.mu.Unlock()

	refreshToken, ok := s.refreshTokens[token]
	if !ok {
		return nil, storage.ErrRefreshTokenNotFound
	}

	if security.IsTokenExpired(refreshToken.ExpiresAt) {
		return nil, fmt.Errorf("%w: refresh token expired", storage.ErrTokenExpired)
	}

	if refreshToken.Consumed {
		tokenCopy := *refreshToken
		return &tokenCopy, storage.ErrRefreshTokenConsumed
	}

	refreshToken.Consumed = true
	s.logger.Debug("Consumed refresh token",
		"token_prefix", util.SafeTruncate(token, tokenIDLogLength))

	tokenCopy := *refreshToken
	return &tokenCopy, nil
}

// RevokeRefreshToken removes a refresh token. Unknown tokens are not an
// error.
func (s *Store) RevokeRefreshToken(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.refreshTokens[token]; ok {
		delete(s.refreshTokens, token)
		s.refreshTokensCount.Add(-1)
		s.logger.Debug("Revoked refresh token",
			"token_prefix", util.SafeTruncate(token, tokenIDLogLength))
	}
	return nil
}

// RevokeAllForUserClient revokes every access and refresh token bound to
// the given user+client pair. Used when code or refresh replay is
// detected.
func (s *Store) RevokeAllForUserClient(ctx context.Context, userID, clientID string) (int, error) {
	ctx, span := s.startStorageSpan(ctx, "revoke_all_for_user_client")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "revoke_all_for_user_client", nil, startTime) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	revoked := 0

	for token, accessToken := range s.accessTokens {
		if accessToken.UserID == userID && accessToken.ClientID == clientID {
			delete(s.accessTokens, token)
			s.accessTokensCount.Add(-1)
			revoked++
		}
	}

	for token, refreshToken := range s.refreshTokens {
		if refreshToken.UserID == userID && refreshToken.ClientID == clientID {
			delete(s.refreshTokens, token)
			s.refreshTokensCount.Add(-1)
			revoked++
		}
	}

	if revoked > 0 {
		s.logger.Warn("Revoked all tokens for user and client",
			"client_id", clientID, "revoked_count", revoked)
	}

	return revoked, nil
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

// cleanup reclaims expired records. Consumed codes and refresh tokens stay
// until expiry; losing them early would turn a detectable replay into an
// unknown-token error.
func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleaned := 0

	for code, authCode := range s.authCodes {
		if security.IsTokenExpired(authCode.ExpiresAt) {
			delete(s.authCodes, code)
			s.codesCount.Add(-1)
			cleaned++
		}
	}

	for token, accessToken := range s.accessTokens {
		if security.IsTokenExpired(accessToken.ExpiresAt) {
			delete(s.accessTokens, token)
			s.accessTokensCount.Add(-1)
			cleaned++
		}
	}

	for token, refreshToken := range s.refreshTokens {
		if security.IsTokenExpired(refreshToken.ExpiresAt) {
			delete(s.refreshTokens, token)
			s.refreshTokensCount.Add(-1)
			cleaned++
		}
	}

	if cleaned > 0 {
		s.logger.Debug("Cleaned up expired records", "count", cleaned)
	}
}

// ============================================================
// Instrumentation helpers
// ============================================================

func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	return s.tracer.Start(ctx, fmt.Sprintf("storage.%s", operation),
		trace.WithAttributes(
			attribute.String("operation", operation),
		))
}

func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if err != nil {
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	} else if span != nil {
		span.SetStatus(codes.Ok, "")
	}

	if s.inst == nil || s.inst.Metrics() == nil {
		return
	}

	durationMs := float64(time.Since(startTime).Milliseconds())
	result := "success"
	if err != nil {
		result = "error"
	}
	s.inst.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}
