// Package mock provides fault-injecting wrappers over the storage
// interfaces for testing. Each wrapper delegates to an underlying store
// unless a per-method override is set, which lets a test fail exactly one
// operation, e.g. the access token save inside token minting.
package mock

import (
	"context"
	"sync"

	"github.com/webfold/oauth-provider/storage"
)

// TokenStore wraps a storage.TokenStore with per-method overrides.
type TokenStore struct {
	storage.TokenStore

	mu         sync.Mutex
	callCounts map[string]int

	SaveAccessTokenFunc           func(ctx context.Context, token *storage.AccessToken) error
	GetAccessTokenFunc            func(ctx context.Context, token string) (*storage.AccessToken, error)
	RevokeAccessTokenFunc         func(ctx context.Context, token string) error
	SaveRefreshTokenFunc          func(ctx context.Context, token *storage.RefreshToken) error
	GetRefreshTokenFunc           func(ctx context.Context, token string) (*storage.RefreshToken, error)
	AtomicConsumeRefreshTokenFunc func(ctx context.Context, token string) (*storage.RefreshToken, error)
	RevokeRefreshTokenFunc        func(ctx context.Context, token string) error
	RevokeAllForUserClientFunc    func(ctx context.Context, userID, clientID string) (int, error)
}

// NewTokenStore wraps the given store.
func NewTokenStore(inner storage.TokenStore) *TokenStore {
	return &TokenStore{
		TokenStore: inner,
		callCounts: make(map[string]int),
	}
}

// CallCount returns how many times the named method has been called.
func (m *TokenStore) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCounts[method]
}

func (m *TokenStore) record(method string) {
	m.mu.Lock()
	m.callCounts[method]++
	m.mu.Unlock()
}

func (m *TokenStore) SaveAccessToken(ctx context.Context, token *storage.AccessToken) error {
	m.record("SaveAccessToken")
	if m.SaveAccessTokenFunc != nil {
		return m.SaveAccessTokenFunc(ctx, token)
	}
	return m.TokenStore.SaveAccessToken(ctx, token)
}

func (m *TokenStore) GetAccessToken(ctx context.Context, token string) (*storage.AccessToken, error) {
	m.record("GetAccessToken")
	if m.GetAccessTokenFunc != nil {
		return m.GetAccessTokenFunc(ctx, token)
	}
	return m.TokenStore.GetAccessToken(ctx, token)
}

func (m *TokenStore) RevokeAccessToken(ctx context.Context, token string) error {
	m.record("RevokeAccessToken")
	if m.RevokeAccessTokenFunc != nil {
		return m.RevokeAccessTokenFunc(ctx, token)
	}
	return m.TokenStore.RevokeAccessToken(ctx, token)
}

func (m *TokenStore) SaveRefreshToken(ctx context.Context, token *storage.RefreshToken) error {
	m.record("SaveRefreshToken")
	if m.SaveRefreshTokenFunc != nil {
		return m.SaveRefreshTokenFunc(ctx, token)
	}
	return m.TokenStore.SaveRefreshToken(ctx, token)
}

func (m *TokenStore) GetRefreshToken(ctx context.Context, token string) (*storage.RefreshToken, error) {
	m.record("GetRefreshToken")
	if m.GetRefreshTokenFunc != nil {
		return m.GetRefreshTokenFunc(ctx, token)
	}
	return m.TokenStore.GetRefreshToken(ctx, token)
}

func (m *TokenStore) AtomicConsumeRefreshToken(ctx context.Context, token string) (*storage.RefreshToken, error) {
	m.record("AtomicConsumeRefreshToken")
	if m.AtomicConsumeRefreshTokenFunc != nil {
		return m.AtomicConsumeRefreshTokenFunc(ctx, token)
	}
	return m.TokenStore.AtomicConsumeRefreshToken(ctx, token)
}

func (m *TokenStore) RevokeRefreshToken(ctx context.Context, token string) error {
	m.record("RevokeRefreshToken")
	if m.RevokeRefreshTokenFunc != nil {
		return m.RevokeRefreshTokenFunc(ctx, token)
	}
	return m.TokenStore.RevokeRefreshToken(ctx, token)
}

func (m *TokenStore) RevokeAllForUserClient(ctx context.Context, userID, clientID string) (int, error) {
	m.record("RevokeAllForUserClient")
	if m.RevokeAllForUserClientFunc != nil {
		return m.RevokeAllForUserClientFunc(ctx, userID, clientID)
	}
	return m.TokenStore.RevokeAllForUserClient(ctx, userID, clientID)
}

// FlowStore wraps a storage.FlowStore with per-method overrides.
type FlowStore struct {
	storage.FlowStore

	SaveAuthorizationCodeFunc          func(ctx context.Context, code *storage.AuthorizationCode) error
	AtomicConsumeAuthorizationCodeFunc func(ctx context.Context, code string) (*storage.AuthorizationCode, error)
}

// NewFlowStore wraps the given store.
func NewFlowStore(inner storage.FlowStore) *FlowStore {
	return &FlowStore{FlowStore: inner}
}

func (m *FlowStore) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	if m.SaveAuthorizationCodeFunc != nil {
		return m.SaveAuthorizationCodeFunc(ctx, code)
	}
	return m.FlowStore.SaveAuthorizationCode(ctx, code)
}

func (m *FlowStore) AtomicConsumeAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	if m.AtomicConsumeAuthorizationCodeFunc != nil {
		return m.AtomicConsumeAuthorizationCodeFunc(ctx, code)
	}
	return m.FlowStore.AtomicConsumeAuthorizationCode(ctx, code)
}
