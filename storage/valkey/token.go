package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/webfold/oauth-provider/storage"
)

// Grant index member prefixes. The grants set stores typed members so
// RevokeAllForUserClient knows which key family each entry belongs to.
const (
	grantMemberAccess  = "access:"
	grantMemberRefresh = "refresh:"
)

// accessTokenJSON is the JSON representation of an access token.
type accessTokenJSON struct {
	Token        string `json:"token"`
	ClientID     string `json:"client_id"`
	UserID       string `json:"user_id,omitempty"`
	Scope        string `json:"scope,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	CreatedAt    int64  `json:"created_at"`
	ExpiresAt    int64  `json:"expires_at"`
}

func toAccessTokenJSON(token *storage.AccessToken) *accessTokenJSON {
	return &accessTokenJSON{
		Token:        token.Token,
		ClientID:     token.ClientID,
		UserID:       token.UserID,
		Scope:        token.Scope,
		RefreshToken: token.RefreshToken,
		CreatedAt:    token.CreatedAt.Unix(),
		ExpiresAt:    token.ExpiresAt.Unix(),
	}
}

func fromAccessTokenJSON(j *accessTokenJSON) *storage.AccessToken {
	if j == nil {
		return nil
	}
	return &storage.AccessToken{
		Token:        j.Token,
		ClientID:     j.ClientID,
		UserID:       j.UserID,
		Scope:        j.Scope,
		RefreshToken: j.RefreshToken,
		CreatedAt:    time.Unix(j.CreatedAt, 0),
		ExpiresAt:    time.Unix(j.ExpiresAt, 0),
	}
}

// refreshTokenJSON is the JSON representation of a refresh token. The
// expires_at and consumed field names are part of the Lua consume script's
// contract.
type refreshTokenJSON struct {
	Token       string `json:"token"`
	ClientID    string `json:"client_id"`
	UserID      string `json:"user_id"`
	Scope       string `json:"scope,omitempty"`
	AccessToken string `json:"access_token,omitempty"`
	CreatedAt   int64  `json:"created_at"`
	ExpiresAt   int64  `json:"expires_at"`
	Consumed    bool   `json:"consumed"`
}

func toRefreshTokenJSON(token *storage.RefreshToken) *refreshTokenJSON {
	return &refreshTokenJSON{
		Token:       token.Token,
		ClientID:    token.ClientID,
		UserID:      token.UserID,
		Scope:       token.Scope,
		AccessToken: token.AccessToken,
		CreatedAt:   token.CreatedAt.Unix(),
		ExpiresAt:   token.ExpiresAt.Unix(),
		Consumed:    token.Consumed,
	}
}

func fromRefreshTokenJSON(j *refreshTokenJSON) *storage.RefreshToken {
	if j == nil {
		return nil
	}
	return &storage.RefreshToken{
		Token:       j.Token,
		ClientID:    j.ClientID,
		UserID:      j.UserID,
		Scope:       j.Scope,
		AccessToken: j.AccessToken,
		CreatedAt:   time.Unix(j.CreatedAt, 0),
		ExpiresAt:   time.Unix(j.ExpiresAt, 0),
		Consumed:    j.Consumed,
	}
}

// SaveAccessToken persists an issued access token and indexes it under its
// user+client pair for replay revocation.
func (s *Store) SaveAccessToken(ctx context.Context, token *storage.AccessToken) error {
	if token == nil || token.Token == "" {
		return fmt.Errorf("invalid access token")
	}
	if err := validateStringLength(token.Token, MaxTokenLength, "access token"); err != nil {
		return err
	}

	data, err := json.Marshal(toAccessTokenJSON(token))
	if err != nil {
		return fmt.Errorf("failed to marshal access token: %w", err)
	}

	ttl := calculateTTL(token.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("access token already expired")
	}

	key := s.accessTokenKey(token.Token)
	if err := s.client.Do(ctx,
		s.client.B().Set().Key(key).Value(string(data)).Ex(ttl).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to save access token: %w", err)
	}

	s.indexGrant(ctx, token.UserID, token.ClientID, grantMemberAccess+token.Token, token.ExpiresAt)

	s.logger.Debug("Saved access token",
		"token_prefix", safeTruncate(token.Token, tokenIDLogLength),
		"client_id", token.ClientID)
	return nil
}

// GetAccessToken retrieves an access token, enforcing expiry on read.
func (s *Store) GetAccessToken(ctx context.Context, token string) (*storage.AccessToken, error) {
	data, err := s.client.Do(ctx,
		s.client.B().Get().Key(s.accessTokenKey(token)).Build(),
	).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrAccessTokenNotFound
		}
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}

	var j accessTokenJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal access token: %w", err)
	}

	accessToken := fromAccessTokenJSON(&j)
	if time.Now().After(accessToken.ExpiresAt) {
		return nil, fmt.Errorf("%w: access token expired", storage.ErrTokenExpired)
	}

	return accessToken, nil
}

// RevokeAccessToken removes an access token. Unknown tokens are not an
// error.
func (s *Store) RevokeAccessToken(ctx context.Context, token string) error {
	if err := s.client.Do(ctx,
		s.client.B().Del().Key(s.accessTokenKey(token)).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to revoke access token: %w", err)
	}

	s.logger.Debug("Revoked access token",
		"token_prefix", safeTruncate(token, tokenIDLogLength))
	return nil
}

// SaveRefreshToken persists an issued refresh token. Saving an existing
// token overwrites its record, which the refresh flow uses to update the
// paired access token without rotation.
func (s *Store) SaveRefreshToken(ctx context.Context, token *storage.RefreshToken) error {
	if token == nil || token.Token == "" {
		return fmt.Errorf("invalid refresh token")
	}
	if err := validateStringLength(token.Token, MaxTokenLength, "refresh token"); err != nil {
		return err
	}

	data, err := json.Marshal(toRefreshTokenJSON(token))
	if err != nil {
		return fmt.Errorf("failed to marshal refresh token: %w", err)
	}

	ttl := calculateTTL(token.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("refresh token already expired")
	}

	key := s.refreshTokenKey(token.Token)
	if err := s.client.Do(ctx,
		s.client.B().Set().Key(key).Value(string(data)).Ex(ttl).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to save refresh token: %w", err)
	}

	s.indexGrant(ctx, token.UserID, token.ClientID, grantMemberRefresh+token.Token, token.ExpiresAt)

	s.logger.Debug("Saved refresh token",
		"token_prefix", safeTruncate(token.Token, tokenIDLogLength),
		"client_id", token.ClientID)
	return nil
}

// GetRefreshToken retrieves a refresh token without consuming it.
func (s *Store) GetRefreshToken(ctx context.Context, token string) (*storage.RefreshToken, error) {
	data, err := s.client.Do(ctx,
		s.client.B().Get().Key(s.refreshTokenKey(token)).Build(),
	).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrRefreshTokenNotFound
		}
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}

	var j refreshTokenJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal refresh token: %w", err)
	}

	refreshToken := fromRefreshTokenJSON(&j)
	if time.Now().After(refreshToken.ExpiresAt) {
		return nil, fmt.Errorf("%w: refresh token expired", storage.ErrTokenExpired)
	}

	return refreshToken, nil
}

// AtomicConsumeRefreshToken atomically checks that a refresh token is
// unconsumed and marks it consumed via a Lua script. The consumed record
// survives until its TTL so reuse after rotation comes back as
// ErrRefreshTokenConsumed with the record attached, not as an unknown
// token.
func (s *Store) AtomicConsumeRefreshToken(ctx context.Context, token string) (*storage.RefreshToken, error) {
	result, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaConsumeRefreshToken).
			Numkeys(1).
			Key(s.refreshTokenKey(token)).
			Arg(fmt.Sprintf("%d", time.Now().Unix())).
			Build(),
	).ToString()
	if err != nil {
		return nil, fmt.Errorf("failed to execute atomic refresh consume: %w", err)
	}

	switch {
	case result == "NOT_FOUND":
		return nil, storage.ErrRefreshTokenNotFound
	case result == "EXPIRED":
		return nil, fmt.Errorf("%w: refresh token expired", storage.ErrTokenExpired)
	case strings.HasPrefix(result, "CONSUMED:"):
		tokenData := strings.TrimPrefix(result, "CONSUMED:")
		var j refreshTokenJSON
		if err := json.Unmarshal([]byte(tokenData), &j); err != nil {
			return nil, fmt.Errorf("%w: failed to parse reused token", storage.ErrRefreshTokenConsumed)
		}
		return fromRefreshTokenJSON(&j), storage.ErrRefreshTokenConsumed
	}

	var j refreshTokenJSON
	if err := json.Unmarshal([]byte(result), &j); err != nil {
		return nil, fmt.Errorf("failed to parse refresh token: %w", err)
	}

	s.logger.Debug("Consumed refresh token",
		"token_prefix", safeTruncate(token, tokenIDLogLength))

	consumed := fromRefreshTokenJSON(&j)
	consumed.Consumed = true
	return consumed, nil
}

// RevokeRefreshToken removes a refresh token. Unknown tokens are not an
// error.
func (s *Store) RevokeRefreshToken(ctx context.Context, token string) error {
	if err := s.client.Do(ctx,
		s.client.B().Del().Key(s.refreshTokenKey(token)).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}

	s.logger.Debug("Revoked refresh token",
		"token_prefix", safeTruncate(token, tokenIDLogLength))
	return nil
}

// RevokeAllForUserClient revokes every access and refresh token indexed
// under the user+client pair. Used when code or refresh replay is
// detected.
func (s *Store) RevokeAllForUserClient(ctx context.Context, userID, clientID string) (int, error) {
	grantsKey := s.grantsKey(userID, clientID)

	members, err := s.client.Do(ctx,
		s.client.B().Smembers().Key(grantsKey).Build(),
	).AsStrSlice()
	if err != nil {
		if isNilError(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read grant index: %w", err)
	}

	revoked := 0
	for _, member := range members {
		var key string
		switch {
		case strings.HasPrefix(member, grantMemberAccess):
			key = s.accessTokenKey(strings.TrimPrefix(member, grantMemberAccess))
		case strings.HasPrefix(member, grantMemberRefresh):
			key = s.refreshTokenKey(strings.TrimPrefix(member, grantMemberRefresh))
		default:
			continue
		}

		deleted, err := s.client.Do(ctx, s.client.B().Del().Key(key).Build()).AsInt64()
		if err != nil {
			s.logger.Debug("Failed to delete token during replay revocation",
				"member_prefix", safeTruncate(member, tokenIDLogLength), "error", err)
			continue
		}
		revoked += int(deleted)
	}

	if err := s.client.Do(ctx, s.client.B().Del().Key(grantsKey).Build()).Error(); err != nil {
		s.logger.Debug("Failed to delete grant index", "error", err)
	}

	if revoked > 0 {
		s.logger.Warn("Revoked all tokens for user and client",
			"client_id", clientID, "revoked_count", revoked)
	}

	return revoked, nil
}

// indexGrant adds a token to the user+client grant set and extends the
// set's TTL past the token's expiry. Index entries for expired tokens are
// harmless; DEL on a missing key is a no-op.
func (s *Store) indexGrant(ctx context.Context, userID, clientID, member string, expiresAt time.Time) {
	key := s.grantsKey(userID, clientID)

	if err := s.client.Do(ctx,
		s.client.B().Sadd().Key(key).Member(member).Build(),
	).Error(); err != nil {
		s.logger.Warn("Failed to index grant",
			"client_id", clientID, "error", err)
		return
	}

	// Keep the index a little past the longest-lived member. GT means a
	// short-lived access token cannot shrink the TTL below a refresh
	// token's horizon.
	ttl := calculateTTL(expiresAt.Add(time.Hour))
	if ttl > 0 {
		if err := s.client.Do(ctx,
			s.client.B().Expire().Key(key).Seconds(int64(ttl.Seconds())).Gt().Build(),
		).Error(); err != nil {
			s.logger.Debug("Failed to set grant index TTL", "error", err)
		}
	}
}
