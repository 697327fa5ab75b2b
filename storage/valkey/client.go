package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/webfold/oauth-provider/storage"
)

// errInvalidCredentials is deliberately generic so callers cannot tell an
// unknown client from a wrong secret.
var errInvalidCredentials = fmt.Errorf("invalid client credentials")

// clientJSON is the JSON representation of a registered client.
type clientJSON struct {
	ID            string   `json:"id"`
	SecretHash    string   `json:"secret_hash,omitempty"`
	Type          string   `json:"type"`
	RedirectURIs  []string `json:"redirect_uris,omitempty"`
	GrantTypes    []string `json:"grant_types,omitempty"`
	ResponseTypes []string `json:"response_types,omitempty"`
	Scopes        []string `json:"scopes,omitempty"`
	Name          string   `json:"name,omitempty"`
	OwnerID       string   `json:"owner_id,omitempty"`
	CreatedAt     int64    `json:"created_at"`
}

func toClientJSON(client *storage.Client) *clientJSON {
	return &clientJSON{
		ID:            client.ID,
		SecretHash:    client.SecretHash,
		Type:          client.Type,
		RedirectURIs:  client.RedirectURIs,
		GrantTypes:    client.GrantTypes,
		ResponseTypes: client.ResponseTypes,
		Scopes:        client.Scopes,
		Name:          client.Name,
		OwnerID:       client.OwnerID,
		CreatedAt:     client.CreatedAt.Unix(),
	}
}

func fromClientJSON(j *clientJSON) *storage.Client {
	if j == nil {
		return nil
	}
	return &storage.Client{
		ID:            j.ID,
		SecretHash:    j.SecretHash,
		Type:          j.Type,
		RedirectURIs:  j.RedirectURIs,
		GrantTypes:    j.GrantTypes,
		ResponseTypes: j.ResponseTypes,
		Scopes:        j.Scopes,
		Name:          j.Name,
		OwnerID:       j.OwnerID,
		CreatedAt:     time.Unix(j.CreatedAt, 0),
	}
}

// SaveClient saves a registered client. Clients have no TTL; they live
// until deleted.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	if client == nil || client.ID == "" {
		return fmt.Errorf("invalid client")
	}
	if err := validateStringLength(client.ID, MaxIDLength, "client ID"); err != nil {
		return err
	}

	data, err := json.Marshal(toClientJSON(client))
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}

	key := s.clientKey(client.ID)
	if err := s.client.Do(ctx,
		s.client.B().Set().Key(key).Value(string(data)).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}

	s.logger.Debug("Saved client", "client_id", client.ID, "client_type", client.Type)
	return nil
}

// GetClient retrieves a client by ID.
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	data, err := s.client.Do(ctx,
		s.client.B().Get().Key(s.clientKey(clientID)).Build(),
	).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	var j clientJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client: %w", err)
	}

	return fromClientJSON(&j), nil
}

// DeleteClient removes a client registration.
func (s *Store) DeleteClient(ctx context.Context, clientID string) error {
	if err := s.client.Do(ctx,
		s.client.B().Del().Key(s.clientKey(clientID)).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to delete client: %w", err)
	}

	s.logger.Debug("Deleted client", "client_id", clientID)
	return nil
}

// ValidateClientSecret validates a client's secret using bcrypt. The same
// operations run whether or not the client exists, so timing does not
// reveal which clients are registered.
func (s *Store) ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error {
	// bcrypt hash of an arbitrary value, compared against when no real
	// hash is available so that a comparison always happens.
	dummyHash := "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

	client, err := s.GetClient(ctx, clientID)

	hashToCompare := dummyHash
	if err == nil && client.SecretHash != "" {
		hashToCompare = client.SecretHash
	}

	bcryptErr := bcrypt.CompareHashAndPassword([]byte(hashToCompare), []byte(clientSecret))

	if err != nil {
		return errInvalidCredentials
	}
	if client.SecretHash == "" || bcryptErr != nil {
		return errInvalidCredentials
	}

	return nil
}

// ListClients lists all registered clients using SCAN, so a large registry
// does not block the server the way KEYS would.
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	pattern := s.clientKey("*")

	// SCAN can return duplicates across iterations; deduplicate by key.
	clientMap := make(map[string]*storage.Client)

	var cursor uint64
	for {
		result, err := s.client.Do(ctx,
			s.client.B().Scan().Cursor(cursor).Match(pattern).Count(scanBatchSize).Build(),
		).AsScanEntry()
		if err != nil {
			return nil, fmt.Errorf("failed to scan clients: %w", err)
		}

		for _, key := range result.Elements {
			if _, exists := clientMap[key]; exists {
				continue
			}

			data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
			if err != nil {
				if isNilError(err) {
					continue // deleted between SCAN and GET
				}
				return nil, fmt.Errorf("failed to get client %s: %w", key, err)
			}

			var j clientJSON
			if err := json.Unmarshal([]byte(data), &j); err != nil {
				s.logger.Warn("Failed to unmarshal client, skipping",
					"key", key, "error", err)
				continue
			}

			clientMap[key] = fromClientJSON(&j)
		}

		cursor = result.Cursor
		if cursor == 0 {
			break
		}
	}

	clients := make([]*storage.Client, 0, len(clientMap))
	for _, c := range clientMap {
		clients = append(clients, c)
	}
	return clients, nil
}
