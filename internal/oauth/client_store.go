package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"taskgate/internal/cache"
)

// DefaultMaxClients bounds the in-memory client registry. The least recently
// used registration is dropped once the limit is reached.
const DefaultMaxClients = 10000

// ClientStore keeps dynamically registered clients.
type ClientStore interface {
	// Save stores or replaces the registration for client.ClientID.
	Save(ctx context.Context, client ClientMetadata) error

	// Get returns the registration for clientID, or ErrNotFound.
	Get(ctx context.Context, clientID string) (ClientMetadata, error)

	// Close releases resources.
	Close() error
}

// MemoryClientStore is the in-memory ClientStore.
type MemoryClientStore struct {
	clients *cache.LRU[string, ClientMetadata]
}

// NewMemoryClientStore creates a store holding at most capacity clients.
func NewMemoryClientStore(capacity int) (*MemoryClientStore, error) {
	if capacity <= 0 {
		capacity = DefaultMaxClients
	}
	clients, err := cache.New[string, ClientMetadata](capacity, nil)
	if err != nil {
		return nil, err
	}
	return &MemoryClientStore{clients: clients}, nil
}

func (s *MemoryClientStore) Save(_ context.Context, client ClientMetadata) error {
	if client.ClientID == "" {
		return errors.New("client ID is required")
	}
	s.clients.Set(client.ClientID, client)
	return nil
}

func (s *MemoryClientStore) Get(_ context.Context, clientID string) (ClientMetadata, error) {
	client, ok := s.clients.Get(clientID)
	if !ok {
		return ClientMetadata{}, ErrNotFound
	}
	return client, nil
}

func (s *MemoryClientStore) Close() error {
	return nil
}

// RedisClientStore keeps registrations in a single Redis hash at
// "<keyPrefix>clients", field per client ID.
type RedisClientStore struct {
	client redis.UniversalClient
	key    string
}

// NewRedisClientStore creates a store on a shared client. Close does not
// close the client.
func NewRedisClientStore(client redis.UniversalClient, keyPrefix string) *RedisClientStore {
	return &RedisClientStore{client: client, key: keyPrefix + "clients"}
}

func (s *RedisClientStore) Save(ctx context.Context, client ClientMetadata) error {
	if client.ClientID == "" {
		return errors.New("client ID is required")
	}
	data, err := json.Marshal(client)
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}
	if err := s.client.HSet(ctx, s.key, client.ClientID, data).Err(); err != nil {
		return fmt.Errorf("failed to store client: %w", err)
	}
	return nil
}

func (s *RedisClientStore) Get(ctx context.Context, clientID string) (ClientMetadata, error) {
	data, err := s.client.HGet(ctx, s.key, clientID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ClientMetadata{}, ErrNotFound
		}
		return ClientMetadata{}, fmt.Errorf("failed to load client: %w", err)
	}

	var client ClientMetadata
	if err := json.Unmarshal(data, &client); err != nil {
		return ClientMetadata{}, fmt.Errorf("failed to unmarshal client: %w", err)
	}
	return client, nil
}

func (s *RedisClientStore) Close() error {
	return nil
}
