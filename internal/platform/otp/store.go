package otp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store holds the secret of each active challenge. Get returns
// ErrNoChallenge when nothing is stored or the entry expired.
type Store interface {
	Put(ctx context.Context, purpose Purpose, email, secret string, ttl time.Duration) error
	Get(ctx context.Context, purpose Purpose, email string) (string, error)
	Delete(ctx context.Context, purpose Purpose, email string) error
}

func storeKey(purpose Purpose, email string) string {
	return "otp:" + string(purpose) + ":" + email
}

// RedisStore keeps secrets in Redis with the code's TTL.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Put(ctx context.Context, purpose Purpose, email, secret string, ttl time.Duration) error {
	if err := s.client.Set(ctx, storeKey(purpose, email), secret, ttl).Err(); err != nil {
		return fmt.Errorf("store otp: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, purpose Purpose, email string) (string, error) {
	secret, err := s.client.Get(ctx, storeKey(purpose, email)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNoChallenge
	}
	if err != nil {
		return "", fmt.Errorf("load otp: %w", err)
	}
	return secret, nil
}

func (s *RedisStore) Delete(ctx context.Context, purpose Purpose, email string) error {
	if err := s.client.Del(ctx, storeKey(purpose, email)).Err(); err != nil {
		return fmt.Errorf("delete otp: %w", err)
	}
	return nil
}

type memoryEntry struct {
	secret    string
	expiresAt time.Time
}

// MemoryStore is a process-local Store for development and tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry), now: time.Now}
}

func (s *MemoryStore) Put(_ context.Context, purpose Purpose, email, secret string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, k)
		}
	}
	s.entries[storeKey(purpose, email)] = memoryEntry{secret: secret, expiresAt: now.Add(ttl)}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, purpose Purpose, email string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := storeKey(purpose, email)
	e, ok := s.entries[key]
	if !ok {
		return "", ErrNoChallenge
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.entries, key)
		return "", ErrNoChallenge
	}
	return e.secret, nil
}

func (s *MemoryStore) Delete(_ context.Context, purpose Purpose, email string) error {
	s.mu.Lock()
	delete(s.entries, storeKey(purpose, email))
	s.mu.Unlock()
	return nil
}
