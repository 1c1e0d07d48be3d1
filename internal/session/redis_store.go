// Package session stores refresh-token sessions. The Redis backend is the
// production path; the in-memory store covers single-node deployments without
// a REDIS_URL.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"reqdesk/api/internal/auth"
)

var ErrNotFound = errors.New("refresh session not found or expired")

// Store is what the HTTP layer needs from a session backend.
type Store interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, principal auth.Principal, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (auth.Principal, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	Close() error
}

type sessionRecord struct {
	Principal auth.Principal `json:"principal"`
	CreatedAt time.Time      `json:"created_at"`
}

// RedisStore keeps refresh sessions in Redis, keyed by token hash with a TTL
// matching the session expiry.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{client: client, prefix: "refresh:"}, nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "refresh:"}
}

func (s *RedisStore) key(tokenHash string) string {
	return s.prefix + tokenHash
}

func (s *RedisStore) SaveRefreshSession(ctx context.Context, tokenHash string, principal auth.Principal, expiresAt time.Time) error {
	data, err := json.Marshal(sessionRecord{Principal: principal, CreatedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}

	if err := s.client.Set(ctx, s.key(tokenHash), data, ttl).Err(); err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *RedisStore) LookupRefreshSession(ctx context.Context, tokenHash string) (auth.Principal, error) {
	data, err := s.client.Get(ctx, s.key(tokenHash)).Result()
	if err == redis.Nil {
		return auth.Principal{}, ErrNotFound
	}
	if err != nil {
		return auth.Principal{}, fmt.Errorf("lookup refresh session: %w", err)
	}

	var record sessionRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return auth.Principal{}, fmt.Errorf("unmarshal session: %w", err)
	}
	return record.Principal, nil
}

func (s *RedisStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	if err := s.client.Del(ctx, s.key(tokenHash)).Err(); err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
